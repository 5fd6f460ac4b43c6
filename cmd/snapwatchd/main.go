package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snapwatch/internal/api"
	"snapwatch/internal/config"
	"snapwatch/internal/event"
	"snapwatch/internal/logging"
	"snapwatch/internal/metrics"
	"snapwatch/internal/snapshotter"
	"snapwatch/internal/version"
	"snapwatch/internal/watcher"
	"snapwatch/internal/zfs"
)

const (
	exitCodeSuccess = 0
	exitCodeUsage   = 1
	exitCodeConfig  = 2
	exitCodeRuntime = 3
)

const shutdownTimeout = 5 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, waitForSignal))
}

func run(args []string, out, errOut io.Writer, wait func()) int {
	opts, err := parseArgs(args, errOut)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitCodeSuccess
		}
		fmt.Fprintln(errOut, err)
		return exitCodeUsage
	}
	if opts.ShowVersion {
		fmt.Fprintln(out, version.HumanReadable("snapwatchd"))
		return exitCodeSuccess
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeConfig
	}
	cfg = applyOverrides(cfg, opts)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeConfig
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.NewLoggerWithOutput(logging.NewEntryBuffer(logging.DefaultBufferSize), level, out)

	return runDaemon(cfg, logger, errOut, wait)
}

func runDaemon(cfg config.Config, logger *logging.Logger, errOut io.Writer, wait func()) int {
	registry := metrics.Default

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.NewBus[snapshotter.Event](ctx, event.BusOptions{})
	fsBus := event.NewBus[watcher.Event](ctx, event.BusOptions{})

	provider, err := zfs.New(zfs.Options{
		Dataset: cfg.Dataset,
		Logger:  logger.With(map[string]string{"component": "zfs"}),
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeConfig
	}

	coordinator, err := snapshotter.NewCoordinator(snapshotter.Options{
		Node:               cfg.Node,
		Provider:           provider,
		AttemptDeadline:    cfg.AttemptDeadline.Std(),
		MinAttemptInterval: cfg.MinAttemptInterval.Std(),
		Logger:             logger.With(map[string]string{"component": "coordinator"}),
		Registry:           registry,
		Observer:           bus.Publish,
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeConfig
	}
	defer coordinator.Close()

	debounce := cfg.Debounce.Std()
	if debounce == 0 {
		debounce = -1
	}
	treeWatcher, err := watcher.New(watcher.Options{
		Root:       cfg.WatchPath,
		Debounce:   debounce,
		MaxWatches: cfg.MaxWatches,
		Logger:     logger.With(map[string]string{"component": "watcher"}),
		Registry:   registry,
		Bus:        fsBus,
		OnChange: func(watcher.Event) {
			coordinator.NotifyChanged()
		},
	})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return exitCodeRuntime
	}
	defer treeWatcher.Close()

	if cfg.Listen != "" {
		server := api.NewServer(api.Options{
			Listen:      cfg.Listen,
			Coordinator: coordinator,
			Registry:    registry,
			Bus:         bus,
			FSBus:       fsBus,
			Logger:      logger.With(map[string]string{"component": "api"}),
		})
		if err := server.Start(); err != nil {
			fmt.Fprintln(errOut, err)
			return exitCodeRuntime
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("snapwatchd running", map[string]string{
		"node":       cfg.Node,
		"watch_path": cfg.WatchPath,
		"dataset":    cfg.Dataset,
	})

	wait()

	logger.Info("snapwatchd shutting down", nil)
	return exitCodeSuccess
}

func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	<-signals
}
