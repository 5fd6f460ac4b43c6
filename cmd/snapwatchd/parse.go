package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"snapwatch/internal/config"
)

type cliOptions struct {
	ConfigPath  string
	Node        string
	WatchPath   string
	Dataset     string
	Listen      string
	LogLevel    string
	Deadline    time.Duration
	MinInterval time.Duration
	ShowVersion bool

	set map[string]bool
}

func parseArgs(args []string, errOut io.Writer) (cliOptions, error) {
	fs := flag.NewFlagSet("snapwatchd", flag.ContinueOnError)
	fs.SetOutput(errOut)

	opts := cliOptions{}
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to the YAML config file")
	fs.StringVar(&opts.Node, "node", "", "Node identity used in snapshot names (default: hostname)")
	fs.StringVar(&opts.WatchPath, "watch-path", "", "Directory tree to watch for changes")
	fs.StringVar(&opts.Dataset, "dataset", "", "ZFS dataset backing the watched tree")
	fs.StringVar(&opts.Listen, "listen", "", "Observability HTTP listen address (empty: disabled)")
	fs.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warning, error")
	fs.DurationVar(&opts.Deadline, "attempt-deadline", 0, "Per-attempt deadline (default: 10s)")
	fs.DurationVar(&opts.MinInterval, "min-attempt-interval", 0, "Minimum interval between attempt starts (0 disables)")
	fs.BoolVar(&opts.ShowVersion, "version", false, "Print version and exit")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: snapwatchd [flags]")
		fmt.Fprintln(fs.Output(), "Watches a filesystem tree and snapshots its ZFS dataset on change.")
		fmt.Fprintln(fs.Output(), "Flags override the config file.")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, err
	}
	if fs.NArg() != 0 {
		fs.Usage()
		return cliOptions{}, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	opts.set = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		opts.set[f.Name] = true
	})
	return opts, nil
}

// applyOverrides layers explicitly set flags over the loaded config.
func applyOverrides(cfg config.Config, opts cliOptions) config.Config {
	if opts.set["node"] {
		cfg.Node = opts.Node
	}
	if opts.set["watch-path"] {
		cfg.WatchPath = opts.WatchPath
	}
	if opts.set["dataset"] {
		cfg.Dataset = opts.Dataset
	}
	if opts.set["listen"] {
		cfg.Listen = opts.Listen
	}
	if opts.set["log-level"] {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.set["attempt-deadline"] {
		cfg.AttemptDeadline = config.Duration(opts.Deadline)
	}
	if opts.set["min-attempt-interval"] {
		cfg.MinAttemptInterval = config.Duration(opts.MinInterval)
	}
	return cfg
}
