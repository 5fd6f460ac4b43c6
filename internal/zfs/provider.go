package zfs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"snapwatch/internal/logging"
	"snapwatch/internal/snapshotter"
)

var (
	ErrDatasetRequired = errors.New("zfs: dataset required")
	ErrInvalidDataset  = errors.New("zfs: dataset must not contain '@'")
)

// CommandRunner executes one command and returns its combined output.
// It exists so tests can run without a zfs binary.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Options configures a Provider.
type Options struct {
	// Dataset is the ZFS filesystem to snapshot, e.g. "tank/data".
	Dataset string
	// Command overrides the zfs binary name or path.
	Command string
	Runner  CommandRunner
	Logger  *logging.Logger
}

// Provider creates point-in-time snapshots of one ZFS dataset via the
// zfs command line. Cancellation kills the child process through the
// command context.
type Provider struct {
	dataset string
	command string
	runner  CommandRunner
	logger  *logging.Logger
}

func New(options Options) (*Provider, error) {
	if options.Dataset == "" {
		return nil, ErrDatasetRequired
	}
	if strings.Contains(options.Dataset, "@") {
		return nil, ErrInvalidDataset
	}
	command := options.Command
	if command == "" {
		command = "zfs"
	}
	runner := options.Runner
	if runner == nil {
		runner = runCommand
	}
	return &Provider{
		dataset: options.Dataset,
		command: command,
		runner:  runner,
		logger:  options.Logger,
	}, nil
}

// Create implements snapshotter.Provider.
func (p *Provider) Create(ctx context.Context, name snapshotter.SnapshotName) error {
	label := fmt.Sprintf("%s@%s", p.dataset, name)
	output, err := p.runner(ctx, p.command, "snapshot", label)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("zfs snapshot %s: %w", label, ctxErr)
		}
		detail := strings.TrimSpace(string(output))
		if detail != "" {
			return fmt.Errorf("zfs snapshot %s: %w: %s", label, err, detail)
		}
		return fmt.Errorf("zfs snapshot %s: %w", label, err)
	}
	if p.logger != nil {
		p.logger.Debug("zfs snapshot created", map[string]string{
			"snapshot": label,
		})
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
