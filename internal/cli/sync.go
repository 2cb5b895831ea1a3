package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/resgraph/internal/synchronizer"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	GraphOptions
	Interval time.Duration
	Rounds   int

	// GenerationIDs allows overriding the store generation ids (for testing).
	// If nil, defaults to synchronizer.UUIDv7Generator.
	GenerationIDs synchronizer.GenerationIDGenerator
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Keep a tree replica synchronized",
		Long: `Run the synchronization loop against a graph database and report
every round. The store is rebuilt from scratch when an update violates
the consistency rules of the cache.

Runs until interrupted, or until --rounds rounds have completed.
JSON output prints one response per round.

Examples:
  resgraph sync --db ./graph.db --root 1
  resgraph sync --db ./graph.db --interval 2s --rounds 10 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(opts, cmd)
		},
	}
	opts.GraphOptions.register(cmd)
	cmd.Flags().DurationVar(&opts.Interval, "interval", synchronizer.DefaultPollingInterval, "polling interval")
	cmd.Flags().IntVar(&opts.Rounds, "rounds", 0, "stop after this many rounds (0 runs until interrupted)")

	return cmd
}

func runSync(opts *SyncOptions, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	root, err := opts.rootID()
	if err != nil {
		return err
	}
	if opts.Rounds < 0 {
		return NewExitError(ExitCommandError, "invalid rounds: must not be negative")
	}

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	reports := make(chan synchronizer.RoundReport, 16)
	syncOpts := []synchronizer.Option{
		synchronizer.WithPollingInterval(opts.Interval),
		synchronizer.WithLogger(slog.Default()),
		synchronizer.WithRoundObserver(func(r synchronizer.RoundReport) {
			select {
			case reports <- r:
			case <-ctx.Done():
			}
		}),
	}
	if opts.GenerationIDs != nil {
		syncOpts = append(syncOpts, synchronizer.WithGenerationIDs(opts.GenerationIDs))
	}

	s := synchronizer.New(st, root, syncOpts...)
	defer func() {
		// Unblock the observer before waiting for the loop.
		cancel()
		s.Terminate()
	}()

	slog.Info("synchronizer starting", "db", opts.Database, "root", root, "interval", opts.Interval)
	s.Start()

	var failed int
	for round := 1; opts.Rounds == 0 || round <= opts.Rounds; round++ {
		var r synchronizer.RoundReport
		select {
		case r = <-reports:
		case <-ctx.Done():
			slog.Info("received signal, shutting down")
			return nil
		}

		summary := RoundSummary{
			Round:      round,
			Root:       root,
			Generation: r.Generation,
			Resources:  r.Resources,
			Loaded:     r.Stats.Loaded,
			Missing:    r.Stats.Missing,
		}
		if r.Err != nil {
			summary.Error = r.Err.Error()
			failed++
		}
		if err := out.Round(summary); err != nil {
			return err
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d rounds failed", failed, opts.Rounds))
	}
	return nil
}
