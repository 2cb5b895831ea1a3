package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/resgraph/internal/fixture"
	"github.com/roach88/resgraph/internal/ir"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Database string
}

// SeedResult is the output of the seed command.
type SeedResult struct {
	Fixture   string        `json:"fixture"`
	Root      ir.ResourceID `json:"root"`
	Resources int           `json:"resources"`
}

func (r SeedResult) String() string {
	return fmt.Sprintf("Seeded %d resources from fixture %q (root %s)", r.Resources, r.Fixture, r.Root)
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <fixture>",
		Short: "Write a fixture graph into a database",
		Long: `Write the resources of a YAML or CUE fixture into a SQLite graph
database, creating the database if it doesn't exist. Existing resources
with the same ids are replaced.

Examples:
  resgraph seed --db ./graph.db ./fixtures/pipeline.yaml
  resgraph seed --db ./graph.db ./fixtures/pipeline.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSeed(opts *SeedOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)

	f, err := fixture.Load(path)
	if err != nil {
		_ = out.Error(ErrCodeFixture, "failed to load fixture", err.Error())
		return WrapExitError(ExitCommandError, "failed to load fixture", err)
	}
	out.VerboseLog("loaded fixture %q with %d resources", f.Name, len(f.Resources))

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer closeStore(st)

	if err := fixture.Apply(ctx, st, f); err != nil {
		_ = out.Error(ErrCodeDatabase, "failed to seed database", err.Error())
		return WrapExitError(ExitCommandError, "failed to seed database", err)
	}
	slog.Info("fixture seeded", "fixture", f.Name, "db", opts.Database, "resources", len(f.Resources))

	return out.Success(SeedResult{
		Fixture:   f.Name,
		Root:      f.Root,
		Resources: len(f.Resources),
	})
}
