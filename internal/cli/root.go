package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/remote/sqlgraph"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the resgraph CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "resgraph",
		Short: "resgraph - resource graph cache",
		Long:  "Seed, load, traverse and synchronize a client-side replica of a resource graph.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			configureLogging(opts, cmd.ErrOrStderr())
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	// Add subcommands
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewTraverseCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// configureLogging installs the default slog handler: text on w, Debug
// level when verbose.
func configureLogging(opts *RootOptions, w io.Writer) {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// GraphOptions holds the flags shared by commands reading a graph database.
type GraphOptions struct {
	Database string
	Root     string
}

func (g *GraphOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&g.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&g.Root, "root", "1", "root resource id (N or rid:N)")
}

func (g *GraphOptions) rootID() (ir.ResourceID, error) {
	id, err := ir.ParseResourceID(g.Root)
	if err != nil {
		return ir.NullResourceID, WrapExitError(ExitCommandError, "invalid root", err)
	}
	if id.IsNull() {
		return ir.NullResourceID, NewExitError(ExitCommandError, "invalid root: null resource id")
	}
	return id, nil
}

// openStore opens the database; the caller closes it.
func openStore(path string) (*sqlgraph.Store, error) {
	st, err := sqlgraph.Open(path, sqlgraph.WithLogger(slog.Default()))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

func closeStore(st *sqlgraph.Store) {
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM, derived
// from the command's context when one is set.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
