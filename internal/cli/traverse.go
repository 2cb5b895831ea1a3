package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/reactive"
	"github.com/roach88/resgraph/internal/synchronizer"
	"github.com/roach88/resgraph/internal/tree"
)

// TraverseOptions holds flags for the traverse command.
type TraverseOptions struct {
	*RootOptions
	GraphOptions

	// Strict fails on the first field that does not exist.
	Strict bool
}

// TraverseResult is the output of the traverse command.
type TraverseResult struct {
	Root     ir.ResourceID `json:"root"`
	Path     []string      `json:"path"`
	ID       ir.ResourceID `json:"id"`
	Type     string        `json:"type"`
	Data     string        `json:"data,omitempty"`
	Inputs   []string      `json:"inputs"`
	Outputs  []string      `json:"outputs"`
	Dynamic  []string      `json:"dynamic"`
	Stable   bool          `json:"stable"`
	Unstable []string      `json:"unstable,omitempty"`
}

func (r TraverseResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s -> %s %s", r.Root, strings.Join(r.Path, "/"), r.ID, r.Type)
	if r.Data != "" {
		fmt.Fprintf(&b, " = %s", r.Data)
	}
	for _, list := range []struct {
		label  string
		fields []string
	}{{"inputs", r.Inputs}, {"outputs", r.Outputs}, {"dynamic", r.Dynamic}} {
		if len(list.fields) > 0 {
			fmt.Fprintf(&b, "\n  %s: %s", list.label, strings.Join(list.fields, ", "))
		}
	}
	if !r.Stable {
		fmt.Fprintf(&b, "\n  %s: %s", warnLabel("unstable"), strings.Join(r.Unstable, ", "))
	}
	return b.String()
}

// NewTraverseCommand creates the traverse command.
func NewTraverseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraverseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "traverse <field>...",
		Short: "Synchronize once and resolve a field path",
		Long: `Synchronize the tree below the root once, then follow the given
field names from the root and print the resource at the end of the path.

The command fails when the path reaches an error resource, or when some
field on the path has no value yet.

Examples:
  resgraph traverse --db ./graph.db --root 1 spec
  resgraph traverse --db ./graph.db step spec --strict --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTraverse(opts, args, cmd)
		},
	}
	opts.GraphOptions.register(cmd)
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when a field does not exist")

	return cmd
}

func runTraverse(opts *TraverseOptions, path []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	root, err := opts.rootID()
	if err != nil {
		return err
	}

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := synchronizer.Init(ctx, st, root, synchronizer.WithLogger(slog.Default()))
	if err != nil {
		_ = out.Error(ErrCodeLoad, "synchronization failed", err.Error())
		return WrapExitError(ExitFailure, "synchronization failed", err)
	}
	defer s.Terminate()

	steps := tree.Path(path...)
	for i := range steps {
		steps[i].ErrorIfFieldNotFound = opts.Strict
	}

	pass := reactive.NewPass()
	node, err := s.RootEntry().Node(pass, tree.ResourceOps{})
	if err == nil && node != nil {
		node, err = node.TraverseOrError(steps...)
	}

	var resErr *tree.ResourceError
	switch {
	case errors.As(err, &resErr):
		_ = out.Error(ErrCodeResourceError, resErr.Error(), map[string]any{
			"source": resErr.Source,
			"field":  resErr.Field,
			"error":  resErr.ErrorID,
		})
		return WrapExitError(ExitFailure, "path reached an error resource", err)
	case err != nil:
		_ = out.Error(ErrCodeGeneric, "traversal failed", err.Error())
		return WrapExitError(ExitFailure, "traversal failed", err)
	case node == nil:
		_ = out.Error(ErrCodeNotResolved, "path not resolved", pass.UnstableMarkers())
		return NewExitError(ExitFailure, "path not resolved")
	}

	result, err := describeNode(node)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read resource", err)
	}
	result.Root = root
	result.Path = path
	result.Stable = pass.Stable()
	result.Unstable = pass.UnstableMarkers()
	return out.Success(result)
}

func describeNode(node *tree.Node) (TraverseResult, error) {
	result := TraverseResult{
		ID:   node.ID(),
		Type: node.ResourceType().String(),
	}
	var err error
	if result.Data, err = node.DataAsString(); err != nil {
		return result, err
	}
	if result.Inputs, err = node.ListInputFields(); err != nil {
		return result, err
	}
	if result.Outputs, err = node.ListOutputFields(); err != nil {
		return result, err
	}
	if result.Dynamic, err = node.ListDynamicFields(); err != nil {
		return result, err
	}
	return result, nil
}
