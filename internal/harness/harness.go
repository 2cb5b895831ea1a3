package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/remote/memgraph"
	"github.com/roach88/resgraph/internal/synchronizer"
	"github.com/roach88/resgraph/internal/testutil"
	"github.com/roach88/resgraph/internal/tree"
)

// Harness is the scenario execution engine. It owns an in-memory remote
// graph and a synchronizer that is never started: every round is driven
// by an explicit refresh, so the trace is deterministic.
type Harness struct {
	graph   *memgraph.Graph
	sync    *synchronizer.Synchronizer
	reports chan synchronizer.RoundReport
	logger  *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory graph. Store generations
// are named "gen-1", "gen-2", ... in rebuild order.
//
// Execution flow:
//  1. For each round, write the puts and deletes upstream
//  2. Refresh once and record the round report and store snapshot
//  3. Evaluate the assertions against the store
//
// Returns an error only when the scenario cannot be executed; expectation
// and assertion failures are reported in the result.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		graph:   memgraph.New(memgraph.WithLogger(logger)),
		reports: make(chan synchronizer.RoundReport, len(scenario.Rounds)),
		logger:  logger,
	}
	h.sync = synchronizer.New(h.graph, scenario.Root,
		synchronizer.WithGenerationIDs(testutil.NewSequenceGenerator("gen")),
		synchronizer.WithLogger(logger),
		synchronizer.WithRoundObserver(h.observe),
	)
	defer h.sync.Terminate()

	result := NewResult()
	for i, round := range scenario.Rounds {
		event, err := h.runRound(ctx, i+1, round)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", i+1, err)
		}
		result.Trace = append(result.Trace, event)

		switch {
		case round.ExpectError == "" && event.Error != "":
			result.AddError(fmt.Sprintf("round %d: unexpected error: %s", i+1, event.Error))
		case round.ExpectError != "" && event.Error == "":
			result.AddError(fmt.Sprintf("round %d: expected error containing %q, round succeeded", i+1, round.ExpectError))
		case round.ExpectError != "" && !strings.Contains(event.Error, round.ExpectError):
			result.AddError(fmt.Sprintf("round %d: expected error containing %q, got: %s", i+1, round.ExpectError, event.Error))
		}
	}

	for _, err := range EvaluateAssertions(h.sync, scenario.Assertions, result.Trace) {
		result.AddError(err.Error())
	}
	return result, nil
}

func (h *Harness) observe(r synchronizer.RoundReport) {
	select {
	case h.reports <- r:
	default:
		h.logger.Warn("round report dropped", "generation", r.Generation)
	}
}

func (h *Harness) runRound(ctx context.Context, n int, round Round) (RoundEvent, error) {
	if err := ctx.Err(); err != nil {
		return RoundEvent{}, err
	}
	for _, res := range round.Put {
		if err := h.graph.PutResource(ctx, res.ResourceData()); err != nil {
			return RoundEvent{}, fmt.Errorf("put %s: %w", res.ID, err)
		}
	}
	for _, id := range round.Delete {
		if err := h.graph.DeleteResource(ctx, id); err != nil {
			return RoundEvent{}, fmt.Errorf("delete %s: %w", id, err)
		}
	}

	refreshErr := h.sync.RefreshState(ctx)
	if errors.Is(refreshErr, context.Canceled) || errors.Is(refreshErr, context.DeadlineExceeded) {
		return RoundEvent{}, refreshErr
	}

	var report synchronizer.RoundReport
	select {
	case report = <-h.reports:
	case <-ctx.Done():
		return RoundEvent{}, ctx.Err()
	}

	event := RoundEvent{
		Round:      n,
		Generation: report.Generation,
		Requested:  report.Stats.Requested,
		Loaded:     report.Stats.Loaded,
		Missing:    report.Stats.Missing,
	}
	if refreshErr != nil {
		event.Error = summarize(refreshErr)
		return event, nil
	}

	state, err := h.sync.TreeState()
	if err != nil {
		return RoundEvent{}, err
	}
	snapshots, err := snapshot(state)
	if err != nil {
		return RoundEvent{}, err
	}
	event.Resources = snapshots
	return event, nil
}

// summarize renders store update errors without their state snapshots.
func summarize(err error) string {
	var sue *tree.StateUpdateError
	if errors.As(err, &sue) {
		return fmt.Sprintf("%s (%s)", sue.Code, sue.Reason)
	}
	return err.Error()
}

func snapshot(state *tree.State) ([]ResourceSnapshot, error) {
	var out []ResourceSnapshot
	err := state.ForEachResource(func(r tree.ResourceView) {
		rd := ir.ResourceData{Fields: r.Fields()}
		out = append(out, ResourceSnapshot{
			ID:       r.ID(),
			Type:     r.Type().String(),
			RefCount: r.RefCount(),
			Ready:    r.Ready(),
			Final:    r.Final(),
			Fields:   rd.FieldList(),
			Keys:     keyCount(r),
		})
	})
	return out, err
}

func keyCount(r tree.ResourceView) int {
	if res, ok := r.(*tree.Resource); ok {
		return res.KeyCount()
	}
	return 0
}
