package synchronizer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/reactive"
	"github.com/roach88/resgraph/internal/remote/memgraph"
	tu "github.com/roach88/resgraph/internal/testutil"
	"github.com/roach88/resgraph/internal/tree"
)

func put(t *testing.T, g *memgraph.Graph, builders ...*tu.ResourceBuilder) {
	t.Helper()
	for _, b := range builders {
		require.NoError(t, g.PutResource(context.Background(), b.Build()))
	}
}

func testOpts(extra ...Option) []Option {
	return append([]Option{
		WithPollingInterval(10 * time.Millisecond),
		WithStopPollingDelay(0),
		WithGenerationIDs(tu.NewSequenceGenerator("gen")),
	}, extra...)
}

func ctxTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func initSync(t *testing.T, g *memgraph.Graph, opts ...Option) *Synchronizer {
	t.Helper()
	s, err := Init(ctxTimeout(t), g, 1, testOpts(opts...)...)
	require.NoError(t, err)
	t.Cleanup(s.Terminate)
	return s
}

func currentLen(t *testing.T, s *Synchronizer) int {
	t.Helper()
	state, err := s.TreeState()
	require.NoError(t, err)
	return state.Len()
}

func TestInit_LoadsTree(t *testing.T) {
	g := memgraph.New()
	put(t, g,
		tu.Res(1).Input("a", 2).Locked(),
		tu.Res(2).Dynamic("b", 3),
		tu.Val(3, "leaf"),
	)

	s := initSync(t, g)

	assert.Equal(t, 3, currentLen(t, s))
	assert.Equal(t, "gen-1", s.Generation())
	assert.True(t, s.IsActive())
	assert.Equal(t, ir.ResourceID(1), s.Root())
}

func TestInit_FailureTerminates(t *testing.T) {
	boom := errors.New("backend down")
	g := memgraph.New(memgraph.WithFetchHook(func(ir.ResourceID) error { return boom }))

	s, err := Init(ctxTimeout(t), g, 1, testOpts()...)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, s)
}

func TestRefreshState_ObservesUpstreamChanges(t *testing.T) {
	g := memgraph.New()
	put(t, g, tu.Res(1).Dynamic("a", 2), tu.Val(2, "one"))
	s := initSync(t, g)
	require.Equal(t, 2, currentLen(t, s))

	put(t, g, tu.Res(1).Dynamic("a", 2).Dynamic("b", 3), tu.Val(3, "two"))
	require.NoError(t, s.RefreshState(ctxTimeout(t)))
	assert.Equal(t, 3, currentLen(t, s))

	put(t, g, tu.Res(1).Dynamic("b", 3))
	require.NoError(t, s.RefreshState(ctxTimeout(t)))
	assert.Equal(t, 2, currentLen(t, s), "resource 2 is no longer referenced")
}

func TestRefreshState_WakesDependents(t *testing.T) {
	g := memgraph.New()
	put(t, g, tu.Res(1).Dynamic("a", 2), tu.Val(2, "one"), tu.Val(3, "two"))
	s := initSync(t, g)

	c := reactive.Make(func(ctx reactive.Ctx) (string, error) {
		node, err := s.RootEntry().Node(ctx, tree.ResourceOps{})
		if err != nil || node == nil {
			return "", err
		}
		ve, err := node.Traverse(tree.TraverseOptions{}, tree.F("a"))
		if err != nil || ve == nil || ve.Value == nil {
			return "", err
		}
		return ve.Value.DataAsString()
	})
	res := c.Get()
	require.NoError(t, res.Err)
	require.Equal(t, "one", res.Value)
	changed := c.Changed()

	put(t, g, tu.Res(1).Dynamic("a", 3))
	require.NoError(t, s.RefreshState(ctxTimeout(t)))

	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("dependent was not notified")
	}
	res = c.Get()
	require.NoError(t, res.Err)
	assert.Equal(t, "two", res.Value)
}

func TestRefreshState_RebuildsAfterInvariantViolation(t *testing.T) {
	g := memgraph.New()
	put(t, g, tu.Res(1).Input("a", 2).Locked(), tu.Val(2, "v"))

	var (
		mu      sync.Mutex
		reports []RoundReport
	)
	// Only refreshes drive rounds so the violation is seen by the refresh.
	s := initSync(t, g, WithPollingInterval(time.Hour), WithRoundObserver(func(r RoundReport) {
		mu.Lock()
		reports = append(reports, r)
		mu.Unlock()
	}))
	oldState, err := s.TreeState()
	require.NoError(t, err)
	entry := s.RootEntry()

	// Dropping a locked input is not a legal transition.
	put(t, g, tu.Res(1).Locked())
	err = s.RefreshState(ctxTimeout(t))
	require.Error(t, err)
	assert.True(t, tree.IsStateUpdateError(err))
	assert.Contains(t, err.Error(), "removal of Input field a")

	require.NoError(t, s.RefreshState(ctxTimeout(t)))
	assert.Equal(t, "gen-2", s.Generation())
	assert.False(t, oldState.IsValid())

	state, err := s.TreeState()
	require.NoError(t, err)
	assert.NotSame(t, oldState, state)
	assert.True(t, state.IsValid())
	assert.Equal(t, 1, state.Len())

	node, err := entry.Node(reactive.NewPass(), tree.ResourceOps{})
	require.NoError(t, err, "entries resolve against the rebuilt store")
	require.NotNil(t, node)
	inputs, err := node.ListInputFields()
	require.NoError(t, err)
	assert.Empty(t, inputs)

	mu.Lock()
	defer mu.Unlock()
	var failed bool
	for _, r := range reports {
		if r.Err != nil {
			failed = true
			assert.Equal(t, "gen-1", r.Generation)
		}
	}
	assert.True(t, failed, "the failing round is reported")
}

func TestRefreshState_FetchFailureKeepsStore(t *testing.T) {
	var fail atomic.Bool
	boom := errors.New("fetch failed")
	g := memgraph.New(memgraph.WithFetchHook(func(ir.ResourceID) error {
		if fail.Load() {
			return boom
		}
		return nil
	}))
	put(t, g, tu.Res(1).Dynamic("a", 2), tu.Val(2, "v"))
	s := initSync(t, g)

	fail.Store(true)
	err := s.RefreshState(ctxTimeout(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, tree.IsInvalidTree(err))
	assert.Equal(t, "gen-1", s.Generation())

	fail.Store(false)
	require.NoError(t, s.RefreshState(ctxTimeout(t)))
	assert.Equal(t, "gen-1", s.Generation())
	assert.Equal(t, 2, currentLen(t, s))
}

func TestRefreshState_InactiveRunsSingleRound(t *testing.T) {
	g := memgraph.New()
	put(t, g, tu.Res(1).Dynamic("a", 2), tu.Val(2, "v"))
	s := New(g, 1, testOpts()...)
	t.Cleanup(s.Terminate)

	require.NoError(t, s.RefreshState(ctxTimeout(t)))
	assert.Equal(t, 2, currentLen(t, s))
	assert.False(t, s.IsActive())

	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop kept running without Start")
	}
	assert.Equal(t, int64(1), g.Transactions())
}

func TestRefreshState_HonoursContext(t *testing.T) {
	g := memgraph.New(memgraph.WithFetchDelay(func(ir.ResourceID) time.Duration {
		return 200 * time.Millisecond
	}))
	put(t, g, tu.Res(1))
	s := New(g, 1, testOpts()...)
	t.Cleanup(s.Terminate)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.RefreshState(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStart_Idempotent(t *testing.T) {
	g := memgraph.New()
	put(t, g, tu.Res(1))
	s := initSync(t, g)

	s.mu.Lock()
	first := s.loopDone
	s.mu.Unlock()

	s.Start()
	s.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.True(t, s.running)
	assert.Equal(t, first, s.loopDone, "no second loop is launched")
}

func TestStop_CancelledByStart(t *testing.T) {
	g := memgraph.New()
	put(t, g, tu.Res(1))
	s := initSync(t, g, WithStopPollingDelay(30*time.Millisecond))

	s.Stop()
	s.Start()
	time.Sleep(60 * time.Millisecond)
	assert.True(t, s.IsActive())

	s.Stop()
	assert.True(t, s.IsActive(), "deactivation waits for the delay")
	assert.Eventually(t, func() bool { return !s.IsActive() }, time.Second, 5*time.Millisecond)

	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after Stop")
	}
}

func TestLoop_PollsWhileActive(t *testing.T) {
	g := memgraph.New()
	put(t, g, tu.Res(1))
	s := initSync(t, g)

	assert.Eventually(t, func() bool { return g.Transactions() >= 3 }, time.Second, 5*time.Millisecond)

	put(t, g, tu.Res(1).Dynamic("a", 2), tu.Val(2, "v"))
	assert.Eventually(t, func() bool { return currentLen(t, s) == 2 }, time.Second, 5*time.Millisecond)
}

func TestTerminate(t *testing.T) {
	g := memgraph.New()
	put(t, g, tu.Res(1).Dynamic("a", 2), tu.Val(2, "v"))
	s, err := Init(ctxTimeout(t), g, 1, testOpts()...)
	require.NoError(t, err)
	state, err := s.TreeState()
	require.NoError(t, err)

	s.Terminate()
	s.Terminate()

	require.NoError(t, s.AwaitTermination(ctxTimeout(t)))
	assert.False(t, state.IsValid())
	assert.False(t, s.IsActive())
	assert.ErrorIs(t, s.RefreshState(ctxTimeout(t)), ErrTerminated)

	_, err = s.TreeState()
	assert.ErrorIs(t, err, ErrTerminated)
	_, err = s.RootEntry().Node(reactive.NewPass(), tree.ResourceOps{})
	assert.ErrorIs(t, err, ErrTerminated)

	s.Start()
	assert.False(t, s.IsActive(), "a terminated synchronizer cannot restart")
}

func TestAwaitTermination_HonoursContext(t *testing.T) {
	s := New(memgraph.New(), 1, testOpts()...)
	t.Cleanup(s.Terminate)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.AwaitTermination(ctx), context.DeadlineExceeded)
}
