package tree

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/reactive"
	tu "github.com/roach88/resgraph/internal/testutil"
)

const (
	swapRounds  = 200
	swapReaders = 8
)

// swapPatch rewires root field "a" to one of two branches. The branch not
// referenced by the patch loses its only reference and is evicted with its
// leaf.
func swapPatch(round int) []ir.ExtendedResourceData {
	if round%2 == 0 {
		return tu.Patch(
			tu.Res(1).Dynamic("a", 2),
			tu.Res(2).Input("b", 4).Locked().Ready(),
			tu.Val(4, "left"),
		)
	}
	return tu.Patch(
		tu.Res(1).Dynamic("a", 3),
		tu.Res(3).Input("b", 5).Locked().Ready(),
		tu.Val(5, "right"),
	)
}

func readSwapped(ctx reactive.Ctx, s *State) (string, error) {
	node, err := s.RootEntry().Node(ctx, ResourceOps{})
	if err != nil {
		return "", err
	}
	if node == nil {
		return "", fmt.Errorf("root not in store")
	}
	ve, err := node.Traverse(TraverseOptions{}, Path("a", "b")...)
	if err != nil {
		return "", err
	}
	if ve == nil || ve.Value == nil {
		return "", fmt.Errorf("a/b has no value")
	}
	return ve.Value.DataAsString()
}

type readRecord struct {
	pass *reactive.Pass

	// startedRounds is the number of rounds the writer had begun once the
	// read finished. Every later round is applied after the read.
	startedRounds int64
}

func TestConcurrentReaders_SeeWholeRounds(t *testing.T) {
	s := New(1)
	require.NoError(t, s.UpdateFromResourceData(swapPatch(0), false))

	var (
		started atomic.Int64
		done    = make(chan struct{})
		mu      sync.Mutex
		records []readRecord
		wg      sync.WaitGroup
	)

	for r := 0; r < swapReaders; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}

				pass := reactive.NewPass()
				data, err := readSwapped(pass, s)
				var te *TraversalError
				if errors.As(err, &te) {
					assert.NotEqual(t, ErrCodeResourceNotFound, te.Code, "reader saw a half-applied round: %v", err)
				}
				if !assert.NoError(t, err) {
					return
				}
				assert.Contains(t, []string{"left", "right"}, data)
				assert.True(t, pass.Stable(), "unstable markers: %v", pass.UnstableMarkers())

				var ids []ir.ResourceID
				assert.NoError(t, s.ForEachResource(func(r ResourceView) {
					ids = append(ids, r.ID())
				}))
				assert.Contains(t, [][]ir.ResourceID{{1, 2, 4}, {1, 3, 5}}, ids)

				rec := readRecord{pass: pass, startedRounds: started.Load()}
				mu.Lock()
				records = append(records, rec)
				mu.Unlock()
			}
		}()
	}

	for round := 1; round <= swapRounds; round++ {
		started.Add(1)
		require.NoError(t, s.UpdateFromResourceData(swapPatch(round), false))
	}
	close(done)
	wg.Wait()

	require.True(t, s.IsValid())
	assertRefCountsExact(t, s)
	require.NotEmpty(t, records)
	for _, rec := range records {
		if rec.startedRounds < swapRounds {
			assert.True(t, rec.pass.Tracker().Changed(),
				"read finished before round %d but was never notified", rec.startedRounds+1)
		}
	}
}

func TestConcurrentReaders_ComputableTracksRewiring(t *testing.T) {
	s := New(1)
	require.NoError(t, s.UpdateFromResourceData(swapPatch(0), false))

	var (
		done = make(chan struct{})
		wg   sync.WaitGroup
	)
	computables := make([]*reactive.Computable[string], swapReaders)
	for i := range computables {
		computables[i] = reactive.Make(func(ctx reactive.Ctx) (string, error) {
			return readSwapped(ctx, s)
		})
	}

	for _, c := range computables {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				res := c.Get()
				if !assert.NoError(t, res.Err) {
					return
				}
				assert.True(t, res.Stable, "unstable markers: %v", res.Unstable)
				assert.Contains(t, []string{"left", "right"}, res.Value)
			}
		}()
	}

	for round := 1; round <= swapRounds; round++ {
		require.NoError(t, s.UpdateFromResourceData(swapPatch(round), false))
	}
	close(done)
	wg.Wait()

	// swapRounds is even, so the last round wired the left branch back.
	for i, c := range computables {
		res := c.Get()
		require.NoError(t, res.Err, "computable %d", i)
		assert.Equal(t, "left", res.Value, "computable %d kept a stale result", i)
	}
}
