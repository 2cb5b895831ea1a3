package treeload

import (
	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/tree"
)

// PruningFunction replaces the field list of a fetched resource. The
// pruned list is both what the traversal follows and what is emitted.
//
// Only Dynamic fields may be dropped: the cache store treats an omitted
// Input, Service or Output field as removed, which is an invalid
// transition. LoadTreeState enforces this with a *PruningError.
type PruningFunction func(rd *ir.ResourceData) []ir.FieldData

// TreeLoadingRequest is the fetch plan for one round.
type TreeLoadingRequest struct {
	// SeedResources are fetched unconditionally, in order.
	SeedResources []ir.ResourceID

	// FinalResources are never fetched; traversal stops at them.
	FinalResources map[ir.ResourceID]struct{}

	Pruning PruningFunction
}

// IsFinal reports whether id is excluded from fetching.
func (r TreeLoadingRequest) IsFinal(id ir.ResourceID) bool {
	_, ok := r.FinalResources[id]
	return ok
}

// BuildRequest derives the next fetch plan from the store: final resources
// are excluded, every other cached resource is a seed. An empty store seeds
// its root.
func BuildRequest(s *tree.State, pruning PruningFunction) (TreeLoadingRequest, error) {
	req := TreeLoadingRequest{
		FinalResources: make(map[ir.ResourceID]struct{}),
		Pruning:        pruning,
	}
	err := s.ForEachResource(func(r tree.ResourceView) {
		if r.Final() {
			req.FinalResources[r.ID()] = struct{}{}
			return
		}
		req.SeedResources = append(req.SeedResources, r.ID())
	})
	if err != nil {
		return TreeLoadingRequest{}, err
	}
	if len(req.SeedResources) == 0 && len(req.FinalResources) == 0 {
		req.SeedResources = []ir.ResourceID{s.Root()}
	}
	return req, nil
}
