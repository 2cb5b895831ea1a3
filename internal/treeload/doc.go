// Package treeload decides what to refetch from the remote graph and
// fetches it.
//
// BuildRequest classifies the resources of a cache store into seeds and
// final resources. LoadTreeState then walks the remote graph breadth-first
// from the seeds. Fetches are issued concurrently but consumed in request
// order, so the emitted patch is deterministic for a given snapshot.
package treeload
