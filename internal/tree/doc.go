// Package tree is the client-side cache of a server-authoritative resource
// graph.
//
// State holds the resources reachable from one root. It is mutated only by
// UpdateFromResourceData, which applies a patch round atomically, checks
// the state transition rules of every resource and reference-counts the
// graph so that resources nobody points at any more are evicted.
//
// Reads go through Entry, a persistable handle, and Node, a view bound to
// one reactive pass (see package reactive). Every Node read attaches the
// pass to the change sources that can alter its answer, so a consumer
// knows exactly when to recompute.
package tree
