// Package ir defines the resource data model shared by the cache store, the
// tree loading protocol and the remote store backends.
//
// A resource is a node of the server-authoritative graph. It has a kind
// (structural or value), a type, an optional binary payload, typed fields
// pointing at other resources, and a key/value set.
//
// # Identity
//
// ResourceID is an opaque, totally ordered identifier. NullResourceID means
// "no reference" and is never resolved.
//
// # Canonical JSON
//
// MarshalCanonical produces RFC 8785 style canonical JSON (sorted keys, NFC
// normalised strings, no HTML escaping). It is used for diagnostic snapshots
// attached to state update errors and for content digests of resource states.
package ir
