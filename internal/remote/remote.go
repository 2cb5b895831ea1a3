// Package remote defines the boundary to the server-authoritative resource
// store: read-only transactions that fetch resource bodies and key/value
// sets, plus a write side used to seed backends.
package remote

import (
	"context"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/resgraph/internal/ir"
)

// Tx is a read-only view of the remote graph. Both methods must be safe for
// concurrent use within one transaction.
type Tx interface {
	// FetchResourceIfExists returns nil if the resource does not exist.
	// Fields are only populated when includeFields is set.
	FetchResourceIfExists(ctx context.Context, id ir.ResourceID, includeFields bool) (*ir.ResourceData, error)

	// FetchKeyValuesIfExists reports false if the resource does not exist.
	FetchKeyValuesIfExists(ctx context.Context, id ir.ResourceID) ([]ir.KeyValue, bool, error)
}

// Client opens read-only transactions.
type Client interface {
	// RunReadOnlyTransaction runs fn inside one snapshot. name only labels
	// the transaction in logs. The Tx must not be used after fn returns.
	RunReadOnlyTransaction(ctx context.Context, name string, fn func(ctx context.Context, tx Tx) error) error
}

// Sink writes resources into a backend.
type Sink interface {
	// PutResource creates or replaces a resource with its fields and kv set.
	PutResource(ctx context.Context, rd ir.ExtendedResourceData) error

	// DeleteResource removes a resource. Deleting a missing resource is not
	// an error.
	DeleteResource(ctx context.Context, id ir.ResourceID) error
}

// NewTransactionID returns a sortable id for labelling a transaction.
func NewTransactionID() string {
	return ulid.Make().String()
}
