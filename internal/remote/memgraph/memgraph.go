// Package memgraph is an in-memory remote graph with snapshot-isolated
// read-only transactions.
//
// Records are immutable once stored: writers replace them, and a
// transaction copies the id to record map when it starts, so concurrent
// writes never leak into an open transaction.
package memgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/remote"
)

// ErrTxClosed is returned by fetches on a transaction whose function
// already returned.
var ErrTxClosed = errors.New("memgraph: transaction closed")

type record struct {
	rd ir.ResourceData
	kv []ir.KeyValue
}

// Graph is safe for concurrent use.
type Graph struct {
	logger    *slog.Logger
	delay     func(id ir.ResourceID) time.Duration
	fetchHook func(id ir.ResourceID) error

	mu      sync.RWMutex
	records map[ir.ResourceID]*record

	fetches atomic.Int64
	txs     atomic.Int64
}

var (
	_ remote.Client = (*Graph)(nil)
	_ remote.Sink   = (*Graph)(nil)
)

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets the logger used for transaction tracing.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithFetchDelay delays every resource fetch by delay(id).
func WithFetchDelay(delay func(id ir.ResourceID) time.Duration) Option {
	return func(g *Graph) { g.delay = delay }
}

// WithFetchHook calls hook before every resource fetch; a non-nil error
// fails the fetch.
func WithFetchHook(hook func(id ir.ResourceID) error) Option {
	return func(g *Graph) { g.fetchHook = hook }
}

// New creates an empty graph.
func New(opts ...Option) *Graph {
	g := &Graph{
		logger:  slog.Default(),
		records: make(map[ir.ResourceID]*record),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PutResource implements remote.Sink.
func (g *Graph) PutResource(_ context.Context, rd ir.ExtendedResourceData) error {
	if rd.ID.IsNull() {
		return fmt.Errorf("memgraph: put resource with null id")
	}
	rec := &record{
		rd: cloneResource(rd.ResourceData),
		kv: cloneKV(rd.KV),
	}
	sort.Slice(rec.kv, func(i, j int) bool { return rec.kv[i].Key < rec.kv[j].Key })

	g.mu.Lock()
	defer g.mu.Unlock()
	g.records[rd.ID] = rec
	return nil
}

// DeleteResource implements remote.Sink.
func (g *Graph) DeleteResource(_ context.Context, id ir.ResourceID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.records, id)
	return nil
}

// Len returns the number of stored resources.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.records)
}

// Fetches returns the number of resource fetches served so far.
func (g *Graph) Fetches() int64 { return g.fetches.Load() }

// Transactions returns the number of transactions opened so far.
func (g *Graph) Transactions() int64 { return g.txs.Load() }

// RunReadOnlyTransaction implements remote.Client.
func (g *Graph) RunReadOnlyTransaction(ctx context.Context, name string, fn func(ctx context.Context, tx remote.Tx) error) error {
	g.mu.RLock()
	snapshot := make(map[ir.ResourceID]*record, len(g.records))
	for id, rec := range g.records {
		snapshot[id] = rec
	}
	g.mu.RUnlock()

	txID := remote.NewTransactionID()
	g.txs.Add(1)
	g.logger.Debug("read-only transaction started",
		"tx", txID,
		"name", name,
		"resources", len(snapshot))

	tx := &snapshotTx{graph: g, records: snapshot}
	err := fn(ctx, tx)
	tx.closed.Store(true)

	g.logger.Debug("read-only transaction finished",
		"tx", txID,
		"name", name,
		"error", err)
	return err
}

type snapshotTx struct {
	graph   *Graph
	records map[ir.ResourceID]*record
	closed  atomic.Bool
}

func (tx *snapshotTx) FetchResourceIfExists(ctx context.Context, id ir.ResourceID, includeFields bool) (*ir.ResourceData, error) {
	if tx.closed.Load() {
		return nil, ErrTxClosed
	}
	g := tx.graph
	g.fetches.Add(1)

	if g.fetchHook != nil {
		if err := g.fetchHook(id); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", id, err)
		}
	}
	if g.delay != nil {
		if d := g.delay(id); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}

	rec, ok := tx.records[id]
	if !ok {
		return nil, nil
	}
	rd := cloneResource(rec.rd)
	if !includeFields {
		rd.Fields = nil
	}
	return &rd, nil
}

func (tx *snapshotTx) FetchKeyValuesIfExists(ctx context.Context, id ir.ResourceID) ([]ir.KeyValue, bool, error) {
	if tx.closed.Load() {
		return nil, false, ErrTxClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	rec, ok := tx.records[id]
	if !ok {
		return nil, false, nil
	}
	return cloneKV(rec.kv), true, nil
}

func cloneResource(rd ir.ResourceData) ir.ResourceData {
	out := rd
	if rd.Data != nil {
		out.Data = append([]byte(nil), rd.Data...)
	}
	if rd.Fields != nil {
		out.Fields = append([]ir.FieldData(nil), rd.Fields...)
	}
	return out
}

func cloneKV(kvs []ir.KeyValue) []ir.KeyValue {
	if kvs == nil {
		return nil
	}
	out := make([]ir.KeyValue, len(kvs))
	for i, kv := range kvs {
		out[i] = ir.KeyValue{Key: kv.Key, Value: append([]byte(nil), kv.Value...)}
	}
	return out
}
