package treeload

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/remote"
)

// DefaultTransactionName labels the read-only transaction opened by Load.
const DefaultTransactionName = "ReadingTree"

// PruningError is returned when a pruning function drops a field that is
// not Dynamic.
type PruningError struct {
	ResourceID ir.ResourceID
	Field      string
	Type       ir.FieldType
}

// Error implements the error interface.
func (e *PruningError) Error() string {
	return fmt.Sprintf("pruning dropped %s field %q of %s: only Dynamic fields may be pruned",
		e.Type, e.Field, e.ResourceID)
}

// LoadStats summarises one tree loading pass.
type LoadStats struct {
	// Requested is the number of fetches issued.
	Requested int

	// Missing is the number of requested resources that no longer exist.
	Missing int

	// Loaded is the number of resources emitted.
	Loaded int

	// Pruned is the number of fields dropped by the pruning function.
	Pruned int
}

type config struct {
	txName string
	logger *slog.Logger
}

// Option configures Load and LoadTreeState.
type Option func(*config)

// WithTransactionName sets the name of the transaction opened by Load.
//
// Default: DefaultTransactionName
func WithTransactionName(name string) Option {
	return func(c *config) {
		if name != "" {
			c.txName = name
		}
	}
}

// WithLogger sets the logger for per-pass statistics.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func newConfig(opts []Option) config {
	c := config{txName: DefaultTransactionName, logger: slog.Default()}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// Load runs LoadTreeState inside one read-only transaction of client.
func Load(ctx context.Context, client remote.Client, req TreeLoadingRequest, opts ...Option) ([]ir.ExtendedResourceData, LoadStats, error) {
	cfg := newConfig(opts)
	var (
		result []ir.ExtendedResourceData
		stats  LoadStats
	)
	err := client.RunReadOnlyTransaction(ctx, cfg.txName, func(ctx context.Context, tx remote.Tx) error {
		var err error
		result, stats, err = LoadTreeState(ctx, tx, req, opts...)
		return err
	})
	if err != nil {
		return nil, stats, err
	}
	return result, stats, nil
}

// loader is the state of one LoadTreeState call.
type loader struct {
	ctx       context.Context
	tx        remote.Tx
	req       TreeLoadingRequest
	requested map[ir.ResourceID]struct{}
	queue     *pendingQueue
	group     *errgroup.Group
	stats     LoadStats
}

// LoadTreeState fetches every resource reachable from the request seeds,
// stopping at final resources, and returns them as the next patch.
//
// Each resource appears once, in breadth-first request order. Resources
// that vanished upstream are skipped. On error no goroutine started by this
// call outlives it.
func LoadTreeState(ctx context.Context, tx remote.Tx, req TreeLoadingRequest, opts ...Option) ([]ir.ExtendedResourceData, LoadStats, error) {
	cfg := newConfig(opts)
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	l := &loader{
		ctx:       gctx,
		tx:        tx,
		req:       req,
		requested: make(map[ir.ResourceID]struct{}),
		queue:     newPendingQueue(),
		group:     group,
	}
	defer func() {
		cancel()
		_ = group.Wait()
	}()

	for _, id := range req.SeedResources {
		l.requestState(id)
	}

	var result []ir.ExtendedResourceData
	for {
		f, ok := l.queue.pop()
		if !ok {
			break
		}

		var res fetchResult
		select {
		case <-l.ctx.Done():
			return nil, l.stats, l.ctx.Err()
		case res = <-f:
		}
		if res.err != nil {
			return nil, l.stats, res.err
		}
		if res.data == nil {
			l.stats.Missing++
			continue
		}

		rd := res.data
		if req.Pruning != nil {
			if err := l.prune(rd); err != nil {
				return nil, l.stats, err
			}
		}

		l.requestState(rd.Error)
		for _, fd := range rd.Fields {
			l.requestState(fd.Value)
			l.requestState(fd.Error)
		}
		result = append(result, *rd)
	}

	l.stats.Loaded = len(result)
	cfg.logger.Debug("tree state loaded",
		"seeds", len(req.SeedResources),
		"final", len(req.FinalResources),
		"requested", l.stats.Requested,
		"missing", l.stats.Missing,
		"loaded", l.stats.Loaded,
		"pruned", l.stats.Pruned)
	return result, l.stats, nil
}

// requestState schedules a combined fetch of the resource and its kv set.
func (l *loader) requestState(id ir.ResourceID) {
	if id.IsNull() || l.req.IsFinal(id) {
		return
	}
	if _, ok := l.requested[id]; ok {
		return
	}
	l.requested[id] = struct{}{}
	l.stats.Requested++

	f := newFuture()
	l.queue.push(f)
	// Fetch errors travel through the future so they surface in request
	// order; the group only bounds goroutine lifetime.
	l.group.Go(func() error {
		f <- l.fetch(id)
		return nil
	})
}

func (l *loader) fetch(id ir.ResourceID) fetchResult {
	rd, err := l.tx.FetchResourceIfExists(l.ctx, id, true)
	if err != nil {
		return fetchResult{id: id, err: fmt.Errorf("fetch resource %s: %w", id, err)}
	}
	if rd == nil {
		return fetchResult{id: id}
	}
	kv, ok, err := l.tx.FetchKeyValuesIfExists(l.ctx, id)
	if err != nil {
		return fetchResult{id: id, err: fmt.Errorf("fetch key values of %s: %w", id, err)}
	}
	if !ok {
		return fetchResult{id: id}
	}
	return fetchResult{id: id, data: &ir.ExtendedResourceData{ResourceData: *rd, KV: kv}}
}

func (l *loader) prune(rd *ir.ExtendedResourceData) error {
	pruned := l.req.Pruning(&rd.ResourceData)
	kept := make(map[string]struct{}, len(pruned))
	for _, fd := range pruned {
		kept[fd.Name] = struct{}{}
	}
	for _, fd := range rd.Fields {
		if _, ok := kept[fd.Name]; ok {
			continue
		}
		if fd.Type != ir.FieldTypeDynamic {
			return &PruningError{ResourceID: rd.ID, Field: fd.Name, Type: fd.Type}
		}
		l.stats.Pruned++
	}
	rd.Fields = pruned
	return nil
}
