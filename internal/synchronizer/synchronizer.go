package synchronizer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/resgraph/internal/ir"
	"github.com/roach88/resgraph/internal/remote"
	"github.com/roach88/resgraph/internal/tree"
	"github.com/roach88/resgraph/internal/treeload"
)

// ErrTerminated is returned by every operation on a terminated synchronizer.
var ErrTerminated = errors.New("synchronizer terminated")

const (
	// DefaultPollingInterval is the sleep between two rounds.
	DefaultPollingInterval = 500 * time.Millisecond

	// DefaultStopPollingDelay is how long Stop waits for a Start before
	// the loop is deactivated.
	DefaultStopPollingDelay = time.Second
)

// RoundReport describes one completed round.
type RoundReport struct {
	Generation string
	Stats      treeload.LoadStats
	Resources  int
	Err        error
}

type config struct {
	pollingInterval  time.Duration
	stopPollingDelay time.Duration
	pruning          treeload.PruningFunction
	finalPredicate   tree.FinalPredicate
	genIDs           GenerationIDGenerator
	logger           *slog.Logger
	observer         func(RoundReport)
}

// Option configures a Synchronizer.
type Option func(*config)

// WithPollingInterval sets the sleep between rounds.
//
// Default: DefaultPollingInterval
func WithPollingInterval(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollingInterval = d
		}
	}
}

// WithStopPollingDelay sets the grace period of Stop. Zero deactivates the
// loop immediately.
//
// Default: DefaultStopPollingDelay
func WithStopPollingDelay(d time.Duration) Option {
	return func(c *config) {
		if d >= 0 {
			c.stopPollingDelay = d
		}
	}
}

// WithPruning sets the pruning function applied to every fetched resource.
func WithPruning(p treeload.PruningFunction) Option {
	return func(c *config) {
		c.pruning = p
	}
}

// WithFinalPredicate sets the final predicate of every store instance.
func WithFinalPredicate(p tree.FinalPredicate) Option {
	return func(c *config) {
		c.finalPredicate = p
	}
}

// WithGenerationIDs sets the generator naming store instances.
//
// Default: UUIDv7Generator
func WithGenerationIDs(g GenerationIDGenerator) Option {
	return func(c *config) {
		if g != nil {
			c.genIDs = g
		}
	}
}

// WithLogger sets the logger for the synchronizer and its stores.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRoundObserver registers fn to be called after every round, from the
// loop goroutine, before the waiters of the round are released.
func WithRoundObserver(fn func(RoundReport)) Option {
	return func(c *config) {
		c.observer = fn
	}
}

// Synchronizer keeps a tree.State fresh by polling a remote store.
//
// One loop goroutine at most runs at a time. It is the only writer of the
// current store; readers go through Entry or TreeState and always see the
// current store instance, which is replaced when an update leaves it
// permanently invalid.
//
// Thread-safety: all methods are safe for concurrent use.
type Synchronizer struct {
	client remote.Client
	root   ir.ResourceID
	cfg    config

	ctx    context.Context
	cancel context.CancelFunc

	// wake interrupts the inter-round sleep.
	wake chan struct{}

	mu          sync.Mutex
	state       *tree.State
	generation  string
	keepRunning bool
	running     bool
	loopDone    chan struct{}
	waiters     []chan error
	stopTimer   *time.Timer
	terminated  bool
	termDone    chan struct{}
}

// New creates a synchronizer for the tree rooted at root. The loop is not
// started.
func New(client remote.Client, root ir.ResourceID, opts ...Option) *Synchronizer {
	cfg := config{
		pollingInterval:  DefaultPollingInterval,
		stopPollingDelay: DefaultStopPollingDelay,
		genIDs:           UUIDv7Generator{},
		logger:           slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Synchronizer{
		client:   client,
		root:     root,
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
		termDone: make(chan struct{}),
	}
	s.state, s.generation = s.newState()
	return s
}

// Init creates a synchronizer, starts it and waits for the first round.
func Init(ctx context.Context, client remote.Client, root ir.ResourceID, opts ...Option) (*Synchronizer, error) {
	s := New(client, root, opts...)
	s.Start()
	if err := s.RefreshState(ctx); err != nil {
		s.Terminate()
		return nil, err
	}
	return s, nil
}

func (s *Synchronizer) newState() (*tree.State, string) {
	opts := []tree.Option{tree.WithLogger(s.cfg.logger)}
	if s.cfg.finalPredicate != nil {
		opts = append(opts, tree.WithFinalPredicate(s.cfg.finalPredicate))
	}
	return tree.New(s.root, opts...), s.cfg.genIDs.Generate()
}

// Root returns the root resource id.
func (s *Synchronizer) Root() ir.ResourceID { return s.root }

// Generation returns the id of the current store instance.
func (s *Synchronizer) Generation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// TreeState returns the current store instance.
func (s *Synchronizer) TreeState() (*tree.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return nil, ErrTerminated
	}
	return s.state, nil
}

// Entry returns a handle to id that resolves against whatever store is
// current when it is read.
func (s *Synchronizer) Entry(id ir.ResourceID) tree.Entry {
	return tree.NewEntry(s, id)
}

// RootEntry returns the handle of the root resource.
func (s *Synchronizer) RootEntry() tree.Entry {
	return tree.NewEntry(s, s.root)
}

// Start activates the polling loop. Calling Start on an active
// synchronizer only cancels a pending Stop.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return
	}
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
	s.keepRunning = true
	s.ensureLoopLocked()
}

// ensureLoopLocked launches the loop goroutine unless one is running.
func (s *Synchronizer) ensureLoopLocked() {
	if s.running {
		return
	}
	s.running = true
	s.loopDone = make(chan struct{})
	go s.loop()
}

// Stop deactivates the loop after the stop polling delay unless Start is
// called in between. The round in flight is never aborted.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated || !s.keepRunning || s.stopTimer != nil {
		return
	}
	if s.cfg.stopPollingDelay == 0 {
		s.keepRunning = false
		s.kick()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.cfg.stopPollingDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopTimer != timer {
			return
		}
		s.stopTimer = nil
		s.keepRunning = false
		s.kick()
	})
	s.stopTimer = timer
}

// IsActive reports whether the loop is set to keep polling.
func (s *Synchronizer) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepRunning
}

// RefreshState waits for the next round that starts after the call and
// returns its outcome. On an inactive synchronizer a single round is run.
func (s *Synchronizer) RefreshState(ctx context.Context) error {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return ErrTerminated
	}
	ch := make(chan error, 1)
	s.waiters = append(s.waiters, ch)
	s.ensureLoopLocked()
	s.kick()
	s.mu.Unlock()

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate stops the loop, invalidates the store and waits for the loop to
// exit. Subsequent reads and refreshes fail with ErrTerminated.
func (s *Synchronizer) Terminate() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		<-s.termDone
		return
	}
	s.terminated = true
	s.keepRunning = false
	if s.stopTimer != nil {
		s.stopTimer.Stop()
		s.stopTimer = nil
	}
	state := s.state
	running, done := s.running, s.loopDone
	var orphaned []chan error
	if !running {
		orphaned, s.waiters = s.waiters, nil
	}
	s.kick()
	s.mu.Unlock()

	s.cancel()
	state.Invalidate("synchronizer terminated")
	resolve(orphaned, ErrTerminated)
	if running {
		<-done
	}
	s.cfg.logger.Info("synchronizer terminated", "root", s.root)
	close(s.termDone)
}

// AwaitTermination blocks until Terminate has completed or ctx is done.
func (s *Synchronizer) AwaitTermination(ctx context.Context) error {
	select {
	case <-s.termDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// kick wakes a sleeping loop. Caller may hold mu.
func (s *Synchronizer) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Synchronizer) loop() {
	s.cfg.logger.Info("synchronizer loop starting",
		"root", s.root,
		"interval", s.cfg.pollingInterval)

	for {
		s.mu.Lock()
		if s.terminated || (!s.keepRunning && len(s.waiters) == 0) {
			pending := s.waiters
			s.waiters = nil
			s.running = false
			close(s.loopDone)
			s.mu.Unlock()
			resolve(pending, ErrTerminated)
			s.cfg.logger.Info("synchronizer loop stopped", "root", s.root)
			return
		}
		waiters := s.waiters
		s.waiters = nil
		state, generation := s.state, s.generation
		s.mu.Unlock()
		s.drainWake()

		stats, err := s.round(state)

		s.mu.Lock()
		terminated := s.terminated
		s.mu.Unlock()
		if terminated && err != nil {
			err = ErrTerminated
		}
		if s.cfg.observer != nil {
			s.cfg.observer(RoundReport{
				Generation: generation,
				Stats:      stats,
				Resources:  state.Len(),
				Err:        err,
			})
		}
		resolve(waiters, err)

		if err != nil {
			if tree.IsInvalidTree(err) && s.rebuild(state, generation, err) {
				continue
			}
			if !terminated {
				s.cfg.logger.Warn("synchronizer round failed",
					"root", s.root,
					"generation", generation,
					"error", err)
			}
		}

		s.sleep()
	}
}

// round runs one load and patch cycle against state.
func (s *Synchronizer) round(state *tree.State) (treeload.LoadStats, error) {
	req, err := treeload.BuildRequest(state, s.cfg.pruning)
	if err != nil {
		return treeload.LoadStats{}, err
	}
	patch, stats, err := treeload.Load(s.ctx, s.client, req, treeload.WithLogger(s.cfg.logger))
	if err != nil {
		return stats, err
	}
	return stats, state.UpdateFromResourceData(patch, true)
}

// rebuild replaces old with a fresh store. It reports false if the
// synchronizer was terminated or the store was already replaced.
func (s *Synchronizer) rebuild(old *tree.State, oldGeneration string, cause error) bool {
	s.mu.Lock()
	if s.terminated || s.state != old {
		s.mu.Unlock()
		return false
	}
	s.state, s.generation = s.newState()
	generation := s.generation
	s.mu.Unlock()

	old.Invalidate(cause.Error())
	s.cfg.logger.Info("tree store rebuilt",
		"root", s.root,
		"old_generation", oldGeneration,
		"generation", generation,
		"cause", cause)
	return true
}

// sleep waits for the polling interval. It returns at once when the loop
// is deactivated or a refresh is pending.
func (s *Synchronizer) sleep() {
	s.mu.Lock()
	skip := s.terminated || !s.keepRunning || len(s.waiters) > 0
	s.mu.Unlock()
	if skip {
		return
	}

	timer := time.NewTimer(s.cfg.pollingInterval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.wake:
	case <-s.ctx.Done():
	}
}

// drainWake discards a wake up that predates the current round.
func (s *Synchronizer) drainWake() {
	select {
	case <-s.wake:
	default:
	}
}

func resolve(waiters []chan error, err error) {
	for _, ch := range waiters {
		ch <- err
	}
}
