package svchost

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PollCoordinator provides fast status feedback after mutating operations
// without polling the whole fleet at high frequency. It owns a mutex-guarded
// pending set and a single managed timer; the timer runs only while the set
// is non-empty, so an idle coordinator costs nothing.
type PollCoordinator struct {
	querier     StatusQuerier
	maxTrack    time.Duration
	concurrency int
	logger      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// mu guards pending, timer, interval, and stopped. Timer
	// (re)configuration happens inside the same critical section as set
	// mutation so "set became non-empty" and "timer start" cannot race.
	mu       sync.Mutex
	pending  map[string]time.Time
	timer    *time.Timer
	interval time.Duration
	stopped  bool

	wg     sync.WaitGroup
	events chan PollEvent
}

// CoordinatorOption configures a PollCoordinator
type CoordinatorOption func(*PollCoordinator)

// WithMaxTrackDuration bounds how long one service stays in the pending set
func WithMaxTrackDuration(d time.Duration) CoordinatorOption {
	return func(c *PollCoordinator) {
		c.maxTrack = d
	}
}

// WithPollConcurrency caps simultaneous status queries per tick
func WithPollConcurrency(n int) CoordinatorOption {
	return func(c *PollCoordinator) {
		c.concurrency = n
	}
}

// WithCoordinatorLogger sets the coordinator's logger
func WithCoordinatorLogger(l *zap.Logger) CoordinatorOption {
	return func(c *PollCoordinator) {
		c.logger = l
	}
}

// NewPollCoordinator creates a PollCoordinator with default settings
func NewPollCoordinator(querier StatusQuerier, opts ...CoordinatorOption) *PollCoordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &PollCoordinator{
		querier:     querier,
		maxTrack:    DefaultMaxTrackDuration,
		concurrency: DefaultQueryConcurrency,
		logger:      zap.NewNop(),
		ctx:         ctx,
		cancel:      cancel,
		pending:     make(map[string]time.Time),
		events:      make(chan PollEvent, DefaultEventBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	return c
}

// pollInterval maps the pending-set size onto the tick interval. Zero means
// the timer is stopped.
func pollInterval(n int) time.Duration {
	switch {
	case n <= 0:
		return 0
	case n == 1:
		return PollIntervalSingle
	case n <= 3:
		return PollIntervalSmall
	case n <= 5:
		return PollIntervalMedium
	default:
		return PollIntervalLarge
	}
}

// Track adds a service to the pending set, starting the timer if the set
// was empty. Tracking an already pending service resets its time budget.
// Tracking after Close is a no-op.
func (c *PollCoordinator) Track(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.pending[id] = time.Now()
	c.interval = pollInterval(len(c.pending))
	if c.timer == nil {
		c.timer = time.AfterFunc(c.interval, c.tick)
	}
}

// Untrack removes a service from the pending set, stopping the timer when
// the set empties.
func (c *PollCoordinator) Untrack(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, id)
	c.interval = pollInterval(len(c.pending))
	if len(c.pending) == 0 && c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Pending returns the pending-set size
func (c *PollCoordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Interval returns the current tick interval, or zero when the timer is
// stopped.
func (c *PollCoordinator) Interval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		return 0
	}
	return c.interval
}

// Active reports whether the timer is currently running
func (c *PollCoordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timer != nil
}

// Events returns the coordinator's event stream. One PollEvent is emitted
// per tick; events are dropped rather than blocking a tick when the
// consumer lags.
func (c *PollCoordinator) Events() <-chan PollEvent {
	return c.events
}

// tick runs one polling pass: fetch the status of every pending id with
// bounded concurrency, emit one batch event, evict settled or expired
// entries, and reschedule or stop the timer.
func (c *PollCoordinator) tick() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	snapshot := make(map[string]time.Time, len(c.pending))
	for id, addedAt := range c.pending {
		snapshot[id] = addedAt
	}
	c.mu.Unlock()
	defer c.wg.Done()

	statuses := c.fetch(snapshot)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	now := time.Now()
	for id, addedAt := range snapshot {
		status, ok := statuses[id]
		if !ok {
			continue
		}
		if !status.IsTransitioning() || now.Sub(addedAt) > c.maxTrack {
			delete(c.pending, id)
		}
	}
	c.interval = pollInterval(len(c.pending))
	if len(c.pending) == 0 {
		c.timer = nil
	} else {
		c.timer.Reset(c.interval)
	}
	c.mu.Unlock()

	select {
	case c.events <- PollEvent{Statuses: statuses}:
	default:
		c.logger.Warn("poll event dropped, consumer lagging",
			zap.Int("statuses", len(statuses)))
	}
}

// fetch queries all ids concurrently, capped at the configured concurrency
// to bound pressure on the service-control subsystem.
func (c *PollCoordinator) fetch(snapshot map[string]time.Time) map[string]ServiceStatus {
	sem := make(chan struct{}, c.concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	statuses := make(map[string]ServiceStatus, len(snapshot))

	for id := range snapshot {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-c.ctx.Done():
				return
			}

			status := c.querier.QueryStatus(c.ctx, id)

			mu.Lock()
			statuses[id] = status
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return statuses
}

// Close stops the timer, abandons in-flight queries, and closes the event
// channel. The pending set is left consistent; Close is idempotent.
func (c *PollCoordinator) Close() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	close(c.events)
}
