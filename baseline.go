package svchost

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"vawter.tech/stopper"
)

// BaselineMonitor is the always-on, low-frequency, full-fleet status sweep.
// It reconciles every record against the OS-reported status and publishes
// one batch event per sweep containing the records that changed. It is the
// correctness backstop when the targeted coordinator misses a transition.
type BaselineMonitor struct {
	store       *Store
	querier     StatusQuerier
	interval    time.Duration
	concurrency int
	// settleWindow protects records freshly placed in a transitional status
	// by an in-flight operation from being overwritten by a sweep
	settleWindow time.Duration
	logger       *zap.Logger

	events chan BaselineEvent

	mu   sync.Mutex
	sctx *stopper.Context
}

// BaselineOption configures a BaselineMonitor
type BaselineOption func(*BaselineMonitor)

// WithBaselineInterval sets the sweep cadence
func WithBaselineInterval(d time.Duration) BaselineOption {
	return func(m *BaselineMonitor) {
		m.interval = d
	}
}

// WithBaselineConcurrency caps simultaneous status queries per sweep
func WithBaselineConcurrency(n int) BaselineOption {
	return func(m *BaselineMonitor) {
		m.concurrency = n
	}
}

// WithBaselineLogger sets the monitor's logger
func WithBaselineLogger(l *zap.Logger) BaselineOption {
	return func(m *BaselineMonitor) {
		m.logger = l
	}
}

// NewBaselineMonitor creates a BaselineMonitor with default settings
func NewBaselineMonitor(store *Store, querier StatusQuerier, opts ...BaselineOption) *BaselineMonitor {
	m := &BaselineMonitor{
		store:        store,
		querier:      querier,
		interval:     DefaultBaselineInterval,
		concurrency:  DefaultQueryConcurrency,
		settleWindow: DefaultMaxTrackDuration,
		logger:       zap.NewNop(),
		events:       make(chan BaselineEvent, DefaultEventBuffer),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.concurrency < 1 {
		m.concurrency = 1
	}
	return m
}

// Events returns the monitor's event stream. One BaselineEvent is emitted
// per sweep that observed changes; events are dropped rather than blocking
// a sweep when the consumer lags. The channel closes when the monitor stops.
func (m *BaselineMonitor) Events() <-chan BaselineEvent {
	return m.events
}

// Start launches the sweep loop. It returns immediately; the loop runs
// until Stop or ctx cancellation.
func (m *BaselineMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sctx != nil {
		return
	}
	sctx := stopper.WithContext(ctx)
	m.sctx = sctx

	sctx.Defer(func() {
		close(m.events)
	})

	sctx.Go(func(sctx *stopper.Context) error {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil
			case <-ticker.C:
				m.sweep(ctx, sctx)
			}
		}
		return nil
	})
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish
func (m *BaselineMonitor) Stop() error {
	m.mu.Lock()
	sctx := m.sctx
	m.mu.Unlock()

	if sctx == nil {
		return nil
	}
	sctx.Stop(time.Second)
	return sctx.Wait()
}

// sweep reconciles every record once and publishes a batch of changes
func (m *BaselineMonitor) sweep(ctx context.Context, sctx *stopper.Context) {
	records := m.store.All()
	if len(records) == 0 {
		return
	}

	sem := make(chan struct{}, m.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var changed []*ServiceRecord

	now := time.Now()
	for _, rec := range records {
		// Freshly transitional records belong to the in-flight operation
		// and the coordinator; stale ones get reconciled here.
		if rec.Status.IsTransitioning() && now.Sub(rec.UpdatedAt) < m.settleWindow {
			continue
		}

		wg.Add(1)
		go func(rec *ServiceRecord) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-sctx.Stopping():
				return
			}

			status := m.querier.QueryStatus(ctx, rec.ID)
			didChange, err := m.store.SetStatus(rec.ID, status)
			if err != nil || !didChange {
				// Record may have been deleted mid-sweep
				return
			}
			updated, err := m.store.Get(rec.ID)
			if err != nil {
				return
			}

			mu.Lock()
			changed = append(changed, updated)
			mu.Unlock()
		}(rec)
	}
	wg.Wait()

	if len(changed) == 0 {
		return
	}

	if err := m.store.Flush(); err != nil {
		m.logger.Warn("persisting baseline sweep failed", zap.Error(err))
	}

	if sctx.IsStopping() {
		return
	}
	select {
	case m.events <- BaselineEvent{Changed: changed}:
	default:
		m.logger.Warn("baseline event dropped, consumer lagging",
			zap.Int("changed", len(changed)))
	}
}
