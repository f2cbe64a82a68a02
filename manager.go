package svchost

import (
	"context"
	"sync"
	"time"
)

// Manager runs lifecycle operations on multiple services concurrently.
// It provides bulk operations with configurable concurrency and timeouts;
// applications that only touch single services can use the Orchestrator
// directly.
type Manager struct {
	// Orchestrator executes the per-service operations
	Orchestrator *Orchestrator
	// Concurrency is the maximum number of concurrent operations
	Concurrency int
	// Timeout is the per-operation timeout
	Timeout time.Duration
}

// ManagerOption configures a Manager
type ManagerOption func(*Manager)

// WithConcurrency sets the maximum number of concurrent operations
func WithConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		m.Concurrency = n
	}
}

// WithTimeout sets the per-operation timeout
func WithTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.Timeout = d
	}
}

// NewManager creates a new Manager with default settings
func NewManager(orch *Orchestrator, opts ...ManagerOption) *Manager {
	m := &Manager{
		Orchestrator: orch,
		Concurrency:  10,
		Timeout:      time.Minute,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.Concurrency < 1 {
		m.Concurrency = 1
	}

	return m
}

func (m *Manager) execute(ctx context.Context, ids []string, op func(context.Context, string) OpResult) error {
	if len(ids) == 0 {
		return nil
	}

	sem := make(chan struct{}, m.Concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	merr := &MultiError{}

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				merr.Add(ctx.Err())
				mu.Unlock()
				return
			}

			opCtx := ctx
			if m.Timeout > 0 {
				var cancel context.CancelFunc
				opCtx, cancel = context.WithTimeout(ctx, m.Timeout)
				defer cancel()
			}

			if res := op(opCtx, id); !res.OK {
				mu.Lock()
				merr.Add(res.Err)
				mu.Unlock()
			}
		}(id)
	}

	wg.Wait()

	return merr.Err()
}

// StartAll starts the specified services
func (m *Manager) StartAll(ctx context.Context, ids ...string) error {
	return m.execute(ctx, ids, m.Orchestrator.Start)
}

// StopAll stops the specified services
func (m *Manager) StopAll(ctx context.Context, ids ...string) error {
	return m.execute(ctx, ids, m.Orchestrator.Stop)
}

// RestartAll restarts the specified services
func (m *Manager) RestartAll(ctx context.Context, ids ...string) error {
	return m.execute(ctx, ids, m.Orchestrator.Restart)
}

// UninstallAll uninstalls the specified services
func (m *Manager) UninstallAll(ctx context.Context, ids ...string) error {
	return m.execute(ctx, ids, m.Orchestrator.Uninstall)
}

// Statuses retrieves the live status of the specified services
func (m *Manager) Statuses(ctx context.Context, ids ...string) (map[string]ServiceStatus, error) {
	if len(ids) == 0 {
		return make(map[string]ServiceStatus), nil
	}

	sem := make(chan struct{}, m.Concurrency)

	var wg sync.WaitGroup
	var mu sync.Mutex
	results := make(map[string]ServiceStatus)
	merr := &MultiError{}

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				merr.Add(ctx.Err())
				mu.Unlock()
				return
			}

			opCtx := ctx
			if m.Timeout > 0 {
				var cancel context.CancelFunc
				opCtx, cancel = context.WithTimeout(ctx, m.Timeout)
				defer cancel()
			}

			status, err := m.Orchestrator.Status(opCtx, id)
			if err != nil {
				mu.Lock()
				merr.Add(err)
				mu.Unlock()
				return
			}

			mu.Lock()
			results[id] = status
			mu.Unlock()
		}(id)
	}

	wg.Wait()

	return results, merr.Err()
}
