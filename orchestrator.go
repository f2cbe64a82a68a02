package svchost

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HostAdapter is the adapter surface the orchestrator drives. Implemented
// by HostToolAdapter; tests substitute fakes.
type HostAdapter interface {
	StatusQuerier
	Install(ctx context.Context, rec *ServiceRecord) OpResult
	Uninstall(ctx context.Context, rec *ServiceRecord) OpResult
	WriteConfig(ctx context.Context, rec *ServiceRecord) OpResult
	Start(ctx context.Context, id string) OpResult
	Stop(ctx context.Context, id string) OpResult
}

// CreateRequest describes a service to create and install
type CreateRequest struct {
	// ID is the service id; generated when empty
	ID          string
	DisplayName string
	Description string

	ExecutablePath   string
	ScriptPath       string
	Arguments        string
	WorkingDirectory string
	Dependencies     []string

	EnvironmentVariables map[string]string

	ServiceAccount string
	StartMode      StartMode
	StopTimeout    time.Duration
	RestartOnExit  RestartPolicy

	// AutoStart starts the service immediately after a successful install
	AutoStart bool
}

// UpdateRequest rewrites the configuration of an existing stopped service.
// The id is immutable; every other invocation field may change.
type UpdateRequest struct {
	ID          string
	DisplayName string
	Description string

	ExecutablePath   string
	ScriptPath       string
	Arguments        string
	WorkingDirectory string
	Dependencies     []string

	EnvironmentVariables map[string]string

	ServiceAccount string
	StartMode      StartMode
	StopTimeout    time.Duration
	RestartOnExit  RestartPolicy
}

// Orchestrator is the lifecycle state machine driver. It validates inputs
// through the guards, checks status preconditions before any external call,
// drives the host adapter, and keeps the record store consistent. At most
// one operation per service id is in flight at a time; operations on
// distinct ids run fully concurrently.
type Orchestrator struct {
	store   *Store
	adapter HostAdapter
	paths   *PathGuard
	args    *CommandGuard
	coord   *PollCoordinator
	logger  *zap.Logger

	inflight *inflightSet
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithPathGuard replaces the default PathGuard
func WithPathGuard(g *PathGuard) OrchestratorOption {
	return func(o *Orchestrator) {
		o.paths = g
	}
}

// WithCommandGuard replaces the default CommandGuard
func WithCommandGuard(g *CommandGuard) OrchestratorOption {
	return func(o *Orchestrator) {
		o.args = g
	}
}

// WithCoordinator wires the coordinator notified after mutating operations
func WithCoordinator(c *PollCoordinator) OrchestratorOption {
	return func(o *Orchestrator) {
		o.coord = c
	}
}

// WithOrchestratorLogger sets the orchestrator's logger
func WithOrchestratorLogger(l *zap.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// NewOrchestrator creates an Orchestrator over the given store and adapter
func NewOrchestrator(store *Store, adapter HostAdapter, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		adapter:  adapter,
		paths:    NewPathGuard(),
		args:     NewCommandGuard(),
		logger:   zap.NewNop(),
		inflight: newInflightSet(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Records returns snapshots of every known record
func (o *Orchestrator) Records() []*ServiceRecord {
	return o.store.All()
}

// Record returns a snapshot of one record
func (o *Orchestrator) Record(id string) (*ServiceRecord, error) {
	return o.store.Get(id)
}

// Status queries the live OS status of one service and refreshes the store
func (o *Orchestrator) Status(ctx context.Context, id string) (ServiceStatus, error) {
	if _, err := o.store.Get(id); err != nil {
		return StatusNotInstalled, err
	}
	status := o.adapter.QueryStatus(ctx, id)
	_, _ = o.store.SetStatus(id, status)
	return status, nil
}

// Create validates the request, installs the service, and optionally starts
// it. A failure before the OS knows the service rolls everything back and
// leaves no record; a later failure leaves an Error record.
func (o *Orchestrator) Create(ctx context.Context, req CreateRequest) (*ServiceRecord, OpResult) {
	start := time.Now()

	rec := recordFromCreate(req)
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	if err := o.validateRecord(rec); err != nil {
		return nil, failResult(OpCreate, rec.ID, err, "", time.Since(start))
	}
	if _, err := o.store.Get(rec.ID); err == nil {
		return nil, failResult(OpCreate, rec.ID,
			fmt.Errorf("%w: service %q already exists", ErrConflict, rec.ID), "", time.Since(start))
	}

	if !o.inflight.acquire(rec.ID) {
		return nil, failResult(OpCreate, rec.ID,
			fmt.Errorf("%w: operation already in flight for %q", ErrConflict, rec.ID), "", time.Since(start))
	}
	released := false
	release := func() {
		if !released {
			released = true
			o.inflight.release(rec.ID)
		}
	}
	defer release()

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	rec.Status = StatusInstalling
	o.store.Put(rec)
	o.flush()

	res := o.adapter.Install(ctx, rec)
	if !res.OK {
		if o.adapter.QueryStatus(ctx, rec.ID) == StatusNotInstalled {
			// Failed before registration: roll back, leave no record
			o.store.Delete(rec.ID)
		} else {
			_, _ = o.store.SetStatus(rec.ID, StatusError)
		}
		o.flush()
		res.Op = OpCreate
		res.Elapsed = time.Since(start)
		return nil, res
	}

	_, _ = o.store.SetStatus(rec.ID, StatusStopped)
	o.flush()
	o.track(rec.ID)
	o.logger.Info("service created", zap.String("service", rec.ID))

	// Release the in-flight guard before delegating to Start, which takes
	// it again.
	release()

	if req.AutoStart {
		if res := o.Start(ctx, rec.ID); !res.OK {
			res.Op = OpCreate
			res.Elapsed = time.Since(start)
			created, _ := o.store.Get(rec.ID)
			return created, res
		}
	}

	created, err := o.store.Get(rec.ID)
	if err != nil {
		return nil, failResult(OpCreate, rec.ID, err, "", time.Since(start))
	}
	return created, okResult(OpCreate, rec.ID, "service created", time.Since(start))
}

// Start starts an installed service. On failure the record reverts to its
// prior stable status; a start is retryable without side effects.
func (o *Orchestrator) Start(ctx context.Context, id string) OpResult {
	return o.run(ctx, OpStart, id, func(ctx context.Context, rec *ServiceRecord, start time.Time) OpResult {
		if !rec.Status.CanStart() {
			return o.conflict(OpStart, rec, start)
		}
		prior := rec.Status

		_, _ = o.store.SetStatus(id, StatusStarting)
		res := o.adapter.Start(ctx, id)
		if !res.OK {
			_, _ = o.store.SetStatus(id, prior)
			o.flush()
			return res
		}

		_, _ = o.store.SetStatus(id, StatusRunning)
		o.flush()
		o.track(id)
		return res
	})
}

// Stop stops a running service. On failure the record reverts to its prior
// status.
func (o *Orchestrator) Stop(ctx context.Context, id string) OpResult {
	return o.run(ctx, OpStop, id, func(ctx context.Context, rec *ServiceRecord, start time.Time) OpResult {
		if !rec.Status.CanStop() {
			return o.conflict(OpStop, rec, start)
		}
		prior := rec.Status

		_, _ = o.store.SetStatus(id, StatusStopping)
		res := o.adapter.Stop(ctx, id)
		if !res.OK {
			_, _ = o.store.SetStatus(id, prior)
			o.flush()
			return res
		}

		_, _ = o.store.SetStatus(id, StatusStopped)
		o.flush()
		o.track(id)
		return res
	})
}

// Restart stops then starts a running service. When the stop fails, the
// start is never attempted and the record stays Running: nothing
// destructive happened yet. When the start fails after a successful stop,
// the record is Stopped.
func (o *Orchestrator) Restart(ctx context.Context, id string) OpResult {
	return o.run(ctx, OpRestart, id, func(ctx context.Context, rec *ServiceRecord, start time.Time) OpResult {
		if !rec.Status.CanRestart() {
			return o.conflict(OpRestart, rec, start)
		}

		_, _ = o.store.SetStatus(id, StatusStopping)
		if res := o.adapter.Stop(ctx, id); !res.OK {
			_, _ = o.store.SetStatus(id, StatusRunning)
			o.flush()
			res.Op = OpRestart
			res.Elapsed = time.Since(start)
			return res
		}

		_, _ = o.store.SetStatus(id, StatusStarting)
		if res := o.adapter.Start(ctx, id); !res.OK {
			_, _ = o.store.SetStatus(id, StatusStopped)
			o.flush()
			o.track(id)
			res.Op = OpRestart
			res.Elapsed = time.Since(start)
			return res
		}

		_, _ = o.store.SetStatus(id, StatusRunning)
		o.flush()
		o.track(id)
		return okResult(OpRestart, id, "service restarted", time.Since(start))
	})
}

// Uninstall stops the service if it is running, deregisters it, removes its
// sandbox, and drops the record. A stop failure aborts the uninstall and
// leaves the record Running; a later failure leaves an Error record rather
// than letting it silently vanish.
func (o *Orchestrator) Uninstall(ctx context.Context, id string) OpResult {
	return o.run(ctx, OpUninstall, id, func(ctx context.Context, rec *ServiceRecord, start time.Time) OpResult {
		if !rec.Status.CanUninstall() && rec.Status != StatusRunning {
			return o.conflict(OpUninstall, rec, start)
		}

		if rec.Status == StatusRunning {
			_, _ = o.store.SetStatus(id, StatusStopping)
			if res := o.adapter.Stop(ctx, id); !res.OK {
				_, _ = o.store.SetStatus(id, StatusRunning)
				o.flush()
				res.Op = OpUninstall
				res.Elapsed = time.Since(start)
				return res
			}
		}

		_, _ = o.store.SetStatus(id, StatusUninstalling)
		o.flush()

		if res := o.adapter.Uninstall(ctx, rec); !res.OK {
			_, _ = o.store.SetStatus(id, StatusError)
			o.flush()
			res.Elapsed = time.Since(start)
			return res
		}

		o.store.Delete(id)
		o.flush()
		o.untrack(id)
		o.logger.Info("service removed", zap.String("service", id))
		return okResult(OpUninstall, id, "service uninstalled", time.Since(start))
	})
}

// Update re-validates and rewrites the configuration of a stopped service.
// Running or transitioning services are rejected with a conflict.
func (o *Orchestrator) Update(ctx context.Context, req UpdateRequest) OpResult {
	return o.run(ctx, OpUpdate, req.ID, func(ctx context.Context, rec *ServiceRecord, start time.Time) OpResult {
		if rec.Status != StatusStopped {
			return o.conflict(OpUpdate, rec, start)
		}

		updated := rec.Clone()
		applyUpdate(updated, req)
		if err := o.validateRecord(updated); err != nil {
			return failResult(OpUpdate, req.ID, err, "", time.Since(start))
		}

		if res := o.adapter.WriteConfig(ctx, updated); !res.OK {
			res.Op = OpUpdate
			res.Elapsed = time.Since(start)
			return res
		}

		updated.Touch()
		o.store.Put(updated)
		o.flush()
		return okResult(OpUpdate, req.ID, "service updated", time.Since(start))
	})
}

// run wraps one per-service operation: not-found lookup, the
// at-most-one-in-flight guard, and timing.
func (o *Orchestrator) run(ctx context.Context, op Operation, id string, fn func(context.Context, *ServiceRecord, time.Time) OpResult) OpResult {
	start := time.Now()

	if !o.inflight.acquire(id) {
		return failResult(op, id,
			fmt.Errorf("%w: operation already in flight for %q", ErrConflict, id), "", time.Since(start))
	}
	defer o.inflight.release(id)

	rec, err := o.store.Get(id)
	if err != nil {
		return failResult(op, id, err, "", time.Since(start))
	}
	return fn(ctx, rec, start)
}

// conflict builds the precondition-failure result. No external call has
// been made at this point.
func (o *Orchestrator) conflict(op Operation, rec *ServiceRecord, start time.Time) OpResult {
	return failResult(op, rec.ID,
		fmt.Errorf("%w: cannot %s service in status %s", ErrConflict, op, rec.Status),
		"", time.Since(start))
}

// validateRecord runs structural validation plus both security guards
func (o *Orchestrator) validateRecord(rec *ServiceRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := o.paths.Validate(rec.ExecutablePath); err != nil {
		return fmt.Errorf("executable path: %w", err)
	}
	if rec.ScriptPath != "" {
		if err := o.paths.Validate(rec.ScriptPath); err != nil {
			return fmt.Errorf("script path: %w", err)
		}
	}
	if rec.WorkingDirectory != "" {
		if err := o.paths.Validate(rec.WorkingDirectory); err != nil {
			return fmt.Errorf("working directory: %w", err)
		}
	}
	if rec.Arguments != "" {
		if err := o.args.Validate(rec.Arguments); err != nil {
			return fmt.Errorf("arguments: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) flush() {
	if err := o.store.Flush(); err != nil {
		o.logger.Warn("persisting records failed", zap.Error(err))
	}
}

func (o *Orchestrator) track(id string) {
	if o.coord != nil {
		o.coord.Track(id)
	}
}

func (o *Orchestrator) untrack(id string) {
	if o.coord != nil {
		o.coord.Untrack(id)
	}
}

func recordFromCreate(req CreateRequest) *ServiceRecord {
	return &ServiceRecord{
		ID:                   req.ID,
		DisplayName:          req.DisplayName,
		Description:          req.Description,
		ExecutablePath:       req.ExecutablePath,
		ScriptPath:           req.ScriptPath,
		Arguments:            req.Arguments,
		WorkingDirectory:     req.WorkingDirectory,
		Dependencies:         req.Dependencies,
		EnvironmentVariables: req.EnvironmentVariables,
		ServiceAccount:       req.ServiceAccount,
		StartMode:            req.StartMode,
		StopTimeout:          req.StopTimeout,
		RestartOnExit:        req.RestartOnExit,
		Status:               StatusNotInstalled,
	}
}

func applyUpdate(rec *ServiceRecord, req UpdateRequest) {
	rec.DisplayName = req.DisplayName
	rec.Description = req.Description
	rec.ExecutablePath = req.ExecutablePath
	rec.ScriptPath = req.ScriptPath
	rec.Arguments = req.Arguments
	rec.WorkingDirectory = req.WorkingDirectory
	rec.Dependencies = req.Dependencies
	rec.EnvironmentVariables = req.EnvironmentVariables
	rec.ServiceAccount = req.ServiceAccount
	rec.StartMode = req.StartMode
	rec.StopTimeout = req.StopTimeout
	rec.RestartOnExit = req.RestartOnExit
}
