package svchost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HostToolAdapter is the only component that touches the external host tool
// and the OS service-control interface. Every operation returns a structured
// OpResult instead of an error; timeouts kill the underlying call rather
// than hanging.
type HostToolAdapter struct {
	// SandboxRoot is the directory holding all per-service sandboxes
	SandboxRoot string

	// ToolSource is the host-tool binary staged into each sandbox
	ToolSource string

	// Control is the OS service-control interface
	Control ServiceControl

	// Runner executes host-tool invocations
	Runner CommandRunner

	// InstallTimeout bounds one install/uninstall tool invocation
	InstallTimeout time.Duration

	// StatusPollInterval is the poll cadence while waiting for a target status
	StatusPollInterval time.Duration

	// StatusWaitCeiling bounds the wait for a target status
	StatusWaitCeiling time.Duration

	// RemoveRetries is the number of sandbox removal attempts
	RemoveRetries int

	// RemoveRetryInterval is the pause between removal attempts
	RemoveRetryInterval time.Duration

	logger *zap.Logger
}

// AdapterOption configures a HostToolAdapter
type AdapterOption func(*HostToolAdapter)

// WithRunner sets the command runner
func WithRunner(r CommandRunner) AdapterOption {
	return func(a *HostToolAdapter) {
		a.Runner = r
	}
}

// WithInstallTimeout bounds install/uninstall tool invocations
func WithInstallTimeout(d time.Duration) AdapterOption {
	return func(a *HostToolAdapter) {
		a.InstallTimeout = d
	}
}

// WithStatusWait sets the poll cadence and ceiling for target-status waits
func WithStatusWait(interval, ceiling time.Duration) AdapterOption {
	return func(a *HostToolAdapter) {
		a.StatusPollInterval = interval
		a.StatusWaitCeiling = ceiling
	}
}

// WithRemoveRetry configures sandbox removal retries
func WithRemoveRetry(attempts int, interval time.Duration) AdapterOption {
	return func(a *HostToolAdapter) {
		a.RemoveRetries = attempts
		a.RemoveRetryInterval = interval
	}
}

// WithAdapterLogger sets the adapter's logger
func WithAdapterLogger(l *zap.Logger) AdapterOption {
	return func(a *HostToolAdapter) {
		a.logger = l
	}
}

// NewHostToolAdapter creates a HostToolAdapter with default settings
func NewHostToolAdapter(sandboxRoot, toolSource string, control ServiceControl, opts ...AdapterOption) *HostToolAdapter {
	a := &HostToolAdapter{
		SandboxRoot:         sandboxRoot,
		ToolSource:          toolSource,
		Control:             control,
		Runner:              ExecRunner{},
		InstallTimeout:      DefaultInstallTimeout,
		StatusPollInterval:  DefaultStatusPollInterval,
		StatusWaitCeiling:   DefaultStatusWaitCeiling,
		RemoveRetries:       DefaultRemoveRetries,
		RemoveRetryInterval: DefaultRemoveRetryInterval,
		logger:              zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// builderFor returns the sandbox builder for a record
func (a *HostToolAdapter) builderFor(rec *ServiceRecord) *SandboxBuilder {
	b := NewSandboxBuilder(rec, a.SandboxRoot)
	if a.ToolSource != "" {
		b.WithToolSource(a.ToolSource)
	}
	return b
}

// runTool invokes the staged host tool with the given subcommand, bounded
// by InstallTimeout.
func (a *HostToolAdapter) runTool(ctx context.Context, b *SandboxBuilder, subcommand string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.InstallTimeout)
	defer cancel()

	stdout, stderr, code, err := a.Runner.Run(ctx, b.ToolPath(), subcommand, b.ConfigPath())
	detail := strings.TrimSpace(stderr)
	if detail == "" {
		detail = strings.TrimSpace(stdout)
	}
	if err != nil {
		return detail, err
	}
	if code != 0 {
		return detail, fmt.Errorf("%w: %s exited %d", ErrHostTool, subcommand, code)
	}
	return detail, nil
}

// Install materializes the sandbox, writes the host-tool configuration, and
// registers the service with the OS. A tool failure before the OS knows the
// service rolls the sandbox back; a later failure leaves the sandbox for
// inspection.
func (a *HostToolAdapter) Install(ctx context.Context, rec *ServiceRecord) OpResult {
	start := time.Now()
	b := a.builderFor(rec)

	if err := b.Build(); err != nil {
		return failResult(OpInstall, rec.ID, err, "", time.Since(start))
	}

	detail, err := a.runTool(ctx, b, "install")
	if err != nil {
		if a.QueryStatus(ctx, rec.ID) == StatusNotInstalled {
			if rmErr := b.Remove(ctx, a.RemoveRetries, a.RemoveRetryInterval); rmErr != nil {
				a.logger.Warn("sandbox rollback failed",
					zap.String("service", rec.ID), zap.Error(rmErr))
			}
		}
		return failResult(OpInstall, rec.ID, err, detail, time.Since(start))
	}

	a.logger.Info("service installed", zap.String("service", rec.ID))
	return okResult(OpInstall, rec.ID, "service installed", time.Since(start))
}

// WriteConfig regenerates the sandbox configuration for an existing
// service. Build is idempotent and leaves existing log files alone.
func (a *HostToolAdapter) WriteConfig(_ context.Context, rec *ServiceRecord) OpResult {
	start := time.Now()
	if err := a.builderFor(rec).Build(); err != nil {
		return failResult(OpUpdate, rec.ID, err, "", time.Since(start))
	}
	return okResult(OpUpdate, rec.ID, "configuration written", time.Since(start))
}

// Uninstall stops the service if needed, deregisters it through the host
// tool, and removes the sandbox directory.
func (a *HostToolAdapter) Uninstall(ctx context.Context, rec *ServiceRecord) OpResult {
	start := time.Now()
	b := a.builderFor(rec)

	// Idempotent stop first
	if status := a.QueryStatus(ctx, rec.ID); status.CanStop() {
		if err := a.Control.Stop(ctx, rec.ID); err != nil {
			return failResult(OpUninstall, rec.ID, err, "stop before uninstall failed", time.Since(start))
		}
		if err := a.waitForStatus(ctx, rec.ID, StatusStopped, StatusNotInstalled); err != nil {
			return failResult(OpUninstall, rec.ID, err, "stop before uninstall timed out", time.Since(start))
		}
	}

	if a.QueryStatus(ctx, rec.ID) != StatusNotInstalled {
		detail, err := a.runTool(ctx, b, "uninstall")
		if err != nil {
			return failResult(OpUninstall, rec.ID, err, detail, time.Since(start))
		}
	}

	if err := b.Remove(ctx, a.RemoveRetries, a.RemoveRetryInterval); err != nil {
		return failResult(OpUninstall, rec.ID, err, "", time.Since(start))
	}

	a.logger.Info("service uninstalled", zap.String("service", rec.ID))
	return okResult(OpUninstall, rec.ID, "service uninstalled", time.Since(start))
}

// Start issues a start through the OS control interface and waits for the
// service to report Running.
func (a *HostToolAdapter) Start(ctx context.Context, id string) OpResult {
	start := time.Now()

	if err := a.Control.Start(ctx, id); err != nil {
		return failResult(OpStart, id, err, "", time.Since(start))
	}
	if err := a.waitForStatus(ctx, id, StatusRunning); err != nil {
		return failResult(OpStart, id, err, "", time.Since(start))
	}
	return okResult(OpStart, id, "service started", time.Since(start))
}

// Stop issues a stop through the OS control interface and waits for the
// service to report Stopped. Stopping an already stopped or missing service
// succeeds.
func (a *HostToolAdapter) Stop(ctx context.Context, id string) OpResult {
	start := time.Now()

	if status := a.QueryStatus(ctx, id); status == StatusStopped || status == StatusNotInstalled {
		return okResult(OpStop, id, "service already stopped", time.Since(start))
	}
	if err := a.Control.Stop(ctx, id); err != nil {
		return failResult(OpStop, id, err, "", time.Since(start))
	}
	if err := a.waitForStatus(ctx, id, StatusStopped, StatusNotInstalled); err != nil {
		return failResult(OpStop, id, err, "", time.Since(start))
	}
	return okResult(OpStop, id, "service stopped", time.Since(start))
}

// Restart stops then starts the service. A stop failure aborts without
// attempting the start.
func (a *HostToolAdapter) Restart(ctx context.Context, id string) OpResult {
	start := time.Now()

	if res := a.Stop(ctx, id); !res.OK {
		res.Op = OpRestart
		res.Elapsed = time.Since(start)
		return res
	}
	if res := a.Start(ctx, id); !res.OK {
		res.Op = OpRestart
		res.Elapsed = time.Since(start)
		return res
	}
	return okResult(OpRestart, id, "service restarted", time.Since(start))
}

// QueryStatus maps the OS-level status onto ServiceStatus. A missing service
// maps to StatusNotInstalled and any failure to StatusError; the query never
// surfaces as a crash.
func (a *HostToolAdapter) QueryStatus(ctx context.Context, id string) ServiceStatus {
	status, err := a.Control.Status(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return StatusNotInstalled
		}
		a.logger.Debug("status query failed", zap.String("service", id), zap.Error(err))
		return StatusError
	}
	return status
}

// waitForStatus polls until the service reports one of the target statuses,
// returning a timeout failure at the ceiling.
func (a *HostToolAdapter) waitForStatus(ctx context.Context, id string, targets ...ServiceStatus) error {
	deadline := time.Now().Add(a.StatusWaitCeiling)
	ticker := time.NewTicker(a.StatusPollInterval)
	defer ticker.Stop()

	for {
		current := a.QueryStatus(ctx, id)
		for _, target := range targets {
			if current == target {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: service %q did not reach %v within %v",
				ErrTimeout, id, targets, a.StatusWaitCeiling)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}
