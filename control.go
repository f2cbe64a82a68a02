package svchost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// CommandRunner executes one external command and reports its outcome.
// The exec-backed implementation kills the process when ctx expires, so a
// timed-out call never leaves a detached child behind.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner runs commands through os/exec
type ExecRunner struct{}

// Run executes the command, capturing stdout and stderr. A non-zero exit is
// reported through exitCode with err nil; err is reserved for failures to
// run the command at all (not found, context expired).
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
		}
		if ctx.Err() != nil {
			return stdout.String(), stderr.String(), -1, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return stdout.String(), stderr.String(), -1, err
	}
	return stdout.String(), stderr.String(), 0, nil
}

// ServiceControl is the OS service-control interface: query-by-name status
// plus start and stop by name. Implementations map a missing service to
// StatusNotInstalled rather than an error.
type ServiceControl interface {
	Status(ctx context.Context, name string) (ServiceStatus, error)
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
}

// ExecServiceControl drives the native service controller binary through a
// CommandRunner.
type ExecServiceControl struct {
	// CtlPath is the service controller binary
	CtlPath string
	// Runner executes controller commands
	Runner CommandRunner
}

// DefaultCtlPath is the default service controller binary
const DefaultCtlPath = "systemctl"

// controller exit code for an unknown unit
const ctlExitNotFound = 4

// NewExecServiceControl creates an ExecServiceControl with default settings
func NewExecServiceControl() *ExecServiceControl {
	return &ExecServiceControl{
		CtlPath: DefaultCtlPath,
		Runner:  ExecRunner{},
	}
}

// Status queries the controller and maps its state strings onto
// ServiceStatus. An unknown service maps to StatusNotInstalled.
func (c *ExecServiceControl) Status(ctx context.Context, name string) (ServiceStatus, error) {
	stdout, stderr, code, err := c.Runner.Run(ctx, c.CtlPath, "is-active", name)
	if err != nil {
		return StatusError, err
	}
	if code == ctlExitNotFound {
		return StatusNotInstalled, nil
	}

	switch strings.TrimSpace(stdout) {
	case "active":
		return StatusRunning, nil
	case "activating":
		return StatusStarting, nil
	case "deactivating":
		return StatusStopping, nil
	case "inactive":
		return StatusStopped, nil
	case "failed":
		return StatusError, nil
	}

	if strings.Contains(stderr, "not found") || strings.Contains(stdout, "not found") {
		return StatusNotInstalled, nil
	}
	return StatusError, nil
}

// Start issues a start command for the named service
func (c *ExecServiceControl) Start(ctx context.Context, name string) error {
	return c.run(ctx, "start", name)
}

// Stop issues a stop command for the named service
func (c *ExecServiceControl) Stop(ctx context.Context, name string) error {
	return c.run(ctx, "stop", name)
}

func (c *ExecServiceControl) run(ctx context.Context, verb, name string) error {
	_, stderr, code, err := c.Runner.Run(ctx, c.CtlPath, verb, name)
	if err != nil {
		return err
	}
	if code == ctlExitNotFound {
		return &OpError{Op: OpStatus, Service: name, Err: ErrNotFound}
	}
	if code != 0 {
		return fmt.Errorf("%w: %s exited %d (stderr: %s)", ErrHostTool, verb, code, strings.TrimSpace(stderr))
	}
	return nil
}

// FakeServiceControl is an in-memory ServiceControl for tests and examples.
// Start and Stop transition services immediately unless StartErr or StopErr
// is set.
type FakeServiceControl struct {
	mu       sync.Mutex
	statuses map[string]ServiceStatus

	// StartErr, when set, is returned from Start
	StartErr error
	// StopErr, when set, is returned from Stop
	StopErr error
}

// NewFakeServiceControl creates an empty FakeServiceControl
func NewFakeServiceControl() *FakeServiceControl {
	return &FakeServiceControl{
		statuses: make(map[string]ServiceStatus),
	}
}

// SetStatus sets the reported status of one service
func (f *FakeServiceControl) SetStatus(name string, status ServiceStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[name] = status
}

// Remove forgets a service, so it reports StatusNotInstalled again
func (f *FakeServiceControl) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.statuses, name)
}

// Status implements ServiceControl
func (f *FakeServiceControl) Status(_ context.Context, name string) (ServiceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.statuses[name]
	if !ok {
		return StatusNotInstalled, nil
	}
	return status, nil
}

// Start implements ServiceControl
func (f *FakeServiceControl) Start(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	f.statuses[name] = StatusRunning
	return nil
}

// Stop implements ServiceControl
func (f *FakeServiceControl) Stop(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StopErr != nil {
		return f.StopErr
	}
	f.statuses[name] = StatusStopped
	return nil
}
