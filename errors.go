package svchost

import (
	"errors"
	"fmt"
)

// Common errors returned by lifecycle operations
var (
	// ErrValidation indicates a request was rejected by PathGuard,
	// CommandGuard, or structural record validation
	ErrValidation = errors.New("svchost: validation failed")

	// ErrConflict indicates the requested operation is illegal for the
	// record's current status, or another operation on the same service
	// is already in flight
	ErrConflict = errors.New("svchost: operation conflicts with current state")

	// ErrNotFound indicates an operation referenced an unknown service id
	ErrNotFound = errors.New("svchost: service not found")

	// ErrTimeout indicates an external call or status wait exceeded its ceiling
	ErrTimeout = errors.New("svchost: timeout")

	// ErrHostTool indicates the host tool or OS control call failed
	ErrHostTool = errors.New("svchost: host tool failure")
)

// Operation identifies the lifecycle operation an error belongs to
type Operation int

const (
	// OpUnknown represents an unknown operation
	OpUnknown Operation = iota
	// OpCreate creates and installs a new service
	OpCreate
	// OpInstall registers the service with the OS
	OpInstall
	// OpUninstall removes the service and its sandbox
	OpUninstall
	// OpStart starts an installed service
	OpStart
	// OpStop stops a running service
	OpStop
	// OpRestart stops then starts a running service
	OpRestart
	// OpUpdate rewrites the configuration of a stopped service
	OpUpdate
	// OpStatus queries service status
	OpStatus
)

// Operation string constants
const (
	opUnknownStr   = "unknown"
	opCreateStr    = "create"
	opInstallStr   = "install"
	opUninstallStr = "uninstall"
	opStartStr     = "start"
	opStopStr      = "stop"
	opRestartStr   = "restart"
	opUpdateStr    = "update"
	opStatusStr    = "status"
)

// String returns the string representation of an Operation
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return opCreateStr
	case OpInstall:
		return opInstallStr
	case OpUninstall:
		return opUninstallStr
	case OpStart:
		return opStartStr
	case OpStop:
		return opStopStr
	case OpRestart:
		return opRestartStr
	case OpUpdate:
		return opUpdateStr
	case OpStatus:
		return opStatusStr
	default:
		return opUnknownStr
	}
}

// OpError represents an error from a lifecycle operation
type OpError struct {
	// Op is the operation that failed
	Op Operation
	// Service is the id of the service involved
	Service string
	// Err is the underlying error
	Err error
}

// Error returns a formatted error message
func (e *OpError) Error() string {
	return fmt.Sprintf("svchost %s %q: %v", e.Op.String(), e.Service, e.Err)
}

// Unwrap returns the underlying error for error chain inspection
func (e *OpError) Unwrap() error {
	return e.Err
}

// MultiError aggregates multiple errors from bulk sweeps
type MultiError struct {
	// Errors contains all accumulated errors
	Errors []error
}

// Error returns a summary of the accumulated errors
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred", len(m.Errors))
}

// Add appends an error to the collection if it's not nil
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Err returns nil if no errors occurred, otherwise returns the MultiError itself
func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}
