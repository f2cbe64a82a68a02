package svchost

import "time"

// OpResult is the structured outcome of a lifecycle operation. Expected
// failures are reported here rather than as panics; Err is non-nil exactly
// when OK is false.
type OpResult struct {
	// OK reports whether the operation succeeded
	OK bool
	// Op is the operation this result belongs to
	Op Operation
	// Service is the id of the service the operation targeted
	Service string
	// Message is a short human-readable summary
	Message string
	// Detail carries captured diagnostic output (host-tool stderr etc.)
	Detail string
	// Elapsed is the wall time the operation took
	Elapsed time.Duration
	// Err is the structured error for failed operations
	Err error
}

func okResult(op Operation, service, message string, elapsed time.Duration) OpResult {
	return OpResult{
		OK:      true,
		Op:      op,
		Service: service,
		Message: message,
		Elapsed: elapsed,
	}
}

func failResult(op Operation, service string, err error, detail string, elapsed time.Duration) OpResult {
	msg := "operation failed"
	if err != nil {
		msg = err.Error()
	}
	return OpResult{
		Op:      op,
		Service: service,
		Message: msg,
		Detail:  detail,
		Elapsed: elapsed,
		Err:     &OpError{Op: op, Service: service, Err: err},
	}
}
