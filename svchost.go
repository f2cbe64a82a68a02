package svchost

import "time"

// Sandbox directory and file constants
const (
	// LogsDir is the per-service subdirectory holding the hosted process logs
	LogsDir = "logs"

	// StdoutLogFile is the file capturing the hosted process stdout
	StdoutLogFile = "out.log"

	// StderrLogFile is the file capturing the hosted process stderr
	StderrLogFile = "err.log"

	// ConfigExt is the extension of the generated host-tool configuration file
	ConfigExt = ".xml"
)

// File modes
const (
	// DirMode is the default mode for created directories
	DirMode = 0o755

	// FileMode is the default mode for created files
	FileMode = 0o644

	// ExecMode is the default mode for the staged host-tool binary
	ExecMode = 0o755
)

// Default timeouts and intervals
const (
	// DefaultInstallTimeout bounds one host-tool install/uninstall invocation
	DefaultInstallTimeout = 2 * time.Minute

	// DefaultCommandTimeout bounds one service-control command
	DefaultCommandTimeout = 30 * time.Second

	// DefaultStatusPollInterval is the poll cadence while waiting for a
	// service to reach its target status
	DefaultStatusPollInterval = 500 * time.Millisecond

	// DefaultStatusWaitCeiling is the maximum time to wait for a service
	// to reach its target status before reporting a timeout
	DefaultStatusWaitCeiling = 30 * time.Second

	// DefaultRemoveRetries is the number of attempts at removing a sandbox
	// directory after uninstall
	DefaultRemoveRetries = 5

	// DefaultRemoveRetryInterval is the pause between sandbox removal attempts
	DefaultRemoveRetryInterval = 200 * time.Millisecond

	// DefaultBaselineInterval is the cadence of the full-fleet status sweep
	DefaultBaselineInterval = 5 * time.Second

	// DefaultQueryConcurrency caps simultaneous status queries during a
	// baseline sweep or a coordinator tick
	DefaultQueryConcurrency = 5

	// DefaultMaxTrackDuration bounds how long the coordinator follows a
	// single service before giving it back to the baseline sweep
	DefaultMaxTrackDuration = 30 * time.Second

	// DefaultEventBuffer is the capacity of monitor event channels
	DefaultEventBuffer = 16

	// DefaultStoreDebounce coalesces rapid store-file change notifications
	DefaultStoreDebounce = 100 * time.Millisecond
)

// Validation limits
const (
	// MinDisplayNameLen is the minimum display name length
	MinDisplayNameLen = 3

	// MaxDisplayNameLen is the maximum display name length
	MaxDisplayNameLen = 100

	// DefaultMaxPathLength is the maximum accepted path length
	DefaultMaxPathLength = 260
)

// Coordinator interval table thresholds. The interval grows stepwise with
// the pending-set size so operation bursts degrade cadence instead of
// multiplying query load.
const (
	// PollIntervalSingle applies when exactly one service is pending
	PollIntervalSingle = 500 * time.Millisecond

	// PollIntervalSmall applies for 2-3 pending services
	PollIntervalSmall = 1 * time.Second

	// PollIntervalMedium applies for 4-5 pending services
	PollIntervalMedium = 1500 * time.Millisecond

	// PollIntervalLarge applies for 6 or more pending services
	PollIntervalLarge = 2 * time.Second
)
