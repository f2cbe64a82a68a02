package svchost

import "fmt"

// ServiceStatus represents the lifecycle state of a managed service
type ServiceStatus int

const (
	// StatusNotInstalled means no OS service entry exists for the record
	StatusNotInstalled ServiceStatus = iota
	// StatusStopped means the service is installed but not running
	StatusStopped
	// StatusRunning means the hosted process is up
	StatusRunning
	// StatusStarting means a start was issued and the service has not yet
	// reached Running
	StatusStarting
	// StatusStopping means a stop was issued and the service has not yet
	// reached Stopped
	StatusStopping
	// StatusPaused means the OS reports the service as paused
	StatusPaused
	// StatusError means the last operation left the service in a failed state
	StatusError
	// StatusInstalling means an install is in progress
	StatusInstalling
	// StatusUninstalling means an uninstall is in progress
	StatusUninstalling
)

// ServiceStatus string constants
const (
	statusNotInstalledStr = "not-installed"
	statusStoppedStr      = "stopped"
	statusRunningStr      = "running"
	statusStartingStr     = "starting"
	statusStoppingStr     = "stopping"
	statusPausedStr       = "paused"
	statusErrorStr        = "error"
	statusInstallingStr   = "installing"
	statusUninstallingStr = "uninstalling"
)

// String returns the string representation of a ServiceStatus
func (s ServiceStatus) String() string {
	switch s {
	case StatusNotInstalled:
		return statusNotInstalledStr
	case StatusStopped:
		return statusStoppedStr
	case StatusRunning:
		return statusRunningStr
	case StatusStarting:
		return statusStartingStr
	case StatusStopping:
		return statusStoppingStr
	case StatusPaused:
		return statusPausedStr
	case StatusError:
		return statusErrorStr
	case StatusInstalling:
		return statusInstallingStr
	case StatusUninstalling:
		return statusUninstallingStr
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// IsTransitioning reports whether the status is one of the transitional
// states during which no new mutating operation may begin.
func (s ServiceStatus) IsTransitioning() bool {
	switch s {
	case StatusStarting, StatusStopping, StatusInstalling, StatusUninstalling:
		return true
	default:
		return false
	}
}

// CanStart reports whether a start operation is legal from this status
func (s ServiceStatus) CanStart() bool {
	return s == StatusStopped || s == StatusNotInstalled
}

// CanStop reports whether a stop operation is legal from this status
func (s ServiceStatus) CanStop() bool {
	return s == StatusRunning || s == StatusStarting
}

// CanRestart reports whether a restart operation is legal from this status
func (s ServiceStatus) CanRestart() bool {
	return s == StatusRunning
}

// CanUninstall reports whether an uninstall is legal from this status.
// Running is handled separately by the orchestrator, which stops the
// service before uninstalling it.
func (s ServiceStatus) CanUninstall() bool {
	return s == StatusStopped || s == StatusNotInstalled || s == StatusError
}

// MarshalText implements encoding.TextMarshaler
func (s ServiceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *ServiceStatus) UnmarshalText(text []byte) error {
	switch string(text) {
	case statusNotInstalledStr:
		*s = StatusNotInstalled
	case statusStoppedStr:
		*s = StatusStopped
	case statusRunningStr:
		*s = StatusRunning
	case statusStartingStr:
		*s = StatusStarting
	case statusStoppingStr:
		*s = StatusStopping
	case statusPausedStr:
		*s = StatusPaused
	case statusErrorStr:
		*s = StatusError
	case statusInstallingStr:
		*s = StatusInstalling
	case statusUninstallingStr:
		*s = StatusUninstalling
	default:
		return fmt.Errorf("unknown service status %q", text)
	}
	return nil
}
