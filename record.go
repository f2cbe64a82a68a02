package svchost

import (
	"fmt"
	"time"
)

// StartMode controls how the OS starts an installed service
type StartMode int

const (
	// StartModeAutomatic starts the service at boot
	StartModeAutomatic StartMode = iota
	// StartModeManual starts the service only on request
	StartModeManual
	// StartModeDisabled prevents the service from starting
	StartModeDisabled
)

// StartMode string constants
const (
	startModeAutomaticStr = "automatic"
	startModeManualStr    = "manual"
	startModeDisabledStr  = "disabled"
)

// String returns the string representation of a StartMode
func (m StartMode) String() string {
	switch m {
	case StartModeManual:
		return startModeManualStr
	case StartModeDisabled:
		return startModeDisabledStr
	default:
		return startModeAutomaticStr
	}
}

// MarshalText implements encoding.TextMarshaler
func (m StartMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *StartMode) UnmarshalText(text []byte) error {
	switch string(text) {
	case startModeAutomaticStr:
		*m = StartModeAutomatic
	case startModeManualStr:
		*m = StartModeManual
	case startModeDisabledStr:
		*m = StartModeDisabled
	default:
		return fmt.Errorf("unknown start mode %q", text)
	}
	return nil
}

// RestartPolicy configures automatic restart of the hosted process when it
// exits with the trigger exit code.
type RestartPolicy struct {
	// Enabled turns the policy on
	Enabled bool `json:"enabled"`
	// ExitCode is the process exit code that triggers a restart
	ExitCode int `json:"exitCode"`
}

// ServiceRecord is the identity and configuration of one managed service.
// The ID doubles as the sandbox directory name, the host-tool instance name,
// and the OS service name, and is immutable once created.
type ServiceRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Description string `json:"description,omitempty"`

	ExecutablePath   string   `json:"executablePath"`
	ScriptPath       string   `json:"scriptPath,omitempty"`
	Arguments        string   `json:"arguments,omitempty"`
	WorkingDirectory string   `json:"workingDirectory,omitempty"`
	Dependencies     []string `json:"dependencies,omitempty"`

	EnvironmentVariables map[string]string `json:"environmentVariables,omitempty"`

	ServiceAccount string        `json:"serviceAccount,omitempty"`
	StartMode      StartMode     `json:"startMode"`
	StopTimeout    time.Duration `json:"stopTimeoutMs"`
	RestartOnExit  RestartPolicy `json:"restartOnExit"`

	Status    ServiceStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Validate performs structural validation of the record. Path and argument
// security checks are the guards' responsibility.
func (r *ServiceRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: id must not be empty", ErrValidation)
	}
	if n := len(r.DisplayName); n < MinDisplayNameLen || n > MaxDisplayNameLen {
		return fmt.Errorf("%w: display name must be %d-%d characters, got %d",
			ErrValidation, MinDisplayNameLen, MaxDisplayNameLen, n)
	}
	if r.ExecutablePath == "" {
		return fmt.Errorf("%w: executable path must not be empty", ErrValidation)
	}
	for _, dep := range r.Dependencies {
		if dep == r.ID {
			return fmt.Errorf("%w: service %q depends on itself", ErrValidation, r.ID)
		}
	}
	return nil
}

// Touch bumps UpdatedAt. Called on every mutation.
func (r *ServiceRecord) Touch() {
	r.UpdatedAt = time.Now().UTC()
}

// Clone returns a deep copy so event consumers receive immutable snapshots
func (r *ServiceRecord) Clone() *ServiceRecord {
	c := *r
	if r.Dependencies != nil {
		c.Dependencies = make([]string, len(r.Dependencies))
		copy(c.Dependencies, r.Dependencies)
	}
	if r.EnvironmentVariables != nil {
		c.EnvironmentVariables = make(map[string]string, len(r.EnvironmentVariables))
		for k, v := range r.EnvironmentVariables {
			c.EnvironmentVariables[k] = v
		}
	}
	return &c
}

// ValidateDependencies verifies every dependency of every record resolves to
// a known id and that the dependency graph is acyclic.
func ValidateDependencies(records []*ServiceRecord) error {
	byID := make(map[string]*ServiceRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(records))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("%w: dependency cycle through %q", ErrValidation, id)
		case done:
			return nil
		}
		rec, ok := byID[id]
		if !ok {
			return fmt.Errorf("%w: unknown dependency %q", ErrValidation, id)
		}
		state[id] = visiting
		for _, dep := range rec.Dependencies {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}

	for _, r := range records {
		if err := visit(r.ID); err != nil {
			return err
		}
	}
	return nil
}
