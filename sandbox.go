package svchost

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/renameio/v2"
)

// SandboxBuilder materializes the per-service sandbox directory: the staged
// host-tool binary, the generated host-tool configuration, and the logs
// subdirectory with pre-created stdout/stderr files. The layout is depended
// upon by log-viewing collaborators and must stay stable:
//
//	<root>/<id>/
//	    <tool binary>
//	    <id>.xml
//	    logs/out.log
//	    logs/err.log
type SandboxBuilder struct {
	// Record is the service the sandbox belongs to
	Record *ServiceRecord
	// Root is the directory holding all sandboxes
	Root string
	// ToolSource is the host-tool binary staged into the sandbox
	ToolSource string
	// ToolName is the staged binary's file name
	ToolName string
}

// DefaultToolName is the staged host-tool binary name when the source
// path does not dictate one
const DefaultToolName = "svchostw"

// NewSandboxBuilder creates a SandboxBuilder for the given record
func NewSandboxBuilder(rec *ServiceRecord, root string) *SandboxBuilder {
	return &SandboxBuilder{
		Record:   rec,
		Root:     root,
		ToolName: DefaultToolName,
	}
}

// WithToolSource sets the host-tool binary to stage into the sandbox
func (b *SandboxBuilder) WithToolSource(path string) *SandboxBuilder {
	b.ToolSource = path
	if base := filepath.Base(path); base != "." && base != string(filepath.Separator) {
		b.ToolName = base
	}
	return b
}

// Dir returns the sandbox directory path
func (b *SandboxBuilder) Dir() string {
	return filepath.Join(b.Root, b.Record.ID)
}

// ToolPath returns the staged host-tool binary path
func (b *SandboxBuilder) ToolPath() string {
	return filepath.Join(b.Dir(), b.ToolName)
}

// ConfigPath returns the generated configuration file path
func (b *SandboxBuilder) ConfigPath() string {
	return filepath.Join(b.Dir(), b.Record.ID+ConfigExt)
}

// LogDir returns the logs subdirectory path
func (b *SandboxBuilder) LogDir() string {
	return filepath.Join(b.Dir(), LogsDir)
}

// StdoutLogPath returns the hosted process stdout log path
func (b *SandboxBuilder) StdoutLogPath() string {
	return filepath.Join(b.LogDir(), StdoutLogFile)
}

// StderrLogPath returns the hosted process stderr log path
func (b *SandboxBuilder) StderrLogPath() string {
	return filepath.Join(b.LogDir(), StderrLogFile)
}

// hostConfig is the host-tool configuration document. All user-supplied text
// goes through the XML encoder, so it cannot break out of the document
// structure.
type hostConfig struct {
	XMLName          xml.Name       `xml:"service"`
	ID               string         `xml:"id"`
	Name             string         `xml:"name"`
	Description      string         `xml:"description,omitempty"`
	Executable       string         `xml:"executable"`
	ScriptPath       string         `xml:"scriptpath,omitempty"`
	Arguments        string         `xml:"arguments,omitempty"`
	WorkingDirectory string         `xml:"workingdirectory,omitempty"`
	Env              []hostEnv      `xml:"env"`
	ServiceAccount   *hostAccount   `xml:"serviceaccount"`
	StartMode        string         `xml:"startmode"`
	StopTimeoutMs    int64          `xml:"stoptimeoutms,omitempty"`
	OnFailure        *hostOnFailure `xml:"onfailure"`
	StdoutPath       string         `xml:"logpath>stdout"`
	StderrPath       string         `xml:"logpath>stderr"`
	Dependencies     []string       `xml:"depend"`
}

type hostEnv struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type hostAccount struct {
	Username string `xml:"username"`
}

type hostOnFailure struct {
	Action   string `xml:"action,attr"`
	ExitCode int    `xml:"exitcode,attr"`
}

// buildConfig derives the host-tool configuration document from the record
func (b *SandboxBuilder) buildConfig() *hostConfig {
	rec := b.Record
	cfg := &hostConfig{
		ID:               rec.ID,
		Name:             rec.DisplayName,
		Description:      rec.Description,
		Executable:       rec.ExecutablePath,
		ScriptPath:       rec.ScriptPath,
		Arguments:        rec.Arguments,
		WorkingDirectory: rec.WorkingDirectory,
		StartMode:        rec.StartMode.String(),
		StopTimeoutMs:    rec.StopTimeout.Milliseconds(),
		StdoutPath:       b.StdoutLogPath(),
		StderrPath:       b.StderrLogPath(),
		Dependencies:     rec.Dependencies,
	}
	for _, name := range sortedKeys(rec.EnvironmentVariables) {
		cfg.Env = append(cfg.Env, hostEnv{Name: name, Value: rec.EnvironmentVariables[name]})
	}
	if rec.ServiceAccount != "" {
		cfg.ServiceAccount = &hostAccount{Username: rec.ServiceAccount}
	}
	if rec.RestartOnExit.Enabled {
		cfg.OnFailure = &hostOnFailure{Action: "restart", ExitCode: rec.RestartOnExit.ExitCode}
	}
	return cfg
}

// Build creates the sandbox directory structure, stages the host tool, and
// writes the generated configuration.
func (b *SandboxBuilder) Build() error {
	if b.Root == "" {
		return fmt.Errorf("sandbox root not specified")
	}
	if b.Record == nil || b.Record.ID == "" {
		return fmt.Errorf("service record not specified")
	}

	dir := b.Dir()
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("creating sandbox directory: %w", err)
	}

	if b.ToolSource != "" {
		if err := stageFile(b.ToolSource, b.ToolPath()); err != nil {
			return fmt.Errorf("staging host tool: %w", err)
		}
	}

	data, err := xml.MarshalIndent(b.buildConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding host config: %w", err)
	}
	data = append([]byte(xml.Header), data...)
	if err := renameio.WriteFile(b.ConfigPath(), data, FileMode); err != nil {
		return fmt.Errorf("writing host config: %w", err)
	}

	if err := os.MkdirAll(b.LogDir(), DirMode); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	for _, logPath := range []string{b.StdoutLogPath(), b.StderrLogPath()} {
		if _, err := os.Stat(logPath); err == nil {
			continue
		}
		if err := renameio.WriteFile(logPath, nil, FileMode); err != nil {
			return fmt.Errorf("creating log file %s: %w", filepath.Base(logPath), err)
		}
	}

	return nil
}

// Remove deletes the sandbox directory. Removal is retried briefly because
// the just-stopped hosted process may still hold log file handles.
func (b *SandboxBuilder) Remove(ctx context.Context, attempts int, interval time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
		if lastErr = os.RemoveAll(b.Dir()); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("removing sandbox directory: %w", lastErr)
}

// stageFile copies src to dst with exec permissions, atomically so a
// partially staged binary is never observable.
func stageFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return renameio.WriteFile(dst, data, ExecMode)
}

// sortedKeys returns map keys in stable order for deterministic output
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
