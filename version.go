package svchost

// Version is the current version of the go-svchost library
const Version = "1.0.0"

// VersionInfo contains detailed version information
type VersionInfo struct {
	// Version is the semantic version
	Version string
	// SandboxLayout is the sandbox directory layout revision; log-viewing
	// collaborators depend on it staying stable
	SandboxLayout string
}

// GetVersion returns the current version information
func GetVersion() VersionInfo {
	return VersionInfo{
		Version:       Version,
		SandboxLayout: "v1",
	}
}
