package conventions

import "path/filepath"

const (
	// DefaultDataDir is the default orca data directory name (relative to home).
	DefaultDataDir = ".orca"
	// LocksDir is the subdirectory for the host lock files.
	LocksDir = "locks"
	// StacksDir is the subdirectory where named stacks are looked up.
	StacksDir = "stacks"
	// RunConfigFile is the default run configuration file name inside the data dir.
	RunConfigFile = "run.yaml"

	// Host-side files.

	// HostCheckpointDir is where the phase checkpoint markers live on the host.
	HostCheckpointDir = "/var/lib/orca/checkpoints"

	// TokenSecretEnv is the environment variable holding the API token secret.
	TokenSecretEnv = "ORCA_TOKEN_SECRET"
)

// LocksPath returns the host locks directory.
func LocksPath(dataDir string) string {
	return filepath.Join(dataDir, LocksDir)
}

// StackPath returns the path of a named stack inside the data dir.
func StackPath(dataDir, name string) string {
	return filepath.Join(dataDir, StacksDir, name+".yaml")
}
