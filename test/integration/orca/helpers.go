package orca

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/slok/orca/test/integration/testutils"
)

// Config holds integration test configuration loaded from environment variables.
type Config struct {
	Binary string
}

func (c *Config) defaults() error {
	if c.Binary == "" {
		c.Binary = "orca"
	}

	// go test changes the CWD to the test package directory, relative paths
	// would be resolved against it.
	if !filepath.IsAbs(c.Binary) {
		return fmt.Errorf("ORCA_INTEGRATION_BINARY must be an absolute path, got %q", c.Binary)
	}
	if _, err := os.Stat(c.Binary); err != nil {
		return fmt.Errorf("orca binary not found at %q: %w", c.Binary, err)
	}

	return nil
}

// NewConfig loads integration test configuration from environment variables.
// If the config is invalid or the activation env var is not set, the test is skipped.
func NewConfig(t *testing.T) Config {
	t.Helper()

	const (
		envActivation = "ORCA_INTEGRATION"
		envBinary     = "ORCA_INTEGRATION_BINARY"
	)

	if os.Getenv(envActivation) != "true" {
		t.Skipf("Skipping integration test: %s is not set to 'true'", envActivation)
	}

	c := Config{
		Binary: os.Getenv(envBinary),
	}

	if err := c.defaults(); err != nil {
		t.Skipf("Skipping due to invalid config: %s", err)
	}

	return c
}

// fastTuning makes the fake host prompts settle quickly.
const fastTuning = "--grace-period 300ms --settle-delay 30ms"

// RunOrcaCmd runs an orca command isolated on its own data dir.
// It suppresses logging output for cleaner test output.
func RunOrcaCmd(ctx context.Context, config Config, dataDir, cmdArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("--no-log --no-color --data-dir %s %s", dataDir, cmdArgs)
	return testutils.RunOrca(ctx, nil, config.Binary, args, true)
}

// RunFake runs an installation on the fake host with JSON summary output.
func RunFake(ctx context.Context, config Config, dataDir, host, extraArgs string) (stdout, stderr []byte, err error) {
	args := fmt.Sprintf("run %s --fake --no-input --format json %s %s", host, fastTuning, extraArgs)
	return RunOrcaCmd(ctx, config, dataDir, args)
}

// StartServer starts the orca server on the fake host on a free local port and waits
// until it is healthy. The server is stopped when the test ends.
func StartServer(t *testing.T, config Config, dataDir, extraArgs string) (baseURL string) {
	t.Helper()

	addr := freeAddr(t)
	ctx, cancel := context.WithCancel(context.Background())

	args := []string{"--no-log", "--no-color", "--data-dir", dataDir, "serve", "--fake", "--listen", addr,
		"--grace-period", "300ms", "--settle-delay", "30ms"}
	args = append(args, strings.Fields(extraArgs)...)

	cmd := testutils.NewOrcaCmd(ctx, nil, config.Binary, args, true)
	if err := cmd.Start(); err != nil {
		cancel()
		t.Fatalf("could not start server: %s", err)
	}
	t.Cleanup(func() {
		cancel()
		_ = cmd.Wait()
	})

	baseURL = "http://" + addr
	if err := waitHealthy(ctx, baseURL+"/healthz", cmd); err != nil {
		t.Fatalf("server not healthy: %s", err)
	}

	return baseURL
}

func waitHealthy(ctx context.Context, url string, cmd *exec.Cmd) error {
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		if cmd.ProcessState != nil {
			return fmt.Errorf("server exited: %s", cmd.ProcessState)
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", url)
}

func freeAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("could not get free port: %s", err)
	}
	defer l.Close()

	return l.Addr().String()
}
