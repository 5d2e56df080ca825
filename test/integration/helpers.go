//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestConfig holds configuration for integration tests
type TestConfig struct {
	BaseURL    string
	AuthToken  string
	Resource   string
	Fallbacks  string
	BinaryPath string
	Verbose    bool
}

// LoadTestConfig loads configuration from environment variables
func LoadTestConfig() *TestConfig {
	return &TestConfig{
		BaseURL:    os.Getenv("DOCBRIDGE_IT_BASE_URL"),
		AuthToken:  os.Getenv("DOCBRIDGE_IT_AUTH_TOKEN"),
		Resource:   envOrDefault("DOCBRIDGE_IT_RESOURCE", "ToDo"),
		Fallbacks:  os.Getenv("DOCBRIDGE_IT_FALLBACKS"),
		BinaryPath: getBinaryPath(),
		Verbose:    os.Getenv("DOCBRIDGE_IT_VERBOSE") == "true",
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return fallback
}

// getBinaryPath determines the path to the docbridge binary
func getBinaryPath() string {
	if path := os.Getenv("DOCBRIDGE_BINARY_PATH"); path != "" {
		return path
	}

	candidates := []string{
		"../../docbridge",
		"./docbridge",
		"../docbridge",
	}

	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return "docbridge"
}

// SkipIfMissingConfig skips test if required config is missing
func (config *TestConfig) SkipIfMissingConfig(t *testing.T) {
	t.Helper()

	if config.BaseURL == "" || config.AuthToken == "" {
		t.Skip("DOCBRIDGE_IT_BASE_URL or DOCBRIDGE_IT_AUTH_TOKEN not set, skipping integration test")
	}

	if _, err := exec.LookPath(config.BinaryPath); err != nil {
		t.Skipf("docbridge binary not found at %s, skipping integration test", config.BinaryPath)
	}
}

// CommandRunner runs docbridge commands with an isolated config file
type CommandRunner struct {
	config     *TestConfig
	configFile string
	t          *testing.T
}

// NewCommandRunner creates a new command runner
func NewCommandRunner(config *TestConfig, t *testing.T) *CommandRunner {
	t.Helper()

	return &CommandRunner{
		config:     config,
		configFile: filepath.Join(t.TempDir(), "config.yml"),
		t:          t,
	}
}

// Run executes a docbridge command and returns output
func (runner *CommandRunner) Run(args ...string) (stdout, stderr string, err error) {
	return runner.RunWithInput("", args...)
}

// RunWithInput executes a docbridge command with stdin input
func (runner *CommandRunner) RunWithInput(input string, args ...string) (stdout, stderr string, err error) {
	args = append([]string{"--config", runner.configFile}, args...)

	cmd := exec.Command(runner.config.BinaryPath, args...) //nolint:gosec
	cmd.Env = append(os.Environ(),
		"DOCBRIDGE_BASE_URL="+runner.config.BaseURL,
		"DOCBRIDGE_AUTH_TOKEN="+runner.config.AuthToken,
		"DOCBRIDGE_RESOURCE="+runner.config.Resource,
		"DOCBRIDGE_TOKEN_STORE_TYPE=memory",
	)

	var stdoutBuf, stderrBuf bytes.Buffer

	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf
	cmd.Stdin = strings.NewReader(input)

	if runner.config.Verbose {
		runner.t.Logf("Running: %s %s", runner.config.BinaryPath, strings.Join(args, " "))
	}

	err = cmd.Run()
	stdout = stdoutBuf.String()
	stderr = stderrBuf.String()

	if runner.config.Verbose && err != nil {
		runner.t.Logf("Command failed: %v\nStdout: %s\nStderr: %s", err, stdout, stderr)
	}

	return stdout, stderr, err
}

// RunJSON executes a command with JSON output and decodes stdout into out
func (runner *CommandRunner) RunJSON(out interface{}, args ...string) error {
	stdout, stderr, err := runner.Run(append(args, "--output", "json")...)
	if err != nil {
		return fmt.Errorf("%w: %s", err, stderr)
	}

	err = json.Unmarshal([]byte(stdout), out)
	if err != nil {
		return fmt.Errorf("failed to decode output %q: %w", stdout, err)
	}

	return nil
}

// GenerateTestName creates a unique test record subject
func GenerateTestName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

// CleanupRecord attempts to delete a test record
func (runner *CommandRunner) CleanupRecord(resource, name string) {
	stdout, stderr, err := runner.Run("records", "delete", name, "--in", resource)
	if err != nil && runner.config.Verbose {
		runner.t.Logf("Cleanup warning for %s %s: %s\nStderr: %s", resource, name, stdout, stderr)
	}
}

// WaitForCondition waits for a condition to be met with timeout
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, message string) {
	t.Helper()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	timeoutChan := time.After(timeout)

	for {
		select {
		case <-ticker.C:
			if condition() {
				return
			}
		case <-timeoutChan:
			t.Fatalf("Timeout waiting for condition: %s", message)
		}
	}
}
