// Package mcptest provides test infrastructure for exercising the client
// against a fake MCP server, in-process or as a real subprocess.
package mcptest

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"testing"
	"time"

	"github.com/Bigsy/mcptap/internal/config"
	"github.com/Bigsy/mcptap/internal/mcptest/fakeserver"
)

// Aliases so test files only import mcptest.
type (
	FakeServerConfig = fakeserver.Config
	Tool             = fakeserver.Tool
	JSONRPCError     = fakeserver.JSONRPCError
	ToolCallResult   = fakeserver.ToolCallResult
	ContentBlock     = fakeserver.ContentBlock
)

const (
	helperEnvMarker = "GO_WANT_HELPER_PROCESS"
	helperEnvConfig = "FAKE_MCP_CFG"
)

// ServerConfig builds a config.ServerConfig that launches the current test
// binary as a fake MCP server subprocess with the given behavior. Use it to
// drive the full launch/handshake/teardown path against a real child process.
func ServerConfig(t *testing.T, cfg FakeServerConfig) config.ServerConfig {
	t.Helper()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal fake server config: %v", err)
	}

	return config.ServerConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env: map[string]string{
			helperEnvMarker: "1",
			helperEnvConfig: string(cfgJSON),
		},
	}
}

// StartFakeServer spawns the fake server as a subprocess using the test
// helper re-exec pattern. Returns its stdin (write side) and stdout (read
// side); the stop function is also registered as a t.Cleanup.
func StartFakeServer(t *testing.T, cfg FakeServerConfig) (stdin io.WriteCloser, stdout io.ReadCloser, stop func()) {
	t.Helper()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal fake server config: %v", err)
	}

	cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--")
	cmd.Env = append(os.Environ(),
		helperEnvMarker+"=1",
		helperEnvConfig+"="+string(cfgJSON),
	)

	stdin, err = cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	stdout, err = cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.Fatalf("stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake server: %v", err)
	}

	// Drain stderr to prevent the child blocking on a full pipe.
	go io.Copy(io.Discard, stderr)

	stop = func() {
		_ = stdin.Close()

		done := make(chan error, 1)
		go func() { done <- cmd.Wait() }()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			_ = cmd.Process.Kill()
			<-done
		}
	}

	t.Cleanup(stop)
	return stdin, stdout, stop
}

// RunHelperProcess implements the fake MCP server when the test binary is
// re-exec'd. Packages with subprocess tests declare:
//
//	func TestHelperProcess(t *testing.T) {
//	    mcptest.RunHelperProcess(t)
//	}
func RunHelperProcess(t *testing.T) {
	if os.Getenv(helperEnvMarker) != "1" {
		return
	}

	cfgJSON := os.Getenv(helperEnvConfig)
	if cfgJSON == "" {
		os.Exit(2)
	}

	var cfg fakeserver.Config
	if err := json.Unmarshal([]byte(cfgJSON), &cfg); err != nil {
		os.Exit(2)
	}

	if cfg.IgnoreSigterm {
		// Swallow SIGTERM so only SIGKILL can end this process; exercises
		// the graceful-to-forced escalation path.
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM)
		go func() {
			for range ch {
			}
		}()
	}

	if err := fakeserver.Serve(context.Background(), os.Stdin, os.Stdout, cfg); err != nil {
		os.Exit(1)
	}

	if cfg.IgnoreSigterm {
		// Input closed but SIGTERM must stay ineffective; idle until killed.
		select {}
	}
	os.Exit(0)
}
