package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/Bigsy/mcptap/internal/client"
	"github.com/Bigsy/mcptap/internal/config"
	"github.com/Bigsy/mcptap/internal/events"
	"github.com/Bigsy/mcptap/internal/mcp"
	"github.com/Bigsy/mcptap/internal/mcptest"
	"github.com/Bigsy/mcptap/internal/process"
	"github.com/Bigsy/mcptap/internal/testutil"
)

// TestHelperProcess runs the fake MCP server when this test binary is
// re-exec'd by mcptest.
func TestHelperProcess(t *testing.T) {
	mcptest.RunHelperProcess(t)
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// processAlive checks liveness with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, syscall.Signal(0)) == nil
}

func TestConnect_LaunchErrorPropagates(t *testing.T) {
	testutil.SetupTestHome(t)

	cfg := config.ServerConfig{Command: "/nonexistent/command/that/does/not/exist"}

	_, err := client.Connect(testCtx(t), cfg, nil)
	if err == nil {
		t.Fatal("expected launch error")
	}
	var launchErr *process.LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %T: %v", err, err)
	}
}

func TestConnect_HandshakeFailureKillsProcess(t *testing.T) {
	testutil.SetupTestHome(t)

	bus := events.NewBus()
	defer bus.Close()
	collector := testutil.NewEventCollector()
	bus.Subscribe(collector.Handler)

	cfg := mcptest.ServerConfig(t, mcptest.HandshakeErrorConfig())

	_, err := client.Connect(testCtx(t), cfg, bus)
	if err == nil {
		t.Fatal("expected handshake error")
	}
	var handshakeErr *mcp.HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("expected HandshakeError, got %T: %v", err, err)
	}

	// The launched process must be confirmed dead before Connect returns.
	pid := launchedPID(t, collector)
	if processAlive(pid) {
		t.Errorf("server process %d still alive after failed handshake", pid)
	}
}

func TestConnect_DiscoveryFailureKillsProcess(t *testing.T) {
	testutil.SetupTestHome(t)

	bus := events.NewBus()
	defer bus.Close()
	collector := testutil.NewEventCollector()
	bus.Subscribe(collector.Handler)

	cfg := mcptest.ServerConfig(t, mcptest.DiscoveryErrorConfig())

	_, err := client.Connect(testCtx(t), cfg, bus)
	if err == nil {
		t.Fatal("expected discovery error")
	}
	var rpcErr *mcp.RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError from tools/list, got %T: %v", err, err)
	}

	pid := launchedPID(t, collector)
	if processAlive(pid) {
		t.Errorf("server process %d still alive after failed discovery", pid)
	}
}

// launchedPID extracts the child PID from the error status event the failed
// connect published.
func launchedPID(t *testing.T, collector *testutil.EventCollector) int {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range collector.Events() {
			if se, ok := e.(events.StatusChangedEvent); ok && se.State == events.StateError && se.PID != 0 {
				return se.PID
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no error status event with a PID observed")
	return 0
}

func TestClient_EndToEndGreet(t *testing.T) {
	testutil.SetupTestHome(t)

	cfg := mcptest.ServerConfig(t, mcptest.GreetConfig())

	c, err := client.Connect(testCtx(t), cfg, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	name, version := c.ServerInfo()
	if name != "fake-server" || version != "1.0.0" {
		t.Errorf("unexpected server info %q %q", name, version)
	}

	tools := c.Tools()
	if len(tools) != 1 || tools[0].Name != "greet" {
		t.Fatalf("expected catalog with exactly greet, got %+v", tools)
	}
	if _, ok := c.Tool("greet"); !ok {
		t.Error("greet missing from catalog lookup")
	}

	result, err := c.CallTool(testCtx(t), "greet", json.RawMessage(`{"name":"Alice"}`))
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result.IsError {
		t.Error("unexpected isError")
	}
	if len(result.Content) != 1 || result.Content[0].Text != "Hello, Alice!" {
		t.Errorf("unexpected result: %+v", result.Content)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if c.Alive() {
		t.Error("expected process dead after Close")
	}
}

func TestClient_UnknownTool(t *testing.T) {
	testutil.SetupTestHome(t)

	cfg := mcptest.ServerConfig(t, mcptest.GreetConfig())

	c, err := client.Connect(testCtx(t), cfg, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	_, err = c.CallTool(testCtx(t), "no_such_tool", nil)
	var unknownErr *client.UnknownToolError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownToolError, got %T: %v", err, err)
	}
	if unknownErr.Name != "no_such_tool" {
		t.Errorf("unexpected name in error: %q", unknownErr.Name)
	}

	// The session stays usable.
	if _, err := c.CallTool(testCtx(t), "greet", json.RawMessage(`{"name":"Bob"}`)); err != nil {
		t.Errorf("session unusable after unknown tool: %v", err)
	}
}

func TestClient_CatalogSnapshot(t *testing.T) {
	testutil.SetupTestHome(t)

	cfg := mcptest.ServerConfig(t, mcptest.DefaultConfig())

	c, err := client.Connect(testCtx(t), cfg, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	tools := c.Tools()
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	// Mutating the snapshot must not affect the catalog.
	tools[0].Name = "mutated"
	if again := c.Tools(); again[0].Name == "mutated" {
		t.Error("catalog snapshot is not isolated from callers")
	}

	if err := c.RefreshTools(testCtx(t)); err != nil {
		t.Fatalf("RefreshTools failed: %v", err)
	}
	if again := c.Tools(); len(again) != 2 {
		t.Errorf("expected catalog rebuilt with 2 tools, got %d", len(again))
	}
}

func TestClient_CloseIdempotent(t *testing.T) {
	testutil.SetupTestHome(t)

	cfg := mcptest.ServerConfig(t, mcptest.DefaultConfig())

	c, err := client.Connect(testCtx(t), cfg, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := c.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if c.Alive() {
		t.Error("expected process dead")
	}

	// Calls after Close fail without touching the server.
	if _, err := c.CallTool(testCtx(t), "read_file", nil); !errors.Is(err, mcp.ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestClient_GracefulToForcedEscalation(t *testing.T) {
	if testing.Short() {
		t.Skip("escalation test waits out the full graceful shutdown timeout")
	}
	testutil.SetupTestHome(t)

	cfg := mcptest.ServerConfig(t, mcptest.StubbornConfig())

	c, err := client.Connect(testCtx(t), cfg, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	pid := c.PID()

	closed := make(chan struct{})
	start := time.Now()
	go func() {
		c.Close()
		close(closed)
	}()

	select {
	case <-closed:
	case <-time.After(process.GracefulShutdownTimeout + process.KillWaitTimeout + 2*time.Second):
		t.Fatal("Close hung on a SIGTERM-ignoring server")
	}

	if elapsed := time.Since(start); elapsed < process.GracefulShutdownTimeout {
		t.Errorf("Close returned in %v, before the graceful wait elapsed", elapsed)
	}
	if c.Alive() || processAlive(pid) {
		t.Error("expected stubborn process force-killed")
	}
}

func TestClient_ServerDeathSurfacesTransportError(t *testing.T) {
	testutil.SetupTestHome(t)

	fakeCfg := mcptest.DefaultConfig()
	fakeCfg.CrashOnMethod = "tools/call"
	fakeCfg.CrashExitCode = 7
	cfg := mcptest.ServerConfig(t, fakeCfg)

	c, err := client.Connect(testCtx(t), cfg, nil)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	_, err = c.CallTool(testCtx(t), "read_file", nil)
	var transportErr *mcp.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError after server crash, got %T: %v", err, err)
	}

	// Close after a crash must not hang or error.
	if err := c.Close(); err != nil {
		t.Errorf("Close after crash failed: %v", err)
	}
}
