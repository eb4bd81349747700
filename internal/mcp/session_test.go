package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Bigsy/mcptap/internal/mcptest"
	"github.com/Bigsy/mcptap/internal/mcptest/fakeserver"
)

// TestHelperProcess runs the fake MCP server when this test binary is
// re-exec'd by mcptest.
func TestHelperProcess(t *testing.T) {
	mcptest.RunHelperProcess(t)
}

// testPipe wires a client-side transport to an in-process fake server.
func testPipe() (serverIn io.ReadCloser, serverOut io.WriteCloser, clientIn io.WriteCloser, clientOut io.ReadCloser) {
	serverReader, clientWriter := io.Pipe()
	clientReader, serverWriter := io.Pipe()
	return serverReader, serverWriter, clientWriter, clientReader
}

func runFakeServer(ctx context.Context, serverIn io.Reader, serverOut io.Writer, cfg fakeserver.Config) chan error {
	done := make(chan error, 1)
	go func() {
		done <- fakeserver.Serve(ctx, serverIn, serverOut, cfg)
	}()
	return done
}

func newTestSession(t *testing.T, cfg fakeserver.Config) (*Session, chan error) {
	t.Helper()

	serverIn, serverOut, clientIn, clientOut := testPipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	serverDone := runFakeServer(ctx, serverIn, serverOut, cfg)
	session := NewSession(NewStdioTransport(clientIn, clientOut))
	t.Cleanup(func() { session.Close() })
	return session, serverDone
}

func TestSession_HappyPath(t *testing.T) {
	session, _ := newTestSession(t, fakeserver.Config{
		Tools: []fakeserver.Tool{
			{Name: "read_file", Description: "Read a file"},
			{Name: "write_file", Description: "Write a file"},
		},
		EchoToolCalls: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if got := session.State(); got != StateUnconnected {
		t.Fatalf("expected Unconnected before connect, got %s", got)
	}

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := session.State(); got != StateReady {
		t.Fatalf("expected Ready after connect, got %s", got)
	}

	name, version := session.ServerInfo()
	if name != "fake-server" || version != "1.0.0" {
		t.Errorf("unexpected server info %q %q", name, version)
	}
	if session.ProtocolVersion() == "" {
		t.Error("expected negotiated protocol version")
	}

	tools, err := session.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 2 || tools[0].Name != "read_file" {
		t.Errorf("unexpected tools: %+v", tools)
	}

	result, err := session.CallTool(ctx, "read_file", json.RawMessage(`{"path":"/tmp/x"}`))
	if err != nil {
		t.Fatalf("CallTool failed: %v", err)
	}
	if result.IsError {
		t.Error("unexpected isError")
	}
	if len(result.Content) != 1 || !strings.Contains(result.Content[0].Text, "read_file") {
		t.Errorf("unexpected result content: %+v", result.Content)
	}

	if err := session.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if got := session.State(); got != StateClosed {
		t.Errorf("expected Closed, got %s", got)
	}
}

func TestSession_CallBeforeConnect(t *testing.T) {
	session, _ := newTestSession(t, mcptest.DefaultConfig())

	ctx := context.Background()
	if _, err := session.ListTools(ctx); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if _, err := session.CallTool(ctx, "read_file", nil); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestSession_HandshakeErrorLeavesClosed(t *testing.T) {
	session, _ := newTestSession(t, mcptest.HandshakeErrorConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := session.Connect(ctx)
	if err == nil {
		t.Fatal("expected handshake error")
	}
	var handshakeErr *HandshakeError
	if !errors.As(err, &handshakeErr) {
		t.Fatalf("expected HandshakeError, got %T: %v", err, err)
	}
	if got := session.State(); got != StateClosed {
		t.Errorf("expected Closed after failed handshake, got %s", got)
	}

	// Closed is terminal: calls fail with ErrSessionClosed, no Ready state
	// was ever observable.
	if _, err := session.ListTools(ctx); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSession_NotificationBeforeResponse(t *testing.T) {
	cfg := mcptest.DefaultConfig()
	cfg.SendNotificationBeforeResponse = true
	session, _ := newTestSession(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tools, err := session.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools failed: %v", err)
	}
	if len(tools) != 2 {
		t.Errorf("expected 2 tools, got %d", len(tools))
	}
}

func TestSession_MismatchedIDFirst(t *testing.T) {
	cfg := mcptest.DefaultConfig()
	cfg.SendMismatchedIDFirst = true
	session, _ := newTestSession(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

func TestSession_OutOfOrderResponses(t *testing.T) {
	cfg := mcptest.DefaultConfig()
	cfg.ReverseToolCallPairs = true
	session, _ := newTestSession(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Two concurrent calls; the server answers them in reverse arrival
	// order. Each caller must still get the response carrying its own
	// arguments.
	var wg sync.WaitGroup
	results := make([]*ToolResult, 2)
	errs := make([]error, 2)
	args := []string{`{"which":"first"}`, `{"which":"second"}`}

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = session.CallTool(ctx, "read_file", json.RawMessage(args[i]))
		}(i)
		// Stagger sends so arrival order at the server is deterministic.
		time.Sleep(50 * time.Millisecond)
	}
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d failed: %v", i, errs[i])
		}
		want := []string{"first", "second"}[i]
		if !strings.Contains(results[i].Content[0].Text, want) {
			t.Errorf("call %d got the wrong response: %q", i, results[i].Content[0].Text)
		}
	}
}

func TestSession_CloseUnblocksPendingCall(t *testing.T) {
	cfg := mcptest.DefaultConfig()
	cfg.Delays = map[string]time.Duration{"tools/call": 2 * time.Second}
	session, _ := newTestSession(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	callErr := make(chan error, 1)
	go func() {
		_, err := session.CallTool(ctx, "read_file", nil)
		callErr <- err
	}()

	time.Sleep(100 * time.Millisecond)
	start := time.Now()
	session.Close()

	select {
	case err := <-callErr:
		if !errors.Is(err, ErrSessionClosed) {
			t.Errorf("expected ErrSessionClosed, got %v", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("pending call took %v to unblock after Close", elapsed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call not unblocked by Close")
	}
}

func TestSession_CloseIdempotent(t *testing.T) {
	session, _ := newTestSession(t, mcptest.DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("first Close failed: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestSession_CloseBeforeConnect(t *testing.T) {
	session, _ := newTestSession(t, mcptest.DefaultConfig())

	if err := session.Close(); err != nil {
		t.Errorf("Close before Connect failed: %v", err)
	}
	if got := session.State(); got != StateClosed {
		t.Errorf("expected Closed, got %s", got)
	}
}

func TestSession_ServerDeathFailsFast(t *testing.T) {
	// The server runs as a real subprocess and exits when tools/call
	// arrives, breaking the pipe mid-request.
	cfg := mcptest.DefaultConfig()
	cfg.CrashOnMethod = "tools/call"
	cfg.CrashExitCode = 3

	stdin, stdout, _ := mcptest.StartFakeServer(t, cfg)

	session := NewSession(NewStdioTransport(stdin, stdout))
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	_, err := session.CallTool(ctx, "read_file", nil)
	if err == nil {
		t.Fatal("expected error after server death")
	}
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %T: %v", err, err)
	}

	// Subsequent calls fail fast without touching the dead pipe.
	_, err = session.ListTools(ctx)
	if !errors.As(err, &transportErr) {
		t.Errorf("expected fail-fast TransportError, got %v", err)
	}
}

func TestSession_ServerReportedError(t *testing.T) {
	cfg := mcptest.DefaultConfig()
	cfg.Errors = map[string]mcptest.JSONRPCError{
		"tools/call": {Code: -32603, Message: "boom"},
	}
	session, _ := newTestSession(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	_, err := session.CallTool(ctx, "read_file", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != -32603 {
		t.Errorf("expected code -32603, got %d", rpcErr.Code)
	}

	// The session stays usable after a server-reported error.
	if _, err := session.ListTools(ctx); err != nil {
		t.Errorf("session unusable after RPC error: %v", err)
	}
}

func TestSession_CorrelationIDsNeverReused(t *testing.T) {
	session, _ := newTestSession(t, mcptest.DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	before := session.nextID.Load()
	for i := 0; i < 5; i++ {
		if _, err := session.ListTools(ctx); err != nil {
			t.Fatalf("ListTools failed: %v", err)
		}
	}
	after := session.nextID.Load()
	if after != before+5 {
		t.Errorf("expected 5 monotonically assigned ids, got %d -> %d", before, after)
	}
}
