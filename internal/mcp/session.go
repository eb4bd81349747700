package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
)

// ClientName and ClientVersion identify this client in the initialize handshake.
const (
	ClientName    = "mcptap"
	ClientVersion = "0.1.0"
)

// SupportedProtocolVersions lists the MCP protocol versions we speak, in
// order of preference (newest first). Connect tries each until the server
// accepts one.
var SupportedProtocolVersions = []string{
	"2025-11-25", // current
	"2025-06-18",
	"2025-03-26",
	"2024-11-05", // legacy fallback
}

// State is the lifecycle state of a Session.
type State int32

const (
	StateUnconnected State = iota
	StateHandshaking
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session owns one logical MCP connection over a Transport. A dedicated read
// loop drains inbound messages and fulfills pending requests by correlation
// id, so responses may arrive in any order and independently of new sends.
//
// Correlation ids are assigned monotonically at send time and never reused
// within a session. Close is idempotent, fails every pending request with
// ErrSessionClosed, and is the only way to abort an in-flight call other
// than cancelling its context.
type Session struct {
	transport Transport
	nextID    atomic.Int64

	mu       sync.Mutex
	state    State
	pending  map[int64]chan rpcResult
	brokenBy error // transport failure seen by the read loop; later calls fail fast

	readLoopDone chan struct{}

	serverName      string
	serverVersion   string
	protocolVersion string
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// rpcResult is what the read loop (or Close) delivers to a waiting caller.
type rpcResult struct {
	resp rpcResponse
	err  error
}

type initializeParams struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ClientInfo      clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	Capabilities    any        `json:"capabilities"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsListResult struct {
	Tools []Tool `json:"tools"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// NewSession creates an unconnected session over the given transport.
func NewSession(transport Transport) *Session {
	return &Session{
		transport: transport,
		state:     StateUnconnected,
		pending:   make(map[int64]chan rpcResult),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ServerInfo returns the connected server's name and version.
func (s *Session) ServerInfo() (name, version string) {
	return s.serverName, s.serverVersion
}

// ProtocolVersion returns the negotiated protocol version.
func (s *Session) ProtocolVersion() string {
	return s.protocolVersion
}

// Connect performs the initialize handshake, trying each supported protocol
// version in order. On success the session is Ready. On any failure the
// session is closed before the HandshakeError is returned; no partial Ready
// state is ever observable.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUnconnected {
		state := s.state
		s.mu.Unlock()
		return &HandshakeError{Err: fmt.Errorf("connect in state %s", state)}
	}
	s.state = StateHandshaking
	s.readLoopDone = make(chan struct{})
	s.mu.Unlock()

	go s.readLoop()

	var lastErr error
	for _, version := range SupportedProtocolVersions {
		params := initializeParams{
			ProtocolVersion: version,
			Capabilities:    map[string]any{},
			ClientInfo:      clientInfo{Name: ClientName, Version: ClientVersion},
		}

		var result initializeResult
		err := s.call(ctx, "initialize", params, &result)
		if err != nil {
			if isProtocolVersionError(err) {
				lastErr = err
				continue
			}
			s.Close()
			return &HandshakeError{Err: err}
		}

		s.serverName = result.ServerInfo.Name
		s.serverVersion = result.ServerInfo.Version
		s.protocolVersion = version

		if err := s.notify(ctx, "notifications/initialized", nil); err != nil {
			s.Close()
			return &HandshakeError{Err: fmt.Errorf("initialized notification: %w", err)}
		}

		s.mu.Lock()
		if s.state != StateHandshaking {
			// Closed out from under us mid-handshake.
			s.mu.Unlock()
			return &HandshakeError{Err: ErrSessionClosed}
		}
		s.state = StateReady
		s.mu.Unlock()
		return nil
	}

	s.Close()
	if lastErr != nil {
		return &HandshakeError{Err: fmt.Errorf("all protocol versions rejected: %w", lastErr)}
	}
	return &HandshakeError{Err: fmt.Errorf("no protocol versions to try")}
}

// isProtocolVersionError checks if an error indicates a protocol version rejection.
func isProtocolVersionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "protocol") && strings.Contains(msg, "version") ||
		strings.Contains(msg, "protocolVersion") ||
		strings.Contains(msg, "unsupported version")
}

// ListTools retrieves the server's tool list. Valid only in Ready state.
func (s *Session) ListTools(ctx context.Context) ([]Tool, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := s.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool invokes a tool on the server and blocks until its correlated
// response arrives, the context is cancelled, or the session closes. The name
// is not validated against any catalog here; that is the caller's concern.
func (s *Session) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolResult, error) {
	if err := s.requireReady(); err != nil {
		return nil, err
	}
	params := toolCallParams{Name: name, Arguments: arguments}
	var result ToolResult
	if err := s.call(ctx, "tools/call", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Close fails all pending requests with ErrSessionClosed, releases the
// transport, and transitions to Closed. Idempotent; safe to call at any
// point, including before or during Connect.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	pending := s.pending
	s.pending = make(map[int64]chan rpcResult)
	readLoopDone := s.readLoopDone
	s.mu.Unlock()

	for _, ch := range pending {
		ch <- rpcResult{err: ErrSessionClosed}
	}

	err := s.transport.Close()

	// Closing the transport unblocks the read loop; wait for it to finish so
	// no goroutine outlives the session.
	if readLoopDone != nil {
		<-readLoopDone
	}
	return err
}

func (s *Session) requireReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return ErrSessionClosed
	default:
		return ErrNotReady
	}
}

// call sends one correlated request and waits for its response. Responses
// for other requests arriving first are routed to their own waiters by the
// read loop, never consumed here.
func (s *Session) call(ctx context.Context, method string, params any, out any) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.brokenBy != nil {
		err := s.brokenBy
		s.mu.Unlock()
		return &TransportError{Err: err}
	}
	id := s.nextID.Add(1)
	ch := make(chan rpcResult, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		s.removePending(id)
		return &ProtocolError{Method: method, Err: fmt.Errorf("marshal request: %w", err)}
	}

	if err := s.transport.Send(ctx, data); err != nil {
		s.removePending(id)
		return err
	}

	select {
	case <-ctx.Done():
		s.removePending(id)
		return ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if res.resp.Error != nil {
			return res.resp.Error
		}
		if out != nil && res.resp.Result != nil {
			if err := json.Unmarshal(res.resp.Result, out); err != nil {
				return &ProtocolError{Method: method, Err: fmt.Errorf("unmarshal result: %w", err)}
			}
		}
		return nil
	}
}

// notify sends a JSON-RPC notification; no response is expected or tracked.
func (s *Session) notify(ctx context.Context, method string, params any) error {
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return &ProtocolError{Method: method, Err: fmt.Errorf("marshal notification: %w", err)}
	}
	return s.transport.Send(ctx, data)
}

func (s *Session) removePending(id int64) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// readLoop drains inbound messages for the life of the session, matching
// responses to pending requests by correlation id. Notifications and
// responses with unknown ids are dropped. A receive error fails every
// pending request and marks the session broken so later calls fail fast.
func (s *Session) readLoop() {
	defer close(s.readLoopDone)

	for {
		data, err := s.transport.Receive(context.Background())
		if err != nil {
			s.failPending(err)
			return
		}

		var resp rpcResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			// Not a parseable message; servers that write log noise to
			// stdout violate the wire contract. Drop the line.
			if DebugLogging {
				log.Printf("mcp: dropping unparseable message: %v", err)
			}
			continue
		}

		if resp.ID == 0 {
			// Notification (or server-initiated request); not correlated.
			continue
		}

		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()

		if !ok {
			if DebugLogging {
				log.Printf("mcp: dropping response for unknown id %d", resp.ID)
			}
			continue
		}
		ch <- rpcResult{resp: resp}
	}
}

// failPending resolves every pending request after the transport broke.
func (s *Session) failPending(cause error) {
	s.mu.Lock()
	deliberate := s.state == StateClosed
	if !deliberate && s.brokenBy == nil {
		s.brokenBy = cause
	}
	pending := s.pending
	s.pending = make(map[int64]chan rpcResult)
	s.mu.Unlock()

	for _, ch := range pending {
		if deliberate {
			ch <- rpcResult{err: ErrSessionClosed}
		} else {
			ch <- rpcResult{err: &TransportError{Err: cause}}
		}
	}
}
