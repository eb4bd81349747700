package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrSessionClosed resolves every request still pending when the session is
// closed, and fails any call made after that.
var ErrSessionClosed = errors.New("session closed")

// ErrNotReady is returned when a method call is attempted before the
// handshake has completed.
var ErrNotReady = errors.New("session not ready")

// HandshakeError indicates the initialize exchange failed or was
// incompatible. The session is closed when this is returned.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// TransportError indicates the underlying stream failed (process died, pipe
// broken). Once observed, every subsequent call on the session fails fast.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError indicates a malformed or unexpected response to a specific
// method. The session remains usable unless the transport is also broken.
type ProtocolError struct {
	Method string
	Err    error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %v", e.Method, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// RPCError is a JSON-RPC 2.0 error object reported by the server.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
