// Package fakeserver is a configurable fake MCP server for testing. It
// speaks NDJSON-framed JSON-RPC over any reader/writer pair and can be run
// in-process or re-exec'd as a real subprocess via the mcptest helpers.
package fakeserver

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Config controls the fake server's behavior. It is JSON-serializable so it
// can cross a process boundary when the server runs as a subprocess.
type Config struct {
	// Tools to return from tools/list.
	Tools []Tool `json:"tools"`

	// Results returns canned responses for tools/call, keyed by tool name.
	// A tool with no entry falls back to EchoToolCalls behavior or a
	// method-not-found error.
	Results map[string]ToolCallResult `json:"results,omitempty"`

	// GreetTool makes tools/call on "greet" reply "Hello, <name>!" using the
	// string argument "name".
	GreetTool bool `json:"greetTool,omitempty"`

	// EchoToolCalls makes tools/call return the tool name and raw arguments
	// as a text block.
	EchoToolCalls bool `json:"echoToolCalls,omitempty"`

	// Per-method delays, for slow-response simulation. Keep these short
	// (10-50ms) in tests.
	Delays map[string]time.Duration `json:"delays,omitempty"`

	// Per-method forced JSON-RPC error responses.
	Errors map[string]JSONRPCError `json:"errors,omitempty"`

	// Crash behavior.
	CrashOnMethod     string `json:"crashOnMethod,omitempty"`
	CrashOnNthRequest int    `json:"crashOnNthRequest,omitempty"`
	CrashExitCode     int    `json:"crashExitCode,omitempty"`

	// IgnoreSigterm makes the subprocess helper swallow SIGTERM so graceful
	// termination never succeeds and callers must escalate to SIGKILL.
	IgnoreSigterm bool `json:"ignoreSigterm,omitempty"`

	// Malformed writes invalid JSON instead of responses.
	Malformed bool `json:"malformed,omitempty"`

	// Stream-realism options: exercise clients against interleaved traffic.
	SendNotificationBeforeResponse bool `json:"sendNotificationBeforeResponse,omitempty"`
	SendMismatchedIDFirst          bool `json:"sendMismatchedIDFirst,omitempty"`

	// ReverseToolCallPairs buffers tools/call requests and answers each pair
	// in reverse arrival order, for correlation tests.
	ReverseToolCallPairs bool `json:"reverseToolCallPairs,omitempty"`

	// ToolHandler handles tools/call in-process. Not serializable; subprocess
	// runs must use Results, GreetTool, or EchoToolCalls instead.
	ToolHandler ToolHandler `json:"-"`
}

// Tool mirrors the MCP tool declaration.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// JSONRPCError is a JSON-RPC 2.0 error object.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// InitializeResult is the handshake acknowledgement.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
	Capabilities    Capabilities `json:"capabilities"`
}

// ServerInfo identifies the fake server.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises what the fake server supports.
type Capabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability marks tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// ToolsListResult is the tools/list response body.
type ToolsListResult struct {
	Tools []Tool `json:"tools"`
}

// ToolCallParams is the tools/call request body.
type ToolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolCallResult is the tools/call response body.
type ToolCallResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock is one item of tool output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolHandler handles a tools/call in-process.
type ToolHandler func(name string, arguments json.RawMessage) ([]ContentBlock, bool, error)

// TextResult builds a single-text-block result, the common case for canned
// responses.
func TextResult(text string) ToolCallResult {
	return ToolCallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

// writeResponse writes a JSON-RPC response with NDJSON framing, preceded by
// any configured stream-realism noise.
func writeResponse(out io.Writer, id json.RawMessage, result any, cfg Config) error {
	writeNoise(out, cfg)

	resultJSON, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return writeLine(out, rpcResponse{JSONRPC: "2.0", ID: id, Result: resultJSON})
}

// writeErrorResponse writes a JSON-RPC error response with NDJSON framing.
func writeErrorResponse(out io.Writer, id json.RawMessage, rpcErr JSONRPCError, cfg Config) error {
	writeNoise(out, cfg)
	return writeLine(out, rpcResponse{JSONRPC: "2.0", ID: id, Error: &rpcErr})
}

func writeNoise(out io.Writer, cfg Config) {
	if cfg.SendNotificationBeforeResponse {
		_ = writeLine(out, rpcNotification{JSONRPC: "2.0", Method: "test/noise"})
	}
	if cfg.SendMismatchedIDFirst {
		_ = writeLine(out, rpcResponse{JSONRPC: "2.0", ID: json.RawMessage(`99999`), Result: json.RawMessage(`{}`)})
	}
}

func writeLine(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := out.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
