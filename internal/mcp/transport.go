// Package mcp implements the client side of the Model Context Protocol
// over a framed byte transport.
package mcp

import "context"

// Transport carries framed JSON-RPC messages in both directions. It
// guarantees ordered, lossless delivery for the lifetime of the underlying
// connection and reports a closed stream as an error rather than blocking
// forever.
type Transport interface {
	// Send writes one message.
	Send(ctx context.Context, msg []byte) error
	// Receive reads the next message.
	Receive(ctx context.Context) ([]byte, error)
	// Close releases both directions. Idempotent.
	Close() error
}

// Tool is a server-declared capability.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"inputSchema,omitempty"`
}

// ContentBlock is one item of tool-call output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ToolResult is the outcome of one tool invocation.
type ToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}
