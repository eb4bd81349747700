package mcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
)

// DebugLogging enables verbose wire-level logging of sent and received messages.
var DebugLogging bool

// StdioTransport implements Transport over a subprocess's stdin/stdout pipes
// using NDJSON framing (one JSON message per line), the standard framing for
// MCP stdio servers. Reads never run ahead of the line being consumed.
type StdioTransport struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
	reader *bufio.Reader

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
}

// NewStdioTransport wraps the given pipe ends. stdin is the write side of the
// child's standard input; stdout is the read side of its standard output.
func NewStdioTransport(stdin io.WriteCloser, stdout io.ReadCloser) *StdioTransport {
	return &StdioTransport{
		stdin:  stdin,
		stdout: stdout,
		reader: bufio.NewReader(stdout),
	}
}

// Send writes one NDJSON-framed message. The message and its trailing newline
// go out as a single write so concurrent senders never interleave.
func (t *StdioTransport) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.isClosed() {
		return &TransportError{Err: fmt.Errorf("transport closed")}
	}

	if DebugLogging {
		log.Printf("mcp send: %s", msg)
	}

	framed := make([]byte, 0, len(msg)+1)
	framed = append(framed, msg...)
	framed = append(framed, '\n')

	t.writeMu.Lock()
	_, err := t.stdin.Write(framed)
	t.writeMu.Unlock()
	if err != nil {
		return &TransportError{Err: fmt.Errorf("write message: %w", err)}
	}
	return nil
}

type readResult struct {
	line []byte
	err  error
}

// Receive reads the next non-empty NDJSON line. Cancelling the context closes
// the underlying pipe to unblock the read; end-of-stream and broken pipes are
// reported as a TransportError.
func (t *StdioTransport) Receive(ctx context.Context) ([]byte, error) {
	if t.isClosed() {
		return nil, &TransportError{Err: fmt.Errorf("transport closed")}
	}

	resultCh := make(chan readResult, 1)
	go func() {
		for {
			line, err := t.reader.ReadBytes('\n')
			if err != nil {
				resultCh <- readResult{err: err}
				return
			}
			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}
			resultCh <- readResult{line: line}
			return
		}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, &TransportError{Err: fmt.Errorf("read message: %w", result.err)}
		}
		if DebugLogging {
			log.Printf("mcp recv: %s", result.line)
		}
		return result.line, nil

	case <-ctx.Done():
		// Unblock the reader goroutine; it exits on the read error.
		_ = t.stdout.Close()
		return nil, ctx.Err()
	}
}

// Close closes both pipe ends. Idempotent.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true

	var firstErr error
	if err := t.stdin.Close(); err != nil {
		firstErr = fmt.Errorf("close stdin: %w", err)
	}
	if err := t.stdout.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close stdout: %w", err)
	}
	return firstErr
}

func (t *StdioTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}
