// Package client ties a server subprocess and its MCP session into one
// connection with ordered setup and guaranteed teardown.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Bigsy/mcptap/internal/config"
	"github.com/Bigsy/mcptap/internal/events"
	"github.com/Bigsy/mcptap/internal/mcp"
	"github.com/Bigsy/mcptap/internal/process"
)

// UnknownToolError is returned by CallTool for a name absent from the cached
// catalog. Detected locally; no request reaches the server.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// Client is the single object callers hold for one server connection. It owns
// the subprocess and the protocol session exclusively, caches the tool
// catalog, and guarantees both are torn down on Close regardless of how the
// connection got there. Use it under defer:
//
//	c, err := client.Connect(ctx, cfg, bus)
//	if err != nil { ... }
//	defer c.Close()
type Client struct {
	sessionID string
	cfg       config.ServerConfig
	bus       *events.Bus
	proc      *process.Proc
	session   *mcp.Session
	tracker   *process.PIDTracker

	mu      sync.Mutex
	closed  bool
	catalog map[string]mcp.Tool
}

// Connect launches the configured server, wires its pipes into a stdio
// transport, performs the MCP handshake, and discovers the tool catalog. If
// the launch fails the error propagates unchanged and nothing is left
// running. If any later step fails, the already-started process is killed and
// confirmed dead before the error is returned.
func Connect(ctx context.Context, cfg config.ServerConfig, bus *events.Bus) (*Client, error) {
	sessionID := uuid.NewString()

	if bus != nil {
		bus.Publish(events.NewStatusChangedEvent(sessionID, events.StateStarting, 0, nil, ""))
	}

	proc, err := process.Launch(cfg, bus, sessionID)
	if err != nil {
		if bus != nil {
			bus.Publish(events.NewStatusChangedEvent(sessionID, events.StateError, 0, nil, err.Error()))
		}
		return nil, err
	}

	tracker, err := process.NewPIDTracker()
	if err != nil {
		log.Printf("warning: PID tracking unavailable: %v", err)
		tracker = nil
	} else if err := tracker.Add(sessionID, proc.PID()); err != nil {
		log.Printf("warning: failed to track PID: %v", err)
	}

	c := &Client{
		sessionID: sessionID,
		cfg:       cfg,
		bus:       bus,
		proc:      proc,
		session:   mcp.NewSession(mcp.NewStdioTransport(proc.Stdin(), proc.Stdout())),
		tracker:   tracker,
	}

	if err := c.session.Connect(ctx); err != nil {
		c.abort(err)
		return nil, err
	}

	tools, err := c.session.ListTools(ctx)
	if err != nil {
		c.abort(err)
		return nil, err
	}
	c.replaceCatalog(tools)

	if bus != nil {
		bus.Publish(events.NewStatusChangedEvent(sessionID, events.StateRunning, proc.PID(), nil, ""))
	}
	return c, nil
}

// abort tears down a partially connected client: the session is closed and
// the process is force-killed with its exit confirmed, so a failed connect
// never leaks a child process.
func (c *Client) abort(cause error) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.session.Close()
	_ = c.proc.Kill()
	if err := c.proc.Wait(process.KillWaitTimeout); err != nil {
		log.Printf("warning: pid %d still alive after SIGKILL: %v", c.proc.PID(), err)
	}
	if c.tracker != nil {
		_ = c.tracker.Remove(c.sessionID)
	}
	if c.bus != nil {
		c.bus.Publish(events.NewStatusChangedEvent(c.sessionID, events.StateError, c.proc.PID(), c.proc.LastExit(), cause.Error()))
	}
}

// SessionID returns the unique id assigned to this connection.
func (c *Client) SessionID() string { return c.sessionID }

// PID returns the server process id.
func (c *Client) PID() int { return c.proc.PID() }

// Alive reports whether the server process is still running.
func (c *Client) Alive() bool { return c.proc.IsAlive() }

// Done returns a channel closed when the server process exits.
func (c *Client) Done() <-chan struct{} { return c.proc.Done() }

// Logs returns the server's captured stderr lines.
func (c *Client) Logs() []string { return c.proc.Logs() }

// ServerInfo returns the server's self-reported name and version.
func (c *Client) ServerInfo() (name, version string) { return c.session.ServerInfo() }

// ProtocolVersion returns the negotiated MCP protocol version.
func (c *Client) ProtocolVersion() string { return c.session.ProtocolVersion() }

// Tools returns a snapshot of the catalog sorted by name.
func (c *Client) Tools() []mcp.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	tools := make([]mcp.Tool, 0, len(c.catalog))
	for _, t := range c.catalog {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}

// Tool looks up one tool in the cached catalog.
func (c *Client) Tool(name string) (mcp.Tool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.catalog[name]
	return t, ok
}

// RefreshTools re-runs discovery and replaces the catalog wholesale.
func (c *Client) RefreshTools(ctx context.Context) error {
	tools, err := c.session.ListTools(ctx)
	if err != nil {
		return err
	}
	c.replaceCatalog(tools)
	return nil
}

func (c *Client) replaceCatalog(tools []mcp.Tool) {
	catalog := make(map[string]mcp.Tool, len(tools))
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		catalog[t.Name] = t
		names = append(names, t.Name)
	}
	sort.Strings(names)

	c.mu.Lock()
	c.catalog = catalog
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(events.NewToolsUpdatedEvent(c.sessionID, names))
	}
}

// CallTool looks the name up in the cached catalog and, if present, delegates
// to the session. An absent name fails with UnknownToolError before any
// transport I/O happens.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*mcp.ToolResult, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, mcp.ErrSessionClosed
	}
	_, known := c.catalog[name]
	c.mu.Unlock()

	if !known {
		return nil, &UnknownToolError{Name: name}
	}
	return c.session.CallTool(ctx, name, arguments)
}

// Close tears the connection down in order: protocol session first (failing
// any pending calls and releasing the pipes), then the process, SIGTERM with
// a bounded wait escalating to SIGKILL. Idempotent, never errors on an
// already-dead process, and safe even if Connect never completed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if c.bus != nil {
		c.bus.Publish(events.NewStatusChangedEvent(c.sessionID, events.StateStopping, c.proc.PID(), nil, ""))
	}

	c.session.Close()

	_ = c.proc.Terminate()
	if err := c.proc.Wait(process.GracefulShutdownTimeout); err != nil {
		_ = c.proc.Kill()
		if err := c.proc.Wait(process.KillWaitTimeout); err != nil {
			log.Printf("warning: pid %d still alive after SIGKILL: %v", c.proc.PID(), err)
		}
	}

	if c.tracker != nil {
		_ = c.tracker.Remove(c.sessionID)
	}
	return nil
}
