package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/Bigsy/mcptap/internal/client"
	"github.com/Bigsy/mcptap/internal/config"
	"github.com/Bigsy/mcptap/internal/events"
	"github.com/Bigsy/mcptap/internal/mcp"
	"github.com/Bigsy/mcptap/internal/prompt"
)

// connectTimeout bounds launch + handshake + discovery. Individual tool calls
// have no timeout; closing the client is the escape hatch.
const connectTimeout = 30 * time.Second

// connect establishes a client connection with a bounded setup phase.
func connect(cmd *cobra.Command, cfg config.ServerConfig, bus *events.Bus) (*client.Client, error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
	defer cancel()
	return client.Connect(ctx, cfg, bus)
}

// runInteractive connects to the server and loops: pick a tool, prompt for
// its arguments, invoke it, render the result. Quit and ctrl-c exit cleanly.
func runInteractive(cmd *cobra.Command, cfg config.ServerConfig) error {
	bus := events.NewBus()
	defer bus.Close()

	if rootDebug {
		bus.Subscribe(func(e events.Event) {
			if le, ok := e.(events.LogReceivedEvent); ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "server: %s\n", le.Line)
			}
		})
	}

	c, err := connect(cmd, cfg, bus)
	if err != nil {
		return err
	}
	defer c.Close()

	name, serverVersion := c.ServerInfo()
	fmt.Fprintf(cmd.OutOrStdout(), "connected to %s %s (protocol %s, pid %d)\n",
		name, serverVersion, c.ProtocolVersion(), c.PID())

	tools := c.Tools()
	if len(tools) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "server exposes no tools")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d tool(s) available\n\n", len(tools))

	out := cmd.OutOrStdout()
	for {
		select {
		case <-c.Done():
			return fmt.Errorf("server process exited unexpectedly")
		default:
		}

		toolName, err := prompt.SelectTool(c.Tools())
		if err != nil {
			if errors.Is(err, huh.ErrUserAborted) {
				return nil
			}
			return err
		}
		if toolName == "" {
			return nil
		}

		tool, ok := c.Tool(toolName)
		if !ok {
			continue
		}

		arguments, err := prompt.CollectArguments(tool)
		if err != nil {
			var unsupported *prompt.UnsupportedTypeError
			if errors.As(err, &unsupported) {
				fmt.Fprintln(out, unsupported.Error())
				continue
			}
			if errors.Is(err, huh.ErrUserAborted) {
				continue
			}
			return err
		}

		result, err := c.CallTool(cmd.Context(), toolName, arguments)
		if err != nil {
			if recoverable(err) {
				fmt.Fprintf(out, "call failed: %v\n", err)
				continue
			}
			return err
		}
		fmt.Fprintln(out, prompt.RenderResult(result))
	}
}

// recoverable reports whether a call error leaves the session usable.
// Server-reported and malformed-response errors do; a dead transport or
// closed session does not.
func recoverable(err error) bool {
	var rpcErr *mcp.RPCError
	var protoErr *mcp.ProtocolError
	var unknownErr *client.UnknownToolError
	return errors.As(err, &rpcErr) || errors.As(err, &protoErr) || errors.As(err, &unknownErr)
}
