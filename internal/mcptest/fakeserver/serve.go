package fakeserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// Serve runs the fake MCP server, reading requests from in and writing
// responses to out, until the input stream ends or the context is cancelled.
func Serve(ctx context.Context, in io.Reader, out io.Writer, cfg Config) error {
	reader := bufio.NewReader(in)
	requestCount := 0

	// Held tools/call response for ReverseToolCallPairs mode.
	var held *heldResponse

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			return err
		}

		requestCount++

		if cfg.CrashOnNthRequest > 0 && requestCount >= cfg.CrashOnNthRequest {
			os.Exit(cfg.CrashExitCode)
		}
		if cfg.CrashOnMethod != "" && req.Method == cfg.CrashOnMethod {
			os.Exit(cfg.CrashExitCode)
		}

		if delay, ok := cfg.Delays[req.Method]; ok {
			time.Sleep(delay)
		}

		if cfg.Malformed {
			fmt.Fprintln(out, "this is not valid json")
			continue
		}

		if rpcErr, ok := cfg.Errors[req.Method]; ok {
			writeErrorResponse(out, req.ID, rpcErr, cfg)
			continue
		}

		switch req.Method {
		case "initialize":
			writeResponse(out, req.ID, InitializeResult{
				ProtocolVersion: "2025-11-25",
				ServerInfo:      ServerInfo{Name: "fake-server", Version: "1.0.0"},
				Capabilities:    Capabilities{Tools: &ToolsCapability{}},
			}, cfg)

		case "tools/list":
			tools := cfg.Tools
			if tools == nil {
				tools = []Tool{}
			}
			writeResponse(out, req.ID, ToolsListResult{Tools: tools}, cfg)

		case "tools/call":
			result, rpcErr := handleToolCall(req.Params, cfg)

			if cfg.ReverseToolCallPairs {
				if held == nil {
					held = &heldResponse{id: req.ID, result: result, err: rpcErr}
					continue
				}
				// Answer the newer request first, then the held one.
				writeHeld(out, &heldResponse{id: req.ID, result: result, err: rpcErr}, cfg)
				writeHeld(out, held, cfg)
				held = nil
				continue
			}

			writeHeld(out, &heldResponse{id: req.ID, result: result, err: rpcErr}, cfg)

		case "notifications/initialized":
			// Notification; no response.

		default:
			writeErrorResponse(out, req.ID, JSONRPCError{
				Code: -32601, Message: "Method not found",
			}, cfg)
		}
	}
}

type heldResponse struct {
	id     json.RawMessage
	result *ToolCallResult
	err    *JSONRPCError
}

func writeHeld(out io.Writer, h *heldResponse, cfg Config) {
	if h.err != nil {
		writeErrorResponse(out, h.id, *h.err, cfg)
		return
	}
	writeResponse(out, h.id, h.result, cfg)
}

// handleToolCall resolves a tools/call request against the configured
// behaviors, in order: custom handler, canned results, greet tool, echo.
func handleToolCall(params json.RawMessage, cfg Config) (*ToolCallResult, *JSONRPCError) {
	var call ToolCallParams
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, &JSONRPCError{Code: -32602, Message: "Invalid params: " + err.Error()}
	}

	if cfg.ToolHandler != nil {
		content, isError, err := cfg.ToolHandler(call.Name, call.Arguments)
		if err != nil {
			return nil, &JSONRPCError{Code: -32603, Message: err.Error()}
		}
		return &ToolCallResult{Content: content, IsError: isError}, nil
	}

	if result, ok := cfg.Results[call.Name]; ok {
		return &result, nil
	}

	if cfg.GreetTool && call.Name == "greet" {
		var args struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(call.Arguments, &args); err != nil || args.Name == "" {
			return &ToolCallResult{
				Content: []ContentBlock{{Type: "text", Text: "missing required argument: name"}},
				IsError: true,
			}, nil
		}
		r := TextResult(fmt.Sprintf("Hello, %s!", args.Name))
		return &r, nil
	}

	if cfg.EchoToolCalls {
		r := TextResult(fmt.Sprintf("%s(%s)", call.Name, call.Arguments))
		return &r, nil
	}

	return nil, &JSONRPCError{Code: -32602, Message: "Unknown tool: " + call.Name}
}
