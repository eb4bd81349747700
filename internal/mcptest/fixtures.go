package mcptest

import "time"

// Common fake server configurations.

// DefaultConfig returns a minimal working fake server configuration.
func DefaultConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{
			{Name: "read_file", Description: "Read a file from disk"},
			{Name: "write_file", Description: "Write content to a file"},
		},
		EchoToolCalls: true,
	}
}

// GreetConfig returns a config with a single "greet" tool that replies
// "Hello, <name>!".
func GreetConfig() FakeServerConfig {
	return FakeServerConfig{
		Tools: []Tool{{
			Name:        "greet",
			Description: "Greet someone by name",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
				},
				"required": []string{"name"},
			},
		}},
		GreetTool: true,
	}
}

// EmptyToolsConfig returns a config with no tools.
func EmptyToolsConfig() FakeServerConfig {
	return FakeServerConfig{Tools: []Tool{}}
}

// SlowInitConfig returns a config that delays the initialize response.
func SlowInitConfig(delay time.Duration) FakeServerConfig {
	return FakeServerConfig{
		Tools:  []Tool{{Name: "test_tool"}},
		Delays: map[string]time.Duration{"initialize": delay},
	}
}

// HandshakeErrorConfig returns a config whose initialize fails.
func HandshakeErrorConfig() FakeServerConfig {
	return FakeServerConfig{
		Errors: map[string]JSONRPCError{
			"initialize": {Code: -32600, Message: "Invalid Request"},
		},
	}
}

// DiscoveryErrorConfig returns a config whose tools/list fails after a
// successful handshake.
func DiscoveryErrorConfig() FakeServerConfig {
	return FakeServerConfig{
		Errors: map[string]JSONRPCError{
			"tools/list": {Code: -32603, Message: "Internal error"},
		},
	}
}

// StubbornConfig returns a config whose subprocess ignores SIGTERM.
func StubbornConfig() FakeServerConfig {
	cfg := DefaultConfig()
	cfg.IgnoreSigterm = true
	return cfg
}
