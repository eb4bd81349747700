// Package config defines the launch descriptor for an MCP server subprocess.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoCommand is returned by Validate when no executable was given.
var ErrNoCommand = errors.New("no command specified")

// ServerConfig describes how to launch an MCP server over stdio.
// Field names are compatible with the mcpServers JSON format for easy copy/paste.
// A ServerConfig is immutable once passed to a connect call.
type ServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Validate checks that the config names an executable.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return ErrNoCommand
	}
	return nil
}

// String renders the config as a shell-like command line for log output.
func (c ServerConfig) String() string {
	if len(c.Args) == 0 {
		return c.Command
	}
	return c.Command + " " + strings.Join(c.Args, " ")
}

// ParseEnv parses KEY=VALUE pairs (as passed on the command line) into an
// env overlay map. Later entries win on duplicate keys.
func ParseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid env entry %q (want KEY=VALUE)", pair)
		}
		env[key] = value
	}
	return env, nil
}
