package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcptap/internal/prompt"
)

var callArguments string

var callCmd = &cobra.Command{
	Use:   "call <tool> <command> [args...]",
	Short: "Invoke one tool and print its result",
	Long: `Launch the server, call a single tool with JSON arguments, print the
result, and shut the server down. Exits non-zero if the tool reports an error.

Server flags go after a -- separator:
  mcptap call greet --args '{"name":"Alice"}' -- ./echo-server --port 3`,
	Args: cobra.MinimumNArgs(2),
	RunE: runCall,
}

func init() {
	callCmd.Flags().StringVar(&callArguments, "args", "{}", "Tool arguments as a JSON object")
	rootCmd.AddCommand(callCmd)
}

func runCall(cmd *cobra.Command, args []string) error {
	toolName := args[0]

	if !json.Valid([]byte(callArguments)) {
		return fmt.Errorf("--args is not valid JSON: %s", callArguments)
	}

	cfg, err := buildServerConfig(args[1:])
	if err != nil {
		return err
	}

	c, err := connect(cmd, cfg, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	result, err := c.CallTool(cmd.Context(), toolName, json.RawMessage(callArguments))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), prompt.RenderResult(result))
	if result.IsError {
		return fmt.Errorf("tool %s reported an error", toolName)
	}
	return nil
}
