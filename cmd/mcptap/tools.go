package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcptap/internal/prompt"
)

var toolsCmd = &cobra.Command{
	Use:   "tools <command> [args...]",
	Short: "List the tools a server exposes",
	Long: `Launch the server, discover its tool catalog, print it, and shut the
server down.

Example:
  mcptap tools npx -y @modelcontextprotocol/server-filesystem /tmp`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := buildServerConfig(args)
	if err != nil {
		return err
	}

	c, err := connect(cmd, cfg, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	tools := c.Tools()
	if len(tools) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "server exposes no tools")
		return nil
	}
	for _, t := range tools {
		fmt.Fprintln(cmd.OutOrStdout(), prompt.RenderTool(t))
	}
	return nil
}
