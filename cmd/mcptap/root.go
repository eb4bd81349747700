package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/Bigsy/mcptap/internal/config"
	"github.com/Bigsy/mcptap/internal/mcp"
	"github.com/Bigsy/mcptap/internal/process"
)

// Version information (set at build time via ldflags)
var (
	version = "dev"
	commit  = "unknown"
)

var (
	rootEnv   []string
	rootDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "mcptap <command> [args...]",
	Short: "Interactive MCP client for stdio servers",
	Long: `mcptap launches an MCP server as a subprocess, discovers the tools it
exposes, and lets you invoke them interactively.

The positional arguments name the server executable and its arguments:

  mcptap npx -y @modelcontextprotocol/server-filesystem /tmp

Running without arguments prints this help.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	Args:    cobra.ArbitraryArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if rootDebug {
			mcp.DebugLogging = true
		}
		cleanupOrphans()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		cfg, err := buildServerConfig(args)
		if err != nil {
			return err
		}
		return runInteractive(cmd, cfg)
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Suppress errors from being printed twice
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	// Flags stop at the first positional so server arguments pass through
	// untouched: mcptap npx --yes server-pkg
	rootCmd.Flags().SetInterspersed(false)

	rootCmd.PersistentFlags().StringArrayVar(&rootEnv, "env", nil, "Extra environment for the server (KEY=VALUE, repeatable)")
	rootCmd.PersistentFlags().BoolVar(&rootDebug, "debug", false, "Log wire-level protocol traffic to stderr")
}

// buildServerConfig turns the positional arguments and --env flags into a
// launch descriptor.
func buildServerConfig(args []string) (config.ServerConfig, error) {
	env, err := config.ParseEnv(rootEnv)
	if err != nil {
		return config.ServerConfig{}, err
	}
	return config.ServerConfig{
		Command: args[0],
		Args:    args[1:],
		Env:     env,
	}, nil
}

// cleanupOrphans kills any server processes left behind by a previous run.
func cleanupOrphans() {
	tracker, err := process.NewPIDTracker()
	if err != nil {
		log.Printf("warning: PID tracking unavailable: %v", err)
		return
	}
	if killed := tracker.CleanupOrphans(); killed > 0 {
		log.Printf("cleaned up %d orphan process(es)", killed)
	}
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
