// Package cmd provides the CLI commands for mcpgate.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpgate/mcpgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcpgate",
	Short: "mcpgate - HTTP gateway for stdio MCP servers",
	Long: `mcpgate exposes a local MCP server speaking JSON-RPC over stdio to
remote HTTP clients. It spawns the server as a subprocess and bridges its
stdin/stdout to a single HTTP endpoint serving JSON responses and SSE
streams, multiplexing any number of client sessions over the one process.

Quick start:
  mcpgate start -- npx -y @modelcontextprotocol/server-everything

Configuration:
  Config is loaded from mcpgate.yaml in the current directory,
  $HOME/.mcpgate/, or /etc/mcpgate/.

  Environment variables can override config values with the MCPGATE_ prefix.
  Example: MCPGATE_SERVER_PORT=8080

Commands:
  start       Start the gateway
  config      Print a sample configuration file
  version     Print version information`,
}

// Execute runs the root command. The process exit status mirrors the
// child's exit code when the child is what brought the gateway down.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var exitErr *childExitError
	if errors.As(err, &exitErr) {
		return exitErr.code
	}
	return 1
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcpgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
