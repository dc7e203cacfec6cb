package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mcpgate/mcpgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print a sample configuration file",
	Long: `Print a sample mcpgate.yaml to stdout.

Redirect to a file to bootstrap a configuration:
  mcpgate config > mcpgate.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sample, err := config.Sample()
		if err != nil {
			return err
		}
		fmt.Print(string(sample))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
