// Package cli wires the cobra command tree for the valet binary.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/valetd/valet/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		" __     __    _      _\n" +
		" \\ \\   / /_ _| | ___| |_\n" +
		"  \\ \\ / / _` | |/ _ \\ __|\n" +
		"   \\ V / (_| | |  __/ |_\n" +
		"    \\_/ \\__,_|_|\\___|\\__|\n"
)

var rootCmd = &cobra.Command{
	Use:   "valet",
	Short: "Valet - autonomous personal assistant",
	Long:  color.CyanString(logo) + "\nAn LLM-driven assistant with tool execution, approval gating and task scheduling.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(taskCmd)
}

func printHeader(title string) {
	fmt.Println(color.CyanString(title))
	fmt.Println(color.CyanString("────────────────────────────"))
}
