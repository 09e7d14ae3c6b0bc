package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the voxmail application
var rootCmd = &cobra.Command{
	Use:   "voxmail",
	Short: "Conversational email assistant backend",
	Long: `voxmail is the backend for a conversational email assistant. It connects
a chat model to a Gmail account so users can read, reply to, archive and
trash email, and manage per-sender filter rules, by talking.

It can run as:
  - An HTTP API server for a chat frontend (default)
  - An MCP (Model Context Protocol) server for AI assistants`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "voxmail version %s\n" .Version}}`)

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
