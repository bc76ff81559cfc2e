package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	_ = godotenv.Load()

	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// NewRootCommand builds the tokenctl command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tokenctl",
		Short: "Administer the storage token service",
		Long: `tokenctl administers the storage token service.

Configuration is read from the environment (and a .env file when present),
the same way the server reads it. Run "tokenctl env" for the full list.`,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewSweepCommand())
	rootCmd.AddCommand(NewIssueUploadCommand())
	rootCmd.AddCommand(NewIssueDownloadCommand())
	rootCmd.AddCommand(NewVerifyCallbackCommand())
	rootCmd.AddCommand(NewEnvCommand())

	return rootCmd
}
