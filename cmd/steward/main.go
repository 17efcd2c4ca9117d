package main

import (
	"fmt"
	"os"

	"github.com/ignatij/steward/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "steward",
	Short:         "Church administration workflows, tasks and notifications",
	SilenceErrors: true,
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
