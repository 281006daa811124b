package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "onyxctl",
	Short: "Service orchestration core CLI",
	Long: `onyxctl drives activation and deactivation of declaratively-described
services on top of an external process-supervision daemon.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().String("repo", "", "service repository root (defaults to $AA_REPO)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
