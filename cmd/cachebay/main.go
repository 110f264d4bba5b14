package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cachebay",
	Short: "cachebay — normalized GraphQL client cache engine CLI",
	Long:  "cachebay wires a Planner/Graph/Canonical/Optimistic/Documents cache engine behind a Client. Use this CLI to inspect and move SSR snapshots in and out of Redis.",
}

func init() {
	rootCmd.AddCommand(snapshotPullCmd)
	rootCmd.AddCommand(snapshotPushCmd)
	rootCmd.AddCommand(snapshotForgetCmd)
	rootCmd.AddCommand(inspectCmd)
}
