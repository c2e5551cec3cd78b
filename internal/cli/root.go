// Package cli implements swimctl, the command-line client for a running
// swim daemon. Grounded on cli.agentCmd's init()-registered cobra.Command
// tree (NikeGunn-tutu), generalized from a single "agent" subtree into the
// daemon's full command surface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var apiBase string

var rootCmd = &cobra.Command{
	Use:   "swimctl",
	Short: "Control a running swim daemon",
	Long:  `swimctl talks to a swim daemon's introspection HTTP API to list members, probe a peer, or ask the daemon to leave the group.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiBase, "api", "http://127.0.0.1:7947", "base URL of the daemon's introspection API")
}

// Execute runs the command tree; it is cmd/swimd's sole entry point for
// the CLI binary mode.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
