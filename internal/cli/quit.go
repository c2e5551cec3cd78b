package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(quitCmd)
}

var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "Ask the daemon to leave the group gracefully (the process keeps running until signalled)",
	Args:  cobra.NoArgs,
	RunE:  runQuit,
}

func runQuit(cmd *cobra.Command, args []string) error {
	resp, err := http.Post(apiBase+"/quit", "application/json", nil)
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	fmt.Println("quitting")
	return nil
}
