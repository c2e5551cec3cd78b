package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(probeCmd)
}

var probeCmd = &cobra.Command{
	Use:   "probe ADDR",
	Short: "Ask the daemon to ping a peer address directly",
	Args:  cobra.ExactArgs(1),
	RunE:  runProbe,
}

func runProbe(cmd *cobra.Command, args []string) error {
	body, err := json.Marshal(map[string]string{"addr": args[0]})
	if err != nil {
		return err
	}
	resp, err := http.Post(apiBase+"/probe", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("contact daemon: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("daemon returned %s", resp.Status)
	}
	fmt.Printf("probing %s\n", args[0])
	return nil
}
