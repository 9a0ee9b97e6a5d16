package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockberries/relayberry/node"
)

var (
	adminAddr  string
	statusJSON bool
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query the relay status",
	Long: `Query the status of a running relay via its admin endpoint.

The admin endpoint is served on the metrics listen address when metrics
are enabled.

Example:
  relayberry status
  relayberry status --addr http://localhost:9090 --json`,
	RunE: runStatus,
}

var retryCmd = &cobra.Command{
	Use:   "retry <key> <kind>",
	Short: "Retry a failed forwarding task",
	Long: `Restart a failed outbox task on a running relay.

Failed tasks and their kinds are listed by "relayberry status".

Example:
  relayberry retry 4f1c2a5e-7d0b-4f7e-9a53-0c1b8f6a2d11 request_state`,
	Args: cobra.ExactArgs(2),
	RunE: runRetry,
}

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, retryCmd} {
		cmd.Flags().StringVar(&adminAddr, "addr", "http://localhost:9090", "admin endpoint address")
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func adminClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func runStatus(cmd *cobra.Command, args []string) error {
	resp, err := adminClient().Get(strings.TrimRight(adminAddr, "/") + node.PathStatus)
	if err != nil {
		return fmt.Errorf("cannot connect to relay at %s: %w", adminAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	var status node.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decoding status: %w", err)
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	fmt.Fprintln(out, "Relay Status")
	fmt.Fprintln(out, "============")
	fmt.Fprintf(out, "Name:            %s\n", status.Relay)
	fmt.Fprintf(out, "Listen:          %s\n", status.ListenAddr)
	fmt.Fprintf(out, "Version:         %s\n", status.Version)
	fmt.Fprintf(out, "Running:         %v\n", status.Running)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Outbox")
	fmt.Fprintln(out, "------")
	fmt.Fprintf(out, "Tasks:           %d\n", status.Tasks)
	fmt.Fprintf(out, "Failed:          %d\n", len(status.FailedTasks))
	for _, task := range status.FailedTasks {
		fmt.Fprintf(out, "  %s %s (attempts %d, %s): %s\n",
			task.Kind, task.Key, task.Attempts, task.Updated.Format(time.RFC3339), task.Error)
	}
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("key", args[0])
	q.Set("kind", args[1])
	target := strings.TrimRight(adminAddr, "/") + node.PathTaskRetry + "?" + q.Encode()

	resp, err := adminClient().Post(target, "application/json", nil)
	if err != nil {
		return fmt.Errorf("cannot connect to relay at %s: %w", adminAddr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var body struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			return fmt.Errorf("retry rejected (status %d): %s", resp.StatusCode, body.Error)
		}
		return fmt.Errorf("retry rejected (status %d)", resp.StatusCode)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Retrying %s %s\n", args[1], args[0])
	return nil
}
