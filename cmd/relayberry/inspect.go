package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/blockberries/relayberry/config"
	"github.com/blockberries/relayberry/events"
	"github.com/blockberries/relayberry/logging"
	"github.com/blockberries/relayberry/metrics"
	"github.com/blockberries/relayberry/node"
	"github.com/blockberries/relayberry/requests"
	"github.com/blockberries/relayberry/satp"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List stored relay records",
	Long: `List the records kept in the relay stores.

The relay must be stopped, since each store is opened exclusively.

Example:
  relayberry inspect requests
  relayberry inspect subscriptions --json`,
}

func init() {
	inspectCmd.PersistentFlags().BoolVar(&inspectJSON, "json", false, "output as JSON")
	inspectCmd.AddCommand(
		&cobra.Command{
			Use:   "requests",
			Short: "List view requests",
			Args:  cobra.NoArgs,
			RunE:  withStores(listRequests),
		},
		&cobra.Command{
			Use:   "subscriptions",
			Short: "List event subscriptions",
			Args:  cobra.NoArgs,
			RunE:  withStores(listSubscriptions),
		},
		&cobra.Command{
			Use:   "transfers",
			Short: "List asset transfer handshakes",
			Args:  cobra.NoArgs,
			RunE:  withStores(listTransfers),
		},
	)
}

func withStores(fn func(out io.Writer, s *node.Stores) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		stores, err := node.OpenStores(cfg.Store, logging.NewNopLogger(), metrics.NewNopMetrics())
		if err != nil {
			return fmt.Errorf("opening stores: %w", err)
		}
		defer stores.Close()
		return fn(cmd.OutOrStdout(), stores)
	}
}

func listRequests(out io.Writer, s *node.Stores) error {
	list, err := requests.New(s.Requests, s.RemoteRequests, nil, nil).List()
	if err != nil {
		return err
	}
	if inspectJSON {
		return encodeJSON(out, list)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST\tSTATUS\tERROR")
	for _, st := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", st.RequestID, st.Status, st.Error)
	}
	return w.Flush()
}

func listSubscriptions(out io.Writer, s *node.Stores) error {
	list, err := events.New(s.Events, s.RemoteEvents, nil, nil, nil).List()
	if err != nil {
		return err
	}
	if inspectJSON {
		return encodeJSON(out, list)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST\tSTATUS\tADDRESS\tMESSAGE")
	for _, st := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.RequestID, st.Status, st.Query.Address, st.Message)
	}
	return w.Flush()
}

func listTransfers(out io.Writer, s *node.Stores) error {
	engine := satp.New(s.SATP, nil, nil, nil, nil, nil)
	local, err := engine.LocalStates()
	if err != nil {
		return err
	}
	remote, err := engine.RemoteStates()
	if err != nil {
		return err
	}
	if inspectJSON {
		return encodeJSON(out, map[string]any{"local": local, "remote": remote})
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIDE\tSESSION\tSTATUS\tUPDATED\tMESSAGE")
	for _, st := range local {
		fmt.Fprintf(w, "local\t%s\t%s\t%s\t%s\n", st.SessionID, st.Status, st.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"), st.Message)
	}
	for _, st := range remote {
		fmt.Fprintf(w, "remote\t%s\t%s\t%s\t%s\n", st.SessionID, st.Status, st.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"), st.Message)
	}
	return w.Flush()
}

func encodeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
