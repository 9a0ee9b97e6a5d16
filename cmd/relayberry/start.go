package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockberries/relayberry/config"
	"github.com/blockberries/relayberry/node"
)

var shutdownTimeout time.Duration

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the relay",
	Long: `Start the relay with the specified configuration.

The relay runs until interrupted (Ctrl+C) or it receives a termination
signal. Forwarding tasks still running at shutdown get --shutdown-timeout
to finish.

Example:
  relayberry start --config config.toml`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for in-flight tasks at shutdown")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	n, err := node.NewNode(cfg, node.WithVersion(Version))
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := n.Run(ctx, shutdownTimeout); err != nil {
		return fmt.Errorf("running relay: %w", err)
	}
	return nil
}
