package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/blockberries/relayberry/config"
)

var (
	initName     string
	initHostname string
	initPort     string
	initDataDir  string
	initBackend  string
	initOverride bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new relay",
	Long: `Initialize a new relay with a configuration file and data directory.

This command creates:
  - config.toml: Relay configuration
  - data/: One database per relay table

Example:
  relayberry init --name Fabric_Relay --port 9080`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initName, "name", "", "relay name (defaults to the hostname)")
	initCmd.Flags().StringVar(&initHostname, "hostname", "0.0.0.0", "address to serve on")
	initCmd.Flags().StringVar(&initPort, "port", "9080", "port to serve on")
	initCmd.Flags().StringVar(&initDataDir, "data-dir", ".", "directory for configuration and data")
	initCmd.Flags().StringVar(&initBackend, "backend", config.BackendLevelDB, "store backend (leveldb, badgerdb)")
	initCmd.Flags().BoolVar(&initOverride, "force", false, "override existing configuration")
}

func runInit(cmd *cobra.Command, args []string) error {
	dataDir := initDataDir
	if dataDir == "" {
		dataDir = "."
	}

	configPath := filepath.Join(dataDir, "config.toml")
	if _, err := os.Stat(configPath); err == nil && !initOverride {
		return fmt.Errorf("config.toml already exists; use --force to override")
	}

	name := initName
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "relay"
		} else {
			name = hostname
		}
	}

	cfg := config.DefaultConfig()
	cfg.Relay.Name = name
	cfg.Relay.Hostname = initHostname
	cfg.Relay.Port = initPort
	cfg.Store.Backend = initBackend
	cfg.Store.Dir = filepath.Join(dataDir, "data")

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if err := cfg.EnsureDataDirs(); err != nil {
		return err
	}
	if err := config.WriteConfigFile(configPath, cfg); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Initialized relay\n")
	fmt.Fprintf(out, "  Name:        %s\n", cfg.Relay.Name)
	fmt.Fprintf(out, "  Listen:      %s\n", cfg.Relay.ListenAddr())
	fmt.Fprintf(out, "  Backend:     %s\n", cfg.Store.Backend)
	fmt.Fprintf(out, "  Config:      %s\n", configPath)
	fmt.Fprintf(out, "  Data dir:    %s\n", cfg.Store.Dir)
	return nil
}
