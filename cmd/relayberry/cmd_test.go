package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/relayberry/config"
)

func initRelay(t *testing.T, force bool) (string, error) {
	t.Helper()
	dir := t.TempDir()
	initName, initHostname, initPort = "relay-a", "localhost", "9080"
	initDataDir, initBackend, initOverride = dir, config.BackendLevelDB, force

	buf := &bytes.Buffer{}
	initCmd.SetOut(buf)
	if err := runInit(initCmd, nil); err != nil {
		return dir, err
	}
	return dir, nil
}

func TestInit_WritesLoadableConfig(t *testing.T) {
	dir, err := initRelay(t, false)
	require.NoError(t, err)

	cfg, err := config.LoadConfig(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	assert.Equal(t, "relay-a", cfg.Relay.Name)
	assert.Equal(t, "localhost:9080", cfg.Relay.ListenAddr())
	assert.Equal(t, filepath.Join(dir, "data"), cfg.Store.Dir)
	assert.DirExists(t, cfg.Store.Dir)
}

func TestInit_RefusesOverwrite(t *testing.T) {
	dir, err := initRelay(t, false)
	require.NoError(t, err)

	initDataDir, initOverride = dir, false
	err = runInit(initCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--force")

	initOverride = true
	require.NoError(t, runInit(initCmd, nil))
}

func TestInspect_EmptyStores(t *testing.T) {
	dir, err := initRelay(t, false)
	require.NoError(t, err)
	cfgFile = filepath.Join(dir, "config.toml")
	inspectJSON = false

	buf := &bytes.Buffer{}
	inspectCmd.SetOut(buf)
	require.NoError(t, withStores(listRequests)(inspectCmd, nil))
	assert.Contains(t, buf.String(), "REQUEST")

	buf.Reset()
	require.NoError(t, withStores(listTransfers)(inspectCmd, nil))
	assert.Contains(t, buf.String(), "SESSION")
}

func TestVersionCommand(t *testing.T) {
	buf := &bytes.Buffer{}
	versionCmd.SetOut(buf)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, buf.String(), "Relayberry "+Version)
}
