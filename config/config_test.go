package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/relayberry/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)

	// Relay defaults
	require.Equal(t, "relay", cfg.Relay.Name)
	require.Equal(t, "0.0.0.0:9080", cfg.Relay.ListenAddr())
	require.False(t, cfg.Relay.TLS)

	// Store defaults
	require.Equal(t, BackendLevelDB, cfg.Store.Backend)
	require.Equal(t, "data", cfg.Store.Dir)
	require.Equal(t, 500, cfg.Store.RetryCount)
	require.Equal(t, 10*time.Millisecond, cfg.Store.RetryBackoff.Duration())
	require.False(t, cfg.Store.HoldOpen)

	// Transport defaults
	require.Equal(t, 30*time.Second, cfg.Transport.ForwardTimeout.Duration())
	require.Equal(t, 10*time.Second, cfg.Transport.CallTimeout.Duration())

	// Ambient defaults
	require.False(t, cfg.RPC.Auth.Enabled)
	require.False(t, cfg.RPC.RateLimit.Enabled)
	require.Equal(t, "relayberry", cfg.Metrics.Namespace)
	require.Equal(t, "none", cfg.Tracing.Exporter)
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.NoError(t, err)
}

const fullConfig = `
[relay]
name = "Fabric_Relay"
hostname = "localhost"
port = "9080"

[networks.network1]
driver = "Fabric_Driver"

[drivers.Fabric_Driver]
hostname = "localhost"
port = "9090"

[relays.Corda_Relay]
hostname = "corda.example.com"
port = "9081"
tls = true
tls_ca_cert_path = "certs/corda-ca.pem"

[store]
backend = "badgerdb"
dir = "db"
retry_count = 20
retry_backoff = "50ms"
hold_open = true

[store.paths]
requests = "/var/lib/relay/requests"

[transport]
forward_timeout = "1m"
call_timeout = "5s"
max_message_size = 1048576

[rpc.auth]
enabled = true
api_keys = ["k1"]
public_methods = ["/satp.SATP/TransferCommence"]

[logging]
level = "debug"
format = "json"
output = "stdout"

[tracing]
enabled = true
exporter = "stdout"
sample_rate = 1.0
`

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(fullConfig), 0644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	require.Equal(t, "Fabric_Relay", cfg.Relay.Name)
	require.Equal(t, "localhost:9080", cfg.Relay.ListenAddr())
	require.Equal(t, "Fabric_Driver", cfg.Networks["network1"].Driver)
	require.Equal(t, types.LocationSegment{Hostname: "localhost", Port: "9090"}, cfg.Drivers["Fabric_Driver"])
	require.Equal(t, types.LocationSegment{
		Hostname:      "corda.example.com",
		Port:          "9081",
		TLS:           true,
		TLSCACertPath: "certs/corda-ca.pem",
	}, cfg.Relays["Corda_Relay"])

	require.Equal(t, BackendBadgerDB, cfg.Store.Backend)
	require.Equal(t, 20, cfg.Store.RetryCount)
	require.Equal(t, 50*time.Millisecond, cfg.Store.RetryBackoff.Duration())
	require.True(t, cfg.Store.HoldOpen)
	require.Equal(t, "/var/lib/relay/requests", cfg.Store.Path("requests"))
	require.Equal(t, filepath.Join("db", "events"), cfg.Store.Path("events"))

	require.Equal(t, time.Minute, cfg.Transport.ForwardTimeout.Duration())
	require.Equal(t, 5*time.Second, cfg.Transport.CallTimeout.Duration())
	require.Equal(t, 1048576, cfg.Transport.MaxMessageSize)

	require.True(t, cfg.RPC.Auth.Enabled)
	require.Equal(t, []string{"k1"}, cfg.RPC.Auth.APIKeys)
	require.Equal(t, "json", cfg.Logging.Format)
	require.True(t, cfg.Tracing.Enabled)
	require.Equal(t, 1.0, cfg.Tracing.SampleRate)
}

func TestLoadConfigPartial(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[relay]
name = "partial"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	require.Equal(t, "partial", cfg.Relay.Name)
	require.Equal(t, "9080", cfg.Relay.Port)
	require.Equal(t, BackendLevelDB, cfg.Store.Backend)
	require.Equal(t, 500, cfg.Store.RetryCount)
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := LoadConfig("/nonexistent/path/config.toml")
	require.Error(t, err)
}

func TestLoadConfigInvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid toml {{{{"), 0644))

	_, err := LoadConfig(configPath)
	require.Error(t, err)
}

func TestLoadConfigValidationError(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[networks.network1]
driver = "missing"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	_, err := LoadConfig(configPath)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUndefinedDriver)
}

func TestRelayConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     RelayConfig
		wantErr error
	}{
		{"valid", RelayConfig{Name: "r", Hostname: "localhost", Port: "9080"}, nil},
		{"empty name", RelayConfig{Hostname: "localhost", Port: "9080"}, ErrEmptyRelayName},
		{"empty hostname", RelayConfig{Name: "r", Port: "9080"}, ErrEmptyHostname},
		{"non-numeric port", RelayConfig{Name: "r", Hostname: "h", Port: "http"}, ErrInvalidPort},
		{"port out of range", RelayConfig{Name: "r", Hostname: "h", Port: "70000"}, ErrInvalidPort},
		{"tls without files", RelayConfig{Name: "r", Hostname: "h", Port: "1", TLS: true}, ErrMissingTLSFiles},
		{"tls with files", RelayConfig{Name: "r", Hostname: "h", Port: "1", TLS: true, CertPath: "c", KeyPath: "k"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"bad driver location", func(c *Config) { c.Drivers["d"] = types.LocationSegment{Hostname: "h"} }, ErrInvalidPort},
		{"bad relay location", func(c *Config) { c.Relays["r"] = types.LocationSegment{Port: "1"} }, ErrEmptyHostname},
		{"empty network driver", func(c *Config) { c.Networks["n"] = NetworkConfig{} }, ErrEmptyDriverName},
		{"store backend", func(c *Config) { c.Store.Backend = "rocksdb" }, ErrInvalidStoreBackend},
		{"store dir", func(c *Config) { c.Store.Dir = "" }, ErrEmptyStoreDir},
		{"retry count", func(c *Config) { c.Store.RetryCount = -1 }, ErrInvalidRetryCount},
		{"retry backoff", func(c *Config) { c.Store.RetryBackoff = Duration(-time.Second) }, ErrInvalidRetryBackoff},
		{"forward timeout", func(c *Config) { c.Transport.ForwardTimeout = 0 }, ErrInvalidForwardTimeout},
		{"call timeout", func(c *Config) { c.Transport.CallTimeout = 0 }, ErrInvalidCallTimeout},
		{"message size", func(c *Config) { c.Transport.MaxMessageSize = 0 }, ErrInvalidMaxMessageSize},
		{"auth without keys", func(c *Config) { c.RPC.Auth.Enabled = true }, ErrNoAPIKeys},
		{"rate limit", func(c *Config) { c.RPC.RateLimit.Enabled = true; c.RPC.RateLimit.Burst = 0 }, ErrInvalidRateLimit},
		{"metrics namespace", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Namespace = "" }, ErrEmptyMetricsNamespace},
		{"metrics listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddr = "" }, ErrEmptyMetricsListenAddr},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, ErrInvalidLogLevel},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, ErrInvalidLogFormat},
		{"log output", func(c *Config) { c.Logging.Output = "" }, ErrEmptyLogOutput},
		{"tracing exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, ErrInvalidTracingExporter},
		{"tracing sample rate", func(c *Config) { c.Tracing.SampleRate = 2 }, ErrInvalidTracingSampleRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			require.ErrorIs(t, cfg.Validate(), tt.wantErr)
		})
	}
}

func TestDirectory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Drivers["fabric"] = types.LocationSegment{Hostname: "localhost", Port: "9090"}
	cfg.Networks["network1"] = NetworkConfig{Driver: "fabric"}
	corda := types.LocationSegment{Hostname: "corda", Port: "9081", TLS: true, TLSCACertPath: "ca.pem"}
	cfg.Relays["Corda_Relay"] = corda
	dir := cfg.Directory()

	loc, err := dir.Relay("Corda_Relay")
	require.NoError(t, err)
	require.Equal(t, corda, loc)

	_, err = dir.Relay("nobody")
	require.ErrorIs(t, err, ErrUnknownRelay)
	require.ErrorIs(t, err, types.ErrProtocol)

	loc, err = dir.NetworkDriver("network1")
	require.NoError(t, err)
	require.Equal(t, "9090", loc.Port)

	_, err = dir.NetworkDriver("network2")
	require.ErrorIs(t, err, ErrUnknownNetwork)

	_, err = dir.Driver("corda")
	require.ErrorIs(t, err, ErrUnknownDriver)

	t.Run("resolve location", func(t *testing.T) {
		require.Equal(t, corda, dir.ResolveLocation(types.LocationSegment{Hostname: "corda", Port: "9081"}))

		other := types.LocationSegment{Hostname: "other", Port: "9081"}
		require.Equal(t, other, dir.ResolveLocation(other))
	})
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	require.Equal(t, 90*time.Second, d.Duration())

	text, err := d.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "1m30s", string(text))

	require.Error(t, d.UnmarshalText([]byte("soon")))
}

func TestWriteConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.toml")

	cfg := DefaultConfig()
	cfg.Relay.Name = "written"
	cfg.Relays["peer"] = types.LocationSegment{Hostname: "peer", Port: "9081"}
	require.NoError(t, WriteConfigFile(configPath, cfg))

	loaded, err := LoadConfig(configPath)
	require.NoError(t, err)
	require.Equal(t, "written", loaded.Relay.Name)
	require.Equal(t, cfg.Relays, loaded.Relays)
	require.Equal(t, cfg.Transport, loaded.Transport)
}

func TestEnsureDataDirs(t *testing.T) {
	tmpDir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Store.Dir = filepath.Join(tmpDir, "data")
	cfg.Store.Paths = map[string]string{"events": filepath.Join(tmpDir, "elsewhere", "events")}

	require.NoError(t, cfg.EnsureDataDirs())
	require.DirExists(t, cfg.Store.Dir)
	require.DirExists(t, filepath.Join(tmpDir, "elsewhere"))
}
