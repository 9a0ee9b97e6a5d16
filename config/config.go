// Package config loads and validates the relay's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/blockberries/relayberry/types"
)

// Store backend names.
const (
	BackendLevelDB  = "leveldb"
	BackendBadgerDB = "badgerdb"
)

// Config is the main configuration for a relay.
type Config struct {
	Relay     RelayConfig                      `toml:"relay"`
	Networks  map[string]NetworkConfig         `toml:"networks"`
	Drivers   map[string]types.LocationSegment `toml:"drivers"`
	Relays    map[string]types.LocationSegment `toml:"relays"`
	Store     StoreConfig                      `toml:"store"`
	Transport TransportConfig                  `toml:"transport"`
	RPC       RPCConfig                        `toml:"rpc"`
	Metrics   MetricsConfig                    `toml:"metrics"`
	Logging   LoggingConfig                    `toml:"logging"`
	Tracing   TracingConfig                    `toml:"tracing"`
}

// RelayConfig is the identity and listen address of this relay.
type RelayConfig struct {
	// Name identifies this relay to its counterparts.
	Name string `toml:"name"`

	// Hostname and Port are the address to serve on.
	Hostname string `toml:"hostname"`
	Port     string `toml:"port"`

	// TLS serves with the certificate and key below.
	TLS      bool   `toml:"tls"`
	CertPath string `toml:"cert_path"`
	KeyPath  string `toml:"key_path"`
}

// ListenAddr returns the host:port to serve on.
func (c RelayConfig) ListenAddr() string {
	return c.Hostname + ":" + c.Port
}

// NetworkConfig names the driver serving a network.
type NetworkConfig struct {
	Driver string `toml:"driver"`
}

// StoreConfig contains durable store configuration.
type StoreConfig struct {
	// Backend is the storage backend to use ("leveldb" or "badgerdb").
	Backend string `toml:"backend"`

	// Dir holds one database per table unless Paths overrides it.
	Dir string `toml:"dir"`

	// Paths maps a table name to its database path.
	Paths map[string]string `toml:"paths"`

	// RetryCount bounds open attempts while the database is locked.
	RetryCount int `toml:"retry_count"`

	// RetryBackoff is the pause between open attempts.
	RetryBackoff Duration `toml:"retry_backoff"`

	// HoldOpen keeps one handle per table open for the process lifetime
	// instead of opening per operation.
	HoldOpen bool `toml:"hold_open"`
}

// Path returns the database path for table.
func (c StoreConfig) Path(table string) string {
	if p, ok := c.Paths[table]; ok && p != "" {
		return p
	}
	return filepath.Join(c.Dir, table)
}

// TransportConfig contains outbound call configuration.
type TransportConfig struct {
	// ForwardTimeout bounds one attempt of a detached forwarding task.
	ForwardTimeout Duration `toml:"forward_timeout"`

	// CallTimeout bounds a single outbound call.
	CallTimeout Duration `toml:"call_timeout"`

	// MaxMessageSize is the largest message sent or received, in bytes.
	MaxMessageSize int `toml:"max_message_size"`
}

// RPCConfig contains inbound server configuration.
type RPCConfig struct {
	MaxConcurrentStreams uint32          `toml:"max_concurrent_streams"`
	Auth                 AuthConfig      `toml:"auth"`
	RateLimit            RateLimitConfig `toml:"rate_limit"`
}

// AuthConfig contains API-key authentication configuration.
type AuthConfig struct {
	Enabled       bool     `toml:"enabled"`
	APIKeys       []string `toml:"api_keys"`
	PublicMethods []string `toml:"public_methods"`
}

// RateLimitConfig contains inbound rate limiting configuration.
type RateLimitConfig struct {
	Enabled       bool     `toml:"enabled"`
	GlobalRate    float64  `toml:"global_rate"`
	PerClientRate float64  `toml:"per_client_rate"`
	Burst         int      `toml:"burst"`
	IdleTimeout   Duration `toml:"idle_timeout"`
	MaxClients    int      `toml:"max_clients"`
	ExemptMethods []string `toml:"exempt_methods"`
}

// MetricsConfig contains metrics configuration.
type MetricsConfig struct {
	// Enabled determines whether metrics collection is active.
	Enabled bool `toml:"enabled"`

	// Namespace is the Prometheus metrics namespace prefix.
	Namespace string `toml:"namespace"`

	// ListenAddr is the address to serve metrics on (e.g., ":9090").
	ListenAddr string `toml:"listen_addr"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level ("debug", "info", "warn", "error").
	Level string `toml:"level"`

	// Format is the log output format ("text" or "json").
	Format string `toml:"format"`

	// Output is the log output destination ("stdout", "stderr", or a file path).
	Output string `toml:"output"`
}

// TracingConfig contains tracing configuration.
type TracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	ServiceName string  `toml:"service_name"`
	Exporter    string  `toml:"exporter"`
	Endpoint    string  `toml:"endpoint"`
	SampleRate  float64 `toml:"sample_rate"`
	Insecure    bool    `toml:"insecure"`
}

// Duration is a wrapper around time.Duration for TOML unmarshaling.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Relay: RelayConfig{
			Name:     "relay",
			Hostname: "0.0.0.0",
			Port:     "9080",
		},
		Networks: map[string]NetworkConfig{},
		Drivers:  map[string]types.LocationSegment{},
		Relays:   map[string]types.LocationSegment{},
		Store: StoreConfig{
			Backend:      BackendLevelDB,
			Dir:          "data",
			RetryCount:   500,
			RetryBackoff: Duration(10 * time.Millisecond),
		},
		Transport: TransportConfig{
			ForwardTimeout: Duration(30 * time.Second),
			CallTimeout:    Duration(10 * time.Second),
			MaxMessageSize: 4 * 1024 * 1024,
		},
		RPC: RPCConfig{
			MaxConcurrentStreams: 100,
			RateLimit: RateLimitConfig{
				GlobalRate:    1000,
				PerClientRate: 100,
				Burst:         50,
				IdleTimeout:   Duration(5 * time.Minute),
				MaxClients:    10000,
			},
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			Namespace:  "relayberry",
			ListenAddr: ":9090",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			ServiceName: "relayberry",
			Exporter:    "none",
			Endpoint:    "localhost:4317",
			SampleRate:  0.1,
			Insecure:    true,
		},
	}
}

// LoadConfig loads configuration from a TOML file.
// Missing values are filled with defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validation errors.
var (
	ErrEmptyRelayName           = errors.New("relay name cannot be empty")
	ErrEmptyHostname           = errors.New("hostname cannot be empty")
	ErrInvalidPort             = errors.New("port must be a number between 1 and 65535")
	ErrMissingTLSFiles         = errors.New("cert_path and key_path are required when tls is enabled")
	ErrEmptyDriverName         = errors.New("network driver cannot be empty")
	ErrUndefinedDriver         = errors.New("network names a driver that is not configured")
	ErrInvalidStoreBackend     = errors.New("store backend must be 'leveldb' or 'badgerdb'")
	ErrEmptyStoreDir           = errors.New("store dir cannot be empty")
	ErrInvalidRetryCount       = errors.New("store retry_count must be non-negative")
	ErrInvalidRetryBackoff     = errors.New("store retry_backoff must be non-negative")
	ErrInvalidForwardTimeout   = errors.New("transport forward_timeout must be positive")
	ErrInvalidCallTimeout      = errors.New("transport call_timeout must be positive")
	ErrInvalidMaxMessageSize   = errors.New("transport max_message_size must be positive")
	ErrNoAPIKeys               = errors.New("rpc auth requires at least one api key when enabled")
	ErrInvalidRateLimit        = errors.New("rpc rate limits and burst must be positive when enabled")
	ErrEmptyMetricsNamespace   = errors.New("metrics namespace cannot be empty when enabled")
	ErrEmptyMetricsListenAddr  = errors.New("metrics listen_addr cannot be empty when enabled")
	ErrInvalidLogLevel         = errors.New("log level must be one of: debug, info, warn, error")
	ErrInvalidLogFormat        = errors.New("log format must be 'text' or 'json'")
	ErrEmptyLogOutput          = errors.New("log output cannot be empty")
	ErrInvalidTracingExporter  = errors.New("tracing exporter must be one of: none, stdout, otlp-grpc, otlp-http, zipkin")
	ErrInvalidTracingSampleRate = errors.New("tracing sample_rate must be between 0 and 1")
)

// Directory lookup errors.
var (
	ErrUnknownRelay   = errors.New("unknown relay")
	ErrUnknownDriver  = errors.New("unknown driver")
	ErrUnknownNetwork = errors.New("unknown network")
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay config: %w", err)
	}
	for name, loc := range c.Drivers {
		if err := validateLocation(loc); err != nil {
			return fmt.Errorf("drivers.%s: %w", name, err)
		}
	}
	for name, loc := range c.Relays {
		if err := validateLocation(loc); err != nil {
			return fmt.Errorf("relays.%s: %w", name, err)
		}
	}
	for id, n := range c.Networks {
		if n.Driver == "" {
			return fmt.Errorf("networks.%s: %w", id, ErrEmptyDriverName)
		}
		if _, ok := c.Drivers[n.Driver]; !ok {
			return fmt.Errorf("networks.%s: %w: %q", id, ErrUndefinedDriver, n.Driver)
		}
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}
	if err := c.RPC.Validate(); err != nil {
		return fmt.Errorf("rpc config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config: %w", err)
	}
	return nil
}

// Validate checks the relay identity for errors.
func (c *RelayConfig) Validate() error {
	if c.Name == "" {
		return ErrEmptyRelayName
	}
	if c.Hostname == "" {
		return ErrEmptyHostname
	}
	if err := validatePort(c.Port); err != nil {
		return err
	}
	if c.TLS && (c.CertPath == "" || c.KeyPath == "") {
		return ErrMissingTLSFiles
	}
	return nil
}

func validateLocation(loc types.LocationSegment) error {
	if loc.Hostname == "" {
		return ErrEmptyHostname
	}
	return validatePort(loc.Port)
}

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidPort, port)
	}
	return nil
}

// Validate checks the store configuration for errors.
func (c *StoreConfig) Validate() error {
	if c.Backend != BackendLevelDB && c.Backend != BackendBadgerDB {
		return ErrInvalidStoreBackend
	}
	if c.Dir == "" {
		return ErrEmptyStoreDir
	}
	if c.RetryCount < 0 {
		return ErrInvalidRetryCount
	}
	if c.RetryBackoff.Duration() < 0 {
		return ErrInvalidRetryBackoff
	}
	return nil
}

// Validate checks the transport configuration for errors.
func (c *TransportConfig) Validate() error {
	if c.ForwardTimeout.Duration() <= 0 {
		return ErrInvalidForwardTimeout
	}
	if c.CallTimeout.Duration() <= 0 {
		return ErrInvalidCallTimeout
	}
	if c.MaxMessageSize <= 0 {
		return ErrInvalidMaxMessageSize
	}
	return nil
}

// Validate checks the rpc configuration for errors.
func (c *RPCConfig) Validate() error {
	if c.Auth.Enabled && len(c.Auth.APIKeys) == 0 {
		return ErrNoAPIKeys
	}
	if c.RateLimit.Enabled && (c.RateLimit.GlobalRate <= 0 || c.RateLimit.PerClientRate <= 0 || c.RateLimit.Burst <= 0) {
		return ErrInvalidRateLimit
	}
	return nil
}

// Validate checks the metrics configuration for errors.
func (c *MetricsConfig) Validate() error {
	if c.Enabled {
		if c.Namespace == "" {
			return ErrEmptyMetricsNamespace
		}
		if c.ListenAddr == "" {
			return ErrEmptyMetricsListenAddr
		}
	}
	return nil
}

// Validate checks the logging configuration for errors.
func (c *LoggingConfig) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}

	switch c.Format {
	case "text", "json":
	default:
		return ErrInvalidLogFormat
	}

	if c.Output == "" {
		return ErrEmptyLogOutput
	}
	return nil
}

// Validate checks the tracing configuration for errors.
func (c *TracingConfig) Validate() error {
	switch c.Exporter {
	case "none", "stdout", "otlp", "otlp-grpc", "otlp-http", "zipkin":
	default:
		return ErrInvalidTracingExporter
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return ErrInvalidTracingSampleRate
	}
	return nil
}

// Directory resolves relay, driver and network names against a Config.
type Directory struct {
	cfg *Config
}

// Directory returns a resolver over the configured relays, drivers and
// networks.
func (c *Config) Directory() *Directory {
	return &Directory{cfg: c}
}

// Relay returns the location of a counterpart relay.
func (d *Directory) Relay(name string) (types.LocationSegment, error) {
	loc, ok := d.cfg.Relays[name]
	if !ok {
		return types.LocationSegment{}, fmt.Errorf("%w: %w %q", types.ErrProtocol, ErrUnknownRelay, name)
	}
	return loc, nil
}

// Driver returns the location of a driver.
func (d *Directory) Driver(name string) (types.LocationSegment, error) {
	loc, ok := d.cfg.Drivers[name]
	if !ok {
		return types.LocationSegment{}, fmt.Errorf("%w: %w %q", types.ErrProtocol, ErrUnknownDriver, name)
	}
	return loc, nil
}

// NetworkDriver returns the location of the driver serving a network.
func (d *Directory) NetworkDriver(networkID string) (types.LocationSegment, error) {
	n, ok := d.cfg.Networks[networkID]
	if !ok {
		return types.LocationSegment{}, fmt.Errorf("%w: %w %q", types.ErrProtocol, ErrUnknownNetwork, networkID)
	}
	return d.Driver(n.Driver)
}

// ResolveLocation returns the configured relay entry at the same host and
// port as loc, so its TLS settings apply. Unknown locations are returned
// unchanged.
func (d *Directory) ResolveLocation(loc types.LocationSegment) types.LocationSegment {
	for _, r := range d.cfg.Relays {
		if r.Hostname == loc.Hostname && r.Port == loc.Port {
			return r
		}
	}
	return loc
}

// WriteConfigFile writes the configuration to a TOML file.
func WriteConfigFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return nil
}

// EnsureDataDirs creates the store directory and the parents of any
// per-table paths.
func (c *Config) EnsureDataDirs() error {
	dirs := []string{c.Store.Dir}
	for _, p := range c.Store.Paths {
		dirs = append(dirs, filepath.Dir(p))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return nil
}
