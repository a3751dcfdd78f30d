package redis

import (
	"crypto/tls"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// TLSMode selects the connection's transport security (spec.md §4.8).
type TLSMode uint8

const (
	TLSDisabled TLSMode = iota
	TLSInsecure         // no certificate verification
	TLSEnabled
)

// Credentials carries AUTH/HELLO authentication material (spec.md §4.8).
type Credentials struct {
	Username string
	Password string
}

// RetryStrategy parameterizes the executor's backoff formula (spec.md
// §4.6): delay = random(0, factor * base^attempt), capped at MaxDelay.
type RetryStrategy struct {
	Factor      float64
	Base        float64
	MaxAttempts int
	MaxDelay    time.Duration
}

// DefaultRetryStrategy matches common client defaults observed across the
// pack's Redis clients (yiippee-go-redis-note's ClusterOptions.init
// defaults MaxRedirects to 8 with a millisecond-scale backoff floor).
var DefaultRetryStrategy = RetryStrategy{
	Factor:      1.0,
	Base:        2.0,
	MaxAttempts: 8,
	MaxDelay:    2 * time.Second,
}

// SubscriptionSpec pre-configures a channel/pattern/sharded subscription to
// be established (and re-established on every reconnect) automatically
// (spec.md §3, §4.7, §4.8).
type SubscriptionSpec struct {
	Kind            SubscriptionKind
	ChannelOrPattern string
}

// Config is the structured configuration object bindings build to
// construct a Client (spec.md §4.8). Invalid combinations are rejected at
// construction (spec.md §6).
type Config struct {
	Addresses []string

	TLSMode     TLSMode
	TLSConfig   *tls.Config // used only when TLSMode == TLSEnabled
	Credentials Credentials

	Protocol ProtocolVersion

	ClusterMode bool

	ClientName string
	DatabaseID int

	ReadFromStrategy ReadStrategy
	ClientAZ         string

	RequestTimeout     time.Duration
	ConnectionTimeout  time.Duration

	PeriodicTopologyCheckInterval time.Duration

	RetryStrategy RetryStrategy

	LazyConnect bool

	Subscriptions []SubscriptionSpec

	InflightLimitPerConnection int

	Logger *zap.Logger
}

// ProtocolVersion selects RESP2 or RESP3 (spec.md §4.8); negotiation falls
// back to RESP2 when the server rejects HELLO.
type ProtocolVersion uint8

const (
	Resp2 ProtocolVersion = 2
	Resp3 ProtocolVersion = 3
)

// defaultConfig fills in zero-value fields the way spec.md's §4.8 table
// implies ("Default is X"), mirroring the teacher's NewClient defaulting
// of a zero dial timeout to one second.
func defaultConfig(c Config) Config {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.ConnectionTimeout == 0 {
		c.ConnectionTimeout = time.Second
	}
	if c.RetryStrategy == (RetryStrategy{}) {
		c.RetryStrategy = DefaultRetryStrategy
	}
	if c.InflightLimitPerConnection == 0 {
		c.InflightLimitPerConnection = 128
	}
	if c.Protocol == 0 {
		c.Protocol = Resp3
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// validate rejects invalid configuration combinations at construction time
// (spec.md §6: "Invalid combinations (e.g., cluster_mode=true with
// database_id≠0) are rejected at client construction").
func (c Config) validate() error {
	if len(c.Addresses) == 0 {
		return newConfigError("at least one seed address is required")
	}
	if c.ClusterMode && c.DatabaseID != 0 {
		return newConfigError("cluster_mode=true is incompatible with a nonzero database_id")
	}
	if c.TLSMode == TLSEnabled && c.TLSConfig == nil {
		// an empty *tls.Config is fine; nil means the caller forgot to
		// set one up at all when requiring verification.
		return newConfigError("tls_mode=Enabled requires a TLSConfig")
	}
	if c.RetryStrategy.MaxAttempts < 0 {
		return newConfigError("retry_strategy.max_attempts must be >= 0")
	}
	for _, sub := range c.Subscriptions {
		if sub.ChannelOrPattern == "" {
			return newConfigError("subscription channel/pattern must not be empty")
		}
	}
	return nil
}

// fileConfig is the YAML-friendly mirror of Config used by LoadConfigFile;
// durations and enums are expressed as strings in the document.
type fileConfig struct {
	Addresses                     []string `yaml:"addresses"`
	TLSMode                       string   `yaml:"tls_mode"`
	Username                      string   `yaml:"username"`
	Password                      string   `yaml:"password"`
	Protocol                      int      `yaml:"protocol"`
	ClusterMode                   bool     `yaml:"cluster_mode"`
	ClientName                    string   `yaml:"client_name"`
	DatabaseID                    int      `yaml:"database_id"`
	ClientAZ                      string   `yaml:"client_az"`
	RequestTimeout                string   `yaml:"request_timeout"`
	ConnectionTimeout             string   `yaml:"connection_timeout"`
	PeriodicTopologyCheckInterval string   `yaml:"periodic_topology_check_interval"`
	LazyConnect                   bool     `yaml:"lazy_connect"`
	InflightLimitPerConnection    int      `yaml:"inflight_limit_per_connection"`
}

// LoadConfigFile reads a YAML configuration document into a Config. It
// exists for bindings and operator tooling that source configuration from
// a file rather than building a Config by hand in Go (spec.md §4.8 lists
// these as named options; this is the ambient on-disk representation of
// that same table, grounded on the pack's YAML-config repos — see
// SPEC_FULL.md's AMBIENT STACK section).
func LoadConfigFile(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, newConfigError("reading config file: %v", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, newConfigError("parsing config file: %v", err)
	}

	cfg := Config{
		Addresses:                  fc.Addresses,
		Credentials:                Credentials{Username: fc.Username, Password: fc.Password},
		Protocol:                   ProtocolVersion(fc.Protocol),
		ClusterMode:                fc.ClusterMode,
		ClientName:                 fc.ClientName,
		DatabaseID:                 fc.DatabaseID,
		ClientAZ:                   fc.ClientAZ,
		LazyConnect:                fc.LazyConnect,
		InflightLimitPerConnection: fc.InflightLimitPerConnection,
	}
	switch fc.TLSMode {
	case "insecure":
		cfg.TLSMode = TLSInsecure
	case "enabled":
		cfg.TLSMode = TLSEnabled
		cfg.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	default:
		cfg.TLSMode = TLSDisabled
	}
	if fc.RequestTimeout != "" {
		if d, err := time.ParseDuration(fc.RequestTimeout); err == nil {
			cfg.RequestTimeout = d
		}
	}
	if fc.ConnectionTimeout != "" {
		if d, err := time.ParseDuration(fc.ConnectionTimeout); err == nil {
			cfg.ConnectionTimeout = d
		}
	}
	if fc.PeriodicTopologyCheckInterval != "" {
		if d, err := time.ParseDuration(fc.PeriodicTopologyCheckInterval); err == nil {
			cfg.PeriodicTopologyCheckInterval = d
		}
	}
	return cfg, nil
}
