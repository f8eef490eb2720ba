// Package config implements the core's YAML configuration: defaults,
// file loading, environment-variable expansion, and validation.
//
// Grounded on postalsys-Muti-Metroo/internal/config (Default/Load/
// Parse/Validate shape, ${VAR} environment expansion) merged with the
// teacher's defaultConfig() field set (API/control ports, multicast
// group, broadcast interval — renamed onto this domain's radio/direct/
// rendezvous transports and DHT/relay/outbox tuning).
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete core configuration.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Transport TransportConfig `yaml:"transport"`
	DHT       DHTConfig       `yaml:"dht"`
	Relay     RelayConfig     `yaml:"relay"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Gossip    GossipConfig    `yaml:"gossip"`
}

// NodeConfig covers identity storage and ambient logging.
type NodeConfig struct {
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// TransportConfig toggles and addresses the three C4 transport variants.
type TransportConfig struct {
	Direct     DirectConfig     `yaml:"direct"`
	Radio      RadioConfig      `yaml:"radio"`
	Rendezvous RendezvousConfig `yaml:"rendezvous"`
}

type DirectConfig struct {
	Enabled  bool `yaml:"enabled"`
	QUICPort int  `yaml:"quic_port"`
	WebRTCPort int `yaml:"webrtc_port"`
}

type RadioConfig struct {
	Enabled       bool   `yaml:"enabled"`
	MulticastAddr string `yaml:"multicast_addr"`
	Port          int    `yaml:"port"`
	Interface     string `yaml:"interface"`
}

type RendezvousConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// DHTConfig tunes C5/C6.
type DHTConfig struct {
	BucketSize        int           `yaml:"bucket_size"`
	ReplicationFactor int           `yaml:"replication_factor"`
	RecordTTL         time.Duration `yaml:"record_ttl"`
}

// RelayConfig tunes C8.
type RelayConfig struct {
	DefaultTTL      byte          `yaml:"default_ttl"`
	MaxTTL          byte          `yaml:"max_ttl"`
	SeenCacheSize   int           `yaml:"seen_cache_size"`
	SeenCacheRetain time.Duration `yaml:"seen_cache_retain"`
}

// OutboxConfig tunes C9.
type OutboxConfig struct {
	MaxStored  int `yaml:"max_stored"`
	MaxRetries int `yaml:"max_retries"`
}

// GossipConfig tunes C7.
type GossipConfig struct {
	AnnounceInterval time.Duration `yaml:"announce_interval"`
	BootstrapPeers   []string      `yaml:"bootstrap_peers"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir:   "./data",
			LogLevel:  "info",
			LogFormat: "text",
		},
		Transport: TransportConfig{
			Direct: DirectConfig{
				Enabled:    true,
				QUICPort:   4003,
				WebRTCPort: 4004,
			},
			Radio: RadioConfig{
				Enabled:       false,
				MulticastAddr: "239.255.255.250",
				Port:          35888,
			},
			Rendezvous: RendezvousConfig{
				Enabled: false,
			},
		},
		DHT: DHTConfig{
			BucketSize:        20,
			ReplicationFactor: 3,
			RecordTTL:         24 * time.Hour,
		},
		Relay: RelayConfig{
			DefaultTTL:      10,
			MaxTTL:          64,
			SeenCacheSize:   8192,
			SeenCacheRetain: 10 * time.Minute,
		},
		Outbox: OutboxConfig{
			MaxStored:  100,
			MaxRetries: 3,
		},
		Gossip: GossipConfig{
			AnnounceInterval: 30 * time.Second,
		},
	}
}

// Load reads and parses a YAML configuration file, applying defaults for
// anything the file doesn't set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML bytes over the default configuration, expanding
// ${VAR}/$VAR environment references first.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch format {
	case "text", "json":
		return true
	default:
		return false
	}
}

// Validate checks field-level invariants the core relies on.
func (c *Config) Validate() error {
	if !isValidLogLevel(c.Node.LogLevel) {
		return fmt.Errorf("invalid log level %q", c.Node.LogLevel)
	}
	if !isValidLogFormat(c.Node.LogFormat) {
		return fmt.Errorf("invalid log format %q", c.Node.LogFormat)
	}
	if !c.Transport.Direct.Enabled && !c.Transport.Radio.Enabled && !c.Transport.Rendezvous.Enabled {
		return fmt.Errorf("at least one transport must be enabled")
	}
	if c.DHT.BucketSize <= 0 {
		return fmt.Errorf("dht.bucket_size must be positive")
	}
	if c.DHT.ReplicationFactor <= 0 {
		return fmt.Errorf("dht.replication_factor must be positive")
	}
	if c.Relay.MaxTTL == 0 {
		return fmt.Errorf("relay.max_ttl must be positive")
	}
	if c.Relay.DefaultTTL == 0 || c.Relay.DefaultTTL > c.Relay.MaxTTL {
		return fmt.Errorf("relay.default_ttl must be positive and at most relay.max_ttl")
	}
	if c.Outbox.MaxStored <= 0 {
		return fmt.Errorf("outbox.max_stored must be positive")
	}
	if c.Transport.Rendezvous.Enabled && c.Transport.Rendezvous.Endpoint == "" {
		return fmt.Errorf("transport.rendezvous.endpoint is required when rendezvous is enabled")
	}
	return nil
}

// String renders the config as YAML for diagnostics.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}
