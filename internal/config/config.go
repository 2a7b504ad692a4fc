// Package config defines the node configuration struct and the viper
// layering (defaults -> config file -> environment -> flags) that
// populates it (spec.md §6's recognized options).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a mini-dynamo node.
type Config struct {
	NodeID     string   `mapstructure:"node_id"`
	Address    string   `mapstructure:"address"`
	Port       int      `mapstructure:"port"`
	GossipPort int      `mapstructure:"gossip_port"`
	DataDir    string   `mapstructure:"data_dir"`
	SeedNodes  []string `mapstructure:"seed_nodes"`

	Replication ReplicationConfig `mapstructure:"replication"`
	Ring        RingConfig        `mapstructure:"ring"`
	AntiEntropy AntiEntropyConfig `mapstructure:"antientropy"`
	Gossip      GossipConfig      `mapstructure:"gossip"`
	Test        TestConfig        `mapstructure:"test"`
}

// ReplicationConfig is spec §4.5's N/W (Rd is fixed at "any response" and
// isn't configurable).
type ReplicationConfig struct {
	Factor      int `mapstructure:"factor"`
	WriteQuorum int `mapstructure:"write_quorum"`
}

// RingConfig is spec §4.2's virtual-node count per physical node.
type RingConfig struct {
	Vnodes int `mapstructure:"vnodes"`
}

// AntiEntropyConfig is spec §4.6's periodic sync interval I.
type AntiEntropyConfig struct {
	IntervalMs int `mapstructure:"interval_ms"`
}

// GossipConfig is spec §4.8's gossip interval G and failure threshold F.
type GossipConfig struct {
	IntervalMs          int `mapstructure:"interval_ms"`
	FailureThresholdMs int `mapstructure:"failure_threshold_ms"`
}

// TestConfig carries spec §4.4's FailInjector mode for operators who want
// to exercise failure paths against a running node without a test harness.
type TestConfig struct {
	NodeFailMode string `mapstructure:"node_fail_mode"`
}

// DefaultConfig returns spec §4.5/§4.6/§4.8/§6's literal defaults:
// R=3, W=2, Rd=1 effective, D=5s (set directly in replication.Config,
// not here), I=60s, G=1s, F=3s.
func DefaultConfig() *Config {
	hostname, _ := os.Hostname()
	return &Config{
		NodeID:     hostname,
		Address:    "127.0.0.1",
		Port:       8080,
		GossipPort: 7946,
		DataDir:    "./data",
		SeedNodes:  []string{},
		Replication: ReplicationConfig{
			Factor:      3,
			WriteQuorum: 2,
		},
		Ring: RingConfig{
			Vnodes: 150,
		},
		AntiEntropy: AntiEntropyConfig{
			IntervalMs: 60_000,
		},
		Gossip: GossipConfig{
			IntervalMs:          1_000,
			FailureThresholdMs: 3_000,
		},
		Test: TestConfig{
			NodeFailMode: "always_succeed",
		},
	}
}

// Validate checks a populated Config for internal consistency.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Replication.Factor < 1 {
		return fmt.Errorf("replication.factor must be at least 1")
	}
	if c.Replication.WriteQuorum < 1 || c.Replication.WriteQuorum > c.Replication.Factor {
		return fmt.Errorf("replication.write_quorum must be between 1 and replication.factor")
	}
	if c.Ring.Vnodes < 1 {
		return fmt.Errorf("ring.vnodes must be at least 1")
	}
	if c.AntiEntropy.IntervalMs < 1 {
		return fmt.Errorf("antientropy.interval_ms must be positive")
	}
	if c.Gossip.IntervalMs < 1 {
		return fmt.Errorf("gossip.interval_ms must be positive")
	}
	if c.Gossip.FailureThresholdMs < 1 {
		return fmt.Errorf("gossip.failure_threshold_ms must be positive")
	}
	return nil
}

// Load layers spec §6's option precedence: defaults, then configPath (if
// non-empty), then DYNAMO_*-prefixed environment variables. CLI flags are
// layered on top of the returned Config separately, by the caller, since
// pflag's kebab-case flag names don't map onto these dotted mapstructure
// keys without per-field binding (see cmd/dynamo's applyFlagOverrides).
func Load(configPath string) (*Config, error) {
	def := DefaultConfig()
	v := viper.New()

	v.SetDefault("node_id", def.NodeID)
	v.SetDefault("address", def.Address)
	v.SetDefault("port", def.Port)
	v.SetDefault("gossip_port", def.GossipPort)
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("seed_nodes", def.SeedNodes)
	v.SetDefault("replication.factor", def.Replication.Factor)
	v.SetDefault("replication.write_quorum", def.Replication.WriteQuorum)
	v.SetDefault("ring.vnodes", def.Ring.Vnodes)
	v.SetDefault("antientropy.interval_ms", def.AntiEntropy.IntervalMs)
	v.SetDefault("gossip.interval_ms", def.Gossip.IntervalMs)
	v.SetDefault("gossip.failure_threshold_ms", def.Gossip.FailureThresholdMs)
	v.SetDefault("test.node_fail_mode", def.Test.NodeFailMode)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("DYNAMO")
	v.AutomaticEnv()
	bindEnv(v, "node_id", "address", "port", "gossip_port", "data_dir", "seed_nodes")
	v.BindEnv("replication.factor", "DYNAMO_REPLICATION_FACTOR")
	v.BindEnv("replication.write_quorum", "DYNAMO_WRITE_QUORUM")
	v.BindEnv("ring.vnodes", "DYNAMO_VNODES")
	v.BindEnv("antientropy.interval_ms", "DYNAMO_SYNC_INTERVAL_MS")
	v.BindEnv("gossip.interval_ms", "DYNAMO_GOSSIP_INTERVAL_MS")
	v.BindEnv("gossip.failure_threshold_ms", "DYNAMO_FAILURE_THRESHOLD_MS")
	v.BindEnv("test.node_fail_mode", "DYNAMO_NODE_FAIL_MODE")

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func bindEnv(v *viper.Viper, keys ...string) {
	for _, k := range keys {
		v.BindEnv(k)
	}
}

// FullAddress returns the complete HTTP address.
func (c *Config) FullAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// GossipAddress returns the complete gossip UDP address.
func (c *Config) GossipAddress() string {
	return fmt.Sprintf("%s:%d", c.Address, c.GossipPort)
}

// GossipInterval returns the configured gossip round interval as a
// time.Duration.
func (c *Config) GossipInterval() time.Duration {
	return time.Duration(c.Gossip.IntervalMs) * time.Millisecond
}

// FailureThreshold returns the configured gossip failure threshold as a
// time.Duration.
func (c *Config) FailureThreshold() time.Duration {
	return time.Duration(c.Gossip.FailureThresholdMs) * time.Millisecond
}

// AntiEntropyInterval returns the configured anti-entropy pass interval
// as a time.Duration.
func (c *Config) AntiEntropyInterval() time.Duration {
	return time.Duration(c.AntiEntropy.IntervalMs) * time.Millisecond
}
