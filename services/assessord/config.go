package assessord

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for assessord.
type Config struct {
	// NodeConfig points at the market's TOML configuration, which carries the
	// pool parameters and state-machine knobs the daemon assesses against.
	NodeConfig string `yaml:"node_config"`
	// Listen is the address the Prometheus metrics endpoint binds to. It
	// overrides the node config's assessment section when set.
	Listen string `yaml:"listen"`
	// Interval between assessment passes. Overrides the node config when set.
	Interval Duration `yaml:"interval"`
	// FeedURL is the lending-protocol status feed the daemon polls.
	FeedURL string `yaml:"feed_url"`
	// FeedTimeout bounds one feed request.
	FeedTimeout Duration `yaml:"feed_timeout"`
	// ManagerAddress is the bech32 identity the protection engine authorizes
	// for capital locks.
	ManagerAddress string `yaml:"manager_address"`
	// OperatorAddress is the bech32 registry owner used when registering
	// lending pools listed in the feed.
	OperatorAddress string `yaml:"operator_address"`
	// PurchaseWindow bounds first-time protection purchases on newly
	// registered lending pools.
	PurchaseWindow Duration `yaml:"purchase_window"`
}

// LoadConfig reads and validates the assessord YAML configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if strings.TrimSpace(cfg.NodeConfig) == "" {
		cfg.NodeConfig = "config.toml"
	}
	if strings.TrimSpace(cfg.FeedURL) == "" {
		return nil, fmt.Errorf("feed_url is required")
	}
	if strings.TrimSpace(cfg.ManagerAddress) == "" {
		return nil, fmt.Errorf("manager_address is required")
	}
	if cfg.FeedTimeout.Duration <= 0 {
		cfg.FeedTimeout.Duration = 10 * time.Second
	}
	if cfg.PurchaseWindow.Duration <= 0 {
		cfg.PurchaseWindow.Duration = 60 * 24 * time.Hour
	}
	return cfg, nil
}
