package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir     string `toml:"DataDir"`
	NetworkName string `toml:"NetworkName"`
	// PoolAddress and VaultAddress are bech32 strings identifying the market
	// and its capital vault.
	PoolAddress  string       `toml:"PoolAddress"`
	VaultAddress string       `toml:"VaultAddress"`
	Protection   Protection   `toml:"protection"`
	DefaultState DefaultState `toml:"default_state"`
	Assessment   Assessment   `toml:"assessment"`
	Pauses       Pauses       `toml:"pauses"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists. Unknown keys are rejected so typos fail loudly instead of
// silently running with defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./covernet-data"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "covernet-local"
	}
	if cfg.Protection.PoolCycleSeconds == 0 {
		cfg.Protection = defaultProtection()
	}
	if cfg.DefaultState.PaymentPeriodSeconds == 0 {
		cfg.DefaultState = defaultDefaultState()
	}
	if cfg.Assessment.IntervalSeconds == 0 {
		cfg.Assessment.IntervalSeconds = 3600
	}
	if strings.TrimSpace(cfg.Assessment.MetricsAddress) == "" {
		cfg.Assessment.MetricsAddress = ":9464"
	}
}

func defaultProtection() Protection {
	return Protection{
		PoolCycleSeconds:             90 * 24 * 60 * 60,
		MinProtectionDurationSeconds: 30 * 24 * 60 * 60,
		RenewalGracePeriodSeconds:    14 * 24 * 60 * 60,
		LeverageRatioFloor:           "0.10",
		LeverageRatioCeiling:         "0.20",
		LeverageRatioBuffer:          "0.05",
		Curvature:                    "0.05",
		MinRiskPremiumRate:           "0.02",
		UnderlyingRiskPremiumRate:    "0.10",
		MinRequiredCapital:           "100000000000000000000000",
		MinRequiredProtection:        "500000000000000000000000",
	}
}

func defaultDefaultState() DefaultState {
	return DefaultState{
		PaymentPeriodSeconds:         30 * 24 * 60 * 60,
		PaymentGracePeriodSeconds:    7 * 24 * 60 * 60,
		PaymentsRequiredForUnlock:    2,
		MissedGracePeriodsForDefault: 2,
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:      "./covernet-data",
		NetworkName:  "covernet-local",
		Protection:   defaultProtection(),
		DefaultState: defaultDefaultState(),
		Assessment: Assessment{
			IntervalSeconds: 3600,
			MetricsAddress:  ":9464",
		},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
