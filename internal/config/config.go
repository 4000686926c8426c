// Package config loads daemon configuration from a YAML file with
// environment-variable overrides (env wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Operating modes for the daemon.
const (
	ModeAuto    = "auto"    // pin + claim immediately
	ModeApprove = "approve" // queue offers for operator approval
)

// ValidMode reports whether s is a recognized operating mode.
func ValidMode(s string) bool {
	return s == ModeAuto || s == ModeApprove
}

// Config is the full daemon configuration.
type Config struct {
	Daemon  DaemonConfig  `yaml:"daemon"`
	Stellar StellarConfig `yaml:"stellar"`
	IPFS    IPFSConfig    `yaml:"ipfs"`
	Policy  PolicyConfig  `yaml:"policy"`
	Storage StorageConfig `yaml:"storage"`
	API     APIConfig     `yaml:"api"`
	Hunter  HunterConfig  `yaml:"hunter"`
}

type DaemonConfig struct {
	Mode             string `yaml:"mode"`
	PollIntervalSecs int    `yaml:"poll_interval"`
	ErrorBackoffSecs int    `yaml:"error_backoff"`
	LogLevel         string `yaml:"log_level"`
}

type StellarConfig struct {
	Network           string `yaml:"network"`
	RPCURL            string `yaml:"rpc_url"`
	HorizonURL        string `yaml:"horizon_url"`
	NetworkPassphrase string `yaml:"network_passphrase"`
	ContractID        string `yaml:"contract_id"`
	KeypairSecret     string `yaml:"keypair_secret"`
	StartLedger       uint32 `yaml:"start_ledger"`
}

type IPFSConfig struct {
	KuboRPCURL     string `yaml:"kubo_rpc_url"`
	PinTimeoutSecs int    `yaml:"pin_timeout"` // whole gateway fetch budget
	MaxContentSize int64  `yaml:"max_content_size"`
	FetchRetries   int    `yaml:"fetch_retries"`
}

type PolicyConfig struct {
	MinPrice int64 `yaml:"min_price"` // stroops
}

type StorageConfig struct {
	DBPath string `yaml:"db_path"`
}

type APIConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// HunterConfig configures the CID hunter audit subsystem.
type HunterConfig struct {
	Enabled             bool     `yaml:"enabled"`
	CycleIntervalSecs   int      `yaml:"cycle_interval"`
	CheckTimeoutSecs    int      `yaml:"check_timeout"` // per method
	MaxConcurrentChecks int      `yaml:"max_concurrent_checks"`
	FailureThreshold    int      `yaml:"failure_threshold"`
	CooldownAfterFlag   int      `yaml:"cooldown_after_flag"`
	PinnerCacheTTLSecs  int      `yaml:"pinner_cache_ttl"`
	VerificationMethods []string `yaml:"verification_methods"`
}

var networkPassphrases = map[string]string{
	"testnet": "Test SDF Network ; September 2015",
	"mainnet": "Public Global Stellar Network ; September 2015",
}

// Default returns a config populated with the daemon's defaults.
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			Mode:             ModeAuto,
			PollIntervalSecs: 5,
			ErrorBackoffSecs: 30,
			LogLevel:         "info",
		},
		Stellar: StellarConfig{
			Network: "testnet",
			RPCURL:  "https://soroban-testnet.stellar.org",
		},
		IPFS: IPFSConfig{
			KuboRPCURL:     "http://127.0.0.1:5001",
			PinTimeoutSecs: 60,
			MaxContentSize: 1 << 30, // 1 GB
			FetchRetries:   3,
		},
		Policy: PolicyConfig{MinPrice: 100},
		Storage: StorageConfig{
			DBPath: "~/.pintheon-pinner/state.db",
		},
		API: APIConfig{Enabled: true, Port: 8899},
		Hunter: HunterConfig{
			Enabled:             false,
			CycleIntervalSecs:   3600,
			CheckTimeoutSecs:    30,
			MaxConcurrentChecks: 5,
			FailureThreshold:    3,
			CooldownAfterFlag:   86400,
			PinnerCacheTTLSecs:  3600,
			VerificationMethods: []string{"dht_provider", "bitswap"},
		},
	}
}

// Load reads the YAML file at path (if it exists), applies PINNER_*
// environment overrides, and fills derived defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		f, err := os.Open(expandHome(path))
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnv(cfg)

	if cfg.Stellar.NetworkPassphrase == "" {
		cfg.Stellar.NetworkPassphrase = networkPassphrases[cfg.Stellar.Network]
	}
	cfg.Storage.DBPath = expandHome(cfg.Storage.DBPath)

	return cfg, nil
}

// applyEnv overrides file values with PINNER_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("PINNER_SECRET"); v != "" {
		cfg.Stellar.KeypairSecret = v
	}
	if v := os.Getenv("PINNER_NETWORK"); v != "" {
		cfg.Stellar.Network = v
	}
	if v := os.Getenv("PINNER_RPC_URL"); v != "" {
		cfg.Stellar.RPCURL = v
	}
	if v := os.Getenv("PINNER_HORIZON_URL"); v != "" {
		cfg.Stellar.HorizonURL = v
	}
	if v := os.Getenv("PINNER_CONTRACT_ID"); v != "" {
		cfg.Stellar.ContractID = v
	}
	if v := os.Getenv("PINNER_MODE"); v != "" {
		cfg.Daemon.Mode = v
	}
	if v := os.Getenv("PINNER_DB_PATH"); v != "" {
		cfg.Storage.DBPath = v
	}
	if v := os.Getenv("PINNER_KUBO_RPC_URL"); v != "" {
		cfg.IPFS.KuboRPCURL = v
	}
	if v := os.Getenv("PINNER_MIN_PRICE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Policy.MinPrice = n
		}
	}
	if v := os.Getenv("PINNER_HUNTER_ENABLED"); v != "" {
		cfg.Hunter.Enabled = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate checks the settings the daemon cannot run without.
func (c *Config) Validate() error {
	if c.Stellar.KeypairSecret == "" {
		return fmt.Errorf("missing signing secret (set PINNER_SECRET or stellar.keypair_secret)")
	}
	if c.Stellar.ContractID == "" {
		return fmt.Errorf("missing contract ID (set PINNER_CONTRACT_ID or stellar.contract_id)")
	}
	if !ValidMode(c.Daemon.Mode) {
		return fmt.Errorf("invalid mode %q (want %q or %q)", c.Daemon.Mode, ModeAuto, ModeApprove)
	}
	return nil
}

// PollInterval returns the main-loop sleep as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Daemon.PollIntervalSecs) * time.Second
}

// ErrorBackoff returns the post-error sleep as a duration.
func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.Daemon.ErrorBackoffSecs) * time.Second
}

// CycleInterval returns the verification sweep period as a duration.
func (h HunterConfig) CycleInterval() time.Duration {
	return time.Duration(h.CycleIntervalSecs) * time.Second
}

// CheckTimeout returns the per-method verification budget as a duration.
func (h HunterConfig) CheckTimeout() time.Duration {
	return time.Duration(h.CheckTimeoutSecs) * time.Second
}

// PinnerCacheTTL returns the participant cache freshness window.
func (h HunterConfig) PinnerCacheTTL() time.Duration {
	return time.Duration(h.PinnerCacheTTLSecs) * time.Second
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
