// Package daemon holds the long-running service configuration and wiring.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full pointsd configuration, loaded from TOML with
// defaults filled in for anything the file omits.
type Config struct {
	API       APIConfig       `toml:"api"`
	Database  DatabaseConfig  `toml:"database"`
	Keys      KeysConfig      `toml:"keys"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Voucher   VoucherConfig   `toml:"voucher"`
	Pin       PinConfig       `toml:"pin"`
	RateLimit RateLimitConfig `toml:"ratelimit"`
}

// APIConfig controls the HTTP listener.
type APIConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	MetricsEnabled bool   `toml:"metrics_enabled"`
	RequestTimeout string `toml:"request_timeout"`
}

// DatabaseConfig controls the SQLite store.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// KeysConfig holds the three HMAC secrets. The daemon refuses to start
// with any of them empty.
type KeysConfig struct {
	TokenSecret   string `toml:"token_secret"`
	LedgerSecret  string `toml:"ledger_secret"`
	VoucherSecret string `toml:"voucher_secret"`
}

// LedgerConfig controls fee and credit policy.
type LedgerConfig struct {
	ApplicationFee  int64  `toml:"application_fee"`
	MaxCreditAmount int64  `toml:"max_credit_amount"`
	RefundWindow    string `toml:"refund_window"`
}

// VoucherConfig controls voucher policy.
type VoucherConfig struct {
	MinValue  int64  `toml:"min_value"`
	MaxActive int    `toml:"max_active"`
	Lifetime  string `toml:"lifetime"`
}

// PinConfig controls operator lockout policy.
type PinConfig struct {
	MaxAttempts   int    `toml:"max_attempts"`
	LockoutWindow string `toml:"lockout_window"`
	SessionTTL    string `toml:"session_ttl"`
}

// RateLimitConfig controls voucher admission windows.
type RateLimitConfig struct {
	GenerateMax int    `toml:"generate_max"`
	RedeemMax   int    `toml:"redeem_max"`
	Window      string `toml:"window"`
}

// DefaultConfig returns the configuration used when no file overrides it.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		API: APIConfig{
			Host:           "127.0.0.1",
			Port:           8790,
			MetricsEnabled: true,
			RequestTimeout: "30s",
		},
		Database: DatabaseConfig{
			Path: filepath.Join(home, ".gramseva", "data"),
		},
		Ledger: LedgerConfig{
			ApplicationFee:  15,
			MaxCreditAmount: 1000,
			RefundWindow:    "10m",
		},
		Voucher: VoucherConfig{
			MinValue:  500,
			MaxActive: 5,
			Lifetime:  "720h",
		},
		Pin: PinConfig{
			MaxAttempts:   3,
			LockoutWindow: "10m",
			SessionTTL:    "8h",
		},
		RateLimit: RateLimitConfig{
			GenerateMax: 10,
			RedeemMax:   10,
			Window:      "1h",
		},
	}
}

// Load reads a TOML config file over the defaults. A missing file is not
// an error — the defaults stand — but a malformed one is.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, err
		}
		path = filepath.Join(home, ".gramseva", "config.toml")
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, cfg.validate()
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("invalid api.port %d", c.API.Port)
	}
	if c.Ledger.ApplicationFee <= 0 {
		return fmt.Errorf("ledger.application_fee must be positive")
	}
	if c.Voucher.MaxActive <= 0 {
		return fmt.Errorf("voucher.max_active must be positive")
	}
	for name, d := range map[string]string{
		"api.request_timeout":  c.API.RequestTimeout,
		"ledger.refund_window": c.Ledger.RefundWindow,
		"voucher.lifetime":     c.Voucher.Lifetime,
		"pin.lockout_window":   c.Pin.LockoutWindow,
		"pin.session_ttl":      c.Pin.SessionTTL,
		"ratelimit.window":     c.RateLimit.Window,
	} {
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid duration for %s: %q", name, d)
		}
	}
	return nil
}

// Duration parses one of the config's duration strings. Load has already
// validated them, so parse failures here fall back to the given default.
func Duration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
