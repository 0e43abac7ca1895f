package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.API.Port != 8790 {
		t.Errorf("API.Port = %d, want %d", cfg.API.Port, 8790)
	}
	if !cfg.API.MetricsEnabled {
		t.Error("API.MetricsEnabled should be true by default")
	}
	if cfg.Ledger.ApplicationFee != 15 {
		t.Errorf("Ledger.ApplicationFee = %d, want 15", cfg.Ledger.ApplicationFee)
	}
	if cfg.Ledger.MaxCreditAmount != 1000 {
		t.Errorf("Ledger.MaxCreditAmount = %d, want 1000", cfg.Ledger.MaxCreditAmount)
	}
	if cfg.Voucher.MinValue != 500 {
		t.Errorf("Voucher.MinValue = %d, want 500", cfg.Voucher.MinValue)
	}
	if cfg.Voucher.MaxActive != 5 {
		t.Errorf("Voucher.MaxActive = %d, want 5", cfg.Voucher.MaxActive)
	}
	if cfg.Pin.MaxAttempts != 3 {
		t.Errorf("Pin.MaxAttempts = %d, want 3", cfg.Pin.MaxAttempts)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
[api]
port = 9999

[ledger]
application_fee = 20
refund_window = "5m"

[keys]
token_secret = "tk"
ledger_secret = "lk"
voucher_secret = "vk"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.API.Port != 9999 {
		t.Errorf("API.Port = %d, want 9999", cfg.API.Port)
	}
	// Untouched sections keep their defaults.
	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want default", cfg.API.Host)
	}
	if cfg.Ledger.ApplicationFee != 20 {
		t.Errorf("ApplicationFee = %d, want 20", cfg.Ledger.ApplicationFee)
	}
	if cfg.Keys.TokenSecret != "tk" {
		t.Errorf("TokenSecret = %q, want tk", cfg.Keys.TokenSecret)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.API.Port != DefaultConfig().API.Port {
		t.Errorf("API.Port = %d, want default", cfg.API.Port)
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	os.WriteFile(path, []byte("[api\nport ="), 0o600)
	if _, err := Load(path); err == nil {
		t.Error("malformed TOML should fail")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.API.Port = 0
	if err := cfg.validate(); err == nil {
		t.Error("port 0 should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Pin.LockoutWindow = "soon"
	if err := cfg.validate(); err == nil {
		t.Error("unparseable duration should fail validation")
	}
}

func TestDuration(t *testing.T) {
	if d := Duration("90s", time.Minute); d != 90*time.Second {
		t.Errorf("Duration(90s) = %v", d)
	}
	if d := Duration("junk", time.Minute); d != time.Minute {
		t.Errorf("Duration(junk) = %v, want fallback", d)
	}
}
