package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PriceRefresh != 5*time.Minute {
		t.Fatalf("price refresh default: %v", cfg.PriceRefresh)
	}
	if cfg.DailyDigestHour != 9 || cfg.DailyDigestMinute != 0 {
		t.Fatalf("digest default: %d:%d", cfg.DailyDigestHour, cfg.DailyDigestMinute)
	}
	if len(cfg.StableMints) == 0 {
		t.Fatal("stable mints default missing")
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	content := `
price_refresh: 1m
daily_digest_hour: 7
primary_token_mint: PROTOmint111111111111111111111111111111111
stake_vaults:
  - vault: VaultAcc
    underlying_mint: MintU
    receipt_mint: MintR
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PriceRefresh != time.Minute {
		t.Fatalf("override lost: %v", cfg.PriceRefresh)
	}
	if cfg.DailyDigestHour != 7 {
		t.Fatalf("digest hour: %d", cfg.DailyDigestHour)
	}
	if len(cfg.StakeVaults) != 1 || cfg.StakeVaults[0].ReceiptMint != "MintR" {
		t.Fatalf("stake vaults: %+v", cfg.StakeVaults)
	}
	// Untouched values keep defaults.
	if cfg.PoolRefresh != 5*time.Minute {
		t.Fatalf("default lost: %v", cfg.PoolRefresh)
	}
}

func TestLoad_RejectsBadDigestHour(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	if err := os.WriteFile(path, []byte("daily_digest_hour: 24\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for hour 24")
	}
}
