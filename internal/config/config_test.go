package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/stakefund/internal/domain"
)

func devConfig() Config {
	cfg := Defaults()
	cfg.Mode = "dev"
	cfg.Authority.Address = "0x00000000000000000000000000000000000000a1"
	return cfg
}

func TestDefaultsValidInDevMode(t *testing.T) {
	cfg := devConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("dev defaults should validate: %v", err)
	}
}

func TestValidateAggregatesProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.LogLevel = "loud"
	cfg.Engine.FeeBps = 10000
	cfg.Server.TrustedCallers = true

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"unknown log_level",
		"engine: fee_bps",
		"authority: either private_key or encrypted_key_path",
		"registry: url must be set",
		"payout: the log rail",
		"server: trusted_callers",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateFeeBpsBounds(t *testing.T) {
	tests := []struct {
		bps     int64
		wantErr bool
	}{
		{0, false},
		{domain.MaxFeeBps, false},
		{domain.MaxFeeBps + 1, true},
		{9999, true},
		{-1, true},
	}
	for _, tt := range tests {
		cfg := devConfig()
		cfg.Engine.FeeBps = tt.bps
		err := cfg.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("fee_bps %d: err = %v, wantErr %v", tt.bps, err, tt.wantErr)
		}
		if err != nil && !strings.Contains(err.Error(), "engine: fee_bps") {
			t.Errorf("fee_bps %d: unexpected error %v", tt.bps, err)
		}
	}
}

func TestValidateProductionConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Authority.PrivateKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	cfg.Registry.URL = "https://registry.example.com"
	cfg.Payout.Rail = "eth"
	cfg.Payout.RPCURL = "http://localhost:8545"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config: %v", err)
	}

	cfg.Payout.RPCURL = ""
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "rpc_url") {
		t.Fatalf("expected rpc_url error, got %v", err)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stakefund.toml")
	body := `
mode = "dev"

[engine]
min_bet = "0.5"
fee_bps = 150

[scheduler]
poll_interval = "30s"

[registry]
[[registry.milestones]]
id = "ms-1"
project_id = "p-1"
due_at = 2026-11-01T00:00:00Z

[registry.owners]
p-1 = "0x00000000000000000000000000000000000000f0"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STAKEFUND_ENGINE_FEE_BPS", "300")
	t.Setenv("STAKEFUND_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Engine.MinBet.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("min_bet = %s, want 0.5", cfg.Engine.MinBet)
	}
	if cfg.Engine.FeeBps != 300 {
		t.Errorf("fee_bps = %d, want env override 300", cfg.Engine.FeeBps)
	}
	if cfg.Scheduler.PollInterval.Duration != 30*time.Second {
		t.Errorf("poll_interval = %s", cfg.Scheduler.PollInterval.Duration)
	}
	if cfg.Scheduler.SweepInterval.Duration != time.Hour {
		t.Errorf("sweep_interval should keep its default, got %s", cfg.Scheduler.SweepInterval.Duration)
	}
	if len(cfg.Registry.Milestones) != 1 || cfg.Registry.Milestones[0].ProjectID != "p-1" {
		t.Errorf("milestones = %+v", cfg.Registry.Milestones)
	}
	if cfg.Registry.Owners["p-1"] == "" {
		t.Error("owner of p-1 not loaded")
	}
	if got := cfg.Server.CORSOrigins; len(got) != 2 || got[1] != "https://b.example" {
		t.Errorf("cors origins = %v", got)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := devConfig()
	cfg.Authority.PrivateKey = "secret"
	cfg.Postgres.Password = "hunter2"
	cfg.Registry.Owners = map[string]string{"p-1": "0x1"}

	out := RedactedConfig(&cfg)
	if out.Authority.PrivateKey != redacted || out.Postgres.Password != redacted {
		t.Fatalf("secrets not redacted: %+v", out.Authority)
	}
	if out.Redis.Password != "" {
		t.Fatalf("empty secret should stay empty, got %q", out.Redis.Password)
	}
	if cfg.Authority.PrivateKey != "secret" {
		t.Fatal("original config was modified")
	}
	out.Registry.Owners["p-1"] = "changed"
	if cfg.Registry.Owners["p-1"] != "0x1" {
		t.Fatal("owners map shared with original")
	}
}
