package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestClampLookback(t *testing.T) {
	cases := []struct {
		in   int
		want int
	}{
		{0, DefaultLookbackHours},
		{-10, MinLookbackHours},
		{1, 1},
		{24, 24},
		{168, 168},
		{169, MaxLookbackHours},
	}
	for _, tc := range cases {
		if got := ClampLookback(tc.in); got != tc.want {
			t.Fatalf("ClampLookback(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Retention != 7*24*time.Hour {
		t.Fatalf("retention: %s", cfg.Retention)
	}
	if cfg.CycleInterval != 10*time.Minute {
		t.Fatalf("cycle interval: %s", cfg.CycleInterval)
	}
	if cfg.LookbackHours != DefaultLookbackHours {
		t.Fatalf("lookback: %d", cfg.LookbackHours)
	}
	if cfg.TargetPct != 90 {
		t.Fatalf("target: %v", cfg.TargetPct)
	}
	if cfg.DBPath == "" || cfg.SocketPath == "" || cfg.CooldownPath == "" {
		t.Fatalf("paths must default: %+v", cfg)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotapace.yaml")
	raw := `
database_path: /tmp/custom/usage.db
retention: 48h
cycle_interval: 5m
lookback_hours: 400
target_pct: 80
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DBPath != "/tmp/custom/usage.db" {
		t.Fatalf("db path: %s", cfg.DBPath)
	}
	if cfg.Retention != 48*time.Hour {
		t.Fatalf("retention: %s", cfg.Retention)
	}
	if cfg.CycleInterval != 5*time.Minute {
		t.Fatalf("cycle interval: %s", cfg.CycleInterval)
	}
	if cfg.LookbackHours != MaxLookbackHours {
		t.Fatalf("out-of-range lookback must clamp, got %d", cfg.LookbackHours)
	}
	if cfg.TargetPct != 80 {
		t.Fatalf("target: %v", cfg.TargetPct)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("explicit missing config file must error")
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quotapace.yaml")
	if err := os.WriteFile(path, []byte("retention: soon\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Retention != 7*24*time.Hour {
		t.Fatalf("bad duration must fall back to default, got %s", cfg.Retention)
	}
}
