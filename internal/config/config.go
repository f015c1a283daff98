package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	DBPath       string
	SocketPath   string
	CooldownPath string
	TasksPath    string

	Retention     time.Duration
	CycleInterval time.Duration
	PruneInterval time.Duration

	LookbackHours int

	TargetPct    float64
	MinFactor    float64
	MaxFactor    float64
	FloorMinutes int
}

const (
	// Lookback bounds for any read API wrapping the core.
	MinLookbackHours     = 1
	MaxLookbackHours     = 168
	DefaultLookbackHours = 24
)

func DefaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(stateDir(), "usage.db"),
		SocketPath:    defaultSocketPath(),
		CooldownPath:  filepath.Join(stateDir(), "cooldown.json"),
		TasksPath:     filepath.Join(stateDir(), "tasks.yaml"),
		Retention:     7 * 24 * time.Hour,
		CycleInterval: 10 * time.Minute,
		PruneInterval: 1 * time.Hour,
		LookbackHours: DefaultLookbackHours,
		TargetPct:     90,
		MinFactor:     0.25,
		MaxFactor:     4.0,
		FloorMinutes:  1,
	}
}

// Load binds env vars and an optional config file over the defaults. Used by
// the CLI; the daemon takes flags over DefaultConfig directly.
func Load(cfgFile string) (Config, error) {
	godotenv.Load() //nolint:errcheck

	v := viper.New()
	cfg := DefaultConfig()

	v.SetDefault("database_path", cfg.DBPath)
	v.SetDefault("socket_path", cfg.SocketPath)
	v.SetDefault("cooldown_path", cfg.CooldownPath)
	v.SetDefault("tasks_path", cfg.TasksPath)
	v.SetDefault("retention", cfg.Retention.String())
	v.SetDefault("cycle_interval", cfg.CycleInterval.String())
	v.SetDefault("lookback_hours", cfg.LookbackHours)
	v.SetDefault("target_pct", cfg.TargetPct)

	v.SetEnvPrefix("quotapace")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".quotapace")
		// Missing default config file is fine; env and defaults apply.
		v.ReadInConfig() //nolint:errcheck
	}

	cfg.DBPath = v.GetString("database_path")
	cfg.SocketPath = v.GetString("socket_path")
	cfg.CooldownPath = v.GetString("cooldown_path")
	cfg.TasksPath = v.GetString("tasks_path")
	if d, err := time.ParseDuration(v.GetString("retention")); err == nil && d > 0 {
		cfg.Retention = d
	}
	if d, err := time.ParseDuration(v.GetString("cycle_interval")); err == nil && d > 0 {
		cfg.CycleInterval = d
	}
	cfg.LookbackHours = ClampLookback(v.GetInt("lookback_hours"))
	if t := v.GetFloat64("target_pct"); t > 0 && t <= 100 {
		cfg.TargetPct = t
	}
	return cfg, nil
}

// ClampLookback bounds a requested lookback window to [1,168] hours, with
// the default for zero input.
func ClampLookback(hours int) int {
	if hours == 0 {
		return DefaultLookbackHours
	}
	if hours < MinLookbackHours {
		return MinLookbackHours
	}
	if hours > MaxLookbackHours {
		return MaxLookbackHours
	}
	return hours
}

func stateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".quotapace"
	}
	return filepath.Join(home, ".local", "state", "quotapace")
}

func defaultSocketPath() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir != "" {
		return filepath.Join(runtimeDir, "quotapace", "quotapaced.sock")
	}
	return filepath.Join(stateDir(), "quotapaced.sock")
}
