package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/boddenberg/finance-tracker-api/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("SETTLE_CRON", "")

	cfg := config.Load()
	if cfg.StoreDriver != config.DriverMemory {
		t.Errorf("expected memory driver, got %q", cfg.StoreDriver)
	}
	if cfg.SettleCron != "@daily" {
		t.Errorf("expected @daily, got %q", cfg.SettleCron)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("expected 10s timeout, got %v", cfg.HTTPTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "MySQL")
	t.Setenv("DB_PORT", "3307")
	t.Setenv("JWT_TTL", "2h")
	t.Setenv("MAX_RETRIES", "not-a-number")

	cfg := config.Load()
	if cfg.StoreDriver != config.DriverMySQL {
		t.Errorf("expected mysql, got %q", cfg.StoreDriver)
	}
	if cfg.DBPort != 3307 {
		t.Errorf("expected 3307, got %d", cfg.DBPort)
	}
	if cfg.JWTTTL != 2*time.Hour {
		t.Errorf("expected 2h, got %v", cfg.JWTTTL)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("invalid ints fall back to default, got %d", cfg.MaxRetries)
	}
}

func TestValidate_SupabaseNeedsURL(t *testing.T) {
	cfg := &config.Config{StoreDriver: config.DriverSupabase, JWTSecret: "s"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error without SUPABASE_URL")
	}

	cfg.StoreDriver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestLoadDotEnv_EnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LOG_LEVEL=debug\nDB_NAME=\"from_file\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("DB_NAME", "")
	os.Unsetenv("DB_NAME")

	if err := config.LoadDotEnv(filepath.Join(dir, "missing.env"), path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("LOG_LEVEL"); got != "warn" {
		t.Errorf("existing env must win, got %q", got)
	}
	if got := os.Getenv("DB_NAME"); got != "from_file" {
		t.Errorf("expected value from file, got %q", got)
	}
}
