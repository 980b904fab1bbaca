package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "data_dir: /tmp/apkhub-test\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Service.Port != DefaultPort {
		t.Errorf("port = %d, want %d", cfg.Service.Port, DefaultPort)
	}
	if cfg.Service.RatePerMinute != DefaultRatePerMinute {
		t.Errorf("rate = %d, want %d", cfg.Service.RatePerMinute, DefaultRatePerMinute)
	}
	if cfg.Update.IntervalHours != DefaultIntervalHours {
		t.Errorf("interval = %d, want %d", cfg.Update.IntervalHours, DefaultIntervalHours)
	}
	if got := cfg.CatalogPath(); got != "/tmp/apkhub-test/config/apps.json" {
		t.Errorf("catalog path = %s", got)
	}
}

func TestLoadValidatesPort(t *testing.T) {
	path := writeConfig(t, "data_dir: /tmp/x\nservice:\n  port: 99999\n")
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for out-of-range port")
	}
}

func TestBotTokenRequiresAdminID(t *testing.T) {
	path := writeConfig(t, "data_dir: /tmp/x\nbot:\n  token: abc123\n")
	if _, err := Load(path); err == nil {
		t.Error("expected validation error for token without admin_id")
	}
}

func TestEnvTokenOverride(t *testing.T) {
	t.Setenv("APKHUB_BOT_TOKEN", "env-token")
	path := writeConfig(t, "data_dir: /tmp/x\nbot:\n  token: file-token\n  admin_id: 42\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bot.Token != "env-token" {
		t.Errorf("token = %s, want env-token", cfg.Bot.Token)
	}
}
