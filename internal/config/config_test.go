package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "raftbot.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "discord:\n  token: abc123\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discord.Intents != 33280 {
		t.Errorf("Intents = %d, want 33280", cfg.Discord.Intents)
	}
	if cfg.RateLimits.Capacity != 40 {
		t.Errorf("Capacity = %v, want 40", cfg.RateLimits.Capacity)
	}
	if cfg.Pools.BLP.MaxWorkers != 3 {
		t.Errorf("BLP.MaxWorkers = %d, want 3", cfg.Pools.BLP.MaxWorkers)
	}
	if cfg.Pools.SweepTimeoutMin != 10 {
		t.Errorf("SweepTimeoutMin = %d, want 10", cfg.Pools.SweepTimeoutMin)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("RAFTBOT_TOKEN", "secret-token")
	path := writeConfig(t, "discord:\n  token: ${RAFTBOT_TOKEN}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Discord.Token != "secret-token" {
		t.Errorf("Token = %q, want secret-token", cfg.Discord.Token)
	}
}

func TestLoad_MissingTokenFails(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "discord:\n  token: \"\"\n")

	if _, err := Load(path); err == nil {
		t.Error("expected error for missing discord.token")
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	t.Parallel()
	if _, err := Load("/nonexistent/raftbot.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}
