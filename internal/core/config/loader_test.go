package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("GQLMUX_TEST_ENDPOINT", "https://api.example.com/graphql")

	path := writeConfig(t, `
endpoint: ${GQLMUX_TEST_ENDPOINT}
timeouts:
  default: 2s
  slow: 20s
  slow_operations:
    - aiRecommendations
batch:
  max_size: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Endpoint != "https://api.example.com/graphql" {
		t.Errorf("endpoint = %q, env variable not expanded", cfg.Endpoint)
	}
	if cfg.Timeouts.Default != 2*time.Second {
		t.Errorf("default timeout = %v, want 2s", cfg.Timeouts.Default)
	}
	if len(cfg.Timeouts.SlowOperations) != 1 || cfg.Timeouts.SlowOperations[0] != "aiRecommendations" {
		t.Errorf("slow operations = %v", cfg.Timeouts.SlowOperations)
	}
	if cfg.Batch.MaxSize != 4 {
		t.Errorf("batch max size = %d, want 4", cfg.Batch.MaxSize)
	}
}

func TestLoadAppliesDefaultsForUnsetFields(t *testing.T) {
	path := writeConfig(t, "endpoint: http://localhost:8000/graphql\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Timeouts.Default != 10*time.Second || cfg.Timeouts.Slow != 30*time.Second {
		t.Errorf("timeouts = %+v, want 10s/30s defaults", cfg.Timeouts)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelay != time.Second || cfg.Retry.MaxDelay != 5*time.Second {
		t.Errorf("retry = %+v, want 3 attempts, 1s base, 5s cap", cfg.Retry)
	}
	if cfg.Batch.MaxSize != 10 || cfg.Batch.BaseInterval != 10*time.Millisecond {
		t.Errorf("batch = %+v, want size 10 and 10ms base interval", cfg.Batch)
	}
	if cfg.Batch.MinInterval != 5*time.Millisecond || cfg.Batch.MaxInterval != 50*time.Millisecond {
		t.Errorf("batch bounds = %v/%v, want 5ms/50ms", cfg.Batch.MinInterval, cfg.Batch.MaxInterval)
	}
	if cfg.Batch.MaxFailures != 3 {
		t.Errorf("max failures = %d, want 3", cfg.Batch.MaxFailures)
	}
	if cfg.Auth.Store != "file" || cfg.Auth.Scope != "default" {
		t.Errorf("auth = %+v, want file store with default scope", cfg.Auth)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "endpoint: [unclosed\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected a parse error")
	}
}
