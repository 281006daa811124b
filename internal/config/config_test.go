package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadValidConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `timeout: 12
progress_slots: 64
auto_enable_wants: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SecsTimeout != 12 {
		t.Errorf("SecsTimeout = %d, want 12", cfg.SecsTimeout)
	}
	if cfg.ProgressSlots != 64 {
		t.Errorf("ProgressSlots = %d, want 64", cfg.ProgressSlots)
	}
	if !cfg.AutoEnableWants {
		t.Error("AutoEnableWants = false, want true")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.SecsTimeout != 0 || cfg.ProgressSlots != 0 {
		t.Errorf("expected zero Config, got %+v", cfg)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(path, []byte(""), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SecsTimeout != 0 || cfg.ProgressSlots != 0 {
		t.Errorf("expected zero Config, got %+v", cfg)
	}
}

func TestLoadCommentsOnly(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `# timeout: 12
# progress_slots: 64
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SecsTimeout != 0 || cfg.ProgressSlots != 0 {
		t.Errorf("expected zero Config, got %+v", cfg)
	}
}

func TestResolveAppliesDefaultsWithoutOverrideFile(t *testing.T) {
	t.Setenv("AA_REPO", "")
	t.Setenv("AA_SECS_TIMEOUT", "")
	t.Setenv("AA_DOUBLE_OUTPUT", "")

	cfg, err := Resolve("/nonexistent/config.yaml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.SecsTimeout != DefaultTimeoutSecs {
		t.Errorf("SecsTimeout = %d, want %d", cfg.SecsTimeout, DefaultTimeoutSecs)
	}
	if cfg.ProgressSlots != DefaultProgressSlots {
		t.Errorf("ProgressSlots = %d, want %d", cfg.ProgressSlots, DefaultProgressSlots)
	}
	if cfg.DoubleOutput {
		t.Error("DoubleOutput = true, want false")
	}
}

func TestResolveOverrideFileSuppliesDefaults(t *testing.T) {
	t.Setenv("AA_REPO", "")
	t.Setenv("AA_SECS_TIMEOUT", "")
	t.Setenv("AA_DOUBLE_OUTPUT", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("timeout: 30\nprogress_slots: 8\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.SecsTimeout != 30 {
		t.Errorf("SecsTimeout = %d, want 30", cfg.SecsTimeout)
	}
	if cfg.ProgressSlots != 8 {
		t.Errorf("ProgressSlots = %d, want 8", cfg.ProgressSlots)
	}
}

func TestResolveEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("timeout: 30\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AA_REPO", "/srv/services")
	t.Setenv("AA_SECS_TIMEOUT", "5")
	t.Setenv("AA_DOUBLE_OUTPUT", "1")

	cfg, err := Resolve(path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.RepoRoot != "/srv/services" {
		t.Errorf("RepoRoot = %q, want /srv/services", cfg.RepoRoot)
	}
	if cfg.SecsTimeout != 5 {
		t.Errorf("SecsTimeout = %d, want 5 (env overrides file)", cfg.SecsTimeout)
	}
	if !cfg.DoubleOutput {
		t.Error("DoubleOutput = false, want true")
	}
}
