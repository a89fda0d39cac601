package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spearsim.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Instance != "spear-01" {
		t.Errorf("Instance = %q, want spear-01", cfg.Instance)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %q", cfg.Redis.Addr)
	}
	if cfg.History.SampleInterval.Std() != time.Second {
		t.Errorf("SampleInterval = %v, want 1s", cfg.History.SampleInterval.Std())
	}
	if cfg.History.Retention.Std() != 24*time.Hour {
		t.Errorf("Retention = %v, want 24h", cfg.History.Retention.Std())
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
instance: spear-02
listen: ":9090"
redis:
  addr: redis.ctrl.example.org:6379
  db: 3
simulation:
  tick_period: 2ms
  decay_tau_s: 31162
  inject_threshold_ma: 495
  beamline_wait_s: 0.000001
  fault_probability_per_s: 0.001
  noise_min_ma_s: -0.1
  noise_max_ma_s: 0.5
history:
  path: /var/lib/spearsim/history.db
  sample_interval: 500ms
  retention: 72h
smtp:
  addr: mail.ctrl.example.org:25
  from: spearsim@ctrl.example.org
  to:
    - ops@ctrl.example.org
    - physics@ctrl.example.org
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Instance != "spear-02" {
		t.Errorf("Instance = %q, want spear-02", cfg.Instance)
	}
	if cfg.Listen != ":9090" {
		t.Errorf("Listen = %q, want :9090", cfg.Listen)
	}
	if cfg.Redis.Addr != "redis.ctrl.example.org:6379" || cfg.Redis.DB != 3 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Simulation.TickPeriod.Std() != 2*time.Millisecond {
		t.Errorf("TickPeriod = %v, want 2ms", cfg.Simulation.TickPeriod.Std())
	}
	if cfg.Simulation.InjectThreshold != 495 {
		t.Errorf("InjectThreshold = %g, want 495", cfg.Simulation.InjectThreshold)
	}
	if cfg.Simulation.NoiseMin != -0.1 || cfg.Simulation.NoiseMax != 0.5 {
		t.Errorf("noise range = [%g, %g], want [-0.1, 0.5]", cfg.Simulation.NoiseMin, cfg.Simulation.NoiseMax)
	}
	if cfg.History.SampleInterval.Std() != 500*time.Millisecond {
		t.Errorf("SampleInterval = %v, want 500ms", cfg.History.SampleInterval.Std())
	}
	if cfg.History.Retention.Std() != 72*time.Hour {
		t.Errorf("Retention = %v, want 72h", cfg.History.Retention.Std())
	}
	if len(cfg.SMTP.To) != 2 {
		t.Errorf("SMTP.To = %v, want 2 recipients", cfg.SMTP.To)
	}
	if cfg.SMTP.Subject != "SPEAR beam fault" {
		t.Errorf("SMTP.Subject = %q, want default kept", cfg.SMTP.Subject)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := writeConfig(t, "instance: spear-03\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Instance != "spear-03" {
		t.Errorf("Instance = %q, want spear-03", cfg.Instance)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want default :8080", cfg.Listen)
	}
	if cfg.History.Path != "spearsim.db" {
		t.Errorf("History.Path = %q, want default", cfg.History.Path)
	}
}

func TestLoadUnknownKey(t *testing.T) {
	path := writeConfig(t, "instnace: typo\n")

	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "history:\n  sample_interval: fast\n")

	if _, err := Load(path); err == nil {
		t.Error("expected error for bad duration")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadEmptyInstance(t *testing.T) {
	path := writeConfig(t, `instance: ""`)

	if _, err := Load(path); err == nil {
		t.Error("expected error for empty instance")
	}
}
