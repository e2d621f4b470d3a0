package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "timekeeper.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "storage:\n  path: "+filepath.Join(dir, "data", "tk.bolt")+"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Storage.Type != "bolt" {
		t.Errorf("expected bolt storage, got %s", cfg.Storage.Type)
	}
	if cfg.Monitor.Threshold() != 5*time.Minute {
		t.Errorf("expected 5m threshold, got %v", cfg.Monitor.Threshold())
	}
	if cfg.Monitor.ThresholdFor("employee") != 5*time.Minute || cfg.Monitor.ThresholdFor("admin") != time.Minute {
		t.Errorf("unexpected role thresholds: employee %v, admin %v",
			cfg.Monitor.ThresholdFor("employee"), cfg.Monitor.ThresholdFor("admin"))
	}
	if cfg.Monitor.Interval() != 10*time.Second {
		t.Errorf("expected 10s poll interval, got %v", cfg.Monitor.Interval())
	}
	if len(cfg.Monitor.SleepSources) != 2 {
		t.Errorf("expected default sleep sources, got %v", cfg.Monitor.SleepSources)
	}
	if cfg.Status.Refresh() != 10*time.Second || cfg.Status.CacheTTL() != 30*time.Second {
		t.Errorf("unexpected status defaults: %+v", cfg.Status)
	}
	if cfg.Admin.Addr() != "127.0.0.1:8080" {
		t.Errorf("unexpected admin addr: %s", cfg.Admin.Addr())
	}
	if cfg.Device.ID == "" {
		t.Error("expected device id to default to the hostname")
	}
	if _, err := os.Stat(filepath.Join(dir, "data")); err != nil {
		t.Errorf("expected storage directory to be created: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "storage:\n  path: "+filepath.Join(t.TempDir(), "tk.bolt")+"\n")
	t.Setenv("TIMEKEEPER_MONITOR_IDLE_THRESHOLD", "90s")
	t.Setenv("TIMEKEEPER_DEVICE_ID", "aa:bb:cc:dd")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Monitor.Threshold() != 90*time.Second {
		t.Errorf("expected env threshold, got %v", cfg.Monitor.Threshold())
	}
	if cfg.Device.ID != "aa:bb:cc:dd" {
		t.Errorf("expected env device id, got %s", cfg.Device.ID)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown storage", body: "storage:\n  type: mongo\n"},
		{name: "bad duration", body: "monitor:\n  idle_threshold: soon\n"},
		{name: "bad admin threshold", body: "monitor:\n  idle_threshold_admin: \"-1m\"\n"},
		{name: "zero duration", body: "monitor:\n  poll_interval: 0s\n"},
		{name: "unknown idle source", body: "monitor:\n  idle_source: xscreensaver\n"},
		{name: "unknown sleep source", body: "monitor:\n  sleep_sources: [lid]\n"},
		{name: "bad admin port", body: "admin:\n  port: 70000\n"},
		{name: "bad auto clock-out", body: "schedule:\n  auto_clock_out: \"25:99\"\n"},
		{name: "redis without host", body: "storage:\n  type: redis\n  redis:\n    host: \"\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := "storage:\n  path: " + filepath.Join(t.TempDir(), "tk.bolt") + "\n"
			if tt.body[:8] == "storage:" {
				body = tt.body
			} else {
				body += tt.body
			}
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("TIMEKEEPER_STORAGE_PATH", filepath.Join(t.TempDir(), "tk.bolt"))
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("expected defaults when the file is missing: %v", err)
	}
	if cfg.Storage.Type != "bolt" {
		t.Errorf("expected bolt storage, got %s", cfg.Storage.Type)
	}
}

func TestDefaultAndKeys(t *testing.T) {
	cfg := Default()
	if cfg.Storage.Redis.Port != 6379 || cfg.Status.Concurrency != 8 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}

	keys := map[string]bool{}
	for _, key := range Keys() {
		keys[key] = true
	}
	for _, want := range []string{"storage.redis.dial_timeout", "monitor.sleep_sources", "device.id", "admin.port"} {
		if !keys[want] {
			t.Errorf("expected key %s", want)
		}
	}
}

func TestThresholdForRole(t *testing.T) {
	path := writeConfig(t, "storage:\n  path: "+filepath.Join(t.TempDir(), "tk.bolt")+
		"\nmonitor:\n  idle_threshold: 10m\n  idle_threshold_admin: 30s\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	tests := []struct {
		role string
		want time.Duration
	}{
		{role: "admin", want: 30 * time.Second},
		{role: "employee", want: 10 * time.Minute},
		{role: "", want: 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := cfg.Monitor.ThresholdFor(tt.role); got != tt.want {
			t.Errorf("ThresholdFor(%q) = %v, want %v", tt.role, got, tt.want)
		}
	}
}
