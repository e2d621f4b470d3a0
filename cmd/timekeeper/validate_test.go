package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestFindUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "timekeeper.yaml")
	body := `storage:
  type: sqlite
  path: /tmp/tk.db
  redis:
    password: secret
monitor:
  idle_treshold: 60s
dns:
  port: 53
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	unknown, err := findUnknownKeys(path)
	if err != nil {
		t.Fatalf("find unknown keys: %v", err)
	}

	want := []string{"dns.port", "monitor.idle_treshold"}
	if !reflect.DeepEqual(unknown, want) {
		t.Errorf("expected %v, got %v", want, unknown)
	}
}

func TestFormatMinutes(t *testing.T) {
	tests := map[int]string{
		0:   "0:00",
		59:  "0:59",
		60:  "1:00",
		455: "7:35",
		-5:  "0:00",
	}
	for minutes, want := range tests {
		if got := formatMinutes(minutes); got != want {
			t.Errorf("formatMinutes(%d) = %s, want %s", minutes, got, want)
		}
	}
}
