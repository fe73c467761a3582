package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.ClientURL(); got != "ws://localhost:8765/ws" {
		t.Errorf("ClientURL = %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "secret")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
client:
  request_timeout: 5s
  probe_ports: [9001, 9002]
session:
  max_history: 4
ai:
  api_key: ${TEST_GEMINI_KEY}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.Name != "tascade" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Client.RequestTimeout != 5*time.Second {
		t.Errorf("request_timeout = %v", cfg.Client.RequestTimeout)
	}
	if len(cfg.Client.ProbePorts) != 2 || cfg.Client.ProbePorts[0] != 9001 {
		t.Errorf("probe_ports = %v", cfg.Client.ProbePorts)
	}
	if cfg.Session.MaxHistory != 4 {
		t.Errorf("max_history = %d", cfg.Session.MaxHistory)
	}
	if cfg.AI.APIKey != "secret" {
		t.Errorf("api_key not expanded: %q", cfg.AI.APIKey)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("TASCADE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8765 {
		t.Errorf("expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoadFileBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	os.WriteFile(path, []byte("server: [not a map"), 0644)
	if _, err := LoadFile(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	cfg.Server.Path = "ws"
	cfg.Client.URL = "http://localhost"
	cfg.Client.ProbePorts = []int{0}
	cfg.Daemon.LogLevel = "loud"
	cfg.AI.Provider = "oracle"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"server.port", "server.path", "client.url", "probe_ports", "log_level", "ai.provider"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("missing %q in %v", want, err)
		}
	}
}
