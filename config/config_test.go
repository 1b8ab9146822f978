package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
}

func TestLoadConfig_AppliesDefaults(t *testing.T) {
	writeConfig(t, "http:\n  addr: \":8090\"\n")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logging.Service != "collab-relay" || cfg.Logging.Env != "dev" || cfg.Logging.Backend != "std" {
		t.Fatalf("logging defaults not applied: %+v", cfg.Logging)
	}
	if got := cfg.Relay.PingEvery(); got != 15*time.Second {
		t.Fatalf("default ping interval = %v", got)
	}
	if cfg.Client.RelayURL != "ws://localhost:8090" {
		t.Fatalf("client default relayUrl = %q", cfg.Client.RelayURL)
	}
}

func TestLoadConfig_RequiresHTTPAddr(t *testing.T) {
	writeConfig(t, "logging:\n  env: dev\n")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("config without http.addr must fail validation")
	}
}

func TestRelay_PingEveryParsesDuration(t *testing.T) {
	r := Relay{PingInterval: "3s"}
	if got := r.PingEvery(); got != 3*time.Second {
		t.Fatalf("PingEvery = %v", got)
	}
	r = Relay{PingInterval: "not-a-duration"}
	if got := r.PingEvery(); got != 15*time.Second {
		t.Fatalf("fallback PingEvery = %v", got)
	}
}
