package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
server:
  url: wss://example.test/ws
subscriptions:
  defaults: [Config, Notify]
  scroll:
    Log: 400
recorder:
  topics: [Config]
database:
  host: localhost
  name: topics
  user: recorder
  password: secret
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := LoadAndValidate(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.URL != "wss://example.test/ws" {
		t.Errorf("URL = %q", cfg.Server.URL)
	}
	if len(cfg.Subscriptions.Defaults) != 2 {
		t.Errorf("defaults = %v", cfg.Subscriptions.Defaults)
	}
	if cfg.Subscriptions.Scroll["Log"] != 400 {
		t.Errorf("scroll cap = %d, want 400", cfg.Subscriptions.Scroll["Log"])
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := LoadWithDefaults(writeConfig(t, "server:\n  url: ws://localhost:8080/ws\n"))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Server.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("ReconnectBaseDelay = %v", cfg.Server.ReconnectBaseDelay)
	}
	if cfg.Server.MaxReconnectTries != DefaultMaxReconnectTries {
		t.Errorf("MaxReconnectTries = %d", cfg.Server.MaxReconnectTries)
	}
	if cfg.RPC.Timeout != 5*time.Second {
		t.Errorf("RPC timeout = %v", cfg.RPC.Timeout)
	}
	if cfg.Database.Port != DefaultDBPort || cfg.Database.SSLMode != DefaultDBSSLMode {
		t.Errorf("db defaults = %d/%s", cfg.Database.Port, cfg.Database.SSLMode)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("metrics path = %q", cfg.Metrics.Path)
	}
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("TOPICMUX_TEST_PASSWORD", "from-env")

	cfg, err := Load(writeConfig(t, `
server:
  url: ws://localhost/ws
database:
  password: ${TOPICMUX_TEST_PASSWORD}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Database.Password != "from-env" {
		t.Errorf("password = %q, want from-env", cfg.Database.Password)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantSub string
	}{
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Server.URL = "" },
			wantSub: "server.url",
		},
		{
			name:    "http url",
			mutate:  func(c *Config) { c.Server.URL = "https://example.test" },
			wantSub: "ws://",
		},
		{
			name:    "zero scroll cap",
			mutate:  func(c *Config) { c.Subscriptions.Scroll = map[string]int{"Log": 0} },
			wantSub: "scroll.Log",
		},
		{
			name: "base delay above max",
			mutate: func(c *Config) {
				c.Server.ReconnectBaseDelay = time.Minute
				c.Server.ReconnectMaxDelay = time.Second
			},
			wantSub: "reconnect_base_delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadWithDefaults(writeConfig(t, validYAML))
			if err != nil {
				t.Fatal(err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error = %q, want substring %q", err, tt.wantSub)
			}
		})
	}
}

func TestValidateRecorder(t *testing.T) {
	cfg, err := LoadWithDefaults(writeConfig(t, validYAML))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.ValidateRecorder(); err != nil {
		t.Fatalf("valid recorder config rejected: %v", err)
	}

	cfg.Recorder.Topics = nil
	if err := cfg.ValidateRecorder(); err == nil {
		t.Error("expected error for empty recorder.topics")
	}

	cfg.Recorder.Topics = []string{"Config"}
	cfg.Database.Password = ""
	if err := cfg.ValidateRecorder(); err == nil {
		t.Error("expected error for missing database password")
	}
}
