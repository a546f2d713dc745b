package hikaku

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "environment: test\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Client.ServerURL != "ws://localhost:8009/ws" {
		t.Fatalf("server_url default = %q", cfg.Client.ServerURL)
	}
	if cfg.Client.VADThreshold != 500 || cfg.Client.SpeechEndHoldMS != 300 {
		t.Fatalf("unexpected client defaults: %+v", cfg.Client)
	}
	if cfg.Server.Listen.Addr != ":8009" || cfg.Server.Listen.WebsocketPath != "/ws" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server.Listen)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Fatalf("unexpected logging defaults: %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_DG_KEY", "secret-key")
	path := writeConfig(t, `
server:
  providers:
    - name: Deepgram
      provider: deepgram
      settings:
        api_key: ${TEST_DG_KEY}
        model: nova-2
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Server.Providers) != 1 {
		t.Fatalf("expected 1 provider, got %d", len(cfg.Server.Providers))
	}
	if got := cfg.Server.Providers[0].Settings["api_key"]; got != "secret-key" {
		t.Fatalf("api_key = %v, want expanded env", got)
	}
}

func TestValidateServerRequiresProviders(t *testing.T) {
	path := writeConfig(t, "environment: test\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.ValidateServer(); err == nil {
		t.Fatalf("expected validation error without providers")
	}
	if err := cfg.ValidateClient(); err != nil {
		t.Fatalf("client validation should pass with defaults: %v", err)
	}
}
