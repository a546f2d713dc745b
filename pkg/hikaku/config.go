package hikaku

import (
	"fmt"
	"os"
	"strings"

	"github.com/morix1500/hikaku-voice/pkg/server"
	"github.com/spf13/viper"
)

type Config struct {
	Client      ClientConfig `mapstructure:"client"`
	Server      ServerConfig `mapstructure:"server"`
	Environment string       `mapstructure:"environment"`
	LogLevel    string       `mapstructure:"log_level"`
	LogFormat   string       `mapstructure:"log_format"`
}

type ClientConfig struct {
	ServerURL          string `mapstructure:"server_url"`
	SampleRate         int    `mapstructure:"sample_rate"`
	BlockSize          int    `mapstructure:"block_size"`
	Device             string `mapstructure:"device"`
	VADThreshold       int    `mapstructure:"vad_threshold"`
	SpeechEndHoldMS    int    `mapstructure:"speech_end_hold_ms"`
	HandshakeTimeoutMS int    `mapstructure:"handshake_timeout_ms"`
}

type ServerConfig struct {
	Listen    server.Config    `mapstructure:",squash"`
	Providers []ProviderConfig `mapstructure:"providers"`
}

// ProviderConfig names one STT vendor instance. Settings is vendor-specific
// and decoded by the provider itself.
type ProviderConfig struct {
	Name     string         `mapstructure:"name"`
	Provider string         `mapstructure:"provider"`
	Settings map[string]any `mapstructure:"settings"`
}

func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("client.server_url", "ws://localhost:8009/ws")
	v.SetDefault("client.sample_rate", 16000)
	v.SetDefault("client.block_size", 512)
	v.SetDefault("client.device", "default")
	v.SetDefault("client.vad_threshold", 500)
	v.SetDefault("client.speech_end_hold_ms", 300)
	v.SetDefault("client.handshake_timeout_ms", 10000)
	v.SetDefault("server.addr", ":8009")
	v.SetDefault("server.ws_path", "/ws")
	v.SetDefault("server.allow_any_origin", true)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}

	cfg.Client.ServerURL = os.ExpandEnv(cfg.Client.ServerURL)
	for i := range cfg.Server.Providers {
		cfg.Server.Providers[i].Settings = expandSettings(cfg.Server.Providers[i].Settings)
	}
	return cfg, nil
}

// ValidateClient checks the fields the client entrypoint depends on.
func (c *Config) ValidateClient() error {
	if strings.TrimSpace(c.Client.ServerURL) == "" {
		return fmt.Errorf("client.server_url is required")
	}
	return nil
}

// ValidateServer checks the fields the server entrypoint depends on.
func (c *Config) ValidateServer() error {
	if len(c.Server.Providers) == 0 {
		return fmt.Errorf("server.providers must name at least one provider")
	}
	for i, p := range c.Server.Providers {
		if strings.TrimSpace(p.Provider) == "" {
			return fmt.Errorf("server.providers[%d].provider is required", i)
		}
	}
	return nil
}

func expandSettings(settings map[string]any) map[string]any {
	if settings == nil {
		return nil
	}
	for k, v := range settings {
		settings[k] = expandAny(v)
	}
	return settings
}

func expandAny(v any) any {
	switch val := v.(type) {
	case string:
		return os.ExpandEnv(val)
	case []any:
		for i := range val {
			val[i] = expandAny(val[i])
		}
		return val
	case map[string]any:
		for k, v := range val {
			val[k] = expandAny(v)
		}
		return val
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			ks, ok := k.(string)
			if !ok {
				continue
			}
			out[ks] = expandAny(v)
		}
		return out
	default:
		return v
	}
}
