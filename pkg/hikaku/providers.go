package hikaku

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/morix1500/hikaku-voice/pkg/adapters/stt"
	"github.com/morix1500/hikaku-voice/pkg/configutil"
	"github.com/morix1500/hikaku-voice/pkg/fanout"
	"github.com/morix1500/hikaku-voice/pkg/metrics"
	"github.com/morix1500/hikaku-voice/pkg/providers/deepgram"
	mockstt "github.com/morix1500/hikaku-voice/pkg/providers/mock"
)

// BuildManager assembles the per-session provider fanout from configuration.
func BuildManager(cfg ServerConfig, sessionID string, sender fanout.Sender, log *slog.Logger, obs metrics.Observer) (*fanout.Manager, error) {
	mgr := fanout.NewManager(sender, log, obs)
	for i, pc := range cfg.Providers {
		s, err := buildProvider(pc, sessionID)
		if err != nil {
			return nil, fmt.Errorf("providers[%d] %s: %w", i, pc.Provider, err)
		}
		name := pc.Name
		if name == "" {
			name = pc.Provider
		}
		mgr.Register(name, s)
	}
	return mgr, nil
}

func buildProvider(pc ProviderConfig, sessionID string) (stt.StreamingSTT, error) {
	switch strings.ToLower(strings.TrimSpace(pc.Provider)) {
	case "deepgram":
		var cfg deepgram.Config
		if err := configutil.DecodeSettings(pc.Settings, &cfg); err != nil {
			return nil, err
		}
		if err := configutil.RequireString(cfg.APIKey, "settings.api_key"); err != nil {
			return nil, err
		}
		cfg.SessionID = sessionID
		return deepgram.New(cfg), nil
	case "mock":
		var cfg mockstt.STTConfig
		if err := configutil.DecodeSettings(pc.Settings, &cfg); err != nil {
			return nil, err
		}
		return mockstt.NewSTT(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", pc.Provider)
	}
}
