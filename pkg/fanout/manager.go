// Package fanout multiplexes one client's audio across every configured STT
// vendor and relays their transcripts back over the client connection.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/morix1500/hikaku-voice/pkg/adapters/stt"
	"github.com/morix1500/hikaku-voice/pkg/logging"
	"github.com/morix1500/hikaku-voice/pkg/metrics"
	"github.com/morix1500/hikaku-voice/pkg/protocol"
)

// Sender is the outbound half of the client connection.
type Sender interface {
	SendEvent(ev protocol.Event) error
}

type provider struct {
	name string
	id   string
	stt  stt.StreamingSTT
}

// Manager owns the provider streams for one client session. The client's
// vad_speech_end control message supplies the speech-end marker used for the
// informational latency_ms on finals; the same marker for every provider
// keeps the number comparable across vendors with different endpointing.
type Manager struct {
	sender    Sender
	log       *slog.Logger
	obs       metrics.Observer
	providers []provider
	ids       map[string]struct{}

	mu            sync.Mutex
	lastSpeechEnd time.Time
	now           func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(sender Sender, log *slog.Logger, obs metrics.Observer) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	return &Manager{
		sender: sender,
		log:    logging.NewComponentLogger(log, "fanout"),
		obs:    obs,
		ids:    make(map[string]struct{}),
		now:    time.Now,
	}
}

// Register adds a provider. Display-name collisions get a numeric suffix so
// two instances of the same vendor can be compared side by side.
func (m *Manager) Register(name string, s stt.StreamingSTT) {
	id := protocol.SanitizeID(name)
	if _, taken := m.ids[id]; taken {
		for n := 2; ; n++ {
			candidate := fmt.Sprintf("%s-%d", id, n)
			if _, taken := m.ids[candidate]; !taken {
				id = candidate
				name = fmt.Sprintf("%s %d", name, n)
				break
			}
		}
	}
	m.ids[id] = struct{}{}
	m.providers = append(m.providers, provider{name: name, id: id, stt: s})
}

// Initialize starts every provider stream and announces the active set to the
// client. A provider that fails to start is reported and skipped; the session
// continues with the rest. All providers failing is an initialization error.
func (m *Manager) Initialize(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	m.ctx, m.cancel = context.WithCancel(ctx)

	started := make([]provider, 0, len(m.providers))
	for _, p := range m.providers {
		if err := p.stt.Start(m.ctx); err != nil {
			m.log.Error("provider_start_failed",
				slog.String("provider", p.name),
				slog.String("error", err.Error()))
			_ = m.sender.SendEvent(protocol.ErrorEvent{
				Message: fmt.Sprintf("%s: %s", p.name, err.Error()),
			})
			continue
		}
		started = append(started, p)
	}
	m.providers = started
	if len(m.providers) == 0 {
		return fmt.Errorf("no STT providers started")
	}

	infos := make([]protocol.ProviderInfo, 0, len(m.providers))
	for _, p := range m.providers {
		infos = append(infos, protocol.ProviderInfo{ID: p.id, Name: p.name})
	}
	if err := m.sender.SendEvent(protocol.ConfigEvent{Providers: infos}); err != nil {
		return err
	}
	m.log.Info("providers_initialized", slog.Int("count", len(m.providers)))

	for _, p := range m.providers {
		m.wg.Add(1)
		go m.readLoop(p)
	}
	return nil
}

// ProcessAudio pushes one PCM block to every provider stream.
func (m *Manager) ProcessAudio(pcm []byte) {
	for _, p := range m.providers {
		if err := p.stt.SendAudio(pcm); err != nil {
			m.log.Warn("audio_push_failed",
				slog.String("provider", p.name),
				slog.String("error", err.Error()))
		}
	}
}

// HandleControl applies one client control message. Unknown types are
// ignored.
func (m *Manager) HandleControl(data []byte) {
	var msg protocol.SpeechEnd
	if err := json.Unmarshal(data, &msg); err != nil {
		m.log.Warn("dropping_malformed_control", slog.String("error", err.Error()))
		return
	}
	if msg.Type != protocol.TypeSpeechEnd {
		return
	}
	mark := m.now()
	if msg.Timestamp > 0 {
		mark = time.Unix(0, int64(msg.Timestamp*float64(time.Second)))
	}
	m.mu.Lock()
	m.lastSpeechEnd = mark
	m.mu.Unlock()
	m.log.Debug("client_speech_end", slog.Time("mark", mark))
}

// Close shuts every provider stream down and waits for relay goroutines.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	for _, p := range m.providers {
		_ = p.stt.Close()
	}
	m.wg.Wait()
}

func (m *Manager) readLoop(p provider) {
	defer m.wg.Done()
	for {
		select {
		case <-m.ctx.Done():
			return
		case res, ok := <-p.stt.Results():
			if !ok {
				m.log.Info("provider_stream_finished", slog.String("provider", p.name))
				return
			}
			m.relay(p, res)
		}
	}
}

func (m *Manager) relay(p provider, res stt.Result) {
	// Empty hypotheses carry no information for the comparison.
	if res.Text == "" {
		return
	}
	at := res.At
	if at.IsZero() {
		at = m.now()
	}

	var latencyMS float64
	if res.IsFinal {
		m.mu.Lock()
		mark := m.lastSpeechEnd
		m.mu.Unlock()
		if !mark.IsZero() {
			latencyMS = float64(at.Sub(mark)) / float64(time.Millisecond)
			if latencyMS < 0 {
				latencyMS = 0
			}
		}
		m.obs.RecordEvent(metrics.MetricsEvent{
			Name:  "stt_final",
			Time:  at,
			Value: latencyMS,
			Tags:  map[string]string{"provider": p.id},
		})
	}

	ev := protocol.TranscriptionEvent{
		Provider:   p.name,
		ProviderID: p.id,
		Text:       res.Text,
		IsFinal:    res.IsFinal,
		Timestamp:  float64(at.UnixMilli()),
		LatencyMS:  latencyMS,
	}
	if err := m.sender.SendEvent(ev); err != nil {
		m.log.Warn("relay_failed",
			slog.String("provider", p.name),
			slog.String("error", err.Error()))
	}
}
