package fanout

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/morix1500/hikaku-voice/pkg/adapters/stt"
	mockstt "github.com/morix1500/hikaku-voice/pkg/providers/mock"
	"github.com/morix1500/hikaku-voice/pkg/protocol"
)

type captureSender struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (c *captureSender) SendEvent(ev protocol.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSender) snapshot() []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Event(nil), c.events...)
}

func (c *captureSender) waitFor(t *testing.T, match func(protocol.Event) bool) protocol.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, ev := range c.snapshot() {
			if match(ev) {
				return ev
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected event never sent; got %#v", c.snapshot())
	return nil
}

func TestInitializeAnnouncesProviders(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(sender, nil, nil)
	m.Register("Deepgram", mockstt.NewSTT(mockstt.STTConfig{Transcript: "a"}))
	m.Register("OpenAI Whisper", mockstt.NewSTT(mockstt.STTConfig{Transcript: "b"}))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(m.Close)

	ev := sender.waitFor(t, func(ev protocol.Event) bool {
		_, ok := ev.(protocol.ConfigEvent)
		return ok
	})
	cfg := ev.(protocol.ConfigEvent)
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %+v", cfg.Providers)
	}
	if cfg.Providers[0].ID != "deepgram" || cfg.Providers[1].ID != "openai-whisper" {
		t.Fatalf("unexpected ids: %+v", cfg.Providers)
	}
}

func TestRegisterDedupesCollidingNames(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(sender, nil, nil)
	m.Register("Deepgram", mockstt.NewSTT(mockstt.STTConfig{}))
	m.Register("Deepgram", mockstt.NewSTT(mockstt.STTConfig{}))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(m.Close)

	ev := sender.waitFor(t, func(ev protocol.Event) bool {
		_, ok := ev.(protocol.ConfigEvent)
		return ok
	})
	cfg := ev.(protocol.ConfigEvent)
	if cfg.Providers[0].ID != "deepgram" || cfg.Providers[1].ID != "deepgram-2" {
		t.Fatalf("expected suffixed duplicate, got %+v", cfg.Providers)
	}
}

func TestRelayComputesLatencyFromClientMarker(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(sender, nil, nil)
	m.Register("Deepgram", mockstt.NewSTT(mockstt.STTConfig{Transcript: "hello there"}))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(m.Close)

	mark := time.Now().Add(-400 * time.Millisecond)
	m.HandleControl([]byte(`{"type":"vad_speech_end","timestamp":` +
		formatSeconds(mark) + `}`))

	m.ProcessAudio([]byte{0x00, 0x00})

	ev := sender.waitFor(t, func(ev protocol.Event) bool {
		tr, ok := ev.(protocol.TranscriptionEvent)
		return ok && tr.IsFinal
	})
	tr := ev.(protocol.TranscriptionEvent)
	if tr.Text != "hello there" || tr.ProviderID != "deepgram" {
		t.Fatalf("unexpected event: %+v", tr)
	}
	if tr.LatencyMS < 350 || tr.LatencyMS > 2000 {
		t.Fatalf("latency_ms = %v, want roughly >= 400", tr.LatencyMS)
	}
}

func TestRelayWithoutMarkerReportsZeroLatency(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(sender, nil, nil)
	m.Register("Deepgram", mockstt.NewSTT(mockstt.STTConfig{Transcript: "hi"}))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(m.Close)

	m.ProcessAudio([]byte{0x00, 0x00})
	ev := sender.waitFor(t, func(ev protocol.Event) bool {
		tr, ok := ev.(protocol.TranscriptionEvent)
		return ok && tr.IsFinal
	})
	if tr := ev.(protocol.TranscriptionEvent); tr.LatencyMS != 0 {
		t.Fatalf("latency without marker = %v, want 0", tr.LatencyMS)
	}
}

type failingSTT struct{}

func (failingSTT) Name() string                    { return "failing" }
func (failingSTT) Start(ctx context.Context) error { return errors.New("missing api key") }
func (failingSTT) Close() error                    { return nil }
func (failingSTT) SendAudio(pcm []byte) error      { return nil }
func (failingSTT) Results() <-chan stt.Result      { return nil }

func TestFailedProviderReportedAndSkipped(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(sender, nil, nil)
	m.Register("Broken", failingSTT{})
	m.Register("Deepgram", mockstt.NewSTT(mockstt.STTConfig{Transcript: "ok"}))

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	t.Cleanup(m.Close)

	sender.waitFor(t, func(ev protocol.Event) bool {
		_, ok := ev.(protocol.ErrorEvent)
		return ok
	})
	ev := sender.waitFor(t, func(ev protocol.Event) bool {
		_, ok := ev.(protocol.ConfigEvent)
		return ok
	})
	cfg := ev.(protocol.ConfigEvent)
	if len(cfg.Providers) != 1 || cfg.Providers[0].ID != "deepgram" {
		t.Fatalf("expected only the healthy provider, got %+v", cfg.Providers)
	}
}

func TestAllProvidersFailingIsAnError(t *testing.T) {
	sender := &captureSender{}
	m := NewManager(sender, nil, nil)
	m.Register("Broken", failingSTT{})
	if err := m.Initialize(context.Background()); err == nil {
		t.Fatalf("expected initialization error")
	}
}

func formatSeconds(ts time.Time) string {
	return strconv.FormatFloat(float64(ts.UnixNano())/1e9, 'f', 6, 64)
}
