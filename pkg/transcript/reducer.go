// Package transcript holds the per-provider transcript state and the reducer
// that folds multiplexed server events into it. Latency on final segments is
// the gated metric: wall-clock delta from the locally observed end of speech
// to local receipt of the final. It deliberately includes audio upload time;
// the comparison measures what a user experiences, not provider processing
// time in isolation.
package transcript

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/morix1500/hikaku-voice/pkg/metrics"
	"github.com/morix1500/hikaku-voice/pkg/protocol"
)

// Segment is one committed transcript with its gated latency. Immutable once
// appended.
type Segment struct {
	Text    string
	Latency time.Duration
}

// ProviderState is the transcript state for one provider. PartialText and
// Segments never hold the same utterance: finalization moves text from
// partial into a new segment atomically.
type ProviderState struct {
	ID          string
	Name        string
	Segments    []Segment
	PartialText string
	Latency     time.Duration
	LastUpdate  time.Time
}

// SpeechClock exposes the speech-end marker read by the reducer.
type SpeechClock interface {
	LastSpeech() time.Time
}

// Listener is notified after each applied event with the touched provider ID,
// or "" for session-level updates.
type Listener func(providerID string)

// Board owns the ProviderID -> state mapping. Providers register lazily on
// first reference, via config or transcription, and live until teardown.
type Board struct {
	mu        sync.RWMutex
	states    map[string]*ProviderState
	order     []string
	clock     SpeechClock
	now       func() time.Time
	obs       metrics.Observer
	log       *slog.Logger
	lastErr   string
	listeners []Listener
}

func NewBoard(clock SpeechClock, obs metrics.Observer, log *slog.Logger) *Board {
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Board{
		states: make(map[string]*ProviderState),
		clock:  clock,
		now:    time.Now,
		obs:    obs,
		log:    log,
	}
}

// AddListener registers an update listener. Not safe to call concurrently
// with Apply.
func (b *Board) AddListener(fn Listener) {
	b.listeners = append(b.listeners, fn)
}

// Apply folds one inbound event into the board. Each event touches at most
// one provider's state; untouched entries keep their identity.
func (b *Board) Apply(ev protocol.Event) {
	switch e := ev.(type) {
	case protocol.ConfigEvent:
		b.applyConfig(e)
	case protocol.TranscriptionEvent:
		b.applyTranscription(e)
	case protocol.ErrorEvent:
		b.mu.Lock()
		b.lastErr = e.Message
		b.mu.Unlock()
		b.log.Warn("server_error", slog.String("message", e.Message))
		b.notify("")
	}
}

func (b *Board) applyConfig(ev protocol.ConfigEvent) {
	b.mu.Lock()
	for _, p := range ev.Providers {
		id := p.ID
		if id == "" {
			id = protocol.SanitizeID(p.Name)
		}
		if id == "" {
			continue
		}
		st := b.ensureLocked(id)
		if p.Name != "" {
			st.Name = p.Name
		}
	}
	b.mu.Unlock()
	b.notify("")
}

func (b *Board) applyTranscription(ev protocol.TranscriptionEvent) {
	id := ev.ProviderID
	if id == "" {
		id = protocol.SanitizeID(ev.Provider)
	}
	if id == "" {
		return
	}

	now := b.now()
	b.mu.Lock()
	st := b.ensureLocked(id)
	if st.Name == "" && ev.Provider != "" {
		st.Name = ev.Provider
	}

	if ev.IsFinal {
		text := strings.TrimSpace(ev.Text)
		if text != "" {
			latency := b.gatedLatency(now)
			st.Segments = append(st.Segments, Segment{Text: text, Latency: latency})
			st.Latency = latency
			b.obs.RecordEvent(metrics.MetricsEvent{
				Name:  "stt_final",
				Time:  now,
				Value: float64(latency.Milliseconds()),
				Tags:  map[string]string{"provider": id},
			})
			b.log.Info("final_transcript",
				slog.String("provider", id),
				slog.String("text", text),
				slog.Int64("latency_ms", latency.Milliseconds()),
				slog.Float64("upstream_latency_ms", ev.LatencyMS))
		}
		st.PartialText = ""
	} else {
		st.PartialText = ev.Text
	}
	st.LastUpdate = now
	b.mu.Unlock()
	b.notify(id)
}

// gatedLatency computes now minus the speech-end marker, clamped to zero.
// Before any speech is observed the latency is zero rather than unbounded.
func (b *Board) gatedLatency(now time.Time) time.Duration {
	if b.clock == nil {
		return 0
	}
	mark := b.clock.LastSpeech()
	if mark.IsZero() {
		return 0
	}
	d := now.Sub(mark)
	if d < 0 {
		return 0
	}
	return d
}

// ensureLocked registers a provider on first reference. Existing state is
// never overwritten.
func (b *Board) ensureLocked(id string) *ProviderState {
	if st, ok := b.states[id]; ok {
		return st
	}
	st := &ProviderState{ID: id}
	b.states[id] = st
	b.order = append(b.order, id)
	return st
}

// State returns the live state pointer for a provider, or nil. Callers must
// treat it as read-only.
func (b *Board) State(id string) *ProviderState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.states[id]
}

// Snapshot copies all provider states in registration order.
func (b *Board) Snapshot() []ProviderState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ProviderState, 0, len(b.order))
	for _, id := range b.order {
		st := b.states[id]
		cp := *st
		cp.Segments = append([]Segment(nil), st.Segments...)
		out = append(out, cp)
	}
	return out
}

// LastError returns the most recent session-level server error, last write
// wins.
func (b *Board) LastError() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastErr
}

func (b *Board) notify(id string) {
	for _, fn := range b.listeners {
		fn(id)
	}
}
