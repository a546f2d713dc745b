package transcript

import (
	"reflect"
	"testing"
	"time"

	"github.com/morix1500/hikaku-voice/pkg/metrics"
	"github.com/morix1500/hikaku-voice/pkg/protocol"
)

type fixedClock struct {
	mark time.Time
}

func (f fixedClock) LastSpeech() time.Time { return f.mark }

func configEvent(ids ...string) protocol.ConfigEvent {
	ev := protocol.ConfigEvent{}
	for _, id := range ids {
		ev.Providers = append(ev.Providers, protocol.ProviderInfo{ID: id, Name: id})
	}
	return ev
}

func TestConfigIdempotent(t *testing.T) {
	b := NewBoard(fixedClock{}, nil, nil)
	b.Apply(configEvent("deepgram", "openai"))
	first := b.Snapshot()
	b.Apply(configEvent("deepgram", "openai"))
	second := b.Snapshot()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("applying config twice changed state:\n%+v\n%+v", first, second)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(second))
	}
}

func TestConfigNeverRemovesOrOverwrites(t *testing.T) {
	b := NewBoard(fixedClock{}, nil, nil)
	b.Apply(configEvent("deepgram"))
	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "hi", IsFinal: false})
	b.Apply(configEvent("deepgram", "soniox"))

	st := b.State("deepgram")
	if st.PartialText != "hi" {
		t.Fatalf("config re-announcement must not reset state, partial = %q", st.PartialText)
	}
	if b.State("soniox") == nil {
		t.Fatalf("new provider must be registered")
	}
}

func TestIsolationIdentityPreserved(t *testing.T) {
	b := NewBoard(fixedClock{}, nil, nil)
	b.Apply(configEvent("a", "b"))
	before := b.State("b")
	b.Apply(protocol.TranscriptionEvent{ProviderID: "a", Text: "hello", IsFinal: true})
	if b.State("b") != before {
		t.Fatalf("event for provider a must not touch provider b's state reference")
	}
	if len(b.State("b").Segments) != 0 || b.State("b").PartialText != "" {
		t.Fatalf("provider b mutated: %+v", b.State("b"))
	}
}

func TestLazyProviderCreation(t *testing.T) {
	b := NewBoard(fixedClock{}, nil, nil)
	b.Apply(protocol.TranscriptionEvent{Provider: "OpenAI Whisper", Text: "hey", IsFinal: false})
	st := b.State("openai-whisper")
	if st == nil {
		t.Fatalf("transcription before config must create the provider")
	}
	if st.PartialText != "hey" {
		t.Fatalf("partial = %q, want %q", st.PartialText, "hey")
	}
}

func TestFinalizationClearsPartial(t *testing.T) {
	mark := time.Unix(1000, 0)
	b := NewBoard(fixedClock{mark: mark}, nil, nil)
	b.now = func() time.Time { return mark.Add(250 * time.Millisecond) }

	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "hel", IsFinal: false})
	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "hello", IsFinal: true})

	st := b.State("deepgram")
	if st.PartialText != "" {
		t.Fatalf("finalization must clear partial, got %q", st.PartialText)
	}
	if len(st.Segments) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(st.Segments))
	}
	if st.Segments[0].Text != "hello" {
		t.Fatalf("segment text = %q", st.Segments[0].Text)
	}
	if st.Segments[0].Latency != 250*time.Millisecond {
		t.Fatalf("latency = %v, want 250ms", st.Segments[0].Latency)
	}
	if st.Latency != 250*time.Millisecond {
		t.Fatalf("provider latency = %v, want 250ms", st.Latency)
	}
}

func TestEmptyFinalSuppressed(t *testing.T) {
	b := NewBoard(fixedClock{}, nil, nil)
	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "hel", IsFinal: false})
	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "   ", IsFinal: true})

	st := b.State("deepgram")
	if len(st.Segments) != 0 {
		t.Fatalf("whitespace-only final must not append a segment")
	}
	if st.PartialText != "" {
		t.Fatalf("empty final must still clear partial, got %q", st.PartialText)
	}
}

func TestPartialReplacedWholesale(t *testing.T) {
	b := NewBoard(fixedClock{}, nil, nil)
	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "good morning", IsFinal: false})
	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "good", IsFinal: false})
	if got := b.State("deepgram").PartialText; got != "good" {
		t.Fatalf("partial must be replaced wholesale, got %q", got)
	}
}

func TestLatencyClampedNonNegative(t *testing.T) {
	mark := time.Unix(1000, 0)
	b := NewBoard(fixedClock{mark: mark}, nil, nil)
	b.now = func() time.Time { return mark.Add(-50 * time.Millisecond) }
	b.Apply(protocol.TranscriptionEvent{ProviderID: "p", Text: "x", IsFinal: true})
	if got := b.State("p").Segments[0].Latency; got != 0 {
		t.Fatalf("latency must clamp to zero, got %v", got)
	}
}

func TestFinalBeforeAnySpeech(t *testing.T) {
	b := NewBoard(fixedClock{}, nil, nil)
	b.Apply(protocol.TranscriptionEvent{ProviderID: "p", Text: "x", IsFinal: true})
	if got := b.State("p").Segments[0].Latency; got != 0 {
		t.Fatalf("latency without a speech marker must be zero, got %v", got)
	}
}

func TestErrorLastWriteWins(t *testing.T) {
	b := NewBoard(fixedClock{}, nil, nil)
	b.Apply(configEvent("deepgram"))
	before := b.State("deepgram")
	b.Apply(protocol.ErrorEvent{Message: "first"})
	b.Apply(protocol.ErrorEvent{Message: "second"})
	if b.LastError() != "second" {
		t.Fatalf("expected last error to win, got %q", b.LastError())
	}
	if b.State("deepgram") != before {
		t.Fatalf("error events must not mutate provider state")
	}
}

func TestFinalRecordsMetric(t *testing.T) {
	mark := time.Unix(1000, 0)
	mem := metrics.NewMemoryObserver()
	b := NewBoard(fixedClock{mark: mark}, mem, nil)
	b.now = func() time.Time { return mark.Add(120 * time.Millisecond) }
	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "hi", IsFinal: true})

	events := mem.Snapshot()
	if len(events) != 1 {
		t.Fatalf("expected 1 metrics event, got %d", len(events))
	}
	ev := events[0]
	if ev.Name != "stt_final" || ev.Tags["provider"] != "deepgram" {
		t.Fatalf("unexpected metrics event: %+v", ev)
	}
	if ev.Value != 120 {
		t.Fatalf("metric value = %v, want 120", ev.Value)
	}
}

func TestComparisonScenario(t *testing.T) {
	mark := time.Unix(1000, 0)
	b := NewBoard(fixedClock{mark: mark}, nil, nil)

	now := mark
	b.now = func() time.Time { return now }

	b.Apply(configEvent("deepgram", "openai"))
	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "hi", IsFinal: false})
	now = mark.Add(300 * time.Millisecond)
	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "hi there", IsFinal: true})
	now = mark.Add(500 * time.Millisecond)
	b.Apply(protocol.TranscriptionEvent{ProviderID: "openai", Text: "hi there.", IsFinal: true})

	snap := b.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(snap))
	}
	dg := b.State("deepgram")
	oa := b.State("openai")
	if len(dg.Segments) != 1 || dg.Segments[0].Text != "hi there" || dg.Segments[0].Latency != 300*time.Millisecond {
		t.Fatalf("deepgram segments: %+v", dg.Segments)
	}
	if len(oa.Segments) != 1 || oa.Segments[0].Text != "hi there." || oa.Segments[0].Latency != 500*time.Millisecond {
		t.Fatalf("openai segments: %+v", oa.Segments)
	}
	if dg.PartialText != "" || oa.PartialText != "" {
		t.Fatalf("partials must be cleared after finals")
	}
}

func TestListenersNotified(t *testing.T) {
	b := NewBoard(fixedClock{}, nil, nil)
	var touched []string
	b.AddListener(func(id string) { touched = append(touched, id) })
	b.Apply(configEvent("deepgram"))
	b.Apply(protocol.TranscriptionEvent{ProviderID: "deepgram", Text: "hi", IsFinal: false})
	if len(touched) != 2 || touched[1] != "deepgram" {
		t.Fatalf("unexpected notifications: %v", touched)
	}
}
