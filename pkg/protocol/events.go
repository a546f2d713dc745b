package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message type tags used on the wire.
const (
	TypeConfig        = "config"
	TypeTranscription = "transcription"
	TypeError         = "error"
	TypeSpeechEnd     = "vad_speech_end"
)

// Event is a decoded inbound server message. The set of implementations is
// closed: ConfigEvent, TranscriptionEvent and ErrorEvent.
type Event interface {
	EventType() string
}

// ProviderInfo pairs a display name with an identifier safe for keying.
type ProviderInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ConfigEvent announces the set of active providers for the session.
type ConfigEvent struct {
	Providers []ProviderInfo `json:"providers"`
}

func (ConfigEvent) EventType() string { return TypeConfig }

// TranscriptionEvent carries one partial or final hypothesis from a provider.
// LatencyMS is the upstream-reported value and is informational only; the
// client computes its own gated latency.
type TranscriptionEvent struct {
	Provider   string  `json:"provider"`
	ProviderID string  `json:"provider_id"`
	Text       string  `json:"text"`
	IsFinal    bool    `json:"is_final"`
	Confidence float64 `json:"confidence"`
	Timestamp  float64 `json:"timestamp"`
	LatencyMS  float64 `json:"latency_ms"`
}

func (TranscriptionEvent) EventType() string { return TypeTranscription }

// ErrorEvent is a session-level error reported by the server.
type ErrorEvent struct {
	Message string `json:"message"`
}

func (ErrorEvent) EventType() string { return TypeError }

// SpeechEnd is the outbound control message carrying the client-side VAD
// speech-end marker. Timestamp is in seconds since the Unix epoch.
type SpeechEnd struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

func NewSpeechEnd(unixSeconds float64) SpeechEnd {
	return SpeechEnd{Type: TypeSpeechEnd, Timestamp: unixSeconds}
}

type envelope struct {
	Type string `json:"type"`
}

// DecodeEvent parses an inbound JSON message into its typed event. Unknown or
// malformed messages return an error; callers drop them without tearing down
// the session.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	switch strings.TrimSpace(env.Type) {
	case TypeConfig:
		var ev ConfigEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
		return ev, nil
	case TypeTranscription:
		var ev TranscriptionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode transcription: %w", err)
		}
		return ev, nil
	case TypeError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("decode error event: %w", err)
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

// EncodeEvent serializes an event with its type tag for the wire.
func EncodeEvent(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case ConfigEvent:
		return json.Marshal(struct {
			Type string `json:"type"`
			ConfigEvent
		}{TypeConfig, e})
	case TranscriptionEvent:
		return json.Marshal(struct {
			Type string `json:"type"`
			TranscriptionEvent
		}{TypeTranscription, e})
	case ErrorEvent:
		return json.Marshal(struct {
			Type string `json:"type"`
			ErrorEvent
		}{TypeError, e})
	default:
		return nil, fmt.Errorf("unsupported event %T", ev)
	}
}

// SanitizeID normalizes a provider display name into a stable identifier:
// lowercased with spaces, underscores and dots collapsed to dashes.
func SanitizeID(name string) string {
	r := strings.NewReplacer(" ", "-", "_", "-", ".", "-")
	return r.Replace(strings.ToLower(name))
}
