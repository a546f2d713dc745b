package stt

import (
	"context"
	"time"
)

// Result is one hypothesis emitted by a streaming STT vendor. At is the local
// receipt time used for latency bookkeeping.
type Result struct {
	Text    string
	IsFinal bool
	At      time.Time
}

// StreamingSTT defines the contract for any STT vendor implementation.
type StreamingSTT interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Start initializes the STT connection.
	Start(ctx context.Context) error
	// Close shuts down the STT connection.
	Close() error
	// SendAudio forwards one raw s16le PCM block to the vendor.
	SendAudio(pcm []byte) error
	// Results returns a channel of transcription results.
	Results() <-chan Result
}
