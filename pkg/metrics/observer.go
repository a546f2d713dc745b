// Package metrics collects latency samples. The comparison emits one
// stt_final event per committed segment; everything else is plumbing around
// that stream.
package metrics

import "time"

// MetricsEvent is a single observation. Value carries the measurement
// (latency in milliseconds for stt_final); Tags identify the provider.
type MetricsEvent struct {
	Name  string
	Time  time.Time
	Value float64
	Tags  map[string]string
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

// NoopObserver discards observations. Used where no sink is configured.
type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}
