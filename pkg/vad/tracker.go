// Package vad provides the client-side amplitude gate used to timestamp the
// end of speech independently of any provider's internal endpointing.
package vad

import (
	"sync"
	"time"
)

// DefaultThreshold is the peak amplitude (int16 scale) above which a block
// counts as speech; roughly 1.5% of full scale.
const DefaultThreshold = 500

// Tracker records the wall-clock time of the most recent block whose peak
// amplitude strictly exceeded the threshold. The marker never moves backward;
// the zero time means no speech has been observed yet.
type Tracker struct {
	mu         sync.RWMutex
	threshold  int32
	lastSpeech time.Time
	now        func() time.Time
}

func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		threshold: int32(threshold),
		now:       time.Now,
	}
}

// Observe scans one block and advances the marker when it contains speech.
// It reports whether the block exceeded the threshold.
func (t *Tracker) Observe(block []float32) bool {
	var peak int32
	for _, s := range block {
		v := int32(s * 32768)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak <= t.threshold {
		return false
	}
	t.mu.Lock()
	t.lastSpeech = t.now()
	t.mu.Unlock()
	return true
}

// LastSpeech returns the current marker; zero when no speech was observed.
func (t *Tracker) LastSpeech() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSpeech
}

// Reset clears the marker at session teardown.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.lastSpeech = time.Time{}
	t.mu.Unlock()
}
