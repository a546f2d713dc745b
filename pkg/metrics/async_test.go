package metrics

import (
	"sync"
	"testing"
)

func TestAsyncObserverDrainsOnClose(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 16)
	for i := 0; i < 5; i++ {
		a.RecordEvent(MetricsEvent{Name: "stt_final", Value: float64(i)})
	}
	a.Close()
	if got := len(mem.Snapshot()); got != 5 {
		t.Fatalf("expected 5 events after close, got %d", got)
	}
}

func TestAsyncObserverRecordAfterCloseDropsSilently(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 4)
	a.Close()
	a.RecordEvent(MetricsEvent{Name: "stt_final"})
	if got := len(mem.Snapshot()); got != 0 {
		t.Fatalf("expected no events recorded after close, got %d", got)
	}
}

func TestAsyncObserverCloseConcurrentWithRecord(t *testing.T) {
	mem := NewMemoryObserver()
	a := NewAsyncObserver(mem, 8)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				a.RecordEvent(MetricsEvent{Name: "stt_final"})
			}
		}()
	}
	a.Close()
	wg.Wait()
	// Reaching here without a send-on-closed-channel panic is the assertion.
}
