package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/morix1500/hikaku-voice/pkg/protocol"
)

// Transport is an in-memory transport for local testing and integration.
// It implements the transports.Transport interface without any network
// dependency.
type Transport struct {
	recvCh    chan protocol.Event
	audioCh   chan []byte
	controlCh chan any
	closed    atomic.Bool
	mu        sync.Mutex
}

func New() *Transport {
	return &Transport{
		recvCh:    make(chan protocol.Event, 256),
		audioCh:   make(chan []byte, 256),
		controlCh: make(chan any, 64),
	}
}

func (t *Transport) Name() string { return "mock" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	if t.closed.CompareAndSwap(false, true) {
		t.mu.Lock()
		close(t.recvCh)
		close(t.audioCh)
		close(t.controlCh)
		t.mu.Unlock()
	}
	return nil
}

func (t *Transport) Recv() <-chan protocol.Event { return t.recvCh }

func (t *Transport) SendAudio(pcm []byte) error {
	if t.closed.Load() {
		return nil
	}
	select {
	case t.audioCh <- pcm:
	default:
	}
	return nil
}

func (t *Transport) SendControl(v any) error {
	if t.closed.Load() {
		return nil
	}
	select {
	case t.controlCh <- v:
	default:
	}
	return nil
}

// Push injects an inbound event into the transport.
func (t *Transport) Push(ev protocol.Event) {
	if t.closed.Load() {
		return
	}
	select {
	case t.recvCh <- ev:
	default:
	}
}

// SentAudio exposes outbound audio for inspection.
func (t *Transport) SentAudio() <-chan []byte { return t.audioCh }

// SentControls exposes outbound control messages for inspection.
func (t *Transport) SentControls() <-chan any { return t.controlCh }
