package audio

import "context"

// Source yields fixed-size blocks of normalized float samples. Implementations
// own their device lifecycle; Stop must release capture resources even when
// Start failed partway.
type Source interface {
	Start(ctx context.Context) error
	Stop() error
	Blocks() <-chan []float32
}

// ChanSource is a channel-backed source for tests and piping.
type ChanSource struct {
	ch chan []float32
}

func NewChanSource(buffer int) *ChanSource {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSource{ch: make(chan []float32, buffer)}
}

func (s *ChanSource) Start(ctx context.Context) error { return nil }

func (s *ChanSource) Stop() error { return nil }

func (s *ChanSource) Blocks() <-chan []float32 { return s.ch }

// Push feeds one block; it drops when the buffer is full.
func (s *ChanSource) Push(block []float32) {
	select {
	case s.ch <- block:
	default:
	}
}

// Close ends the block stream.
func (s *ChanSource) Close() { close(s.ch) }

var _ Source = (*ChanSource)(nil)
