package mock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/morix1500/hikaku-voice/pkg/adapters/stt"
)

type STTConfig struct {
	Transcript        string `mapstructure:"transcript"`
	InterimTranscript string `mapstructure:"interim_transcript"`
	EmitInterim       bool   `mapstructure:"emit_interim"`
	DelayMS           int    `mapstructure:"delay_ms"`
}

// StreamingSTT is a scripted vendor used in tests and keyless demos. It emits
// its configured transcript once, on the first audio block it receives.
type StreamingSTT struct {
	cfg     STTConfig
	out     chan stt.Result
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex
	started bool
	emitted bool
}

func NewSTT(cfg STTConfig) *StreamingSTT {
	if cfg.Transcript == "" {
		cfg.Transcript = "mock transcript"
	}
	return &StreamingSTT{cfg: cfg, out: make(chan stt.Result, 16)}
}

func (s *StreamingSTT) Name() string { return "mock_stt" }

func (s *StreamingSTT) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *StreamingSTT) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	if s.out != nil {
		close(s.out)
		s.out = nil
	}
	s.started = false
	return nil
}

func (s *StreamingSTT) SendAudio(pcm []byte) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return errors.New("not started")
	}
	if s.emitted {
		s.mu.Unlock()
		return nil
	}
	s.emitted = true
	s.mu.Unlock()

	go s.emit()
	return nil
}

func (s *StreamingSTT) emit() {
	if s.cfg.DelayMS > 0 {
		select {
		case <-time.After(time.Duration(s.cfg.DelayMS) * time.Millisecond):
		case <-s.ctx.Done():
			return
		}
	}
	if s.cfg.EmitInterim {
		interim := s.cfg.InterimTranscript
		if interim == "" {
			interim = s.cfg.Transcript
		}
		s.send(stt.Result{Text: interim, IsFinal: false, At: time.Now()})
	}
	s.send(stt.Result{Text: s.cfg.Transcript, IsFinal: true, At: time.Now()})
}

func (s *StreamingSTT) send(res stt.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return
	}
	select {
	case s.out <- res:
	default:
	}
}

func (s *StreamingSTT) Results() <-chan stt.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out
}

var _ stt.StreamingSTT = (*StreamingSTT)(nil)
