// Package session wires capture, the speech tracker, the encoder and the
// transport into the client lifecycle: DISCONNECTED -> CONNECTING ->
// CONNECTED -> {RECORDING, IDLE} -> DISCONNECTED.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/morix1500/hikaku-voice/pkg/audio"
	"github.com/morix1500/hikaku-voice/pkg/errorsx"
	"github.com/morix1500/hikaku-voice/pkg/logging"
	"github.com/morix1500/hikaku-voice/pkg/protocol"
	"github.com/morix1500/hikaku-voice/pkg/transcript"
	"github.com/morix1500/hikaku-voice/pkg/transports"
	"github.com/morix1500/hikaku-voice/pkg/vad"
)

type Config struct {
	// SpeechEndHold is how long the tracker must stay silent after speech
	// before the speech-end control message is sent.
	SpeechEndHold time.Duration
}

func (c Config) withDefaults() Config {
	if c.SpeechEndHold <= 0 {
		c.SpeechEndHold = 300 * time.Millisecond
	}
	return c
}

type Session struct {
	cfg       Config
	transport transports.Transport
	source    audio.Source
	tracker   *vad.Tracker
	board     *transcript.Board
	log       *slog.Logger
	fsm       *stateMachine

	mu           sync.Mutex
	recording    atomic.Bool
	recordCancel context.CancelFunc
}

func New(cfg Config, tr transports.Transport, src audio.Source, tracker *vad.Tracker, board *transcript.Board, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		cfg:       cfg.withDefaults(),
		transport: tr,
		source:    src,
		tracker:   tracker,
		board:     board,
		log:       logging.NewComponentLogger(log, "session"),
		fsm:       newStateMachine(),
	}
}

func (s *Session) State() State { return s.fsm.State() }

func (s *Session) Board() *transcript.Board { return s.board }

func (s *Session) AddStateListener(l StateListener) { s.fsm.AddListener(l) }

// Connect performs the transport handshake. A failed handshake returns to
// DISCONNECTED and is terminal; the caller restarts the session explicitly.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.fsm.Transition(StateConnecting, "session start"); err != nil {
		return err
	}
	if err := s.transport.Start(ctx); err != nil {
		_ = s.fsm.Transition(StateDisconnected, "handshake failed")
		s.log.Error("connect_failed",
			slog.String("error", err.Error()),
			slog.String("reason_code", string(errorsx.Reason(err))))
		return err
	}
	if err := s.fsm.Transition(StateConnected, "handshake ok"); err != nil {
		return err
	}
	go s.readLoop()
	return s.fsm.Transition(StateIdle, "ready")
}

// StartRecording acquires the capture source and begins streaming encoded
// blocks. Capture failure releases the source and reverts to IDLE.
func (s *Session) StartRecording(ctx context.Context) error {
	if err := s.fsm.Transition(StateRecording, "capture start"); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	recordCtx, cancel := context.WithCancel(ctx)
	if err := s.source.Start(recordCtx); err != nil {
		cancel()
		_ = s.source.Stop()
		_ = s.fsm.Transition(StateIdle, "capture failed")
		return errorsx.Wrap(err, errorsx.ReasonCapture)
	}
	s.mu.Lock()
	s.recordCancel = cancel
	s.mu.Unlock()
	s.recording.Store(true)
	go s.pumpLoop(recordCtx)
	return nil
}

// StopRecording halts outbound frame production immediately and releases the
// capture source unconditionally. Inbound events already queued still apply.
func (s *Session) StopRecording() error {
	s.recording.Store(false)
	s.mu.Lock()
	if s.recordCancel != nil {
		s.recordCancel()
		s.recordCancel = nil
	}
	s.mu.Unlock()
	err := s.source.Stop()
	if terr := s.fsm.Transition(StateIdle, "capture stop"); terr != nil {
		// Already disconnected; keep the capture error if any.
		if err == nil {
			return nil
		}
	}
	return errorsx.Wrap(err, errorsx.ReasonCapture)
}

// Close tears the session down.
func (s *Session) Close() error {
	s.recording.Store(false)
	s.mu.Lock()
	if s.recordCancel != nil {
		s.recordCancel()
		s.recordCancel = nil
	}
	s.mu.Unlock()
	_ = s.source.Stop()
	err := s.transport.Stop()
	s.tracker.Reset()
	_ = s.fsm.Transition(StateDisconnected, "session close")
	return err
}

func (s *Session) readLoop() {
	for ev := range s.transport.Recv() {
		s.board.Apply(ev)
	}
	s.recording.Store(false)
	if s.fsm.State() != StateDisconnected {
		s.log.Warn("transport_closed",
			slog.String("reason_code", string(errorsx.ReasonConnectionLost)))
		_ = s.fsm.Transition(StateDisconnected, "transport closed")
	}
}

// pumpLoop feeds capture blocks through the tracker and the encoder. It
// watches the marker for a speech-to-silence edge and forwards it to the
// server so server-side latency bookkeeping uses the same gate.
func (s *Session) pumpLoop(ctx context.Context) {
	speechActive := false
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-s.source.Blocks():
			if !ok {
				return
			}
			if !s.recording.Load() {
				return
			}
			isSpeech := s.tracker.Observe(block)
			if err := s.transport.SendAudio(audio.EncodePCM(block)); err != nil {
				s.log.Warn("audio_send_failed",
					slog.String("error", err.Error()),
					slog.String("reason_code", string(errorsx.Reason(err))))
				return
			}
			if isSpeech {
				speechActive = true
				continue
			}
			if !speechActive {
				continue
			}
			mark := s.tracker.LastSpeech()
			if mark.IsZero() || time.Since(mark) < s.cfg.SpeechEndHold {
				continue
			}
			speechActive = false
			se := protocol.NewSpeechEnd(float64(mark.UnixNano()) / 1e9)
			if err := s.transport.SendControl(se); err != nil {
				s.log.Warn("speech_end_send_failed", slog.String("error", err.Error()))
			} else {
				s.log.Debug("speech_end_sent", slog.Float64("timestamp", se.Timestamp))
			}
		}
	}
}
