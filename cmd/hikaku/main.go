package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/morix1500/hikaku-voice/pkg/audio"
	"github.com/morix1500/hikaku-voice/pkg/hikaku"
	"github.com/morix1500/hikaku-voice/pkg/logging"
	"github.com/morix1500/hikaku-voice/pkg/metrics"
	"github.com/morix1500/hikaku-voice/pkg/render"
	"github.com/morix1500/hikaku-voice/pkg/runner"
	"github.com/morix1500/hikaku-voice/pkg/session"
	"github.com/morix1500/hikaku-voice/pkg/transcript"
	"github.com/morix1500/hikaku-voice/pkg/transports/ws"
	"github.com/morix1500/hikaku-voice/pkg/vad"
)

// disconnectWatcher cancels the run context when the session drops so the
// process exits instead of idling against a dead transport.
type disconnectWatcher struct {
	cancel context.CancelFunc
}

func (w disconnectWatcher) OnStateChange(ev session.StateChange) {
	if ev.ToState == session.StateDisconnected {
		w.cancel()
	}
}

type sessionDrainer struct {
	sess *session.Session
	obs  *metrics.AsyncObserver
}

func (d sessionDrainer) Drain() error {
	err := d.sess.Close()
	d.obs.Close()
	return err
}

func main() {
	configPath := flag.String("config", "config.yaml", "")
	serverURL := flag.String("server", "", "override client.server_url")
	device := flag.String("device", "", "override client.device")
	flag.Parse()

	cfg, err := hikaku.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	if *serverURL != "" {
		cfg.Client.ServerURL = *serverURL
	}
	if *device != "" {
		cfg.Client.Device = *device
	}
	log := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(log)
	if err := cfg.ValidateClient(); err != nil {
		log.Error("invalid_config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	tracker := vad.NewTracker(cfg.Client.VADThreshold)
	mem := metrics.NewMemoryObserver()
	obs := metrics.NewAsyncObserver(mem, 256)
	board := transcript.NewBoard(tracker, obs, log)
	render.NewConsole(os.Stdout, board)

	transport := ws.New(ws.Config{
		URL:              cfg.Client.ServerURL,
		HandshakeTimeout: time.Duration(cfg.Client.HandshakeTimeoutMS) * time.Millisecond,
	}, log)

	capture, err := audio.NewCapture(audio.CaptureConfig{
		SampleRate: cfg.Client.SampleRate,
		BlockSize:  cfg.Client.BlockSize,
		DeviceName: cfg.Client.Device,
		Logger:     log,
	})
	if err != nil {
		log.Error("capture_init_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer capture.Terminate()

	sess := session.New(session.Config{
		SpeechEndHold: time.Duration(cfg.Client.SpeechEndHoldMS) * time.Millisecond,
	}, transport, capture, tracker, board, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sess.AddStateListener(disconnectWatcher{cancel: cancel})

	if err := sess.Connect(ctx); err != nil {
		log.Error("connect_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	lr := runner.NewLifecycleRunner(sessionDrainer{sess: sess, obs: obs}, runner.Hooks{
		OnStart: func() {
			if err := sess.StartRecording(ctx); err != nil {
				log.Error("recording_failed", slog.String("error", err.Error()))
				cancel()
			}
		},
	}, 10*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := lr.Run(ctx); err != nil {
		log.Warn("shutdown_incomplete", slog.String("error", err.Error()))
	}

	for _, st := range board.Snapshot() {
		log.Info("provider_summary",
			slog.String("provider", st.ID),
			slog.Int("segments", len(st.Segments)),
			slog.Duration("last_latency", st.Latency))
	}
	log.Info("metrics_summary",
		slog.Int("events", len(mem.Snapshot())),
		slog.Int64("dropped", obs.Dropped()))
}
