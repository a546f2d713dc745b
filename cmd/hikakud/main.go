package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/morix1500/hikaku-voice/pkg/fanout"
	"github.com/morix1500/hikaku-voice/pkg/hikaku"
	"github.com/morix1500/hikaku-voice/pkg/logging"
	"github.com/morix1500/hikaku-voice/pkg/metrics"
	"github.com/morix1500/hikaku-voice/pkg/runner"
	"github.com/morix1500/hikaku-voice/pkg/server"
)

type serverDrainer struct {
	srv *server.Server
	obs *metrics.AsyncObserver
}

func (d serverDrainer) Drain() error {
	err := d.srv.Stop()
	d.obs.Close()
	return err
}

func main() {
	configPath := flag.String("config", "config.yaml", "")
	addr := flag.String("addr", "", "override server.addr")
	flag.Parse()

	cfg, err := hikaku.LoadConfig(*configPath)
	if err != nil {
		panic(err)
	}
	if *addr != "" {
		cfg.Server.Listen.Addr = *addr
	}
	log := logging.InitLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)
	slog.SetDefault(log)
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid_config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	mem := metrics.NewMemoryObserver()
	obs := metrics.NewAsyncObserver(mem, 1024)

	builder := func(sessionID string, sender fanout.Sender) (*fanout.Manager, error) {
		return hikaku.BuildManager(cfg.Server, sessionID, sender, log, obs)
	}
	srv := server.New(cfg.Server.Listen, builder, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lr := runner.NewLifecycleRunner(serverDrainer{srv: srv, obs: obs}, runner.Hooks{
		OnStart: func() {
			if err := srv.Start(ctx); err != nil {
				log.Error("server_start_failed", slog.String("error", err.Error()))
				cancel()
			}
		},
	}, 15*time.Second)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := lr.Run(ctx); err != nil {
		log.Warn("shutdown_incomplete", slog.String("error", err.Error()))
	}
	log.Info("metrics_summary",
		slog.Int("events", len(mem.Snapshot())),
		slog.Int64("dropped", obs.Dropped()))
}
