// Package server exposes the comparison WebSocket endpoint: one fanout
// manager per client connection, binary frames in, JSON events out.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/morix1500/hikaku-voice/pkg/fanout"
	"github.com/morix1500/hikaku-voice/pkg/logging"
	"github.com/morix1500/hikaku-voice/pkg/protocol"
)

type Config struct {
	Addr           string   `mapstructure:"addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = ":8009"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// ManagerBuilder assembles the provider fanout for one client session.
type ManagerBuilder func(sessionID string, sender fanout.Sender) (*fanout.Manager, error)

type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	builder  ManagerBuilder
	server   *http.Server
	log      *slog.Logger
	draining atomic.Bool
}

func New(cfg Config, builder ManagerBuilder, log *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg:     cfg,
		builder: builder,
		log:     logging.NewComponentLogger(log, "server"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.Handle(s.cfg.WebsocketPath, s)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = s.server.Close()
	}()
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server_error", slog.String("error", err.Error()))
		}
	}()
	s.log.Info("listening",
		slog.String("addr", s.cfg.Addr),
		slog.String("ws_path", s.cfg.WebsocketPath))
	return nil
}

func (s *Server) Stop() error {
	s.draining.Store(true)
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	log := s.log.With(slog.String("session_id", sessionID))
	log.Info("client_connected")

	sender := &wsSender{conn: conn}
	mgr, err := s.builder(sessionID, sender)
	if err != nil {
		log.Error("session_build_failed", slog.String("error", err.Error()))
		_ = sender.SendEvent(protocol.ErrorEvent{Message: err.Error()})
		return
	}
	if err := mgr.Initialize(r.Context()); err != nil {
		log.Error("session_init_failed", slog.String("error", err.Error()))
		_ = sender.SendEvent(protocol.ErrorEvent{Message: err.Error()})
		return
	}
	defer mgr.Close()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			mgr.ProcessAudio(data)
		case websocket.TextMessage:
			mgr.HandleControl(data)
		}
	}
	log.Info("client_disconnected")
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if s.cfg.AllowAnyOrigin {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range s.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

// wsSender serializes writes to the client connection; gorilla allows one
// concurrent writer.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) SendEvent(ev protocol.Event) error {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

var _ fanout.Sender = (*wsSender)(nil)
