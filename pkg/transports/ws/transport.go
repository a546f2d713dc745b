package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/morix1500/hikaku-voice/pkg/errorsx"
	"github.com/morix1500/hikaku-voice/pkg/logging"
	"github.com/morix1500/hikaku-voice/pkg/protocol"
	"github.com/morix1500/hikaku-voice/pkg/transports"
)

type Config struct {
	URL              string        `mapstructure:"url"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	SendBuffer       int           `mapstructure:"send_buffer"`
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	return c
}

type outbound struct {
	msgType int
	data    []byte
}

// Transport streams audio to the comparison server and decodes its JSON
// events. Malformed inbound messages are logged and dropped; the session
// keeps running. A closed connection closes Recv and is terminal, manual
// restart required.
type Transport struct {
	cfg    Config
	conn   *websocket.Conn
	recvCh chan protocol.Event
	sendCh chan outbound
	sendMu sync.Mutex
	closed atomic.Bool
	once   sync.Once
	log    *slog.Logger
}

func New(cfg Config, log *slog.Logger) *Transport {
	cfg = cfg.withDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		cfg:    cfg,
		recvCh: make(chan protocol.Event, 512),
		sendCh: make(chan outbound, cfg.SendBuffer),
		log:    logging.NewComponentLogger(log, "ws_transport"),
	}
}

func (t *Transport) Name() string { return "ws" }

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonConnect)
	}
	t.conn = conn
	t.log.Info("connected", slog.String("url", t.cfg.URL))

	go t.readLoop()
	go t.writeLoop()
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	return nil
}

func (t *Transport) Stop() error {
	var err error
	t.once.Do(func() {
		t.closed.Store(true)
		t.sendMu.Lock()
		close(t.sendCh)
		t.sendMu.Unlock()
		if t.conn != nil {
			err = t.conn.Close()
		}
	})
	return err
}

func (t *Transport) Recv() <-chan protocol.Event { return t.recvCh }

func (t *Transport) SendAudio(pcm []byte) error {
	return t.enqueue(outbound{msgType: websocket.BinaryMessage, data: pcm}, errorsx.ReasonSendAudio)
}

func (t *Transport) SendControl(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSendControl)
	}
	return t.enqueue(outbound{msgType: websocket.TextMessage, data: data}, errorsx.ReasonSendControl)
}

// enqueue holds sendMu across the closed check and the send so Stop cannot
// close the channel in between.
func (t *Transport) enqueue(ob outbound, reason errorsx.ReasonCode) error {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if t.closed.Load() {
		return errorsx.Wrap(errors.New("transport closed"), errorsx.ReasonConnectionLost)
	}
	select {
	case t.sendCh <- ob:
		return nil
	default:
		t.log.Warn("send_queue_full", slog.String("reason_code", string(reason)))
		return nil
	}
}

func (t *Transport) readLoop() {
	defer func() {
		_ = t.Stop()
		close(t.recvCh)
	}()
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.closed.Load() {
				t.log.Warn("connection_lost",
					slog.String("error", err.Error()),
					slog.String("reason_code", string(errorsx.ReasonConnectionLost)))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			t.log.Warn("dropping_malformed_message",
				slog.String("error", err.Error()),
				slog.String("reason_code", string(errorsx.ReasonProtocol)))
			continue
		}
		select {
		case t.recvCh <- ev:
		default:
			t.log.Warn("recv_queue_full")
		}
	}
}

func (t *Transport) writeLoop() {
	for ob := range t.sendCh {
		if err := t.conn.WriteMessage(ob.msgType, ob.data); err != nil {
			if !t.closed.Load() {
				t.log.Warn("write_failed", slog.String("error", err.Error()))
			}
			return
		}
	}
}

var _ transports.Transport = (*Transport)(nil)
