package transports

import (
	"context"

	"github.com/morix1500/hikaku-voice/pkg/protocol"
)

// Transport is the client-side message channel to the comparison server.
// Implementations own their network lifecycle. Recv is closed when the
// transport closes, whether locally or by the remote end; there is no
// automatic reconnect.
type Transport interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
	// Recv delivers decoded inbound events in FIFO order.
	Recv() <-chan protocol.Event
	// SendAudio transmits one raw s16le PCM block as a binary message.
	SendAudio(pcm []byte) error
	// SendControl transmits a JSON control message.
	SendControl(v any) error
}
