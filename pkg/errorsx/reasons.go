package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Client side.
	ReasonConnect        ReasonCode = "ws_connect"
	ReasonConnectionLost ReasonCode = "ws_closed"
	ReasonSendAudio      ReasonCode = "ws_send_audio"
	ReasonSendControl    ReasonCode = "ws_send_control"
	ReasonCapture        ReasonCode = "capture"
	ReasonProtocol       ReasonCode = "protocol"
	ReasonServer         ReasonCode = "server"

	// Server side.
	ReasonSTTConnect ReasonCode = "stt_connect"
	ReasonSTTSend    ReasonCode = "stt_send"
)
