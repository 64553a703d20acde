package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no inbound activity)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrAlreadyStarted  = errors.New("supervisor already started")
	ErrNoSubscription  = errors.New("subscription needs tr_id and tr_key")
)

// Protocol constants.
const (
	TrIDPingPong      = "PINGPONG"
	TrTypeSubscribe   = "1"
	TrTypeUnsubscribe = "2"
	ContentTypeUTF8   = "utf-8"
)

// keepAliveReply answers a PINGPONG probe.
var keepAliveReply = []byte(`{"header":{"tr_id":"PINGPONG"}}`)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Subscription is the stream topic. It is replayed verbatim on every reconnect.
type Subscription struct {
	TrID  string `json:"tr_id"`  // Feed (e.g., "H0STCNT0")
	TrKey string `json:"tr_key"` // Instrument code (e.g., "005930")
}

// Validate checks that both fields are present.
func (s Subscription) Validate() error {
	if s.TrID == "" || s.TrKey == "" {
		return ErrNoSubscription
	}
	return nil
}

// requestHeader is the header of a subscribe or unsubscribe request.
type requestHeader struct {
	ApprovalKey string `json:"approval_key"`
	CustType    string `json:"custtype"`
	TrType      string `json:"tr_type"`
	ContentType string `json:"content-type"`
}

type requestBody struct {
	Input Subscription `json:"input"`
}

// request is a subscribe or unsubscribe frame.
type request struct {
	Header requestHeader `json:"header"`
	Body   requestBody   `json:"body"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., ws://ops.koreainvestment.com:21000)
	PingTimeout      time.Duration // Max time without inbound traffic before the connection is stale
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // Websocket upgrade timeout
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:      2 * time.Minute,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       1024,
	}
}

// SessionConfig configures a stream session.
type SessionConfig struct {
	Client   ClientConfig
	CustType string // "P" (individual) or "B" (corporate)
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Client:   DefaultClientConfig(),
		CustType: "P",
	}
}

// SupervisorConfig configures the reconnection supervisor.
type SupervisorConfig struct {
	Session        SessionConfig
	ReconnectDelay time.Duration // Fixed wait between sessions
}

// DefaultSupervisorConfig returns sensible defaults.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Session:        DefaultSessionConfig(),
		ReconnectDelay: 5 * time.Second,
	}
}

// State is the lifecycle state of a stream session.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}
