package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rickgao/kis-data/internal/auth"
	"github.com/rickgao/kis-data/internal/metrics"
	"github.com/rickgao/kis-data/internal/model"
)

// ApprovalSource issues websocket approval keys. *auth.ApprovalIssuer implements it.
type ApprovalSource interface {
	Issue(ctx context.Context) (auth.ApprovalKey, error)
}

// TickFunc receives data messages.
type TickFunc func(model.Tick)

// ErrorFunc receives errors that ended a session.
type ErrorFunc func(error)

// Handlers are the session callbacks. All run on the session goroutine.
type Handlers struct {
	OnTick      TickFunc
	OnDataError func(*StreamDataError)
	OnSubscribe func(sessionID uuid.UUID)
}

// Session is one connection lifetime: approval key, subscribe, then frame
// handling until the connection drops or the context is cancelled.
type Session struct {
	id        uuid.UUID
	cfg       SessionConfig
	approvals ApprovalSource
	sub       Subscription
	logger    *slog.Logger
	metrics   *metrics.Metrics

	state atomic.Int32
}

// NewSession creates a session for sub. It does not connect until Run.
func NewSession(cfg SessionConfig, approvals ApprovalSource, sub Subscription, logger *slog.Logger, m *metrics.Metrics) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CustType == "" {
		cfg.CustType = "P"
	}

	id := uuid.New()
	return &Session{
		id:        id,
		cfg:       cfg,
		approvals: approvals,
		sub:       sub,
		logger:    logger.With("session", id.String()),
		metrics:   m,
	}
}

// ID returns the session id attached to every tick.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run performs the handshake and processes frames until the connection ends.
// It returns ctx.Err() after cancellation and a non-nil error otherwise.
func (s *Session) Run(ctx context.Context, h Handlers) error {
	if err := s.sub.Validate(); err != nil {
		return err
	}

	defer s.setState(StateDisconnected)
	s.setState(StateHandshaking)

	key, err := s.approvals.Issue(ctx)
	if err != nil {
		return fmt.Errorf("issue approval key: %w", err)
	}

	client := NewClient(s.cfg.Client, s.logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer client.Close()

	subscribe, err := s.request(key.Key, TrTypeSubscribe)
	if err != nil {
		return err
	}
	if err := client.Send(subscribe); err != nil {
		return fmt.Errorf("send subscribe: %w", err)
	}

	s.setState(StateSubscribed)
	s.metrics.StreamConnected(true)
	defer s.metrics.StreamConnected(false)

	s.logger.Info("stream subscribed",
		"tr_id", s.sub.TrID,
		"tr_key", s.sub.TrKey,
		"approval_key", auth.Redact(key.Key),
	)
	if h.OnSubscribe != nil {
		h.OnSubscribe(s.id)
	}

	for {
		select {
		case <-ctx.Done():
			s.unsubscribe(client, key.Key)
			return ctx.Err()

		case err := <-client.Errors():
			s.drain(client, h)
			return fmt.Errorf("stream disconnected: %w", err)

		case msg := <-client.Messages():
			s.handle(client, msg, h)
		}
	}
}

func (s *Session) request(approvalKey, trType string) ([]byte, error) {
	data, err := json.Marshal(request{
		Header: requestHeader{
			ApprovalKey: approvalKey,
			CustType:    s.cfg.CustType,
			TrType:      trType,
			ContentType: ContentTypeUTF8,
		},
		Body: requestBody{Input: s.sub},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

// unsubscribe is best effort; the connection is closed right after.
func (s *Session) unsubscribe(client Client, approvalKey string) {
	data, err := s.request(approvalKey, TrTypeUnsubscribe)
	if err != nil {
		return
	}
	if err := client.Send(data); err != nil && !errors.Is(err, ErrNotConnected) {
		s.logger.Debug("unsubscribe failed", "error", err)
	}
}

// drain handles messages that were read before the connection failed.
func (s *Session) drain(client Client, h Handlers) {
	for {
		select {
		case msg := <-client.Messages():
			s.handle(client, msg, h)
		default:
			return
		}
	}
}

func (s *Session) handle(client Client, msg TimestampedMessage, h Handlers) {
	frame := ParseFrame(msg.Data)
	s.metrics.StreamFrame(frame.Kind.String())

	switch frame.Kind {
	case FrameKeepAlive:
		if err := client.Send(keepAliveReply); err != nil {
			s.logger.Warn("keep-alive reply failed", "error", err)
		}

	case FrameData:
		if h.OnTick == nil {
			return
		}
		h.OnTick(model.Tick{
			SessionID:  s.id,
			TrID:       frame.TrID,
			ReceivedAt: msg.ReceivedAt.UnixMicro(),
			Payload:    frame.Body,
			Encrypted:  frame.Encrypted,
			Count:      frame.Count,
			Fields:     frame.Fields,
		})

	default:
		dataErr := frame.Err()
		s.metrics.StreamDataError()
		s.logger.Warn("stream data error",
			"code", dataErr.Code,
			"message", dataErr.Message,
			"raw", truncate(msg.Data, 256),
		)
		if h.OnDataError != nil {
			h.OnDataError(dataErr)
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
