package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/kis-data/internal/metrics"
	"github.com/rickgao/kis-data/internal/model"
)

// SupervisorStats provides statistics about the supervisor.
type SupervisorStats struct {
	State       State
	Attempts    int64 // Sessions started
	Subscribed  int64 // Sessions that reached Subscribed
	Ticks       int64
	DataErrors  int64
	LastError   string
	LastErrorAt time.Time
}

// Supervisor keeps a subscription alive by running sessions back to back.
// Only cancellation of its context stops it.
type Supervisor struct {
	cfg       SupervisorConfig
	approvals ApprovalSource
	logger    *slog.Logger
	metrics   *metrics.Metrics

	current    atomic.Pointer[Session]
	attempts   atomic.Int64
	subscribed atomic.Int64
	ticks      atomic.Int64
	dataErrors atomic.Int64

	errMu       sync.Mutex
	lastError   string
	lastErrorAt time.Time

	// Start/Stop lifecycle
	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSupervisor creates a Supervisor.
func NewSupervisor(cfg SupervisorConfig, approvals ApprovalSource, logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultSupervisorConfig().ReconnectDelay
	}

	return &Supervisor{
		cfg:       cfg,
		approvals: approvals,
		logger:    logger.With("component", "stream_supervisor"),
		metrics:   m,
	}
}

// Run keeps sub alive until ctx is cancelled and then returns ctx.Err().
// onFatal receives every error that ended a session, handshake failures
// included; the supervisor retries after ReconnectDelay regardless.
func (s *Supervisor) Run(ctx context.Context, sub Subscription, onTick TickFunc, onFatal ErrorFunc) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	handlers := Handlers{
		OnTick: func(t model.Tick) {
			s.ticks.Add(1)
			if onTick != nil {
				onTick(t)
			}
		},
		OnDataError: func(*StreamDataError) {
			s.dataErrors.Add(1)
		},
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt := s.attempts.Add(1)
		session := NewSession(s.cfg.Session, s.approvals, sub, s.logger, s.metrics)
		s.current.Store(session)

		var reached bool
		handlers.OnSubscribe = func(uuid.UUID) {
			reached = true
			s.subscribed.Add(1)
		}

		s.logger.Info("starting stream session",
			"attempt", attempt,
			"session", session.ID().String(),
			"tr_id", sub.TrID,
			"tr_key", sub.TrKey,
		)

		err := session.Run(ctx, handlers)
		if ctx.Err() != nil {
			s.metrics.StreamSession("cancelled")
			return ctx.Err()
		}

		outcome := "handshake_failed"
		if reached {
			outcome = "disconnected"
		}
		s.metrics.StreamSession(outcome)
		s.recordError(err)

		s.logger.Warn("stream session ended, reconnecting",
			"outcome", outcome,
			"error", err,
			"delay", s.cfg.ReconnectDelay,
		)

		if onFatal != nil {
			onFatal(err)
		}

		timer := time.NewTimer(s.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Start runs the supervisor in the background.
func (s *Supervisor) Start(ctx context.Context, sub Subscription, onTick TickFunc, onFatal ErrorFunc) error {
	if err := sub.Validate(); err != nil {
		return err
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.done != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		if err := s.Run(runCtx, sub, onTick, onFatal); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("stream supervisor exited", "error", err)
		}
	}()

	s.logger.Info("stream supervisor started")
	return nil
}

// Stop cancels the supervisor and waits for the current session to close.
// A stopped supervisor may be started again.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.runMu.Unlock()

	if cancel == nil {
		return nil
	}

	s.logger.Info("stopping stream supervisor")
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timeout, stream session still closing")
		return ctx.Err()
	}

	s.runMu.Lock()
	if s.done == done {
		s.cancel, s.done = nil, nil
	}
	s.runMu.Unlock()

	s.logger.Info("stream supervisor stopped")
	return nil
}

// Stats returns current statistics.
func (s *Supervisor) Stats() SupervisorStats {
	st := SupervisorStats{
		State:      StateDisconnected,
		Attempts:   s.attempts.Load(),
		Subscribed: s.subscribed.Load(),
		Ticks:      s.ticks.Load(),
		DataErrors: s.dataErrors.Load(),
	}
	if cur := s.current.Load(); cur != nil {
		st.State = cur.State()
	}

	s.errMu.Lock()
	st.LastError = s.lastError
	st.LastErrorAt = s.lastErrorAt
	s.errMu.Unlock()

	return st
}

func (s *Supervisor) recordError(err error) {
	if err == nil {
		return
	}
	s.errMu.Lock()
	s.lastError = err.Error()
	s.lastErrorAt = time.Now()
	s.errMu.Unlock()
}
