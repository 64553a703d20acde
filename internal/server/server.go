package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"

	"github.com/rickgao/kis-data/internal/auth"
	"github.com/rickgao/kis-data/internal/connection"
	"github.com/rickgao/kis-data/internal/metrics"
)

// Quotes is the upstream surface behind the routes. *api.Client implements it.
type Quotes interface {
	InquirePrice(ctx context.Context, code string) (json.RawMessage, error)
	DailyChartPrice(ctx context.Context, code, start, end string) (json.RawMessage, error)
	ETFPrice(ctx context.Context, code string) (json.RawMessage, error)
	NewsTitles(ctx context.Context, code string) (json.RawMessage, error)
	FinancialStatement(ctx context.Context, code, dataType string) (json.RawMessage, error)
}

// TokenStatus reports the held access token. *auth.TokenManager implements it.
type TokenStatus interface {
	Current() (auth.Token, bool)
}

// StreamStatus reports the realtime stream. *connection.Supervisor implements it.
type StreamStatus interface {
	Stats() connection.SupervisorStats
}

// Config configures the HTTP server.
type Config struct {
	Addr           string
	AllowedOrigins []string // Empty or "*" allows every origin
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MetricsPath    string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8000",
		AllowedOrigins: []string{"*"},
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		MetricsPath:    "/metrics",
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithTokenStatus reports token state on /health.
func WithTokenStatus(t TokenStatus) Option {
	return func(s *Server) {
		s.tokens = t
	}
}

// WithStreamStatus reports stream state on /health.
func WithStreamStatus(st StreamStatus) Option {
	return func(s *Server) {
		s.stream = st
	}
}

// WithGatherer serves g on the metrics path.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// Server is the HTTP front door.
type Server struct {
	cfg      Config
	quotes   Quotes
	tokens   TokenStatus
	stream   StreamStatus
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	now      func() time.Time

	engine  *gin.Engine
	handler http.Handler
	http    *http.Server
	addr    net.Addr
}

// New creates a Server and registers its routes.
func New(cfg Config, quotes Quotes, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		quotes: quotes,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	if s.cfg.MetricsPath == "" {
		s.cfg.MetricsPath = DefaultConfig().MetricsPath
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.logRequests())
	s.routes()

	s.handler = cors.New(corsOptions(s.cfg.AllowedOrigins)).Handler(s.engine)
	return s
}

func (s *Server) routes() {
	s.engine.GET("/stock/:code", s.getPrice)
	s.engine.GET("/history/:code/:start/:end", s.getHistory)
	s.engine.GET("/etf/:code", s.getETF)
	s.engine.GET("/news/:code", s.getNews)
	s.engine.GET("/finance/:code/:data_type", s.getFinance)
	s.engine.GET("/health", s.getHealth)

	if s.gatherer != nil {
		s.engine.GET(s.cfg.MetricsPath, gin.WrapH(metrics.Handler(s.gatherer)))
	}
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}

	s.addr = ln.Addr()
	s.http = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address once started.
func (s *Server) Addr() string {
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

// logRequests logs one line per request.
func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func corsOptions(allowed []string) cors.Options {
	return cors.Options{
		AllowOriginFunc:  allowedOrigin(allowed),
		AllowedMethods:   []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}
}

// allowedOrigin matches origins exactly or ignoring the scheme.
func allowedOrigin(allowed []string) func(origin string) bool {
	trimScheme := func(origin string) string {
		return strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	}
	return func(origin string) bool {
		if len(allowed) == 0 || allowed[0] == "*" {
			return true
		}
		for _, a := range allowed {
			if a == origin || trimScheme(a) == trimScheme(origin) {
				return true
			}
		}
		return false
	}
}
