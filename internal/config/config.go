package config

import "time"

// GatewayConfig is the root configuration for a gateway process.
type GatewayConfig struct {
	API      APIConfig     `yaml:"api"`
	Stream   StreamConfig  `yaml:"stream"`
	Server   ServerConfig  `yaml:"server"`
	Database DBConfig      `yaml:"database"`
	Cache    CacheConfig   `yaml:"cache"`
	Writer   WriterConfig  `yaml:"writer"`
	Metrics  MetricsConfig `yaml:"metrics"`
	Log      LogConfig     `yaml:"log"`
}

// APIConfig holds KIS Open API settings for the REST surface.
type APIConfig struct {
	RestURL           string        `yaml:"rest_url"`
	AppKey            string        `yaml:"app_key"`
	AppSecret         string        `yaml:"app_secret"`
	CustType          string        `yaml:"cust_type"` // "P" (individual) or "B" (corporate)
	Timeout           time.Duration `yaml:"timeout"`
	TokenExpiryMargin time.Duration `yaml:"token_expiry_margin"`
	RateLimit         float64       `yaml:"rate_limit"` // Requests per second, 0 = unlimited
	RateBurst         int           `yaml:"rate_burst"`
}

// StreamConfig holds realtime websocket settings.
type StreamConfig struct {
	Enabled          bool          `yaml:"enabled"`
	WSURL            string        `yaml:"ws_url"`
	ApprovalURL      string        `yaml:"approval_url"` // Defaults to api.rest_url
	TrID             string        `yaml:"tr_id"`
	TrKey            string        `yaml:"tr_key"`
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// ServerConfig holds the HTTP front door settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DBConfig holds the PostgreSQL connection used for trade persistence.
// Persistence is disabled when Host is empty.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database is configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// CacheConfig holds the Redis response cache settings.
// Caching is disabled when Addr is empty.
type CacheConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	Prefix       string        `yaml:"prefix"`
	FinancialTTL time.Duration `yaml:"financial_ttl"`
}

// Enabled reports whether a cache is configured.
func (c CacheConfig) Enabled() bool {
	return c.Addr != ""
}

// WriterConfig holds trade batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}
