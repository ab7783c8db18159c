package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// EnvPrefix namespaces every environment variable, e.g. PROGRESS_SERVER_PORT
const EnvPrefix = "PROGRESS"

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Logging       LoggingConfig       `yaml:"logging" envconfig:"LOGGING"`
	WebSocket     WebSocketConfig     `yaml:"websocket" envconfig:"WEBSOCKET"`
	Operations    OperationsConfig    `yaml:"operations" envconfig:"OPERATIONS"`
	Client        ClientConfig        `yaml:"client" envconfig:"CLIENT"`
	Persistence   PersistenceConfig   `yaml:"persistence" envconfig:"PERSISTENCE"`
	Observability ObservabilityConfig `yaml:"observability" envconfig:"OBSERVABILITY"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host" envconfig:"HOST"`
	Port            int           `yaml:"port" envconfig:"PORT" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" validate:"gt=0"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" validate:"gt=0"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" validate:"gt=0"`
	AllowedOrigins  []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	EnableCORS      bool          `yaml:"enable_cors" envconfig:"ENABLE_CORS"`
}

// Address returns host:port for http.Server
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" validate:"oneof=debug info warn warning error"`
	Format   string `yaml:"format" envconfig:"FORMAT" validate:"oneof=json text"`
	Output   string `yaml:"output" envconfig:"OUTPUT" validate:"oneof=console file both"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" validate:"required_unless=Output console"`
}

// WebSocketConfig contains BroadcastServer configuration
type WebSocketConfig struct {
	ReadBufferSize  int           `yaml:"read_buffer_size" envconfig:"READ_BUFFER_SIZE" validate:"gt=0"`
	WriteBufferSize int           `yaml:"write_buffer_size" envconfig:"WRITE_BUFFER_SIZE" validate:"gt=0"`
	SendBufferSize  int           `yaml:"send_buffer_size" envconfig:"SEND_BUFFER_SIZE" validate:"gt=0"`
	MaxMessageSize  int64         `yaml:"max_message_size" envconfig:"MAX_MESSAGE_SIZE" validate:"gt=0"`
	WriteWait       time.Duration `yaml:"write_wait" envconfig:"WRITE_WAIT" validate:"gt=0"`
	PongWait        time.Duration `yaml:"pong_wait" envconfig:"PONG_WAIT" validate:"gt=0"`
	PingPeriod      time.Duration `yaml:"ping_period" envconfig:"PING_PERIOD" validate:"gt=0,ltfield=PongWait"`
	ControlRate     float64       `yaml:"control_rate" envconfig:"CONTROL_RATE" validate:"gte=0"`
	ControlBurst    int           `yaml:"control_burst" envconfig:"CONTROL_BURST" validate:"gte=0"`
}

// OperationsConfig contains registry configuration
type OperationsConfig struct {
	RetentionPeriod time.Duration `yaml:"retention_period" envconfig:"RETENTION_PERIOD" validate:"gt=0"`
}

// ClientConfig configures the ClientConnector used by progressctl
type ClientConfig struct {
	URL               string        `yaml:"url" envconfig:"URL" validate:"required,url"`
	InitialBackoff    time.Duration `yaml:"initial_backoff" envconfig:"INITIAL_BACKOFF" validate:"gt=0"`
	MaxBackoff        time.Duration `yaml:"max_backoff" envconfig:"MAX_BACKOFF" validate:"gtefield=InitialBackoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier" envconfig:"BACKOFF_MULTIPLIER" validate:"gte=1"`
	Jitter            float64       `yaml:"jitter" envconfig:"JITTER" validate:"gte=0,lte=1"`
	MaxAttempts       int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS" validate:"gte=0"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" envconfig:"HEARTBEAT_INTERVAL" validate:"gt=0"`
	DialTimeout       time.Duration `yaml:"dial_timeout" envconfig:"DIAL_TIMEOUT" validate:"gt=0"`
	StopTimeout       time.Duration `yaml:"stop_timeout" envconfig:"STOP_TIMEOUT" validate:"gt=0"`
	OutboundQueue     int           `yaml:"outbound_queue" envconfig:"OUTBOUND_QUEUE" validate:"gt=0"`
}

// PersistenceConfig configures the SQLite progress history
type PersistenceConfig struct {
	Enabled    bool   `yaml:"enabled" envconfig:"ENABLED"`
	DBPath     string `yaml:"db_path" envconfig:"DB_PATH" validate:"required_if=Enabled true"`
	BufferSize int    `yaml:"buffer_size" envconfig:"BUFFER_SIZE" validate:"gt=0"`

	// HistoryRetention bounds how long finished operations are kept. Zero keeps them forever.
	HistoryRetention time.Duration `yaml:"history_retention" envconfig:"HISTORY_RETENTION" validate:"gte=0"`
	PruneInterval    time.Duration `yaml:"prune_interval" envconfig:"PRUNE_INTERVAL" validate:"gt=0"`
}

// ObservabilityConfig controls OpenTelemetry setup
type ObservabilityConfig struct {
	ServiceName   string  `yaml:"service_name" envconfig:"SERVICE_NAME" validate:"required"`
	Environment   string  `yaml:"environment" envconfig:"ENVIRONMENT"`
	EnableMetrics bool    `yaml:"enable_metrics" envconfig:"ENABLE_METRICS"`
	EnableTracing bool    `yaml:"enable_tracing" envconfig:"ENABLE_TRACING"`
	TraceExporter string  `yaml:"trace_exporter" envconfig:"TRACE_EXPORTER" validate:"oneof=stdout none"`
	SampleRatio   float64 `yaml:"sample_ratio" envconfig:"SAMPLE_RATIO" validate:"gte=0,lte=1"`
}

// RateLimitConfig contains HTTP rate limiting configuration
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS" validate:"gt=0"`
	Burst   int     `yaml:"burst" envconfig:"BURST" validate:"gt=0"`
}

// Load builds the configuration from defaults, an optional YAML file and the
// environment, in increasing order of precedence, then validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := getConfigFilePath(); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadFromFile overlays YAML values on cfg. Keys absent from the file keep their current value.
func loadFromFile(filePath string, cfg *Config) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks every section against its validate tags
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// getConfigFilePath returns PROGRESS_CONFIG_FILE or the first config file found in common locations
func getConfigFilePath() string {
	if path := os.Getenv(EnvPrefix + "_CONFIG_FILE"); path != "" {
		return path
	}

	locations := []string{
		"config.yaml",
		"configs/config.yaml",
	}

	for _, location := range locations {
		if _, err := os.Stat(location); err == nil {
			return location
		}
	}

	return ""
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
			EnableCORS:      true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "console",
			FilePath: "logs/progress.log",
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			SendBufferSize:  256,
			MaxMessageSize:  4096,
			WriteWait:       10 * time.Second,
			PongWait:        60 * time.Second,
			PingPeriod:      54 * time.Second,
			ControlRate:     20,
			ControlBurst:    40,
		},
		Operations: OperationsConfig{
			RetentionPeriod: 300 * time.Second,
		},
		Client: ClientConfig{
			URL:               "ws://localhost:8080/ws",
			InitialBackoff:    time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 1.5,
			HeartbeatInterval: 30 * time.Second,
			DialTimeout:       10 * time.Second,
			StopTimeout:       5 * time.Second,
			OutboundQueue:     64,
		},
		Persistence: PersistenceConfig{
			Enabled:          false,
			DBPath:           "data/progress.db",
			BufferSize:       1024,
			HistoryRetention: 7 * 24 * time.Hour,
			PruneInterval:    time.Hour,
		},
		Observability: ObservabilityConfig{
			ServiceName:   "progresshub",
			Environment:   "development",
			EnableMetrics: true,
			EnableTracing: false,
			TraceExporter: "stdout",
			SampleRatio:   1.0,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     100,
			Burst:   50,
		},
	}
}
