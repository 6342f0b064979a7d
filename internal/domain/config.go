package domain

import "time"

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// EvaluationMode determines how recorded transactions are evaluated:
	// - "inline": evaluate on the recording path before responding
	// - "async":  publish to the event bus and let the worker evaluate
	EvaluationMode EvaluationMode `json:"evaluationMode"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Rule thresholds and custom rules
	Rules RulesConfig `json:"rules"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// EvaluationMode determines the transaction evaluation strategy.
type EvaluationMode string

const (
	// ModeInline evaluates rules synchronously on the recording path.
	ModeInline EvaluationMode = "inline"

	// ModeAsync hands evaluation to the bus-fed worker. Used for high write
	// throughput and for backfill jobs.
	ModeAsync EvaluationMode = "async"
)

// RulesConfig holds the externally tunable rule thresholds and windows.
// Defaults are the reference values; new deployments tune sensitivity here
// without code change.
type RulesConfig struct {
	// AmountSpikeThreshold is the fixed high-value cutoff, in the
	// transaction's currency. Strictly-greater comparison.
	AmountSpikeThreshold float64 `json:"amountSpikeThreshold"`

	// NewDeviceWindow is how long after first sight a device is considered
	// new for alerting purposes.
	NewDeviceWindow time.Duration `json:"newDeviceWindow"`

	// VelocityCount transactions within VelocityWindow trigger the velocity
	// rule. The window anchors at the transaction's own timestamp.
	VelocityCount  int           `json:"velocityCount"`
	VelocityWindow time.Duration `json:"velocityWindow"`

	// SpikeMultiplier and SpikeLookback drive the rolling-average spike rule.
	SpikeMultiplier float64       `json:"spikeMultiplier"`
	SpikeLookback   time.Duration `json:"spikeLookback"`

	// Custom holds deployment-defined CEL rules.
	Custom []CustomRuleConfig `json:"custom,omitempty"`
}

// CustomRuleConfig defines a deployment-specific rule as a CEL expression.
// The expression must evaluate to bool; true produces an alert draft with the
// configured code and severity.
type CustomRuleConfig struct {
	Code       string `json:"code"`
	Severity   string `json:"severity"`
	Expression string `json:"expression"`
	Enabled    bool   `json:"enabled"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `json:"endpoint"`
}

// DefaultRulesConfig returns the reference rule thresholds.
func DefaultRulesConfig() RulesConfig {
	return RulesConfig{
		AmountSpikeThreshold: 5000,
		NewDeviceWindow:      time.Minute,
		VelocityCount:        3,
		VelocityWindow:       2 * time.Minute,
		SpikeMultiplier:      2.5,
		SpikeLookback:        30 * 24 * time.Hour,
	}
}

// DefaultConfig returns a single-node configuration: SQLite, in-memory
// cache, channel bus, inline evaluation.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		EvaluationMode: ModeInline,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Rules: DefaultRulesConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ClusterConfig returns a multi-node configuration: PostgreSQL, two-phase
// Redis cache, NATS bus, async evaluation through the worker.
func ClusterConfig() *Config {
	cfg := DefaultConfig()
	cfg.EvaluationMode = ModeAsync
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "harrier",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
