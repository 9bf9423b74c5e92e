package domain

// Config holds the complete Harrier service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure choices (sqlite/channel vs pg/nats)
	Tier Tier `json:"tier"`

	// Detection holds the engine configuration
	Detection DetectionConfig `json:"detection"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// DetectionConfig selects detectors and thresholds for analysis runs.
type DetectionConfig struct {
	// Enabled is the set of detector types to run. Empty means all.
	Enabled []AnomalyType `json:"enabled"`

	Thresholds Thresholds `json:"thresholds"`

	// AI collaborator settings. Disabled unless an API key is configured.
	AI AIConfig `json:"ai"`
}

// EnabledSet materializes the enabled detectors as a set.
func (d DetectionConfig) EnabledSet() map[AnomalyType]bool {
	set := make(map[AnomalyType]bool, len(AllAnomalyTypes))
	if len(d.Enabled) == 0 {
		for _, t := range AllAnomalyTypes {
			set[t] = true
		}
		return set
	}
	for _, t := range d.Enabled {
		set[t] = true
	}
	return set
}

// AIConfig configures the optional secondary-classification collaborator.
type AIConfig struct {
	Enabled    bool   `json:"enabled"`
	APIKey     string `json:"-"`
	APIURL     string `json:"apiUrl"`
	Model      string `json:"model"`
	TimeoutSec int    `json:"timeoutSec"`
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
	ExporterType string `json:"exporterType"` // stdout, otlp
	Endpoint     string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the single-node tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the multi-node tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8086,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Detection: DetectionConfig{
			Thresholds: DefaultThresholds(),
			AI: AIConfig{
				APIURL:     "https://api.openai.com/v1/chat/completions",
				Model:      "gpt-4o-mini",
				TimeoutSec: 20,
			},
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
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

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
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
