package domain

import "time"

// Config holds the complete MuleRift configuration.
type Config struct {
	// Server settings
	Server ServerConfig `koanf:"server" json:"server"`

	// Tier determines which storage, cache and bus backends are used
	Tier Tier `koanf:"tier" json:"tier"`

	// Engine tuning
	Detection DetectionConfig `koanf:"detection" json:"detection"`
	Scoring   ScoringConfig   `koanf:"scoring" json:"scoring"`

	// Component configurations
	Repository RepositoryConfig `koanf:"repository" json:"repository"`
	Cache      CacheConfig      `koanf:"cache" json:"cache"`
	EventBus   EventBusConfig   `koanf:"event_bus" json:"eventBus"`

	// Observability
	Logging LoggingConfig `koanf:"logging" json:"logging"`
	Tracing TracingConfig `koanf:"tracing" json:"tracing"`
}

// DetectionConfig tunes the structural and temporal detectors.
type DetectionConfig struct {
	// Elementary cycles shorter than MinCycleLength or longer than
	// MaxCycleLength are not enumerated.
	MinCycleLength int `koanf:"min_cycle_length" json:"minCycleLength"`
	MaxCycleLength int `koanf:"max_cycle_length" json:"maxCycleLength"`

	// CycleBudget bounds the wall time spent enumerating cycles and
	// MaxCycles the number of cycles kept. Exceeding either degrades the
	// cycle detector to SCC-only regions.
	CycleBudget time.Duration `koanf:"cycle_budget" json:"cycleBudget"`
	MaxCycles   int           `koanf:"max_cycles" json:"maxCycles"`

	SmurfingWindow    time.Duration `koanf:"smurfing_window" json:"smurfingWindow"`
	SmurfingThreshold int           `koanf:"smurfing_threshold" json:"smurfingThreshold"`

	// An account with fewer than ShellMaxTransactions lifetime transfers
	// that forwards funds within ShellMaxDelay is a shell.
	ShellMaxTransactions int           `koanf:"shell_max_transactions" json:"shellMaxTransactions"`
	ShellMaxDelay        time.Duration `koanf:"shell_max_delay" json:"shellMaxDelay"`

	// MaxWorkers caps concurrently running detectors.
	MaxWorkers int `koanf:"max_workers" json:"maxWorkers"`
}

// ScoringConfig holds the calibration parameters of the suspicion score.
type ScoringConfig struct {
	CycleWeight    float64 `koanf:"cycle_weight" json:"cycleWeight"`
	TemporalWeight float64 `koanf:"temporal_weight" json:"temporalWeight"`

	// Raw magnitudes that normalize to 100.
	CycleSaturation    float64 `koanf:"cycle_saturation" json:"cycleSaturation"`
	SmurfingSaturation float64 `koanf:"smurfing_saturation" json:"smurfingSaturation"`

	// NormalizeExpr is a CEL expression over x and saturation returning a
	// double in [0,100]. Empty means the linear saturating default.
	NormalizeExpr string `koanf:"normalize_expr" json:"normalizeExpr"`

	// Groups with fewer members after partitioning do not form a ring.
	MinRingSize int `koanf:"min_ring_size" json:"minRingSize"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `koanf:"host" json:"host"`
	Port         int    `koanf:"port" json:"port"`
	ReadTimeout  int    `koanf:"read_timeout" json:"readTimeout"`   // seconds
	WriteTimeout int    `koanf:"write_timeout" json:"writeTimeout"` // seconds

	// AnalysisTimeout bounds a single synchronous analysis.
	AnalysisTimeout time.Duration `koanf:"analysis_timeout" json:"analysisTimeout"`

	// ResultTTL is how long results stay cached by ledger digest.
	ResultTTL time.Duration `koanf:"result_ttl" json:"resultTtl"`

	// LedgerDir is the only directory analysis requests may read from.
	// Request paths are resolved relative to it.
	LedgerDir string `koanf:"ledger_dir" json:"ledgerDir"`

	// WorkerCount is the number of analyses the async worker runs at once.
	WorkerCount int `koanf:"worker_count" json:"workerCount"`

	RateLimit RateLimitConfig `koanf:"rate_limit" json:"rateLimit"`
}

// RateLimitConfig throttles incoming HTTP requests. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `koanf:"requests_per_second" json:"requestsPerSecond"`
	Burst             int     `koanf:"burst" json:"burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level"`   // debug, info, warn, error
	Format string `koanf:"format" json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `koanf:"enabled" json:"enabled"`
	ServiceName string `koanf:"service_name" json:"serviceName"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, an in-process LRU and channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, Redis and NATS.
	TierPro Tier = "pro"
)

// DefaultDetectionConfig returns the documented detector defaults.
func DefaultDetectionConfig() DetectionConfig {
	return DetectionConfig{
		MinCycleLength:       3,
		MaxCycleLength:       6,
		CycleBudget:          20 * time.Second,
		MaxCycles:            200000,
		SmurfingWindow:       72 * time.Hour,
		SmurfingThreshold:    10,
		ShellMaxTransactions: 3,
		ShellMaxDelay:        24 * time.Hour,
		MaxWorkers:           3,
	}
}

// DefaultScoringConfig returns the documented calibration constants.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		CycleWeight:        0.6,
		TemporalWeight:     0.4,
		CycleSaturation:    2,
		SmurfingSaturation: 20,
		MinRingSize:        2,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30,
			WriteTimeout:    120,
			AnalysisTimeout: 90 * time.Second,
			ResultTTL:       time.Hour,
			LedgerDir:       "./ledgers",
			WorkerCount:     2,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Tier:      TierCommunity,
		Detection: DefaultDetectionConfig(),
		Scoring:   DefaultScoringConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./mulerift.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 256,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "mulerift",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "mulerift",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   64,
		LocalTTL:       time.Minute,
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
