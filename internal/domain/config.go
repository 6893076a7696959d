package domain

import "time"

// Config holds the complete Kestrel configuration.
type Config struct {
	// Environment selects the serving assets: "prod" loads the trained
	// artifact bundle, "test" serves the fake estimator.
	Environment Environment `json:"environment" koanf:"environment"`

	// Tier determines which backends are used
	Tier Tier `json:"tier" koanf:"tier"`

	// Server settings
	Server ServerConfig `json:"server" koanf:"server"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" koanf:"repository"`
	Cache      CacheConfig      `json:"cache" koanf:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" koanf:"eventbus"`

	// Training and serving
	Pipeline  PipelineConfig `json:"pipeline" koanf:"pipeline"`
	Serving   ServingConfig  `json:"serving" koanf:"serving"`
	Artifacts ArtifactConfig `json:"artifacts" koanf:"artifacts"`

	// Observability
	Logging LoggingConfig `json:"logging" koanf:"logging"`
	Tracing TracingConfig `json:"tracing" koanf:"tracing"`
}

// Environment is the deployment environment.
type Environment string

const (
	EnvProd Environment = "prod"
	EnvTest Environment = "test"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" koanf:"host"`
	Port         int    `json:"port" koanf:"port"`
	ReadTimeout  int    `json:"readTimeout" koanf:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" koanf:"write_timeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" koanf:"level"`   // debug, info, warn, error
	Format string `json:"format" koanf:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" koanf:"enabled"`
	ServiceName string `json:"serviceName" koanf:"service_name"`

	// Endpoint is the OTLP/gRPC collector address
	Endpoint string `json:"endpoint" koanf:"endpoint"`
	Insecure bool   `json:"insecure" koanf:"insecure"`

	// SampleRatio is the fraction of root spans kept, in [0, 1]
	SampleRatio float64 `json:"sampleRatio" koanf:"sample_ratio"`
}

// PipelineConfig drives a training run.
type PipelineConfig struct {
	// DataSource is "synthetic" or "local"
	DataSource string `json:"dataSource" koanf:"data_source"`

	// LocalPath is the CSV file read by the local data source
	LocalPath string `json:"localPath" koanf:"local_path"`

	// Algorithm is "decision_tree", "gradient_boosting" or "fake"
	Algorithm string `json:"algorithm" koanf:"algorithm"`

	// Transformer is the default transformer applied to engineered features
	// when no explicit chain is configured: "identity", "min_max" or "standard"
	Transformer string `json:"transformer" koanf:"transformer"`

	// DoHPO enables hyperparameter search before the final fit
	DoHPO bool `json:"doHpo" koanf:"do_hpo"`

	// IntegrationSampleSize is the number of test rows stored with the bundle
	IntegrationSampleSize int `json:"integrationSampleSize" koanf:"integration_sample_size"`

	// SampleSeed seeds the integration sample draw
	SampleSeed uint64 `json:"sampleSeed" koanf:"sample_seed"`

	Simulation SimulationConfig `json:"simulation" koanf:"simulation"`
	Evaluation EvaluationConfig `json:"evaluation" koanf:"evaluation"`
	HPO        HPOConfig        `json:"hpo" koanf:"hpo"`
}

// SimulationConfig parameterises the synthetic event generator.
type SimulationConfig struct {
	NCustomers int `json:"nCustomers" koanf:"n_customers"`
	NTerminals int `json:"nTerminals" koanf:"n_terminals"`

	GeoLow     float64 `json:"geoLow" koanf:"geo_low"`
	GeoHigh    float64 `json:"geoHigh" koanf:"geo_high"`
	AmountLow  float64 `json:"amountLow" koanf:"amount_low"`
	AmountHigh float64 `json:"amountHigh" koanf:"amount_high"`
	TxLow      float64 `json:"txLow" koanf:"tx_low"`
	TxHigh     float64 `json:"txHigh" koanf:"tx_high"`

	// StartDate is a YYYY-MM-DD date in UTC
	StartDate string  `json:"startDate" koanf:"start_date"`
	NbDays    int     `json:"nbDays" koanf:"nb_days"`
	Radius    float64 `json:"radius" koanf:"radius"`
	Seed      uint64  `json:"seed" koanf:"seed"`

	// BaselineRule is a CEL predicate over amount; matching events are fraud
	BaselineRule string `json:"baselineRule" koanf:"baseline_rule"`

	CompromisedTerminalsPerDay int `json:"compromisedTerminalsPerDay" koanf:"compromised_terminals_per_day"`
	TerminalCompromiseDays     int `json:"terminalCompromiseDays" koanf:"terminal_compromise_days"`

	CompromisedCustomersPerDay int     `json:"compromisedCustomersPerDay" koanf:"compromised_customers_per_day"`
	CustomerCompromiseDays     int     `json:"customerCompromiseDays" koanf:"customer_compromise_days"`
	CompromisedAmountFactor    float64 `json:"compromisedAmountFactor" koanf:"compromised_amount_factor"`
}

// EvaluationConfig configures the temporal split and the test metrics.
type EvaluationConfig struct {
	TimeKey   string `json:"timeKey" koanf:"time_key"`
	TestDays  int    `json:"testDays" koanf:"test_days"`
	DelayDays int    `json:"delayDays" koanf:"delay_days"`
	TopK      int    `json:"topK" koanf:"top_k"`

	// PerfectDenominator normalises perfect precision@k. Zero means k.
	PerfectDenominator float64 `json:"perfectDenominator" koanf:"perfect_denominator"`

	// ExcludeDetected drops customers already caught by an earlier day's top-k
	ExcludeDetected bool `json:"excludeDetected" koanf:"exclude_detected"`

	// Metrics lists the metric names reported on the test set
	Metrics []string `json:"metrics" koanf:"metrics"`
}

// HPOConfig configures the hyperparameter search.
type HPOConfig struct {
	NCalls      int    `json:"nCalls" koanf:"n_calls"`
	RandomState uint64 `json:"randomState" koanf:"random_state"`
	Workers     int    `json:"workers" koanf:"workers"`
}

// ServingConfig configures the prediction endpoint.
type ServingConfig struct {
	// BlockRules are CEL expressions over score, prediction and tx_amount.
	// A transaction is blocked when the model predicts fraud or any rule holds.
	BlockRules []BlockRule `json:"blockRules" koanf:"block_rules"`

	RateLimitRPS   float64 `json:"rateLimitRps" koanf:"rate_limit_rps"`
	RateLimitBurst int     `json:"rateLimitBurst" koanf:"rate_limit_burst"`

	// AsyncWorker starts the bus consumer for prediction requests
	AsyncWorker bool     `json:"asyncWorker" koanf:"async_worker"`
	TenantIDs   []string `json:"tenantIds" koanf:"tenant_ids"`
}

// ArtifactConfig selects where trained bundles are stored.
type ArtifactConfig struct {
	// Store is "file" or "repository"
	Store string `json:"store" koanf:"store"`
	Path  string `json:"path" koanf:"path"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels + in-memory cache
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvProd,
		Tier:        TierCommunity,
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			EntryTTL:     24 * time.Hour,
			FilePath:     "./.cachedir",
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Pipeline: PipelineConfig{
			DataSource:            "synthetic",
			Algorithm:             "decision_tree",
			Transformer:           "identity",
			DoHPO:                 false,
			IntegrationSampleSize: 1000,
			SampleSeed:            0,
			Simulation:            DefaultSimulationConfig(),
			Evaluation: EvaluationConfig{
				TimeKey:            ColDatetime,
				TestDays:           7,
				DelayDays:          7,
				TopK:               100,
				PerfectDenominator: 100,
				ExcludeDetected:    true,
				Metrics:            []string{"roc_auc", "average_precision", "card_precision_top_k", "perfect_card_precision_top_k"},
			},
			HPO: HPOConfig{
				NCalls:      100,
				RandomState: 19911127,
				Workers:     4,
			},
		},
		Serving: ServingConfig{
			RateLimitRPS:   500,
			RateLimitBurst: 1000,
		},
		Artifacts: ArtifactConfig{
			Store: "file",
			Path:  "./assets",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRatio: 1,
		},
	}
}

// DefaultSimulationConfig mirrors the reference synthetic dataset.
func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		NCustomers:                 500,
		NTerminals:                 1000,
		GeoLow:                     0,
		GeoHigh:                    100,
		AmountLow:                  5,
		AmountHigh:                 100,
		TxLow:                      0,
		TxHigh:                     4,
		StartDate:                  "2023-09-30",
		NbDays:                     60,
		Radius:                     10,
		Seed:                       0,
		BaselineRule:               "amount > 220.0",
		CompromisedTerminalsPerDay: 2,
		TerminalCompromiseDays:     28,
		CompromisedCustomersPerDay: 3,
		CustomerCompromiseDays:     14,
		CompromisedAmountFactor:    5,
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
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       5 * time.Minute,
		EntryTTL:       24 * time.Hour,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Artifacts.Store = "repository"
	cfg.Serving.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}
