package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config for the whole application
type Config struct {
	App        AppConfig
	API        APIConfig
	Risk       RiskConfig
	Heston     HestonConfig
	MarketData MarketDataConfig
	Kafka      KafkaConfig
	Metrics    MetricsConfig
}

// General application configuration
type AppConfig struct {
	Name        string
	Environment string
	LogLevel    string
}

// Configuration for the API server
type APIConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORS            CORSConfig
}

// CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
}

// Configuration for risk calculations
type RiskConfig struct {
	ConfidenceLevel float64
	TimeHorizonDays int
	SimulationRuns  int
	HistoricalDays  int
	SimWorkers      int
}

// Configuration for the Heston calibrator. The parameter defaults are
// the Vietnamese covered warrant market fallback set used when no
// calibration has run yet.
type HestonConfig struct {
	DampingAlpha  float64
	GridEta       float64
	GridSize      int
	MaxIterations int
	Tolerance     float64
	Fallback      HestonFallbackConfig
}

// Fallback Heston parameters
type HestonFallbackConfig struct {
	Kappa float64
	Theta float64
	Sigma float64
	Rho   float64
	V0    float64
}

// Configuration for the market data layer
type MarketDataConfig struct {
	SnapshotTTL    time.Duration
	CalibrationTTL time.Duration
	RequestTimeout time.Duration
	RetryBackoff   time.Duration
}

// Configuration for Kafka
type KafkaConfig struct {
	Enabled  bool
	Brokers  []string
	Producer KafkaProducerConfig
	Topics   KafkaTopicsConfig
}

// Kafka producer configuration
type KafkaProducerConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MaxRetries   int
}

// Kafka topics configuration
type KafkaTopicsConfig struct {
	RiskMetrics  string
	StressAlerts string
}

// Configuration for metrics
type MetricsConfig struct {
	Prometheus PrometheusConfig
}

// Configuration for Prometheus metrics
type PrometheusConfig struct {
	Enabled bool
	Path    string
}

// Loads the configuration from a file and environment variables
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")

	if err := viper.ReadInConfig(); err != nil {
		// Defaults plus environment are enough to run.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	viper.SetEnvPrefix("WARRANT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// App defaults
	viper.SetDefault("app.name", "warrant-risk-engine")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.log_level", "info")

	// API defaults
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.read_timeout", "10s")
	viper.SetDefault("api.write_timeout", "10s")
	viper.SetDefault("api.shutdown_timeout", "30s")
	viper.SetDefault("api.cors.allowed_origins", []string{"*"})
	viper.SetDefault("api.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	viper.SetDefault("api.cors.allowed_headers", []string{"Authorization", "Content-Type"})

	// Risk defaults
	viper.SetDefault("risk.confidence_level", 0.95)
	viper.SetDefault("risk.time_horizon_days", 1)
	viper.SetDefault("risk.simulation_runs", 10000)
	viper.SetDefault("risk.historical_days", 252)
	viper.SetDefault("risk.sim_workers", 4)

	// Heston defaults
	viper.SetDefault("heston.damping_alpha", 0.75)
	viper.SetDefault("heston.grid_eta", 0.25)
	viper.SetDefault("heston.grid_size", 4096)
	viper.SetDefault("heston.max_iterations", 500)
	viper.SetDefault("heston.tolerance", 1e-6)
	viper.SetDefault("heston.fallback.kappa", 3.0)
	viper.SetDefault("heston.fallback.theta", 0.10)
	viper.SetDefault("heston.fallback.sigma", 0.40)
	viper.SetDefault("heston.fallback.rho", -0.60)
	viper.SetDefault("heston.fallback.v0", 0.12)

	// Market data defaults
	viper.SetDefault("marketdata.snapshot_ttl", "60s")
	viper.SetDefault("marketdata.calibration_ttl", "168h")
	viper.SetDefault("marketdata.request_timeout", "5s")
	viper.SetDefault("marketdata.retry_backoff", "200ms")

	// Kafka defaults
	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.producer.batch_size", 100)
	viper.SetDefault("kafka.producer.batch_timeout", "1s")
	viper.SetDefault("kafka.producer.max_retries", 3)
	viper.SetDefault("kafka.topics.risk_metrics", "risk.metrics")
	viper.SetDefault("kafka.topics.stress_alerts", "risk.stress.alerts")

	// Metrics defaults
	viper.SetDefault("metrics.prometheus.enabled", true)
	viper.SetDefault("metrics.prometheus.path", "/metrics")
}

func GetConfigPath() string {
	if configPath := os.Getenv("WARRANT_CONFIG_PATH"); configPath != "" {
		return configPath
	}
	return "./config/config.yaml"
}
