package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application. The loader shape
// (dotenv for host/secret overrides, viper-backed config.yaml for
// structured settings) is kept verbatim from the teacher; the fields
// underneath are MAUDE's rather than the manufacturing domain's.
type Config struct {
	// Event store (DuckDB columnar store of events/devices)
	DuckDBPath string

	// Application store (SQLite: jobs, cache, logs, entity group registry)
	AppDBPath string

	// API Server
	APIPort string
	APIHost string

	// Logging
	LogLevel string

	// Worker Pool (async detect jobs)
	WorkerPoolSize int

	// Result cache
	CacheTTLHours int

	// Signal Detection Engine defaults
	Analysis AnalysisConfig

	// Data completeness / reporting lag (spec §4.2)
	IngestionLagMonths int

	// Entity Group seed manager (built-in groups loaded at startup)
	GroupSeedManager *EntityGroupSeedManager

	// Mock data settings (etl.RunMockGeneration)
	MockData MockDataConfig `mapstructure:"mock_data"`

	// Rollup refresh scheduler
	Scheduler SchedulerConfig `mapstructure:"scheduler"`

	// Retention
	Retention RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig holds cache/job/log retention settings.
type RetentionConfig struct {
	CacheDays   int    `mapstructure:"cache_days"`
	LogDays     int    `mapstructure:"log_days"`
	CleanupTime string `mapstructure:"cleanup_time"` // Format: "15:04"
}

// AnalysisConfig holds Signal Detection Engine defaults (spec §3 SignalRequest).
type AnalysisConfig struct {
	DefaultMinEvents int `mapstructure:"default_min_events"`
	DefaultLimit     int `mapstructure:"default_limit"`
	MaxLimit         int `mapstructure:"max_limit"`
}

// MockDataConfig holds mock MAUDE data generation settings.
type MockDataConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	TimeRangeDays int      `mapstructure:"time_range_days"`
	EventsPerDay  int      `mapstructure:"events_per_day"`
	Manufacturers []string `mapstructure:"manufacturers"`
	ProductCodes  []string `mapstructure:"product_codes"`
	BrandNames    []string `mapstructure:"brand_names"`
	GenericNames  []string `mapstructure:"generic_names"`
	ModelNumbers  []string `mapstructure:"model_numbers"`
	// SpikeManufacturers get a deliberate anomalous spike in the final
	// 7 days of history, so z-score/CUSUM/rolling have something to catch
	// (grounded on scenario S2 in spec §8).
	SpikeManufacturers []string `mapstructure:"spike_manufacturers"`
}

// LoadConfig loads configuration from .env and config.yaml, same shape
// as the teacher's LoadConfig.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using environment variables")
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	cfg := &Config{
		DuckDBPath:         getEnv("DUCKDB_PATH", "./data/events.duckdb"),
		AppDBPath:          getEnv("APP_DB_PATH", "./data/app.db"),
		APIPort:            getEnv("API_PORT", "8080"),
		APIHost:            getEnv("API_HOST", "0.0.0.0"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		WorkerPoolSize:     getEnvAsInt("WORKER_POOL_SIZE", 4),
		CacheTTLHours:      getEnvAsInt("CACHE_TTL_HOURS", 6),
		IngestionLagMonths: getEnvAsInt("INGESTION_LAG_MONTHS", 2),
	}

	if err := viper.UnmarshalKey("analysis", &cfg.Analysis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal analysis config: %w", err)
	}
	if cfg.Analysis.DefaultMinEvents == 0 {
		cfg.Analysis.DefaultMinEvents = 10
	}
	if cfg.Analysis.DefaultLimit == 0 {
		cfg.Analysis.DefaultLimit = 20
	}
	if cfg.Analysis.MaxLimit == 0 {
		cfg.Analysis.MaxLimit = 200
	}

	if err := viper.UnmarshalKey("mock_data", &cfg.MockData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mock_data config: %w", err)
	}
	if err := viper.UnmarshalKey("scheduler", &cfg.Scheduler); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scheduler config: %w", err)
	}
	if err := viper.UnmarshalKey("retention", &cfg.Retention); err != nil {
		return nil, fmt.Errorf("failed to unmarshal retention config: %w", err)
	}

	cfg.GroupSeedManager = NewEntityGroupSeedManager(getEnv("ENTITY_GROUP_SEED_PATH", "config_entity_groups.json"))
	if err := cfg.GroupSeedManager.Load(); err != nil {
		fmt.Printf("Warning: Failed to load entity group seed file: %v\n", err)
	}

	if cfg.DuckDBPath == "" {
		return nil, fmt.Errorf("DUCKDB_PATH is required")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}
