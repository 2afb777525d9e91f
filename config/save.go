package config

import (
	"sync"

	"github.com/spf13/viper"
)

var configMutex sync.Mutex

// UpdateAnalysisDefaults updates the Signal Detection Engine's default
// min_events/limit/max_limit and persists them to config.yaml.
func (c *Config) UpdateAnalysisDefaults(defaultMinEvents, defaultLimit, maxLimit int) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	c.Analysis.DefaultMinEvents = defaultMinEvents
	c.Analysis.DefaultLimit = defaultLimit
	c.Analysis.MaxLimit = maxLimit

	viper.Set("analysis.default_min_events", defaultMinEvents)
	viper.Set("analysis.default_limit", defaultLimit)
	viper.Set("analysis.max_limit", maxLimit)

	return viper.WriteConfig()
}

// UpdateIngestionLag updates the reporting-lag override used by the time
// window resolver's data-completeness assessment (spec §4.2).
func (c *Config) UpdateIngestionLag(months int) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	c.IngestionLagMonths = months
	viper.Set("ingestion_lag_months", months)
	return viper.WriteConfig()
}
