package model

import "time"

// Config holds every tunable of the ledger
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Promotion PromotionConfig `yaml:"promotion" mapstructure:"promotion"`
	Sweep     SweepConfig     `yaml:"sweep" mapstructure:"sweep"`
	Cache     CacheConfig     `yaml:"cache" mapstructure:"cache"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig locates and tunes the durable claim store
type StoreConfig struct {
	Path       string        `yaml:"path" mapstructure:"path"`               // Directory of the badger database
	InMemory   bool          `yaml:"in_memory" mapstructure:"in_memory"`     // Testing only
	SyncWrites bool          `yaml:"sync_writes" mapstructure:"sync_writes"` // fsync every commit
	GCInterval time.Duration `yaml:"gc_interval" mapstructure:"gc_interval"` // Value log GC period, 0 disables
}

// IngestConfig controls batch ingestion
type IngestConfig struct {
	Workers           int     `yaml:"workers" mapstructure:"workers"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"` // Per producer, 0 = unlimited
	BurstSize         int     `yaml:"burst_size" mapstructure:"burst_size"`
}

// PromotionConfig holds the promotion gate thresholds
type PromotionConfig struct {
	Alpha float64 `yaml:"alpha" mapstructure:"alpha"` // Max p-value accepted when significance is reported, 0 disables
}

// SweepConfig controls the background consistency sweep
type SweepConfig struct {
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// CacheConfig controls the canonical-resolution cache
type CacheConfig struct {
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// LogConfig controls structured logging
type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json" mapstructure:"json"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:       ".claimledger/store",
			SyncWrites: true,
			GCInterval: 5 * time.Minute,
		},
		Ingest: IngestConfig{
			Workers:           4,
			RequestsPerSecond: 0,
			BurstSize:         10,
		},
		Promotion: PromotionConfig{
			Alpha: 0.05,
		},
		Sweep: SweepConfig{
			Interval: 10 * time.Minute,
			Timeout:  2 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     5 * time.Minute,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}
