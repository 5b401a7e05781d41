package engine

import "time"

const (
	DefaultBatchSize      = 50
	DefaultMaxRunLifetime = 1440 * time.Minute
	DefaultCheckpointTTL  = time.Hour
	DefaultLeaseTTL       = 5 * time.Minute
)

// Config tunes a run. Zero values fall back to the defaults above.
type Config struct {
	BatchSize      int
	MaxRunLifetime time.Duration
	CheckpointTTL  time.Duration
	// SendConcurrency caps in-flight sends per page; 0 sends the whole page at once.
	SendConcurrency int
	LeaseTTL        time.Duration
	// DeleteOnComplete removes the checkpoint as soon as the run completes
	// instead of letting it expire.
	DeleteOnComplete bool
}

func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		MaxRunLifetime: DefaultMaxRunLifetime,
		CheckpointTTL:  DefaultCheckpointTTL,
		LeaseTTL:       DefaultLeaseTTL,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.BatchSize < 1 {
		c.BatchSize = d.BatchSize
	}
	if c.MaxRunLifetime <= 0 {
		c.MaxRunLifetime = d.MaxRunLifetime
	}
	if c.CheckpointTTL <= 0 {
		c.CheckpointTTL = d.CheckpointTTL
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	if c.SendConcurrency < 0 {
		c.SendConcurrency = 0
	}
	return c
}
