package jobs

import "time"

// Config contains configuration for the scheduling subsystem.
type Config struct {
	// Queues is the set of queue names jobs may target.
	Queues []string `yaml:"queues" json:"queues" validate:"required,min=1,dive,required"`

	// Interval is how often the daemon reconciles jobs against the
	// delayed queue.
	Interval time.Duration `yaml:"interval" json:"interval" validate:"required"`

	// DefaultTimeout applies to submissions whose job has no timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout" json:"default_timeout"`

	// DefaultResultTTL applies to submissions whose job has no result
	// retention. Zero drops results; negative keeps them indefinitely.
	DefaultResultTTL time.Duration `yaml:"default_result_ttl" json:"default_result_ttl"`
}

// DefaultConfig returns the scheduling defaults.
func DefaultConfig() Config {
	return Config{
		Queues:         []string{"default"},
		Interval:       60 * time.Second,
		DefaultTimeout: 5 * time.Minute,
	}
}

// HasQueue reports whether name is a configured queue.
func (c Config) HasQueue(name string) bool {
	for _, q := range c.Queues {
		if q == name {
			return true
		}
	}
	return false
}
