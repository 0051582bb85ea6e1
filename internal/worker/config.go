package worker

import "time"

type Config struct {
	BatchSize      int           `mapstructure:"batch_size"`
	BlockTimeout   time.Duration `mapstructure:"block_timeout"`
	FailureBackoff time.Duration `mapstructure:"failure_backoff"`
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = time.Second
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = 5 * time.Second
	}
	return c
}
