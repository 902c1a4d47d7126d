package journal

import (
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
)

const (
	defaultCapacity      = 1000
	defaultBatchSize     = 16
	defaultFlushInterval = 2 * time.Second

	// DefaultLimit and MaxLimit bound Recent.
	DefaultLimit = 50
	MaxLimit     = 500
)

type Config struct {
	// Capacity is the number of events retained; older ones are pruned on flush.
	Capacity      int
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		Capacity:      defaultCapacity,
		BatchSize:     defaultBatchSize,
		FlushInterval: defaultFlushInterval,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Capacity <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "journal capacity must be positive")
	}
	if c.BatchSize <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "journal batch size must be positive")
	}
	if c.FlushInterval <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "journal flush interval must be positive")
	}

	return nil
}

// ClampLimit applies the default and maximum to a requested limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}
