package telemetry

import (
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
)

const (
	defaultSampleInterval = time.Second
	defaultSubscriberBuf  = 1
)

type Config struct {
	SampleInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleInterval: defaultSampleInterval,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()
	if c.SampleInterval <= 0 {
		return errFactory.WithData(ErrInvalidConfig, "sample interval must be positive")
	}
	return nil
}
