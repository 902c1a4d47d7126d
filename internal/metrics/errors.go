package metrics

import "codeberg.org/mutker/pifan/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig
	ErrCollectFailed = errors.ErrorCode("metrics_collect_failed")
	ErrCPUInfoRead   = errors.ErrorCode("metrics_cpuinfo_read_failed")
	ErrMissingSource = errors.ErrorCode("metrics_missing_source")
	ErrPowerRead     = errors.ErrorCode("metrics_power_read_failed")
)
