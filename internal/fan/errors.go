package fan

import "codeberg.org/mutker/pifan/internal/errors"

const (
	ErrInvalidThreshold = errors.ErrorCode("fan_invalid_threshold")
	ErrInvalidDuration  = errors.ErrorCode("fan_invalid_duration")
	ErrMissingSensor    = errors.ErrorCode("fan_missing_sensor")
	ErrMissingPin       = errors.ErrorCode("fan_missing_pin")
)
