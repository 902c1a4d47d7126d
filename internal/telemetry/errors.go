package telemetry

import "codeberg.org/mutker/pifan/internal/errors"

const (
	ErrInvalidConfig   = errors.ErrorCode("telemetry_invalid_config")
	ErrMissingSampler  = errors.ErrorCode("telemetry_missing_sampler")
	ErrMissingTracker  = errors.ErrorCode("telemetry_missing_tracker")
	ErrJournalAccess   = errors.ErrorCode("telemetry_journal_access_failed")
	ErrServiceShutdown = errors.ErrorCode("telemetry_service_shutdown_failed")
)
