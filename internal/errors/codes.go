package errors

// Common error codes
const (
	// System errors
	ErrInternal        ErrorCode = "internal_error"
	ErrInvalidArgument ErrorCode = "invalid_argument"
	ErrUnavailable     ErrorCode = "service_unavailable"

	// Configuration errors
	ErrInvalidConfig   ErrorCode = "invalid_configuration"
	ErrReadConfig      ErrorCode = "read_config_failed"
	ErrBindFlags       ErrorCode = "bind_flags_failed"
	ErrInvalidInterval ErrorCode = "invalid_interval"

	// Logging errors
	ErrInvalidLogLevel ErrorCode = "invalid_log_level"

	// Initialization errors
	ErrInitFailed     ErrorCode = "initialization_failed"
	ErrShutdownFailed ErrorCode = "shutdown_failed"
	ErrAlreadyRunning ErrorCode = "already_running"

	// Hardware and sensor errors
	ErrSensorUnavailable ErrorCode = "sensor_unavailable"
	ErrHardwareWrite     ErrorCode = "hardware_write_failed"

	// Cross-process sync errors
	ErrSyncDelivery ErrorCode = "sync_delivery_failed"

	// Control API errors
	ErrPolicyInputInvalid ErrorCode = "policy_input_invalid"

	// Operation errors
	ErrTimeout ErrorCode = "operation_timeout"
)

// Common error messages
var errorMessages = map[ErrorCode]string{
	ErrInternal:           "Internal error occurred",
	ErrInvalidArgument:    "Invalid argument provided",
	ErrUnavailable:        "Service unavailable",
	ErrInvalidConfig:      "Invalid configuration",
	ErrReadConfig:         "Failed to read config file",
	ErrBindFlags:          "Failed to bind flags",
	ErrInvalidInterval:    "Invalid interval value",
	ErrInitFailed:         "Initialization failed",
	ErrShutdownFailed:     "Shutdown failed",
	ErrAlreadyRunning:     "Another instance is already running",
	ErrSensorUnavailable:  "Sensor unavailable",
	ErrHardwareWrite:      "Failed to write hardware output",
	ErrSyncDelivery:       "Failed to deliver state sync event",
	ErrPolicyInputInvalid: "Invalid control request",
	ErrTimeout:            "Operation timed out",
}

// GetErrorMessage returns the message for a given error code
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}

	return string(code)
}
