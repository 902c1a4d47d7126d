package sensor

import "codeberg.org/mutker/pifan/internal/errors"

const (
	ErrTemperatureRead  = errors.ErrorCode("sensor_temperature_read_failed")
	ErrTemperatureParse = errors.ErrorCode("sensor_temperature_parse_failed")
	ErrTemperatureRange = errors.ErrorCode("sensor_temperature_out_of_range")
	ErrVoltageRead      = errors.ErrorCode("sensor_voltage_read_failed")
	ErrVoltageParse     = errors.ErrorCode("sensor_voltage_parse_failed")
)

// IsUnavailable reports whether err means the sensor could not produce a
// value. Every sensor error is wrapped in errors.ErrSensorUnavailable.
func IsUnavailable(err error) bool {
	return errors.HasCode(err, errors.ErrSensorUnavailable)
}
