package sensor

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
)

const (
	minValidCelsius = 0.0
	maxValidCelsius = 150.0

	milliDegreesPerDegree = 1000.0
)

// DefaultThermalPaths lists the thermal zone files probed, in order, when no
// explicit path is configured.
var DefaultThermalPaths = []string{
	"/sys/class/thermal/thermal_zone0/temp",
	"/sys/class/thermal/thermal_zone1/temp",
	"/sys/devices/virtual/thermal/thermal_zone0/temp",
}

// ThermalPaths puts preferred first, followed by the defaults not equal to it.
func ThermalPaths(preferred string) []string {
	paths := make([]string, 0, len(DefaultThermalPaths)+1)
	if preferred != "" {
		paths = append(paths, preferred)
	}
	for _, p := range DefaultThermalPaths {
		if p != preferred {
			paths = append(paths, p)
		}
	}

	return paths
}

// Reading is a single instantaneous temperature sample.
type Reading struct {
	Celsius float64
	Valid   bool
}

// TemperatureSource reads the current temperature. Implementations return a
// coded ErrSensorUnavailable error instead of a sentinel value; the caller
// decides what to substitute.
type TemperatureSource interface {
	Read(ctx context.Context) (Reading, error)
}

// ThermalZone reads temperatures from sysfs thermal zone files.
type ThermalZone struct {
	paths   []string
	timeout time.Duration
}

// NewThermalZone creates a source that tries each path in order until one
// produces a valid reading.
func NewThermalZone(timeout time.Duration, paths ...string) *ThermalZone {
	if len(paths) == 0 {
		paths = DefaultThermalPaths
	}

	return &ThermalZone{paths: paths, timeout: timeout}
}

func (z *ThermalZone) Read(ctx context.Context) (Reading, error) {
	errFactory := errors.New()

	if z.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, z.timeout)
		defer cancel()
	}

	var lastErr error
	for _, path := range z.paths {
		raw, err := readFileContext(ctx, path)
		if err != nil {
			lastErr = errFactory.Wrap(ErrTemperatureRead, err)
			continue
		}

		celsius, err := ParseCelsius(raw)
		if err != nil {
			lastErr = err
			continue
		}

		return Reading{Celsius: celsius, Valid: true}, nil
	}

	return Reading{}, errFactory.Wrap(errors.ErrSensorUnavailable, lastErr)
}

// ParseCelsius converts the millidegree content of a thermal zone file to
// degrees Celsius and rejects values outside (0, 150).
func ParseCelsius(raw string) (float64, error) {
	errFactory := errors.New()

	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, errFactory.WithData(ErrTemperatureParse, "empty temperature value")
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errFactory.Wrap(ErrTemperatureParse, err)
	}

	value /= milliDegreesPerDegree

	if value <= minValidCelsius || value >= maxValidCelsius {
		return 0, errFactory.WithData(ErrTemperatureRange, value)
	}

	return value, nil
}

func readFileContext(ctx context.Context, path string) (string, error) {
	type result struct {
		data []byte
		err  error
	}

	done := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	case res := <-done:
		return string(res.data), res.err
	}
}
