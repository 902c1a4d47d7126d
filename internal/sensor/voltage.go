package sensor

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/pifan/internal/errors"
)

// VoltageReader queries the core voltage through the board vendor's utility
// (vcgencmd on Raspberry Pi). The utility is optional.
type VoltageReader struct {
	command string
	timeout time.Duration
}

func NewVoltageReader(command string, timeout time.Duration) *VoltageReader {
	return &VoltageReader{command: command, timeout: timeout}
}

// Read returns the core voltage in volts.
func (v *VoltageReader) Read(ctx context.Context) (float64, error) {
	errFactory := errors.New()

	path, err := exec.LookPath(v.command)
	if err != nil || path == "" {
		return 0, errFactory.Wrap(errors.ErrSensorUnavailable, errFactory.Wrap(ErrVoltageRead, err))
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	out, err := exec.CommandContext(ctx, path, "measure_volts").Output()
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrSensorUnavailable, errFactory.Wrap(ErrVoltageRead, err))
	}

	volts, err := ParseVolts(string(out))
	if err != nil {
		return 0, errFactory.Wrap(errors.ErrSensorUnavailable, err)
	}

	return volts, nil
}

// ParseVolts parses output of the form "volt=0.9260V".
func ParseVolts(raw string) (float64, error) {
	errFactory := errors.New()

	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "volt=") {
		return 0, errFactory.WithData(ErrVoltageParse, s)
	}

	s = strings.TrimSuffix(strings.TrimPrefix(s, "volt="), "V")
	volts, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, errFactory.Wrap(ErrVoltageParse, err)
	}

	return volts, nil
}
