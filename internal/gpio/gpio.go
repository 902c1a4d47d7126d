// Package gpio drives a single digital output pin that switches the fan.
package gpio

import (
	"sync"

	"codeberg.org/mutker/pifan/internal/errors"
	"codeberg.org/mutker/pifan/internal/logger"
	"github.com/stianeikeland/go-rpio/v4"
)

// MaxPin is the highest BCM pin number on the 40-pin header.
const MaxPin = 27

// Pin is a binary output. Write errors are reported as
// errors.ErrHardwareWrite and leave the physical level unknown.
type Pin interface {
	Write(on bool) error
	Close() error
}

type rpioPin struct {
	mu     sync.Mutex
	number int
	pin    rpio.Pin
	closed bool
}

// Open maps the GPIO registers and configures the BCM pin as an output driven
// low. Only one process may own the pin.
func Open(number int) (Pin, error) {
	errFactory := errors.New()

	if number < 0 || number > MaxPin {
		return nil, errFactory.WithData(ErrInvalidPin, number)
	}

	if err := rpio.Open(); err != nil {
		return nil, errFactory.Wrap(ErrOpenFailed, err)
	}

	pin := rpio.Pin(number)
	pin.Output()
	pin.Low()

	logger.Debug().Int("pin", number).Msg("GPIO pin configured as output")

	return &rpioPin{number: number, pin: pin}, nil
}

func (p *rpioPin) Write(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New().Wrap(errors.ErrHardwareWrite, errors.New().WithData(ErrPinClosed, p.number))
	}

	if on {
		p.pin.High()
	} else {
		p.pin.Low()
	}

	return nil
}

// Close drives the pin low and unmaps the GPIO registers. Subsequent writes
// fail.
func (p *rpioPin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.pin.Low()
	p.closed = true

	if err := rpio.Close(); err != nil {
		return errors.New().Wrap(ErrCloseFailed, err)
	}

	return nil
}
