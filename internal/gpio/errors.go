package gpio

import "codeberg.org/mutker/pifan/internal/errors"

const (
	ErrOpenFailed  = errors.ErrorCode("gpio_open_failed")
	ErrPinClosed   = errors.ErrorCode("gpio_pin_closed")
	ErrInvalidPin  = errors.ErrorCode("gpio_invalid_pin")
	ErrCloseFailed = errors.ErrorCode("gpio_close_failed")
)
