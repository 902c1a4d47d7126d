package shadow

import "codeberg.org/mutker/pifan/internal/errors"

const (
	ErrInvalidMode   = errors.ErrorCode("shadow_invalid_mode")
	ErrInvalidStatus = errors.ErrorCode("shadow_invalid_status")
	ErrInvalidAction = errors.ErrorCode("shadow_invalid_action")
	ErrInvalidConfig = errors.ErrInvalidConfig
)

func invalidInput(code errors.ErrorCode, value string) error {
	errFactory := errors.New()
	return errFactory.Wrap(errors.ErrPolicyInputInvalid, errFactory.WithData(code, value))
}
