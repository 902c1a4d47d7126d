package api

import "codeberg.org/mutker/pifan/internal/errors"

const (
	ErrEmptyBody     = errors.ErrorCode("api_empty_body")
	ErrMalformedBody = errors.ErrorCode("api_malformed_body")
	ErrInvalidLimit  = errors.ErrorCode("api_invalid_limit")
	ErrListenFailed  = errors.ErrorCode("api_listen_failed")
)
