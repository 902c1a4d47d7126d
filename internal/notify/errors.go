package notify

import "codeberg.org/mutker/pifan/internal/errors"

const (
	ErrEncodeEvent   = errors.ErrorCode("notify_encode_failed")
	ErrBuildRequest  = errors.ErrorCode("notify_request_failed")
	ErrUnexpectedRes = errors.ErrorCode("notify_unexpected_status")
	ErrQueueFull     = errors.ErrorCode("notify_queue_full")
	ErrDispatcherOff = errors.ErrorCode("notify_dispatcher_stopped")
)
