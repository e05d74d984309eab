package harness

import "errors"

var (
	// ErrProtocolViolation reports a received payload that is neither the
	// expected request nor the expected response. It is never retried.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrChildProcess reports a consumer process that could not be started
	// or exited before it was ready.
	ErrChildProcess = errors.New("consumer process error")

	// ErrState reports a Runner used out of lifecycle order.
	ErrState = errors.New("invalid runner state")
)
