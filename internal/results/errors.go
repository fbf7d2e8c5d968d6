package results

import "errors"

var (
	// ErrResultNotFound is the portal's explicit "no result" signal. It ends a
	// job without a record and is never retried.
	ErrResultNotFound = errors.New("result not found")
	// ErrInvalidCaptcha means the portal rejected the submitted answer.
	ErrInvalidCaptcha = errors.New("invalid captcha")
	// ErrEmptyCaptcha means the solver produced no usable text.
	ErrEmptyCaptcha = errors.New("empty captcha text")
	// ErrResultUnavailable means the page loaded without a result panel.
	ErrResultUnavailable = errors.New("result panel not present")
	// ErrInvalidRange rejects a malformed range request.
	ErrInvalidRange = errors.New("invalid roll range")
	// ErrRetriesExhausted is returned only when a bounded retry policy gives up.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrRunNotFound is returned by run stores for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunExists is returned when a run ID is registered twice.
	ErrRunExists = errors.New("run already exists")
)
