package messaging

import "errors"

var (
	// ErrValidation is returned when an envelope cannot be built from the
	// given arguments (empty ids, nil data, unknown severity).
	ErrValidation = errors.New("messaging: validation failed")

	// ErrPublish wraps a failure from the underlying publisher.
	ErrPublish = errors.New("messaging: publish failed")
)
