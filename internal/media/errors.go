package media

import "errors"

var (
	// ErrPayloadTooLarge indicates the payload exceeds the given read limit.
	ErrPayloadTooLarge = errors.New("media payload too large")
)
