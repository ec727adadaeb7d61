package notify

import "errors"

var (
	// ErrChannelDisabled is returned by Send on a disabled channel.
	ErrChannelDisabled = errors.New("channel is disabled")

	// ErrNoEvents is returned by Send when there is nothing to deliver.
	ErrNoEvents = errors.New("no events to deliver")

	// ErrInvalidSource is returned when the source is nil.
	ErrInvalidSource = errors.New("invalid source")
)
