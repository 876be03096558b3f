package notifications

import "errors"

// Enqueue errors.
var (
	ErrUnknownKind     = errors.New("unknown notification kind")
	ErrInvalidPriority = errors.New("invalid priority")
	ErrMissingEntity   = errors.New("payload does not identify the notified entity")
)

// Repository errors.
var (
	ErrItemNotFound      = errors.New("queue item not found")
	ErrItemNotProcessing = errors.New("queue item is not in processing state")
	ErrEntityNotFound    = errors.New("entity not found")
)

// Handler errors.
var (
	ErrCooldownActive = errors.New("notification cooldown has not elapsed")
	ErrNotEligible    = errors.New("recipient is not eligible for notification")
	ErrNoHandler      = errors.New("no handler registered for kind")
)
