package domain

import "errors"

var (
	// ErrMalformedLog is returned when a chain log does not decode as the
	// event kind it was filtered for. Callers must log and skip, never drop
	// silently.
	ErrMalformedLog = errors.New("malformed chain log")

	// ErrUserIntegrity is returned when a user row is absent even after the
	// insert-then-lookup fallback. This indicates broken unique-constraint
	// enforcement, not a normal race.
	ErrUserIntegrity = errors.New("user row missing after upsert fallback")

	// ErrSubscriptionFailed is returned when subscribing to chain events fails
	ErrSubscriptionFailed = errors.New("subscription failed")
)
