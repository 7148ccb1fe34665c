package events

import "errors"

// Common errors
var (
	// ErrEventStoreNil is returned when a nil event store is provided
	ErrEventStoreNil = errors.New("event store cannot be nil")

	// ErrEventIDEmpty is returned when an event ID is missing
	ErrEventIDEmpty = errors.New("event ID cannot be empty")

	// ErrEventNotFound is returned when the event record does not exist
	ErrEventNotFound = errors.New("event not found")

	// ErrEventExists is returned when inserting an event ID already stored
	ErrEventExists = errors.New("event already exists")

	// ErrUnknownKind is returned for an event kind the processor does not route
	ErrUnknownKind = errors.New("unknown event kind")

	// ErrMalformedPayload is returned when an event payload cannot be decoded.
	// Retrying cannot fix the payload, so the queue adapter fails such jobs
	// terminally instead of consuming backoff.
	ErrMalformedPayload = errors.New("malformed event payload")
)
