package realtime

import "errors"

var (
	// ErrMissingType is returned for frames without an event name.
	ErrMissingType = errors.New("missing event type")

	// ErrAlreadyRunning is returned by Session.Run when the session is
	// already connected or connecting.
	ErrAlreadyRunning = errors.New("realtime: session already running")

	// ErrConnectionLost is returned by a Conn whose transport went away.
	ErrConnectionLost = errors.New("realtime: connection lost")

	// ErrInvalidCatalog is wrapped by Catalog.Validate failures.
	ErrInvalidCatalog = errors.New("realtime: invalid catalog")
)
