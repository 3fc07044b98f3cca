package cache

import "errors"

var (
	// ErrInvalidKey is returned when a key is built without resource or operation.
	ErrInvalidKey = errors.New("cache: invalid key")
	// ErrNilFetcher is returned when Fetch is called without a fetch function.
	ErrNilFetcher = errors.New("cache: nil fetcher")
	// ErrNilUpdater is returned when Write is called without an updater.
	ErrNilUpdater = errors.New("cache: nil updater")
	// ErrDisposed is returned by every operation after Dispose.
	ErrDisposed = errors.New("cache: store disposed")
)
