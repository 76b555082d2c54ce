package port

import "context"

// Locker serializes mutations of a single event.
type Locker interface {
	// Lock blocks until the lock for key is held or ctx is done. The returned
	// function releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
