// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when a lock could not be taken before the
// context was done.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock represents an acquired lock.
type Lock interface {
	// Unlock releases the lock.
	Unlock(ctx context.Context) error
}

// Locker serializes work on a named resource.
type Locker interface {
	// Lock blocks until the lock for name is held or ctx is done, in which
	// case it returns ErrLockNotAcquired.
	Lock(ctx context.Context, name string) (Lock, error)
}
