package ports

import (
	"context"
	"errors"
	"time"
)

// ErrLockBusy means another instance is already handling the keyed event.
// Callers treat it as "handled elsewhere", never as a failure.
var ErrLockBusy = errors.New("lock busy")

// LockHandle is a held lease. The lease renews itself until Release is
// called, so a handler never loses the lock mid-signing.
type LockHandle interface {
	Release()
}

// SwapLock provides at-most-one-handler-per-event semantics across a
// horizontally scaled deployment. Single-instance deployments can back it
// with an in-process mutex, multi-instance ones with a shared store; call
// sites do not change.
type SwapLock interface {
	// TryAcquire returns ErrLockBusy if the key is held elsewhere.
	TryAcquire(ctx context.Context, key string, lease time.Duration) (LockHandle, error)
}
