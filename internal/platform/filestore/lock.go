package filestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryInterval = 10 * time.Millisecond

// lockFile takes a shared or exclusive lock on path, retrying until timeout
// so a stuck holder turns into an error instead of a hung request.
func lockFile(ctx context.Context, path string, exclusive bool, timeout time.Duration) (func() error, error) {
	fl := flock.New(path)

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	try := fl.TryRLockContext
	if exclusive {
		try = fl.TryLockContext
	}

	// A failed attempt leaves no handle open.
	locked, err := try(lockCtx, lockRetryInterval)
	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) || (err == nil && !locked):
		return nil, fmt.Errorf("%w after %s", ErrLockTimeout, timeout)
	case err != nil:
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return fl.Unlock, nil
}
