// Package runlock keeps two swap runs from sharing signing keys at once.
package runlock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	clierr "github.com/ggonzalez94/kswap/internal/errors"
	"github.com/gofrs/flock"
)

const retryDelay = 100 * time.Millisecond

type Lock struct {
	lock *flock.Flock
}

// Acquire takes the exclusive lock at path, waiting up to wait. A zero wait
// tries once.
func Acquire(ctx context.Context, path string, wait time.Duration) (*Lock, error) {
	if path == "" {
		return nil, clierr.New(clierr.CodeUsage, "lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "create lock directory", err)
	}
	fl := flock.New(path)

	var (
		locked bool
		err    error
	)
	if wait <= 0 {
		locked, err = fl.TryLock()
	} else {
		lockCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		locked, err = fl.TryLockContext(lockCtx, retryDelay)
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = nil
	}
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "acquire run lock", err)
	}
	if !locked {
		return nil, clierr.New(clierr.CodeLocked, fmt.Sprintf("another kswap run holds %s", path))
	}
	return &Lock{lock: fl}, nil
}

func (l *Lock) Path() string { return l.lock.Path() }

func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
