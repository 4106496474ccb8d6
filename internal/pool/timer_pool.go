// Package pool recycles the timers behind per call deadlines and poll sleeps.
package pool

import (
	"context"
	"sync"
	"time"
)

var timers = sync.Pool{
	New: func() any {
		t := time.NewTimer(time.Hour)
		t.Stop()
		return t
	},
}

// GetTimer returns a stopped pooled timer armed to fire after d. Hand it
// back with PutTimer once its channel is no longer selected on.
func GetTimer(d time.Duration) *time.Timer {
	t := timers.Get().(*time.Timer)
	drain(t)
	t.Reset(d)
	return t
}

// PutTimer stops t and returns it to the pool. t must not be used afterwards.
func PutTimer(t *time.Timer) {
	t.Stop()
	drain(t)
	timers.Put(t)
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := GetTimer(d)
	defer PutTimer(t)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func drain(t *time.Timer) {
	select {
	case <-t.C:
	default:
	}
}
