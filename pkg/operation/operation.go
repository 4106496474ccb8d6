// Package operation implements the initiate-then-wait contract shared by all
// long-running device operations, whatever the transport.
package operation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"astrobridge/internal/pool"
	"astrobridge/pkg/device"
)

// Outcome of a wait that did not fail.
type Outcome int

const (
	// Completed means the device reported it settled.
	Completed Outcome = iota
	// NotConfirmed means the deadline expired before the device settled. The
	// call itself did not fail; the caller decides what to do next.
	NotConfirmed
	// Cancelled means the cancellation token was set or the context was done.
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case NotConfirmed:
		return "not-confirmed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Status is what a probe observed.
type Status int

const (
	Settled Status = iota
	Busy
)

// Probe queries a cheap status indicator. A device fault must be returned as
// an error matching device.ErrDevice.
type Probe func(ctx context.Context) (Status, error)

// Wait configures a deadline-bounded poll.
type Wait struct {
	Poll    time.Duration
	Timeout time.Duration
	Token   *device.CancelToken
}

// Initiate runs the state changing request under a timeout that covers only
// the initiation. A deadline hit is reported as device.ErrTimeout.
func Initiate(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ictx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(ictx)
	if err != nil && errors.Is(ictx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		if errors.Is(err, device.ErrTimeout) {
			return err
		}
		return fmt.Errorf("%w: initiation exceeded %v: %v", device.ErrTimeout, timeout, err)
	}
	return err
}

// Until polls probe until it reports Settled, returns an error, the deadline
// computed at start is reached or the wait is cancelled. The token is checked
// before every probe, so a token set before the call results in no probe at
// all. Cancelling never stops the device.
func Until(ctx context.Context, w Wait, probe Probe) (Outcome, error) {
	if w.Poll <= 0 {
		return NotConfirmed, fmt.Errorf("invalid poll interval: %v", w.Poll)
	}
	deadline := time.Now().Add(w.Timeout)

	for {
		if w.Token.Cancelled() {
			return Cancelled, nil
		}
		if err := ctx.Err(); err != nil {
			return Cancelled, err
		}

		status, err := probe(ctx)
		if err != nil {
			return NotConfirmed, err
		}
		if status == Settled {
			return Completed, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return NotConfirmed, nil
		}

		if err := pool.Sleep(ctx, min(w.Poll, remaining)); err != nil {
			return Cancelled, err
		}
	}
}

// Run initiates an operation and waits for it to settle.
func Run(ctx context.Context, initTimeout time.Duration, initiate func(ctx context.Context) error, w Wait, probe Probe) (Outcome, error) {
	if w.Token.Cancelled() {
		return Cancelled, nil
	}
	if err := Initiate(ctx, initTimeout, initiate); err != nil {
		return NotConfirmed, err
	}
	return Until(ctx, w, probe)
}

// MovingProbe adapts a "is moving" flag.
func MovingProbe(moving func(ctx context.Context) (bool, error)) Probe {
	return func(ctx context.Context) (Status, error) {
		busy, err := moving(ctx)
		if err != nil {
			return Busy, err
		}
		if busy {
			return Busy, nil
		}
		return Settled, nil
	}
}

// SentinelProbe adapts a position reader whose negative value means the
// device is still moving, as filter wheels report.
func SentinelProbe(position func(ctx context.Context) (float64, error)) Probe {
	return func(ctx context.Context) (Status, error) {
		pos, err := position(ctx)
		if err != nil {
			return Busy, err
		}
		if pos < 0 {
			return Busy, nil
		}
		return Settled, nil
	}
}

// SentinelMoving turns a sentinel position reader into a moving flag.
func SentinelMoving(ctx context.Context, position func(ctx context.Context) (float64, error)) (bool, error) {
	pos, err := position(ctx)
	if err != nil {
		return false, err
	}
	return pos < 0, nil
}
