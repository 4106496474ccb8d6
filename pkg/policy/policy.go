// Package policy holds the timeouts and reconnection parameters shared by all
// device transports.
package policy

import (
	"fmt"
	"math/rand/v2"
	"time"

	"astrobridge/pkg/device"
)

// Policy is a flat record of per operation class timeouts and reconnection
// backoff parameters. It is not mutated once handed to a transport.
type Policy struct {
	Connection        time.Duration `json:"connection"`
	MessageCompletion time.Duration `json:"message_completion"`
	BinaryTransfer    time.Duration `json:"binary_transfer"`
	PropertyRead      time.Duration `json:"property_read"`
	PropertyWrite     time.Duration `json:"property_write"`

	MountSlew    time.Duration `json:"mount_slew"`
	FocuserMove  time.Duration `json:"focuser_move"`
	FilterChange time.Duration `json:"filter_change"`
	DomeSlew     time.Duration `json:"dome_slew"`
	RotatorMove  time.Duration `json:"rotator_move"`
	CoverMove    time.Duration `json:"cover_move"`

	PollInterval time.Duration `json:"poll_interval"`
	Keepalive    time.Duration `json:"keepalive"`

	ReconnectBase        time.Duration `json:"reconnect_base"`
	ReconnectMax         time.Duration `json:"reconnect_max"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts"`
}

// Default returns the default policy.
func Default() Policy {
	return Policy{
		Connection:        30 * time.Second,
		MessageCompletion: 60 * time.Second,
		BinaryTransfer:    300 * time.Second,
		PropertyRead:      30 * time.Second,
		PropertyWrite:     30 * time.Second,

		MountSlew:    300 * time.Second,
		FocuserMove:  120 * time.Second,
		FilterChange: 60 * time.Second,
		DomeSlew:     300 * time.Second,
		RotatorMove:  120 * time.Second,
		CoverMove:    60 * time.Second,

		PollInterval: 500 * time.Millisecond,
		Keepalive:    30 * time.Second,

		ReconnectBase:        1 * time.Second,
		ReconnectMax:         30 * time.Second,
		MaxReconnectAttempts: 5,
	}
}

// Class is an operation class used to pick a timeout.
type Class int

const (
	ClassConnection Class = iota
	ClassRead
	ClassWrite
	ClassBinary
	ClassMotion
)

func (c Class) String() string {
	switch c {
	case ClassConnection:
		return "connection"
	case ClassRead:
		return "read"
	case ClassWrite:
		return "write"
	case ClassBinary:
		return "binary"
	case ClassMotion:
		return "motion"
	default:
		return "unknown"
	}
}

// Timeout returns the timeout of a non motion class. Motion classes depend on
// the device type, use Motion for them.
func (p Policy) Timeout(c Class) time.Duration {
	switch c {
	case ClassConnection:
		return p.Connection
	case ClassRead:
		return p.PropertyRead
	case ClassWrite:
		return p.PropertyWrite
	case ClassBinary:
		return p.BinaryTransfer
	default:
		// The longest motion class is a safe upper bound.
		return p.MountSlew
	}
}

// Motion returns the completion timeout for motions of the given device type.
func (p Policy) Motion(t device.Type) time.Duration {
	switch t {
	case device.TypeTelescope:
		return p.MountSlew
	case device.TypeFocuser:
		return p.FocuserMove
	case device.TypeFilterWheel:
		return p.FilterChange
	case device.TypeDome:
		return p.DomeSlew
	case device.TypeRotator:
		return p.RotatorMove
	case device.TypeCoverCalibrator:
		return p.CoverMove
	default:
		return p.PropertyWrite
	}
}

// ReconnectDelay returns min(base * 2^n, max) for n consecutive failures,
// without jitter.
func (p Policy) ReconnectDelay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := p.ReconnectBase
	for i := 0; i < n; i++ {
		delay *= 2
		if delay >= p.ReconnectMax || delay <= 0 {
			return p.ReconnectMax
		}
	}
	if delay > p.ReconnectMax {
		return p.ReconnectMax
	}
	return delay
}

// Jitter returns a random, strictly positive duration of at most one
// reconnect base delay.
func (p Policy) Jitter() time.Duration {
	limit := int64(p.ReconnectBase)
	if limit <= 1 {
		return 1
	}
	return time.Duration(1 + rand.Int64N(limit))
}

// Validate checks that every duration is positive.
func (p Policy) Validate() error {
	durations := map[string]time.Duration{
		"connection":         p.Connection,
		"message_completion": p.MessageCompletion,
		"binary_transfer":    p.BinaryTransfer,
		"property_read":      p.PropertyRead,
		"property_write":     p.PropertyWrite,
		"mount_slew":         p.MountSlew,
		"focuser_move":       p.FocuserMove,
		"filter_change":      p.FilterChange,
		"dome_slew":          p.DomeSlew,
		"rotator_move":       p.RotatorMove,
		"cover_move":         p.CoverMove,
		"poll_interval":      p.PollInterval,
		"keepalive":          p.Keepalive,
		"reconnect_base":     p.ReconnectBase,
		"reconnect_max":      p.ReconnectMax,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	if p.ReconnectMax < p.ReconnectBase {
		return fmt.Errorf("reconnect_max (%v) is lower than reconnect_base (%v)", p.ReconnectMax, p.ReconnectBase)
	}
	if p.MaxReconnectAttempts < 0 {
		return fmt.Errorf("invalid max_reconnect_attempts: %d", p.MaxReconnectAttempts)
	}
	return nil
}
