package indi

import (
	"fmt"
	"time"
)

// Phase is the connection phase of a client.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	// PhaseDegraded follows a failure; Health.Failures counts them.
	PhaseDegraded
	// PhaseReconnecting waits Health.Delay before the next attempt.
	PhaseReconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseDegraded:
		return "degraded"
	case PhaseReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Health is a snapshot of the connection state.
type Health struct {
	Phase         Phase
	LastKeepalive time.Time
	Failures      int
	Delay         time.Duration
	LastError     error
}

func (h Health) String() string {
	switch h.Phase {
	case PhaseDegraded:
		return fmt.Sprintf("%s(%d)", h.Phase, h.Failures)
	case PhaseReconnecting:
		return fmt.Sprintf("%s(%v)", h.Phase, h.Delay)
	default:
		return h.Phase.String()
	}
}
