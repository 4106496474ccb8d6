package device

import (
	"errors"
	"fmt"
)

var (
	// ErrConnection means the transport could not be established, or the
	// reconnection attempts were exhausted.
	ErrConnection = errors.New("connection error")
	// ErrTimeout means an operation exceeded its class timeout. The operation
	// may still be in progress on the device.
	ErrTimeout = errors.New("operation timed out")
	// ErrPermissionDenied is returned for writes to read-only properties.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDevice means the device itself reported a fault.
	ErrDevice = errors.New("device error")
	// ErrWorkerDead means the worker owning a driver handle has exited. The
	// owning object must be discarded and reconstructed.
	ErrWorkerDead = errors.New("driver worker is dead")
	// ErrProtocol is returned for malformed or out-of-sequence messages.
	ErrProtocol = errors.New("protocol error")
	// ErrNotSupported means the capability is not implemented by the device.
	ErrNotSupported = errors.New("not supported")
	// ErrNotConnected is returned by operations that need a connected device.
	ErrNotConnected = errors.New("device not connected")
	// ErrCancelled is returned when the caller's cancellation token was set.
	ErrCancelled = errors.New("operation cancelled")
	// ErrNotFound is returned for unknown devices or properties.
	ErrNotFound = errors.New("not found")
)

// DeviceError is a fault reported by a device or its driver. Code carries the
// ASCOM error number when the transport provides one.
type DeviceError struct {
	Code    int
	Message string
}

func (e *DeviceError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("device error 0x%X: %s", e.Code, e.Message)
	}
	return "device error: " + e.Message
}

// Is makes every DeviceError match ErrDevice.
func (e *DeviceError) Is(target error) bool {
	return target == ErrDevice
}

// Alert builds the error returned when a property reaches the Alert state.
func Alert(format string, args ...any) error {
	return &DeviceError{Message: fmt.Sprintf(format, args...)}
}
