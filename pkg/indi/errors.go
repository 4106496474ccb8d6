package indi

import (
	"fmt"

	"astrobridge/pkg/device"
)

var (
	// ErrPropertyNotFound is returned for properties the server never defined.
	ErrPropertyNotFound = fmt.Errorf("%w: property", device.ErrNotFound)
	// ErrBlobTransfer is returned to BLOB waiters when a payload cannot be
	// decoded or fails validation.
	ErrBlobTransfer = fmt.Errorf("%w: blob transfer failed", device.ErrProtocol)
	// ErrClosed is returned after Close.
	ErrClosed = fmt.Errorf("%w: client closed", device.ErrConnection)
)
