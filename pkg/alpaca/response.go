package alpaca

import (
	"encoding/json"
	"fmt"

	"astrobridge/pkg/device"
)

// ASCOM error numbers carried in the ErrorNumber field.
const (
	ErrNumNotImplemented       = 0x400
	ErrNumInvalidValue         = 0x401
	ErrNumValueNotSet          = 0x402
	ErrNumNotConnected         = 0x407
	ErrNumInvalidWhileParked   = 0x408
	ErrNumInvalidWhileSlaved   = 0x409
	ErrNumInvalidOperation     = 0x40B
	ErrNumActionNotImplemented = 0x40C
)

// baseResponse is the envelope of every Alpaca reply.
type baseResponse struct {
	ClientTransactionID uint32          `json:"ClientTransactionID"`
	ServerTransactionID uint32          `json:"ServerTransactionID"`
	ErrorNumber         int             `json:"ErrorNumber"`
	ErrorMessage        string          `json:"ErrorMessage"`
	Value               json.RawMessage `json:"Value,omitempty"`
}

// toError maps an ASCOM error number. Every result matches
// device.ErrDevice; unimplemented members also match device.ErrNotSupported
// and disconnected drivers device.ErrNotConnected.
func toError(number int, message string) error {
	de := &device.DeviceError{Code: number, Message: message}
	switch number {
	case ErrNumNotImplemented, ErrNumActionNotImplemented:
		return fmt.Errorf("%w: %w", device.ErrNotSupported, de)
	case ErrNumNotConnected:
		return fmt.Errorf("%w: %w", device.ErrNotConnected, de)
	default:
		return de
	}
}

func decodeValue[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("%w: response without value", device.ErrProtocol)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: invalid value %s: %v", device.ErrProtocol, raw, err)
	}
	return v, nil
}
