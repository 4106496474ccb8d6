package device

import (
	"fmt"
	"strings"
)

// Transport identifies how a device is reached.
type Transport int

const (
	TransportINDI Transport = iota
	TransportAlpaca
	TransportCOM
	TransportMQTT
)

func (t Transport) String() string {
	switch t {
	case TransportINDI:
		return "indi"
	case TransportAlpaca:
		return "alpaca"
	case TransportCOM:
		return "com"
	case TransportMQTT:
		return "mqtt"
	default:
		return "unknown"
	}
}

// ParseTransport parses the lower case transport name.
func ParseTransport(s string) (Transport, error) {
	for _, t := range []Transport{TransportINDI, TransportAlpaca, TransportCOM, TransportMQTT} {
		if strings.EqualFold(s, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown transport: %q", s)
}

// Type is the physical class of a device.
type Type int

const (
	TypeCamera Type = iota
	TypeTelescope
	TypeFocuser
	TypeFilterWheel
	TypeRotator
	TypeDome
	TypeSwitch
	TypeSafetyMonitor
	TypeObservingConditions
	TypeCoverCalibrator
)

var typeNames = map[Type]string{
	TypeCamera:              "Camera",
	TypeTelescope:           "Telescope",
	TypeFocuser:             "Focuser",
	TypeFilterWheel:         "FilterWheel",
	TypeRotator:             "Rotator",
	TypeDome:                "Dome",
	TypeSwitch:              "Switch",
	TypeSafetyMonitor:       "SafetyMonitor",
	TypeObservingConditions: "ObservingConditions",
	TypeCoverCalibrator:     "CoverCalibrator",
}

// String returns the ASCOM device type name, e.g. "FilterWheel".
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseType accepts the ASCOM device type name in any case.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if strings.EqualFold(s, name) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown device type: %q", s)
}

// Identity names a device. It is immutable after creation and its string form
// is the key used by the registry.
type Identity struct {
	Transport Transport
	Type      Type
	// Name is the INDI device name, the COM ProgID or the Alpaca
	// "host:port/number" address depending on the transport.
	Name string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s:%s:%s", id.Transport, strings.ToLower(id.Type.String()), id.Name)
}

// ParseIdentity parses the "transport:type:name" form produced by String.
func ParseIdentity(s string) (Identity, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return Identity{}, fmt.Errorf("invalid device identity: %q", s)
	}

	transport, err := ParseTransport(parts[0])
	if err != nil {
		return Identity{}, err
	}
	typ, err := ParseType(parts[1])
	if err != nil {
		return Identity{}, err
	}

	return Identity{Transport: transport, Type: typ, Name: parts[2]}, nil
}
