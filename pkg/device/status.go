package device

// ShutterStatus is the ASCOM dome shutter state.
type ShutterStatus int

const (
	ShutterOpen ShutterStatus = iota
	ShutterClosed
	ShutterOpening
	ShutterClosing
	ShutterError
	ShutterUnknown
)

// ShutterStatusFromCode maps the integer reported by a driver. Values out of
// range map to ShutterUnknown.
func ShutterStatusFromCode(code int) ShutterStatus {
	if code < int(ShutterOpen) || code > int(ShutterError) {
		return ShutterUnknown
	}
	return ShutterStatus(code)
}

// Moving reports whether the shutter is opening or closing.
func (s ShutterStatus) Moving() bool {
	return s == ShutterOpening || s == ShutterClosing
}

func (s ShutterStatus) String() string {
	switch s {
	case ShutterOpen:
		return "open"
	case ShutterClosed:
		return "closed"
	case ShutterOpening:
		return "opening"
	case ShutterClosing:
		return "closing"
	case ShutterError:
		return "error"
	default:
		return "unknown"
	}
}

// CoverStatus is the ASCOM cover calibrator cover state.
type CoverStatus int

const (
	CoverNotPresent CoverStatus = iota
	CoverClosed
	CoverMoving
	CoverOpen
	CoverUnknown
	CoverError
)

// CoverStatusFromCode maps the integer reported by a driver. Values out of
// range map to CoverUnknown.
func CoverStatusFromCode(code int) CoverStatus {
	if code < int(CoverNotPresent) || code > int(CoverError) {
		return CoverUnknown
	}
	return CoverStatus(code)
}

func (s CoverStatus) String() string {
	switch s {
	case CoverNotPresent:
		return "not-present"
	case CoverClosed:
		return "closed"
	case CoverMoving:
		return "moving"
	case CoverOpen:
		return "open"
	case CoverError:
		return "error"
	default:
		return "unknown"
	}
}

// CalibratorStatus is the ASCOM cover calibrator light state.
type CalibratorStatus int

const (
	CalibratorNotPresent CalibratorStatus = iota
	CalibratorOff
	CalibratorNotReady
	CalibratorReady
	CalibratorUnknown
	CalibratorError
)

// CalibratorStatusFromCode maps the integer reported by a driver. Values out
// of range map to CalibratorUnknown.
func CalibratorStatusFromCode(code int) CalibratorStatus {
	if code < int(CalibratorNotPresent) || code > int(CalibratorError) {
		return CalibratorUnknown
	}
	return CalibratorStatus(code)
}

func (s CalibratorStatus) String() string {
	switch s {
	case CalibratorNotPresent:
		return "not-present"
	case CalibratorOff:
		return "off"
	case CalibratorNotReady:
		return "not-ready"
	case CalibratorReady:
		return "ready"
	case CalibratorError:
		return "error"
	default:
		return "unknown"
	}
}

// SafetyStatus is the answer of a safety query.
type SafetyStatus int

const (
	// SafetyUnsafe is reported by a monitor that says it is not safe.
	SafetyUnsafe SafetyStatus = iota
	// SafetySafe is reported by a monitor that says it is safe.
	SafetySafe
	// SafetyAssumedSafe is the fail-open default used when no safety monitor
	// is configured at all. It is never returned when a monitor exists.
	SafetyAssumedSafe
)

// IsSafe reports whether observing may continue.
func (s SafetyStatus) IsSafe() bool {
	return s != SafetyUnsafe
}

func (s SafetyStatus) String() string {
	switch s {
	case SafetySafe:
		return "safe"
	case SafetyAssumedSafe:
		return "assumed-safe"
	default:
		return "unsafe"
	}
}
