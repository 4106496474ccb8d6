package alpaca

import (
	"context"
	"net/url"
	"strconv"

	"astrobridge/pkg/device"
	"astrobridge/pkg/operation"
)

func formFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Focuser is an Alpaca focuser.
type Focuser struct{ *Device }

func (f Focuser) Position(ctx context.Context) (float64, error) {
	return get[float64](ctx, f.Device, "position")
}

func (f Focuser) IsMoving(ctx context.Context) (bool, error) {
	return get[bool](ctx, f.Device, "ismoving")
}

func (f Focuser) MoveTo(ctx context.Context, position float64) error {
	return f.put(ctx, f.motion(), "move", url.Values{"Position": {strconv.Itoa(int(position))}})
}

func (f Focuser) Halt(ctx context.Context) error {
	return f.put(ctx, f.policy.PropertyWrite, "halt", nil)
}

// FilterWheel is an Alpaca filter wheel. Its position reads -1 while the
// wheel is moving.
type FilterWheel struct{ *Device }

func (w FilterWheel) Position(ctx context.Context) (float64, error) {
	return get[float64](ctx, w.Device, "position")
}

func (w FilterWheel) IsMoving(ctx context.Context) (bool, error) {
	return operation.SentinelMoving(ctx, w.Position)
}

func (w FilterWheel) MoveTo(ctx context.Context, position float64) error {
	return w.put(ctx, w.motion(), "position", url.Values{"Position": {strconv.Itoa(int(position))}})
}

func (w FilterWheel) Halt(ctx context.Context) error { return device.ErrNotSupported }

// Names returns the filter names by slot.
func (w FilterWheel) Names(ctx context.Context) ([]string, error) {
	return get[[]string](ctx, w.Device, "names")
}

// Rotator is an Alpaca rotator.
type Rotator struct{ *Device }

func (r Rotator) Position(ctx context.Context) (float64, error) {
	return get[float64](ctx, r.Device, "position")
}

func (r Rotator) IsMoving(ctx context.Context) (bool, error) {
	return get[bool](ctx, r.Device, "ismoving")
}

func (r Rotator) MoveTo(ctx context.Context, position float64) error {
	return r.put(ctx, r.motion(), "moveabsolute", url.Values{"Position": {formFloat(position)}})
}

func (r Rotator) Halt(ctx context.Context) error {
	return r.put(ctx, r.policy.PropertyWrite, "halt", nil)
}

// Dome is an Alpaca dome; its position is the azimuth.
type Dome struct{ *Device }

func (d Dome) Position(ctx context.Context) (float64, error) {
	return get[float64](ctx, d.Device, "azimuth")
}

func (d Dome) IsMoving(ctx context.Context) (bool, error) {
	return get[bool](ctx, d.Device, "slewing")
}

func (d Dome) MoveTo(ctx context.Context, azimuth float64) error {
	return d.put(ctx, d.motion(), "slewtoazimuth", url.Values{"Azimuth": {formFloat(azimuth)}})
}

func (d Dome) Halt(ctx context.Context) error {
	return d.put(ctx, d.policy.PropertyWrite, "abortslew", nil)
}

func (d Dome) ShutterStatus(ctx context.Context) (device.ShutterStatus, error) {
	code, err := get[int](ctx, d.Device, "shutterstatus")
	if err != nil {
		return device.ShutterUnknown, err
	}
	return device.ShutterStatusFromCode(code), nil
}

func (d Dome) OpenShutter(ctx context.Context) error {
	return d.put(ctx, d.motion(), "openshutter", nil)
}

func (d Dome) CloseShutter(ctx context.Context) error {
	return d.put(ctx, d.motion(), "closeshutter", nil)
}

// Telescope is an Alpaca telescope.
type Telescope struct{ *Device }

func (t Telescope) Coordinates(ctx context.Context) (device.Coordinates, error) {
	ra, err := get[float64](ctx, t.Device, "rightascension")
	if err != nil {
		return device.Coordinates{}, err
	}
	dec, err := get[float64](ctx, t.Device, "declination")
	if err != nil {
		return device.Coordinates{}, err
	}
	return device.Coordinates{RA: ra, Dec: dec}, nil
}

func (t Telescope) Slewing(ctx context.Context) (bool, error) {
	return get[bool](ctx, t.Device, "slewing")
}

func (t Telescope) SlewTo(ctx context.Context, target device.Coordinates) error {
	return t.put(ctx, t.motion(), "slewtocoordinatesasync", url.Values{
		"RightAscension": {formFloat(target.RA)},
		"Declination":    {formFloat(target.Dec)},
	})
}

func (t Telescope) AbortSlew(ctx context.Context) error {
	return t.put(ctx, t.policy.PropertyWrite, "abortslew", nil)
}

func (t Telescope) MoveAxis(ctx context.Context, axis device.Axis, rate float64) error {
	return t.put(ctx, t.policy.PropertyWrite, "moveaxis", url.Values{
		"Axis": {strconv.Itoa(int(axis))},
		"Rate": {formFloat(rate)},
	})
}

// SafetyMonitor is an Alpaca safety monitor.
type SafetyMonitor struct{ *Device }

func (s SafetyMonitor) IsSafe(ctx context.Context) (bool, error) {
	return get[bool](ctx, s.Device, "issafe")
}

// CoverCalibrator is an Alpaca cover calibrator.
type CoverCalibrator struct{ *Device }

func (c CoverCalibrator) CoverStatus(ctx context.Context) (device.CoverStatus, error) {
	code, err := get[int](ctx, c.Device, "coverstate")
	if err != nil {
		return device.CoverUnknown, err
	}
	return device.CoverStatusFromCode(code), nil
}

func (c CoverCalibrator) CalibratorStatus(ctx context.Context) (device.CalibratorStatus, error) {
	code, err := get[int](ctx, c.Device, "calibratorstate")
	if err != nil {
		return device.CalibratorUnknown, err
	}
	return device.CalibratorStatusFromCode(code), nil
}

func (c CoverCalibrator) OpenCover(ctx context.Context) error {
	return c.put(ctx, c.motion(), "opencover", nil)
}

func (c CoverCalibrator) CloseCover(ctx context.Context) error {
	return c.put(ctx, c.motion(), "closecover", nil)
}

func (c CoverCalibrator) HaltCover(ctx context.Context) error {
	return c.put(ctx, c.policy.PropertyWrite, "haltcover", nil)
}

var (
	_ device.PositionDevice         = Focuser{}
	_ device.PositionDevice         = FilterWheel{}
	_ device.PositionDevice         = Rotator{}
	_ device.PositionDevice         = Dome{}
	_ device.Shutter                = Dome{}
	_ device.Mount                  = Telescope{}
	_ device.ContinuousMotionDevice = Telescope{}
	_ device.ContinuousSafetyDevice = SafetyMonitor{}
	_ device.Cover                  = CoverCalibrator{}
	_ device.NamedDevice            = (*Device)(nil)
	_ device.Connectable            = (*Device)(nil)
	_ device.PropertyReadable       = (*Device)(nil)
	_ device.PropertyWritable       = (*Device)(nil)
)
