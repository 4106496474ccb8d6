package com

import (
	"context"

	"astrobridge/pkg/device"
	"astrobridge/pkg/operation"
	"astrobridge/pkg/policy"

	log "github.com/sirupsen/logrus"
)

// Focuser is an ASCOM IFocuser driver.
type Focuser struct{ *Driver }

func (f Focuser) Position(ctx context.Context) (float64, error) { return f.getFloat(ctx, "Position") }

func (f Focuser) IsMoving(ctx context.Context) (bool, error) { return f.getBool(ctx, "IsMoving") }

func (f Focuser) MoveTo(ctx context.Context, position float64) error {
	return f.call(ctx, f.motion(), "Move", int32(position))
}

func (f Focuser) Halt(ctx context.Context) error { return f.call(ctx, f.policy.PropertyWrite, "Halt") }

// FilterWheel is an ASCOM IFilterWheel driver. Its position reads -1 while
// the wheel is moving.
type FilterWheel struct{ *Driver }

func (w FilterWheel) Position(ctx context.Context) (float64, error) {
	return w.getFloat(ctx, "Position")
}

func (w FilterWheel) IsMoving(ctx context.Context) (bool, error) {
	return operation.SentinelMoving(ctx, w.Position)
}

func (w FilterWheel) MoveTo(ctx context.Context, position float64) error {
	return w.set(ctx, w.motion(), "Position", int16(position))
}

func (w FilterWheel) Halt(ctx context.Context) error { return device.ErrNotSupported }

// Rotator is an ASCOM IRotator driver.
type Rotator struct{ *Driver }

func (r Rotator) Position(ctx context.Context) (float64, error) { return r.getFloat(ctx, "Position") }

func (r Rotator) IsMoving(ctx context.Context) (bool, error) { return r.getBool(ctx, "IsMoving") }

func (r Rotator) MoveTo(ctx context.Context, position float64) error {
	return r.call(ctx, r.motion(), "MoveAbsolute", position)
}

func (r Rotator) Halt(ctx context.Context) error { return r.call(ctx, r.policy.PropertyWrite, "Halt") }

// Dome is an ASCOM IDome driver; its position is the azimuth.
type Dome struct{ *Driver }

func (d Dome) Position(ctx context.Context) (float64, error) { return d.getFloat(ctx, "Azimuth") }

func (d Dome) IsMoving(ctx context.Context) (bool, error) { return d.getBool(ctx, "Slewing") }

func (d Dome) MoveTo(ctx context.Context, azimuth float64) error {
	return d.call(ctx, d.motion(), "SlewToAzimuth", azimuth)
}

func (d Dome) Halt(ctx context.Context) error { return d.call(ctx, d.policy.PropertyWrite, "AbortSlew") }

func (d Dome) ShutterStatus(ctx context.Context) (device.ShutterStatus, error) {
	v, err := d.get(ctx, "ShutterStatus")
	if err != nil {
		return device.ShutterUnknown, err
	}
	code, err := toInt(v)
	if err != nil {
		return device.ShutterUnknown, err
	}
	return device.ShutterStatusFromCode(code), nil
}

func (d Dome) OpenShutter(ctx context.Context) error {
	return d.call(ctx, d.motion(), "OpenShutter")
}

func (d Dome) CloseShutter(ctx context.Context) error {
	return d.call(ctx, d.motion(), "CloseShutter")
}

// Telescope is an ASCOM ITelescope driver.
type Telescope struct{ *Driver }

func (t Telescope) Coordinates(ctx context.Context) (device.Coordinates, error) {
	ra, err := t.getFloat(ctx, "RightAscension")
	if err != nil {
		return device.Coordinates{}, err
	}
	dec, err := t.getFloat(ctx, "Declination")
	if err != nil {
		return device.Coordinates{}, err
	}
	return device.Coordinates{RA: ra, Dec: dec}, nil
}

func (t Telescope) Slewing(ctx context.Context) (bool, error) { return t.getBool(ctx, "Slewing") }

func (t Telescope) SlewTo(ctx context.Context, target device.Coordinates) error {
	return t.call(ctx, t.motion(), "SlewToCoordinatesAsync", target.RA, target.Dec)
}

func (t Telescope) AbortSlew(ctx context.Context) error {
	return t.call(ctx, t.policy.PropertyWrite, "AbortSlew")
}

func (t Telescope) MoveAxis(ctx context.Context, axis device.Axis, rate float64) error {
	return t.call(ctx, t.policy.PropertyWrite, "MoveAxis", int32(axis), rate)
}

// SafetyMonitor is an ASCOM ISafetyMonitor driver.
type SafetyMonitor struct{ *Driver }

func (s SafetyMonitor) IsSafe(ctx context.Context) (bool, error) { return s.getBool(ctx, "IsSafe") }

// CoverCalibrator is an ASCOM ICoverCalibrator driver.
type CoverCalibrator struct{ *Driver }

func (c CoverCalibrator) CoverStatus(ctx context.Context) (device.CoverStatus, error) {
	v, err := c.get(ctx, "CoverState")
	if err != nil {
		return device.CoverUnknown, err
	}
	code, err := toInt(v)
	if err != nil {
		return device.CoverUnknown, err
	}
	return device.CoverStatusFromCode(code), nil
}

func (c CoverCalibrator) OpenCover(ctx context.Context) error {
	return c.call(ctx, c.motion(), "OpenCover")
}

func (c CoverCalibrator) CloseCover(ctx context.Context) error {
	return c.call(ctx, c.motion(), "CloseCover")
}

func (c CoverCalibrator) HaltCover(ctx context.Context) error {
	return c.call(ctx, c.policy.PropertyWrite, "HaltCover")
}

// NewDevice opens the driver and wraps it in the type matching id.Type.
func NewDevice(id device.Identity, factory Factory, p policy.Policy, logger log.FieldLogger) (device.Device, error) {
	d, err := Open(id, factory, p, logger)
	if err != nil {
		return nil, err
	}

	switch id.Type {
	case device.TypeFocuser:
		return Focuser{d}, nil
	case device.TypeFilterWheel:
		return FilterWheel{d}, nil
	case device.TypeRotator:
		return Rotator{d}, nil
	case device.TypeDome:
		return Dome{d}, nil
	case device.TypeTelescope:
		return Telescope{d}, nil
	case device.TypeSafetyMonitor:
		return SafetyMonitor{d}, nil
	case device.TypeCoverCalibrator:
		return CoverCalibrator{d}, nil
	default:
		return d, nil
	}
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
	_ device.NamedDevice            = (*Driver)(nil)
	_ device.Connectable            = (*Driver)(nil)
	_ device.PropertyReadable       = (*Driver)(nil)
	_ device.PropertyWritable       = (*Driver)(nil)
)
