package indi

import (
	"context"
	"fmt"
	"strings"
	"time"

	"astrobridge/pkg/device"
	"astrobridge/pkg/operation"
	"astrobridge/pkg/policy"
)

// Standard property and element names.
const (
	propConnection   = "CONNECTION"
	propDriverInfo   = "DRIVER_INFO"
	propEqCoord      = "EQUATORIAL_EOD_COORD"
	propOnCoordSet   = "ON_COORD_SET"
	propMountAbort   = "TELESCOPE_ABORT_MOTION"
	propFocusAbs     = "ABS_FOCUS_POSITION"
	propFocusAbort   = "FOCUS_ABORT_MOTION"
	propFilterSlot   = "FILTER_SLOT"
	propRotatorAngle = "ABS_ROTATOR_ANGLE"
	propRotatorAbort = "ROTATOR_ABORT_MOTION"
	propDomeAbs      = "ABS_DOME_POSITION"
	propDomeAbort    = "DOME_ABORT_MOTION"
	propDomeShutter  = "DOME_SHUTTER"
	propCCDExposure  = "CCD_EXPOSURE"
	propCCDAbort     = "CCD_ABORT_EXPOSURE"
	propCCDBlob      = "CCD1"
	propWeather      = "WEATHER_STATUS"
)

// Device is a device served through a Client. It implements the
// capabilities every driver has; the typed wrappers add the class ones.
type Device struct {
	client *Client
	id     device.Identity
	policy policy.Policy
}

// NewDevice wraps the device named id.Name in the type matching id.Type.
func NewDevice(c *Client, id device.Identity, p policy.Policy) (device.Device, error) {
	if id.Transport != device.TransportINDI {
		return nil, fmt.Errorf("not an INDI device: %s", id)
	}

	d := &Device{client: c, id: id, policy: p}
	switch id.Type {
	case device.TypeTelescope:
		return Telescope{d}, nil
	case device.TypeFocuser:
		return Focuser{d}, nil
	case device.TypeFilterWheel:
		return FilterWheel{d}, nil
	case device.TypeRotator:
		return Rotator{d}, nil
	case device.TypeDome:
		return Dome{d}, nil
	case device.TypeCamera:
		return Camera{d}, nil
	case device.TypeSafetyMonitor, device.TypeObservingConditions:
		return Weather{d}, nil
	default:
		return d, nil
	}
}

func (d *Device) Identity() device.Identity {
	return d.id
}

func (d *Device) Name() string {
	return d.id.Name
}

// Client returns the connection serving the device.
func (d *Device) Client() *Client {
	return d.client
}

func (d *Device) Description(ctx context.Context) (string, error) {
	p, err := d.client.Property(d.id.Name, propDriverInfo)
	if err != nil {
		return "", err
	}
	e, _ := p.Element("DRIVER_NAME")
	return e.Text, nil
}

// Connect connects the server link if needed, then asks the driver to
// connect to its hardware and waits for the CONNECTION property to settle.
func (d *Device) Connect(ctx context.Context) error {
	if err := d.client.Connect(ctx); err != nil {
		return err
	}
	if err := d.awaitDefinition(ctx, propConnection); err != nil {
		return err
	}
	return d.switchAndWait(ctx, propConnection, "CONNECT", d.policy.Connection)
}

func (d *Device) Disconnect(ctx context.Context) error {
	return d.switchAndWait(ctx, propConnection, "DISCONNECT", d.policy.Connection)
}

func (d *Device) Connected(ctx context.Context) (bool, error) {
	p, err := d.client.Property(d.id.Name, propConnection)
	if err != nil {
		return false, err
	}
	e, _ := p.Element("CONNECT")
	return e.Switch && p.State == StateOk, nil
}

// GetProperty reads "PROPERTY.ELEMENT", or all elements of "PROPERTY" as a
// map keyed by element name.
func (d *Device) GetProperty(ctx context.Context, key string) (any, error) {
	name, element, _ := strings.Cut(key, ".")
	p, err := d.client.Property(d.id.Name, name)
	if err != nil {
		return nil, err
	}
	if element == "" {
		values := make(map[string]any, len(p.Elements))
		for _, e := range p.Elements {
			values[e.Name], _ = p.Value(e.Name)
		}
		return values, nil
	}
	v, ok := p.Value(element)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrPropertyNotFound, p.Key(), element)
	}
	return v, nil
}

// PutProperty writes "PROPERTY.ELEMENT", or several elements of "PROPERTY"
// given a map[string]any.
func (d *Device) PutProperty(ctx context.Context, key string, value any) error {
	name, element, _ := strings.Cut(key, ".")
	if element != "" {
		return d.client.Write(ctx, d.id.Name, name, map[string]any{element: value})
	}
	values, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("writing %s needs a map of element values, got %T", key, value)
	}
	return d.client.Write(ctx, d.id.Name, name, values)
}

func (d *Device) key(name string) Key {
	return Key{Device: d.id.Name, Name: name}
}

func (d *Device) number(name, element string) (float64, error) {
	p, err := d.client.Property(d.id.Name, name)
	if err != nil {
		return 0, err
	}
	e, ok := p.Element(element)
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrPropertyNotFound, p.Key(), element)
	}
	return e.Number, nil
}

// busy reports whether the property is Busy. Alert is a device fault.
func (d *Device) busy(ctx context.Context, name string) (bool, error) {
	status, err := d.client.StateProbe(d.key(name))(ctx)
	if err != nil {
		return false, err
	}
	return status == operation.Busy, nil
}

func (d *Device) push(ctx context.Context, name, element string) error {
	return d.client.SetSwitch(ctx, d.id.Name, name, map[string]bool{element: true})
}

func (d *Device) switchAndWait(ctx context.Context, name, element string, timeout time.Duration) error {
	if err := d.push(ctx, name, element); err != nil {
		return err
	}
	outcome, err := d.client.WaitForState(ctx, d.key(name), d.policy.PollInterval, timeout, nil)
	if err != nil {
		return err
	}
	if outcome == operation.NotConfirmed {
		return fmt.Errorf("%w: %s not confirmed within %v", device.ErrTimeout, d.key(name), timeout)
	}
	return nil
}

// awaitDefinition waits for a property of a device whose definitions may
// still be streaming in.
func (d *Device) awaitDefinition(ctx context.Context, name string) error {
	k := d.key(name)
	outcome, err := operation.Until(ctx, operation.Wait{Poll: d.policy.PollInterval, Timeout: d.policy.PropertyRead},
		func(ctx context.Context) (operation.Status, error) {
			if err := d.client.Err(); err != nil {
				return operation.Busy, err
			}
			if _, ok := d.client.registry.Get(k); ok {
				return operation.Settled, nil
			}
			return operation.Busy, nil
		})
	if err != nil {
		return err
	}
	if outcome != operation.Completed {
		return fmt.Errorf("%w: %s", ErrPropertyNotFound, k)
	}
	return nil
}

// Telescope is a mount driver.
type Telescope struct{ *Device }

func (t Telescope) Coordinates(ctx context.Context) (device.Coordinates, error) {
	p, err := t.client.Property(t.id.Name, propEqCoord)
	if err != nil {
		return device.Coordinates{}, err
	}
	ra, _ := p.Element("RA")
	dec, _ := p.Element("DEC")
	return device.Coordinates{RA: ra.Number, Dec: dec.Number}, nil
}

func (t Telescope) Slewing(ctx context.Context) (bool, error) { return t.busy(ctx, propEqCoord) }

func (t Telescope) SlewTo(ctx context.Context, target device.Coordinates) error {
	if _, err := t.client.Property(t.id.Name, propOnCoordSet); err == nil {
		if err := t.push(ctx, propOnCoordSet, "TRACK"); err != nil {
			return err
		}
	}
	return t.client.SetNumber(ctx, t.id.Name, propEqCoord, map[string]float64{"RA": target.RA, "DEC": target.Dec})
}

func (t Telescope) AbortSlew(ctx context.Context) error {
	return t.push(ctx, propMountAbort, "ABORT")
}

// Focuser is an absolute focuser.
type Focuser struct{ *Device }

func (f Focuser) Position(ctx context.Context) (float64, error) {
	return f.number(propFocusAbs, "FOCUS_ABSOLUTE_POSITION")
}

func (f Focuser) IsMoving(ctx context.Context) (bool, error) { return f.busy(ctx, propFocusAbs) }

func (f Focuser) MoveTo(ctx context.Context, position float64) error {
	return f.client.SetNumber(ctx, f.id.Name, propFocusAbs, map[string]float64{"FOCUS_ABSOLUTE_POSITION": position})
}

func (f Focuser) Halt(ctx context.Context) error { return f.push(ctx, propFocusAbort, "ABORT") }

// FilterWheel is a filter wheel. Slots are numbered from 0 like every
// other transport; the driver numbers them from 1.
type FilterWheel struct{ *Device }

func (w FilterWheel) Position(ctx context.Context) (float64, error) {
	slot, err := w.number(propFilterSlot, "FILTER_SLOT_VALUE")
	if err != nil {
		return 0, err
	}
	return slot - 1, nil
}

func (w FilterWheel) IsMoving(ctx context.Context) (bool, error) { return w.busy(ctx, propFilterSlot) }

func (w FilterWheel) MoveTo(ctx context.Context, position float64) error {
	return w.client.SetNumber(ctx, w.id.Name, propFilterSlot, map[string]float64{"FILTER_SLOT_VALUE": position + 1})
}

func (w FilterWheel) Halt(ctx context.Context) error { return device.ErrNotSupported }

// Rotator is a field rotator.
type Rotator struct{ *Device }

func (r Rotator) Position(ctx context.Context) (float64, error) {
	return r.number(propRotatorAngle, "ANGLE")
}

func (r Rotator) IsMoving(ctx context.Context) (bool, error) { return r.busy(ctx, propRotatorAngle) }

func (r Rotator) MoveTo(ctx context.Context, angle float64) error {
	return r.client.SetNumber(ctx, r.id.Name, propRotatorAngle, map[string]float64{"ANGLE": angle})
}

func (r Rotator) Halt(ctx context.Context) error { return r.push(ctx, propRotatorAbort, "ABORT") }

// Dome is a dome with an azimuth axis and a shutter.
type Dome struct{ *Device }

func (d Dome) Position(ctx context.Context) (float64, error) {
	return d.number(propDomeAbs, "DOME_ABSOLUTE_POSITION")
}

func (d Dome) IsMoving(ctx context.Context) (bool, error) { return d.busy(ctx, propDomeAbs) }

func (d Dome) MoveTo(ctx context.Context, azimuth float64) error {
	return d.client.SetNumber(ctx, d.id.Name, propDomeAbs, map[string]float64{"DOME_ABSOLUTE_POSITION": azimuth})
}

func (d Dome) Halt(ctx context.Context) error { return d.push(ctx, propDomeAbort, "ABORT") }

func (d Dome) ShutterStatus(ctx context.Context) (device.ShutterStatus, error) {
	p, err := d.client.Property(d.id.Name, propDomeShutter)
	if err != nil {
		return device.ShutterUnknown, err
	}
	on, _ := p.OnSwitch()
	switch {
	case p.State == StateAlert:
		return device.ShutterError, nil
	case p.State == StateBusy && on == "SHUTTER_OPEN":
		return device.ShutterOpening, nil
	case p.State == StateBusy && on == "SHUTTER_CLOSE":
		return device.ShutterClosing, nil
	case p.State == StateBusy:
		return device.ShutterUnknown, nil
	case on == "SHUTTER_OPEN":
		return device.ShutterOpen, nil
	case on == "SHUTTER_CLOSE":
		return device.ShutterClosed, nil
	default:
		return device.ShutterUnknown, nil
	}
}

func (d Dome) OpenShutter(ctx context.Context) error { return d.push(ctx, propDomeShutter, "SHUTTER_OPEN") }

func (d Dome) CloseShutter(ctx context.Context) error {
	return d.push(ctx, propDomeShutter, "SHUTTER_CLOSE")
}

// Camera is a CCD or CMOS camera delivering images on its primary BLOB.
type Camera struct{ *Device }

// Expose starts an exposure and waits for the image. The waiter is
// registered before the request so a fast camera cannot be missed.
func (c Camera) Expose(ctx context.Context, duration time.Duration) (device.Image, error) {
	w := c.client.ExpectBlob(c.id.Name, propCCDBlob)
	defer w.Cancel()

	err := c.client.SetNumber(ctx, c.id.Name, propCCDExposure, map[string]float64{"CCD_EXPOSURE_VALUE": duration.Seconds()})
	if err != nil {
		return device.Image{}, err
	}

	blob, err := w.Wait(ctx, duration+c.policy.BinaryTransfer)
	if err != nil {
		return device.Image{}, err
	}
	return device.Image{Format: blob.Format, Data: blob.Data}, nil
}

func (c Camera) AbortExposure(ctx context.Context) error { return c.push(ctx, propCCDAbort, "ABORT") }

// Weather is a weather station used as a safety monitor. The overall state
// of WEATHER_STATUS is Ok when every parameter is within its safe range.
type Weather struct{ *Device }

func (w Weather) IsSafe(ctx context.Context) (bool, error) {
	p, err := w.client.Property(w.id.Name, propWeather)
	if err != nil {
		return false, err
	}
	return p.State == StateOk, nil
}

var (
	_ device.NamedDevice            = (*Device)(nil)
	_ device.Connectable            = (*Device)(nil)
	_ device.PropertyReadable       = (*Device)(nil)
	_ device.PropertyWritable       = (*Device)(nil)
	_ device.Mount                  = Telescope{}
	_ device.PositionDevice         = Focuser{}
	_ device.PositionDevice         = FilterWheel{}
	_ device.PositionDevice         = Rotator{}
	_ device.PositionDevice         = Dome{}
	_ device.Shutter                = Dome{}
	_ device.Camera                 = Camera{}
	_ device.ContinuousSafetyDevice = Weather{}
)
