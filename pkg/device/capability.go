package device

import (
	"context"
	"time"
)

// Device is the minimum every transport implementation provides.
type Device interface {
	Identity() Identity
}

// Connectable devices hold a link to hardware that must be opened first.
type Connectable interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Connected(ctx context.Context) (bool, error)
}

// NamedDevice exposes the human readable name and description.
type NamedDevice interface {
	Device
	Name() string
	Description(ctx context.Context) (string, error)
}

// PropertyReadable is a generic property bag read by key. The key syntax is
// transport specific (an INDI "PROPERTY.ELEMENT", a COM or Alpaca member name).
type PropertyReadable interface {
	GetProperty(ctx context.Context, key string) (any, error)
}

// PropertyWritable is the write side of the property bag.
type PropertyWritable interface {
	PutProperty(ctx context.Context, key string, value any) error
}

// PositionDevice is an absolute position mover: focusers (steps), rotators
// and dome azimuth (degrees) and filter wheels (slot).
type PositionDevice interface {
	Position(ctx context.Context) (float64, error)
	IsMoving(ctx context.Context) (bool, error)
	MoveTo(ctx context.Context, position float64) error
	Halt(ctx context.Context) error
}

// Axis of a mount.
type Axis int

const (
	AxisPrimary Axis = iota
	AxisSecondary
	AxisTertiary
)

// ContinuousMotionDevice moves an axis at a given rate until stopped with a
// zero rate.
type ContinuousMotionDevice interface {
	MoveAxis(ctx context.Context, axis Axis, rate float64) error
}

// Coordinates are equatorial coordinates of date: RA in hours, Dec in degrees.
type Coordinates struct {
	RA  float64
	Dec float64
}

// Mount slews to equatorial coordinates.
type Mount interface {
	Coordinates(ctx context.Context) (Coordinates, error)
	Slewing(ctx context.Context) (bool, error)
	SlewTo(ctx context.Context, target Coordinates) error
	AbortSlew(ctx context.Context) error
}

// Shutter is the dome shutter.
type Shutter interface {
	ShutterStatus(ctx context.Context) (ShutterStatus, error)
	OpenShutter(ctx context.Context) error
	CloseShutter(ctx context.Context) error
}

// Cover is the cover of a cover calibrator.
type Cover interface {
	CoverStatus(ctx context.Context) (CoverStatus, error)
	OpenCover(ctx context.Context) error
	CloseCover(ctx context.Context) error
	HaltCover(ctx context.Context) error
}

// ContinuousSafetyDevice reports whether it is safe to observe.
type ContinuousSafetyDevice interface {
	IsSafe(ctx context.Context) (bool, error)
}

// Image is a validated image payload as delivered by a camera.
type Image struct {
	Format string
	Data   []byte
}

// Camera takes one exposure and returns the image.
type Camera interface {
	Expose(ctx context.Context, duration time.Duration) (Image, error)
	AbortExposure(ctx context.Context) error
}
