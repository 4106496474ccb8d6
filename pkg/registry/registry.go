// Package registry holds the devices of an observing session and exposes the
// uniform operations the sequencer drives them with.
package registry

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"astrobridge/pkg/device"
	"astrobridge/pkg/operation"
	"astrobridge/pkg/policy"

	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

// Registry owns a set of devices keyed by their identity string. It is built
// at startup and closed at shutdown; it is safe for concurrent use.
type Registry struct {
	policy  policy.Policy
	logger  log.FieldLogger
	devices *xsync.MapOf[string, device.Device]
}

// New returns an empty registry.
func New(p policy.Policy, logger log.FieldLogger) *Registry {
	return &Registry{
		policy:  p,
		logger:  logger,
		devices: xsync.NewMapOf[string, device.Device](),
	}
}

// Policy returns the policy operations are timed with.
func (r *Registry) Policy() policy.Policy {
	return r.policy
}

// Add registers d under its identity string.
func (r *Registry) Add(d device.Device) error {
	id := d.Identity().String()
	if _, loaded := r.devices.LoadOrStore(id, d); loaded {
		return fmt.Errorf("device %s already registered", id)
	}
	r.logger.Infof("Registered %s", id)
	return nil
}

// Get returns the device registered under id.
func (r *Registry) Get(id string) (device.Device, error) {
	d, ok := r.devices.Load(id)
	if !ok {
		return nil, fmt.Errorf("%w: device %s", device.ErrNotFound, id)
	}
	return d, nil
}

// Remove unregisters a device and releases it.
func (r *Registry) Remove(id string) error {
	d, ok := r.devices.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("%w: device %s", device.ErrNotFound, id)
	}
	release(d)
	r.logger.Infof("Removed %s", id)
	return nil
}

// List returns the registered identities sorted by their string form.
func (r *Registry) List() []device.Identity {
	ids := make([]device.Identity, 0, r.devices.Size())
	r.devices.Range(func(_ string, d device.Device) bool {
		ids = append(ids, d.Identity())
		return true
	})
	slices.SortFunc(ids, func(a, b device.Identity) int {
		return strings.Compare(a.String(), b.String())
	})
	return ids
}

// Close releases every device and empties the registry.
func (r *Registry) Close() {
	r.devices.Range(func(id string, d device.Device) bool {
		r.devices.Delete(id)
		release(d)
		return true
	})
}

func release(d device.Device) {
	if c, ok := d.(interface{ Close() }); ok {
		c.Close()
	}
}

// as returns the device registered under id as a T, or ErrNotSupported when
// the device does not have that capability.
func as[T any](r *Registry, id, capability string) (T, device.Device, error) {
	var zero T
	d, err := r.Get(id)
	if err != nil {
		return zero, nil, err
	}
	c, ok := d.(T)
	if !ok {
		return zero, d, fmt.Errorf("%w: %s has no %s capability", device.ErrNotSupported, id, capability)
	}
	return c, d, nil
}

func (r *Registry) Connect(ctx context.Context, id string) error {
	c, _, err := as[device.Connectable](r, id, "connection")
	if err != nil {
		return err
	}
	return operation.Initiate(ctx, r.policy.Connection, c.Connect)
}

func (r *Registry) Disconnect(ctx context.Context, id string) error {
	c, _, err := as[device.Connectable](r, id, "connection")
	if err != nil {
		return err
	}
	return operation.Initiate(ctx, r.policy.Connection, c.Disconnect)
}

func (r *Registry) GetProperty(ctx context.Context, id, key string) (any, error) {
	p, _, err := as[device.PropertyReadable](r, id, "property read")
	if err != nil {
		return nil, err
	}
	var v any
	err = operation.Initiate(ctx, r.policy.PropertyRead, func(ctx context.Context) error {
		var err error
		v, err = p.GetProperty(ctx, key)
		return err
	})
	return v, err
}

func (r *Registry) PutProperty(ctx context.Context, id, key string, value any) error {
	p, _, err := as[device.PropertyWritable](r, id, "property write")
	if err != nil {
		return err
	}
	return operation.Initiate(ctx, r.policy.PropertyWrite, func(ctx context.Context) error {
		return p.PutProperty(ctx, key, value)
	})
}

// wait builds the wait of a motion of a device of type typ.
func (r *Registry) wait(typ device.Type, token *device.CancelToken) operation.Wait {
	return operation.Wait{Poll: r.policy.PollInterval, Timeout: r.policy.Motion(typ), Token: token}
}

// run initiates and waits for a motion, logging its outcome.
func (r *Registry) run(ctx context.Context, d device.Device, what string, initiate func(ctx context.Context) error, token *device.CancelToken, probe operation.Probe) (operation.Outcome, error) {
	typ := d.Identity().Type
	logger := r.logger.WithField("device", d.Identity().String())

	start := time.Now()
	outcome, err := operation.Run(ctx, r.policy.Motion(typ), initiate, r.wait(typ, token), probe)
	if err != nil {
		logger.Errorf("%s failed: %v", what, err)
		return outcome, err
	}
	logger.Infof("%s %s after %v", what, outcome, time.Since(start).Round(time.Millisecond))
	return outcome, nil
}

// MoveTo moves a focuser, rotator, filter wheel or dome to position and
// waits for it to settle.
func (r *Registry) MoveTo(ctx context.Context, id string, position float64, token *device.CancelToken) (operation.Outcome, error) {
	p, d, err := as[device.PositionDevice](r, id, "position")
	if err != nil {
		return operation.NotConfirmed, err
	}
	return r.run(ctx, d, fmt.Sprintf("Move to %v", position),
		func(ctx context.Context) error { return p.MoveTo(ctx, position) },
		token, operation.MovingProbe(p.IsMoving))
}

// Slew slews a mount to target and waits for the slew to end.
func (r *Registry) Slew(ctx context.Context, id string, target device.Coordinates, token *device.CancelToken) (operation.Outcome, error) {
	m, d, err := as[device.Mount](r, id, "mount")
	if err != nil {
		return operation.NotConfirmed, err
	}
	return r.run(ctx, d, fmt.Sprintf("Slew to RA %.4fh Dec %.4f°", target.RA, target.Dec),
		func(ctx context.Context) error { return m.SlewTo(ctx, target) },
		token, operation.MovingProbe(m.Slewing))
}

func (r *Registry) OpenShutter(ctx context.Context, id string, token *device.CancelToken) (operation.Outcome, error) {
	return r.shutter(ctx, id, token, device.ShutterOpen)
}

func (r *Registry) CloseShutter(ctx context.Context, id string, token *device.CancelToken) (operation.Outcome, error) {
	return r.shutter(ctx, id, token, device.ShutterClosed)
}

func (r *Registry) shutter(ctx context.Context, id string, token *device.CancelToken, target device.ShutterStatus) (operation.Outcome, error) {
	s, d, err := as[device.Shutter](r, id, "shutter")
	if err != nil {
		return operation.NotConfirmed, err
	}
	initiate := s.CloseShutter
	if target == device.ShutterOpen {
		initiate = s.OpenShutter
	}
	return r.run(ctx, d, "Shutter "+target.String(), initiate, token, shutterProbe(s, target))
}

// shutterProbe settles once the shutter reports target.
func shutterProbe(s device.Shutter, target device.ShutterStatus) operation.Probe {
	return func(ctx context.Context) (operation.Status, error) {
		status, err := s.ShutterStatus(ctx)
		switch {
		case err != nil:
			return operation.Busy, err
		case status == device.ShutterError:
			return operation.Busy, device.Alert("shutter reported an error")
		case status == target:
			return operation.Settled, nil
		default:
			return operation.Busy, nil
		}
	}
}

func (r *Registry) OpenCover(ctx context.Context, id string, token *device.CancelToken) (operation.Outcome, error) {
	return r.cover(ctx, id, token, device.CoverOpen)
}

func (r *Registry) CloseCover(ctx context.Context, id string, token *device.CancelToken) (operation.Outcome, error) {
	return r.cover(ctx, id, token, device.CoverClosed)
}

func (r *Registry) cover(ctx context.Context, id string, token *device.CancelToken, target device.CoverStatus) (operation.Outcome, error) {
	c, d, err := as[device.Cover](r, id, "cover")
	if err != nil {
		return operation.NotConfirmed, err
	}
	initiate := c.CloseCover
	if target == device.CoverOpen {
		initiate = c.OpenCover
	}
	return r.run(ctx, d, "Cover "+target.String(), initiate, token, coverProbe(c, target))
}

// coverProbe settles once the cover reports target.
func coverProbe(c device.Cover, target device.CoverStatus) operation.Probe {
	return func(ctx context.Context) (operation.Status, error) {
		status, err := c.CoverStatus(ctx)
		switch {
		case err != nil:
			return operation.Busy, err
		case status == device.CoverError:
			return operation.Busy, device.Alert("cover reported an error")
		case status == device.CoverNotPresent:
			return operation.Busy, fmt.Errorf("%w: no cover fitted", device.ErrNotSupported)
		case status == target:
			return operation.Settled, nil
		default:
			return operation.Busy, nil
		}
	}
}

// Halt stops whatever motion the device supports stopping.
func (r *Registry) Halt(ctx context.Context, id string) error {
	d, err := r.Get(id)
	if err != nil {
		return err
	}

	var halt func(ctx context.Context) error
	switch h := d.(type) {
	case device.PositionDevice:
		halt = h.Halt
	case device.Mount:
		halt = h.AbortSlew
	case device.Cover:
		halt = h.HaltCover
	case device.Camera:
		halt = h.AbortExposure
	default:
		return fmt.Errorf("%w: %s cannot be halted", device.ErrNotSupported, id)
	}
	return operation.Initiate(ctx, r.policy.PropertyWrite, halt)
}

// IsSafe asks every registered safety device. Any unsafe answer or failing
// monitor makes the result unsafe. Without any monitor the result is
// SafetyAssumedSafe.
func (r *Registry) IsSafe(ctx context.Context) (device.SafetyStatus, error) {
	var monitors []device.ContinuousSafetyDevice
	var ids []string
	r.devices.Range(func(id string, d device.Device) bool {
		if m, ok := d.(device.ContinuousSafetyDevice); ok {
			monitors = append(monitors, m)
			ids = append(ids, id)
		}
		return true
	})

	if len(monitors) == 0 {
		r.logger.Debug("No safety monitor registered, assuming safe")
		return device.SafetyAssumedSafe, nil
	}

	for i, m := range monitors {
		var safe bool
		err := operation.Initiate(ctx, r.policy.PropertyRead, func(ctx context.Context) error {
			var err error
			safe, err = m.IsSafe(ctx)
			return err
		})
		if err != nil {
			return device.SafetyUnsafe, fmt.Errorf("safety monitor %s: %w", ids[i], err)
		}
		if !safe {
			r.logger.Warnf("Safety monitor %s reports unsafe", ids[i])
			return device.SafetyUnsafe, nil
		}
	}
	return device.SafetySafe, nil
}

// Expose takes one exposure of duration on a camera.
func (r *Registry) Expose(ctx context.Context, id string, duration time.Duration) (device.Image, error) {
	c, _, err := as[device.Camera](r, id, "camera")
	if err != nil {
		return device.Image{}, err
	}
	return c.Expose(ctx, duration)
}
