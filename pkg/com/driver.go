package com

import (
	"context"
	"fmt"
	"time"

	"astrobridge/pkg/actor"
	"astrobridge/pkg/device"
	"astrobridge/pkg/policy"

	log "github.com/sirupsen/logrus"
)

// Driver is a COM driver instance owned by an actor worker. It implements
// the capabilities common to every ASCOM device; the typed wrappers in this
// package add the class specific ones.
type Driver struct {
	id     device.Identity
	policy policy.Policy
	actor  *actor.Actor[Dispatch]
	logger log.FieldLogger
}

// Open creates the driver identified by id.Name (a ProgID) on a new worker.
// It fails with actor.ErrInit or actor.ErrDriverCreate.
func Open(id device.Identity, factory Factory, p policy.Policy, logger log.FieldLogger) (*Driver, error) {
	if id.Transport != device.TransportCOM {
		return nil, fmt.Errorf("not a COM device: %s", id)
	}

	a, err := actor.New(actor.Hooks[Dispatch]{
		Init: factory.Init,
		Create: func() (Dispatch, string, error) {
			d, err := factory.Create(id.Name)
			if err != nil {
				return nil, "", err
			}
			name := id.Name
			if v, err := d.Get("Name"); err == nil {
				if s := toString(v); s != "" {
					name = s
				}
			}
			return d, name, nil
		},
		Release:  func(d Dispatch) { d.Release() },
		Teardown: factory.Uninit,
	}, actor.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", id.Name, err)
	}

	logger.Infof("Opened COM driver %q (%s)", a.Name(), id.Name)

	return &Driver{
		id:     id,
		policy: p,
		actor:  a,
		logger: logger,
	}, nil
}

// Close releases the driver object and its worker once queued commands
// have run.
func (d *Driver) Close() {
	d.actor.Close()
}

// Done is closed when the worker has exited, normally or after a crash.
func (d *Driver) Done() <-chan struct{} {
	return d.actor.Done()
}

func (d *Driver) Identity() device.Identity {
	return d.id
}

func (d *Driver) Name() string {
	return d.actor.Name()
}

func (d *Driver) Description(ctx context.Context) (string, error) {
	v, err := d.get(ctx, "Description")
	return toString(v), err
}

func (d *Driver) Connect(ctx context.Context) error {
	return d.set(ctx, d.policy.Connection, "Connected", true)
}

func (d *Driver) Disconnect(ctx context.Context) error {
	return d.set(ctx, d.policy.Connection, "Connected", false)
}

func (d *Driver) Connected(ctx context.Context) (bool, error) {
	v, err := d.get(ctx, "Connected")
	if err != nil {
		return false, err
	}
	return toBool(v)
}

// GetProperty reads any driver property by its COM member name.
func (d *Driver) GetProperty(ctx context.Context, key string) (any, error) {
	return d.get(ctx, key)
}

// PutProperty writes any driver property by its COM member name.
func (d *Driver) PutProperty(ctx context.Context, key string, value any) error {
	return d.set(ctx, d.policy.PropertyWrite, key, value)
}

func (d *Driver) get(ctx context.Context, name string) (any, error) {
	return actor.Call(ctx, d.actor, d.policy.PropertyRead, func(h Dispatch) (any, error) {
		return h.Get(name)
	})
}

func (d *Driver) getFloat(ctx context.Context, name string) (float64, error) {
	v, err := d.get(ctx, name)
	if err != nil {
		return 0, err
	}
	return toFloat(v)
}

func (d *Driver) getBool(ctx context.Context, name string) (bool, error) {
	v, err := d.get(ctx, name)
	if err != nil {
		return false, err
	}
	return toBool(v)
}

func (d *Driver) set(ctx context.Context, timeout time.Duration, name string, value any) error {
	_, err := actor.Call(ctx, d.actor, timeout, func(h Dispatch) (struct{}, error) {
		return struct{}{}, h.Set(name, value)
	})
	if err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

func (d *Driver) call(ctx context.Context, timeout time.Duration, method string, args ...any) error {
	_, err := actor.Call(ctx, d.actor, timeout, func(h Dispatch) (any, error) {
		return h.Call(method, args...)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

// motion is the timeout of commands that may block until the hardware
// acknowledges that motion started.
func (d *Driver) motion() time.Duration {
	return d.policy.Motion(d.id.Type)
}
