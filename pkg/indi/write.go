package indi

import (
	"context"
	"fmt"
	"time"

	"astrobridge/pkg/device"
	"astrobridge/pkg/operation"
)

// Property returns a copy of the cached property.
func (c *Client) Property(devName, name string) (Property, error) {
	k := Key{Device: devName, Name: name}
	p, ok := c.registry.Get(k)
	if !ok {
		return Property{}, fmt.Errorf("%w: %s", ErrPropertyNotFound, k)
	}
	return p, nil
}

// Write sends new values for the elements of a property. The cached state
// becomes Busy until the server answers; values are only changed by the
// server's update. Writes to read-only properties fail without any traffic.
func (c *Client) Write(ctx context.Context, devName, name string, values map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k := Key{Device: devName, Name: name}
	p, ok := c.registry.Get(k)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPropertyNotFound, k)
	}
	if p.Perm == PermRO {
		return fmt.Errorf("%w: %s is read-only", device.ErrPermissionDenied, k)
	}

	data, err := encodeNew(p, values, time.Now())
	if err != nil {
		return err
	}

	s := c.current()
	if s == nil {
		return fmt.Errorf("%w: %s", device.ErrNotConnected, c.addr)
	}

	prev, _ := c.registry.SetState(k, StateBusy)
	if err := c.write(s, data); err != nil {
		c.registry.SetState(k, prev)
		return err
	}
	return nil
}

// SetNumber writes number elements.
func (c *Client) SetNumber(ctx context.Context, devName, name string, values map[string]float64) error {
	m := make(map[string]any, len(values))
	for k, v := range values {
		m[k] = v
	}
	return c.Write(ctx, devName, name, m)
}

// SetSwitch writes switch elements.
func (c *Client) SetSwitch(ctx context.Context, devName, name string, values map[string]bool) error {
	m := make(map[string]any, len(values))
	for k, v := range values {
		m[k] = v
	}
	return c.Write(ctx, devName, name, m)
}

// SetText writes text elements.
func (c *Client) SetText(ctx context.Context, devName, name string, values map[string]string) error {
	m := make(map[string]any, len(values))
	for k, v := range values {
		m[k] = v
	}
	return c.Write(ctx, devName, name, m)
}

// Refresh asks the server to send the definition of a property again, or of
// all properties of a device when name is empty.
func (c *Client) Refresh(devName, name string) error {
	s := c.current()
	if s == nil {
		return fmt.Errorf("%w: %s", device.ErrNotConnected, c.addr)
	}
	return c.write(s, encodeGetProperties(devName, name))
}

// StateProbe reports Busy while the property state is Busy and fails with a
// device error once it is Alert. A terminal connection error fails the
// probe as well.
func (c *Client) StateProbe(k Key) operation.Probe {
	return func(ctx context.Context) (operation.Status, error) {
		if err := c.Err(); err != nil {
			return operation.Busy, err
		}
		p, ok := c.registry.Get(k)
		if !ok {
			return operation.Busy, fmt.Errorf("%w: %s", ErrPropertyNotFound, k)
		}
		switch p.State {
		case StateBusy:
			return operation.Busy, nil
		case StateAlert:
			if p.Message != "" {
				return operation.Busy, device.Alert("%s is in alert: %s", k, p.Message)
			}
			return operation.Busy, device.Alert("%s is in alert", k)
		default:
			return operation.Settled, nil
		}
	}
}

// WaitForState polls the cached state of a property until it leaves Busy.
func (c *Client) WaitForState(ctx context.Context, k Key, poll, timeout time.Duration, token *device.CancelToken) (operation.Outcome, error) {
	return operation.Until(ctx, operation.Wait{Poll: poll, Timeout: timeout, Token: token}, c.StateProbe(k))
}
