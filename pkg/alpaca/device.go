package alpaca

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"astrobridge/pkg/device"
	"astrobridge/pkg/policy"
)

// ParseAddress splits an Alpaca device name "host:port/number".
func ParseAddress(name string) (addr string, number int, err error) {
	addr, n, ok := strings.Cut(name, "/")
	if !ok || addr == "" {
		return "", 0, fmt.Errorf("invalid Alpaca device %q, want host:port/number", name)
	}
	number, err = strconv.Atoi(n)
	if err != nil || number < 0 {
		return "", 0, fmt.Errorf("invalid Alpaca device number in %q", name)
	}
	return addr, number, nil
}

// Device is an Alpaca device. It implements the members common to every
// device type; the typed wrappers add the class ones.
type Device struct {
	client *Client
	id     device.Identity
	number int
	policy policy.Policy

	mu   sync.RWMutex
	name string
}

// NewDevice wraps the device named id.Name ("host:port/number") in the type
// matching id.Type.
func NewDevice(id device.Identity, p policy.Policy, opts ...Option) (device.Device, error) {
	if id.Transport != device.TransportAlpaca {
		return nil, fmt.Errorf("not an Alpaca device: %s", id)
	}
	addr, number, err := ParseAddress(id.Name)
	if err != nil {
		return nil, err
	}

	d := &Device{
		client: NewClient(addr, opts...),
		id:     id,
		number: number,
		policy: p,
		name:   id.Name,
	}

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
	case device.TypeSafetyMonitor:
		return SafetyMonitor{d}, nil
	case device.TypeCoverCalibrator:
		return CoverCalibrator{d}, nil
	default:
		return d, nil
	}
}

func (d *Device) Identity() device.Identity {
	return d.id
}

// Name returns the driver reported name once connected, the address before.
func (d *Device) Name() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.name
}

func (d *Device) Description(ctx context.Context) (string, error) {
	return get[string](ctx, d, "description")
}

func (d *Device) Connect(ctx context.Context) error {
	if err := d.put(ctx, d.policy.Connection, "connected", url.Values{"Connected": {"true"}}); err != nil {
		return err
	}
	if name, err := get[string](ctx, d, "name"); err == nil && name != "" {
		d.mu.Lock()
		d.name = name
		d.mu.Unlock()
	}
	return nil
}

func (d *Device) Disconnect(ctx context.Context) error {
	return d.put(ctx, d.policy.Connection, "connected", url.Values{"Connected": {"false"}})
}

func (d *Device) Connected(ctx context.Context) (bool, error) {
	return get[bool](ctx, d, "connected")
}

// GetProperty reads any GET member, e.g. "Temperature".
func (d *Device) GetProperty(ctx context.Context, key string) (any, error) {
	return get[any](ctx, d, key)
}

// PutProperty writes any PUT member whose single parameter has the member's
// name, e.g. "Tracking".
func (d *Device) PutProperty(ctx context.Context, key string, value any) error {
	return d.put(ctx, d.policy.PropertyWrite, key, url.Values{key: {formValue(value)}})
}

func formValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

func get[T any](ctx context.Context, d *Device, member string) (T, error) {
	raw, err := d.client.Get(ctx, d.client.devicePath(d.id.Type, d.number, member), d.policy.PropertyRead)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", member, err)
	}
	return decodeValue[T](raw)
}

func (d *Device) put(ctx context.Context, timeout time.Duration, member string, form url.Values) error {
	_, err := d.client.Put(ctx, d.client.devicePath(d.id.Type, d.number, member), form, timeout)
	if err != nil {
		return fmt.Errorf("%s: %w", member, err)
	}
	return nil
}

// motion is the timeout of requests that may block until motion started.
func (d *Device) motion() time.Duration {
	return d.policy.Motion(d.id.Type)
}
