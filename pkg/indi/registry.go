package indi

import (
	"slices"
	"strings"
	"sync"
)

// Registry caches the property vectors announced by the server. Readers
// always receive copies.
type Registry struct {
	mu    sync.RWMutex
	props map[Key]*Property
}

func NewRegistry() *Registry {
	return &Registry{props: make(map[Key]*Property)}
}

// Define inserts or replaces a property definition. It reports whether the
// device was unknown until now.
func (r *Registry) Define(p Property) (newDevice bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	newDevice = !r.hasDevice(p.Device)
	c := p.Clone()
	r.props[p.Key()] = &c
	return newDevice
}

func (r *Registry) hasDevice(name string) bool {
	for k := range r.props {
		if k.Device == name {
			return true
		}
	}
	return false
}

// Update applies a set message in place: the state when present, the
// timestamp, the timeout and the values of the elements it carries. It
// returns false for properties that were never defined.
func (r *Registry) Update(p Property, hasState bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.props[p.Key()]
	if !ok {
		return false
	}
	if hasState {
		cur.State = p.State
	}
	if !p.Timestamp.IsZero() {
		cur.Timestamp = p.Timestamp
	}
	if p.Timeout > 0 {
		cur.Timeout = p.Timeout
	}
	if p.Message != "" {
		cur.Message = p.Message
	}

	for _, e := range p.Elements {
		i := slices.IndexFunc(cur.Elements, func(c Element) bool { return c.Name == e.Name })
		if i < 0 {
			continue
		}
		dst := &cur.Elements[i]
		switch cur.Type {
		case TypeText:
			dst.Text = e.Text
		case TypeNumber:
			dst.Number = e.Number
			if e.Format != "" {
				dst.Format = e.Format
			}
		case TypeSwitch:
			dst.Switch = e.Switch
		case TypeLight:
			dst.Light = e.Light
		case TypeBLOB:
			dst.BLOB = slices.Clone(e.BLOB)
			dst.Format = e.Format
			dst.Size = e.Size
		}
	}
	return true
}

// Delete removes one property, or every property of the device when name is
// empty. It returns the number of properties removed.
func (r *Registry) Delete(device, name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name != "" {
		k := Key{Device: device, Name: name}
		if _, ok := r.props[k]; !ok {
			return 0
		}
		delete(r.props, k)
		return 1
	}

	n := 0
	for k := range r.props {
		if k.Device == device {
			delete(r.props, k)
			n++
		}
	}
	return n
}

// Get returns a copy of the property.
func (r *Registry) Get(k Key) (Property, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.props[k]
	if !ok {
		return Property{}, false
	}
	return p.Clone(), true
}

// SetState overrides the cached state and returns the previous one.
func (r *Registry) SetState(k Key, s State) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.props[k]
	if !ok {
		return StateIdle, false
	}
	prev := p.State
	p.State = s
	return prev, true
}

// List returns copies of the properties of device, or of all devices when
// device is empty, sorted by device then name.
func (r *Registry) List(device string) []Property {
	r.mu.RLock()
	out := make([]Property, 0, len(r.props))
	for k, p := range r.props {
		if device == "" || k.Device == device {
			out = append(out, p.Clone())
		}
	}
	r.mu.RUnlock()

	slices.SortFunc(out, func(a, b Property) int {
		if c := strings.Compare(a.Device, b.Device); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Devices returns the sorted names of the known devices.
func (r *Registry) Devices() []string {
	r.mu.RLock()
	seen := make(map[string]struct{})
	for k := range r.props {
		seen[k.Device] = struct{}{}
	}
	r.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Any returns the key of some known property.
func (r *Registry) Any() (Key, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for k := range r.props {
		return k, true
	}
	return Key{}, false
}

// Len returns the number of cached properties.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.props)
}
