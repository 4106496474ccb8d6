package policy

import (
	"fmt"
	"strconv"
	"time"
)

// Field is one named policy value in text form.
type Field struct {
	Name  string
	Value string
}

func (p *Policy) durations() []struct {
	name string
	ptr  *time.Duration
} {
	return []struct {
		name string
		ptr  *time.Duration
	}{
		{"connection", &p.Connection},
		{"message_completion", &p.MessageCompletion},
		{"binary_transfer", &p.BinaryTransfer},
		{"property_read", &p.PropertyRead},
		{"property_write", &p.PropertyWrite},
		{"mount_slew", &p.MountSlew},
		{"focuser_move", &p.FocuserMove},
		{"filter_change", &p.FilterChange},
		{"dome_slew", &p.DomeSlew},
		{"rotator_move", &p.RotatorMove},
		{"cover_move", &p.CoverMove},
		{"poll_interval", &p.PollInterval},
		{"keepalive", &p.Keepalive},
		{"reconnect_base", &p.ReconnectBase},
		{"reconnect_max", &p.ReconnectMax},
	}
}

// Fields lists every value in declaration order.
func (p Policy) Fields() []Field {
	var fields []Field
	for _, d := range p.durations() {
		fields = append(fields, Field{Name: d.name, Value: d.ptr.String()})
	}
	return append(fields, Field{Name: "max_reconnect_attempts", Value: strconv.Itoa(p.MaxReconnectAttempts)})
}

// SetField parses value into the field called name, e.g. ("dome_slew", "5m").
// The result is not validated.
func (p *Policy) SetField(name, value string) error {
	if name == "max_reconnect_attempts" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %v", name, err)
		}
		p.MaxReconnectAttempts = n
		return nil
	}

	for _, d := range p.durations() {
		if d.name == name {
			v, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid %s: %v", name, err)
			}
			*d.ptr = v
			return nil
		}
	}
	return fmt.Errorf("unknown policy field %q", name)
}
