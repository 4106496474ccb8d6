package indi

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// PropertyType is the kind of values a vector carries.
type PropertyType int

const (
	TypeText PropertyType = iota
	TypeNumber
	TypeSwitch
	TypeLight
	TypeBLOB
)

func (t PropertyType) String() string {
	switch t {
	case TypeText:
		return "Text"
	case TypeNumber:
		return "Number"
	case TypeSwitch:
		return "Switch"
	case TypeLight:
		return "Light"
	case TypeBLOB:
		return "BLOB"
	default:
		return "Unknown"
	}
}

func parsePropertyType(s string) (PropertyType, error) {
	for _, t := range []PropertyType{TypeText, TypeNumber, TypeSwitch, TypeLight, TypeBLOB} {
		if s == t.String() {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown property type %q", s)
}

// State is the state of a property, also used for the value of lights.
type State int

const (
	StateIdle State = iota
	StateOk
	StateBusy
	StateAlert
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateOk:
		return "Ok"
	case StateBusy:
		return "Busy"
	case StateAlert:
		return "Alert"
	default:
		return "Unknown"
	}
}

// ParseState parses the protocol representation of a state.
func ParseState(s string) (State, error) {
	switch strings.TrimSpace(s) {
	case "Idle":
		return StateIdle, nil
	case "Ok":
		return StateOk, nil
	case "Busy":
		return StateBusy, nil
	case "Alert":
		return StateAlert, nil
	default:
		return StateIdle, fmt.Errorf("unknown state %q", s)
	}
}

// Perm is the client permission on a property.
type Perm int

const (
	PermRO Perm = iota
	PermWO
	PermRW
)

func (p Perm) String() string {
	switch p {
	case PermRO:
		return "ro"
	case PermWO:
		return "wo"
	default:
		return "rw"
	}
}

func parsePerm(s string) (Perm, error) {
	switch s {
	case "ro":
		return PermRO, nil
	case "wo":
		return PermWO, nil
	case "rw":
		return PermRW, nil
	default:
		return PermRW, fmt.Errorf("unknown permission %q", s)
	}
}

// SwitchRule constrains how many switches of a vector may be On.
type SwitchRule int

const (
	RuleOneOfMany SwitchRule = iota
	RuleAtMostOne
	RuleAnyOfMany
)

func (r SwitchRule) String() string {
	switch r {
	case RuleOneOfMany:
		return "OneOfMany"
	case RuleAtMostOne:
		return "AtMostOne"
	default:
		return "AnyOfMany"
	}
}

func parseRule(s string) (SwitchRule, error) {
	switch s {
	case "OneOfMany":
		return RuleOneOfMany, nil
	case "AtMostOne":
		return RuleAtMostOne, nil
	case "AnyOfMany":
		return RuleAnyOfMany, nil
	default:
		return RuleAnyOfMany, fmt.Errorf("unknown switch rule %q", s)
	}
}

// Element is one member of a property vector. Which value field is
// meaningful depends on the vector type.
type Element struct {
	Name  string
	Label string

	Text   string
	Number float64
	Switch bool
	Light  State
	BLOB   []byte

	// Format is the printf style format of numbers or the file suffix of a
	// BLOB, e.g. ".fits".
	Format string
	Min    float64
	Max    float64
	Step   float64
	// Size is the decoded BLOB size announced by the server.
	Size int
}

// Key identifies a property.
type Key struct {
	Device string
	Name   string
}

func (k Key) String() string {
	return k.Device + "." + k.Name
}

// Property is a cached property vector.
type Property struct {
	Device    string
	Name      string
	Label     string
	Group     string
	Type      PropertyType
	State     State
	Perm      Perm
	Rule      SwitchRule
	Timeout   time.Duration
	Timestamp time.Time
	Message   string
	Elements  []Element
}

func (p Property) Key() Key {
	return Key{Device: p.Device, Name: p.Name}
}

// Clone returns a deep copy of p.
func (p Property) Clone() Property {
	c := p
	c.Elements = make([]Element, len(p.Elements))
	for i, e := range p.Elements {
		if e.BLOB != nil {
			e.BLOB = slices.Clone(e.BLOB)
		}
		c.Elements[i] = e
	}
	return c
}

// Element returns the named element.
func (p Property) Element(name string) (Element, bool) {
	for _, e := range p.Elements {
		if e.Name == name {
			return e, true
		}
	}
	return Element{}, false
}

// Value returns the value of the named element as the Go type matching the
// vector type: string, float64, bool, State or []byte.
func (p Property) Value(element string) (any, bool) {
	e, ok := p.Element(element)
	if !ok {
		return nil, false
	}
	switch p.Type {
	case TypeText:
		return e.Text, true
	case TypeNumber:
		return e.Number, true
	case TypeSwitch:
		return e.Switch, true
	case TypeLight:
		return e.Light, true
	default:
		return e.BLOB, true
	}
}

// OnSwitch returns the name of the first switch that is On.
func (p Property) OnSwitch() (string, bool) {
	for _, e := range p.Elements {
		if e.Switch {
			return e.Name, true
		}
	}
	return "", false
}
