package indi

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"astrobridge/pkg/device"
)

// ProtocolVersion is the protocol version announced in getProperties.
const ProtocolVersion = "1.7"

const timestampLayout = "2006-01-02T15:04:05"

// node is any protocol element, decoded generically.
type node struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Content  string     `xml:",chardata"`
	Children []node     `xml:",any"`
}

func (n node) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

type messageKind int

const (
	kindIgnored messageKind = iota
	kindDefine
	kindSet
	kindDelete
	kindMessage
)

type message struct {
	kind     messageKind
	tag      string
	property Property
	// hasState is false for updates that leave the state unchanged.
	hasState bool
	device   string
	text     string
}

// decode parses one complete top level element.
func decode(raw []byte) (message, error) {
	var n node
	if err := xml.Unmarshal(raw, &n); err != nil {
		return message{}, fmt.Errorf("%w: %v", device.ErrProtocol, err)
	}

	tag := n.XMLName.Local
	msg := message{tag: tag, device: n.attr("device"), text: n.attr("message")}

	switch {
	case tag == "delProperty":
		msg.kind = kindDelete
		msg.property = Property{Device: msg.device, Name: n.attr("name")}
		if msg.device == "" {
			return msg, fmt.Errorf("%w: delProperty without device", device.ErrProtocol)
		}
	case tag == "message":
		msg.kind = kindMessage
	case strings.HasPrefix(tag, "def") && strings.HasSuffix(tag, "Vector"):
		msg.kind = kindDefine
		p, hasState, err := decodeVector(n, "def")
		msg.property, msg.hasState = p, hasState
		if err != nil {
			return msg, err
		}
	case strings.HasPrefix(tag, "set") && strings.HasSuffix(tag, "Vector"):
		msg.kind = kindSet
		p, hasState, err := decodeVector(n, "set")
		msg.property, msg.hasState = p, hasState
		if err != nil {
			return msg, err
		}
	default:
		msg.kind = kindIgnored
	}
	return msg, nil
}

func decodeVector(n node, prefix string) (Property, bool, error) {
	tag := n.XMLName.Local
	typ, err := parsePropertyType(strings.TrimSuffix(strings.TrimPrefix(tag, prefix), "Vector"))
	if err != nil {
		return Property{}, false, fmt.Errorf("%w: %s: %v", device.ErrProtocol, tag, err)
	}

	p := Property{
		Device:  n.attr("device"),
		Name:    n.attr("name"),
		Label:   n.attr("label"),
		Group:   n.attr("group"),
		Type:    typ,
		Perm:    PermRW,
		Message: n.attr("message"),
	}
	if p.Device == "" || p.Name == "" {
		return p, false, fmt.Errorf("%w: %s without device or name", device.ErrProtocol, tag)
	}
	if typ == TypeLight {
		p.Perm = PermRO
	}

	hasState := false
	if s := n.attr("state"); s != "" {
		if p.State, err = ParseState(s); err != nil {
			return p, false, fmt.Errorf("%w: %s: %v", device.ErrProtocol, p.Key(), err)
		}
		hasState = true
	}
	if s := n.attr("perm"); s != "" {
		if p.Perm, err = parsePerm(s); err != nil {
			return p, false, fmt.Errorf("%w: %s: %v", device.ErrProtocol, p.Key(), err)
		}
	}
	if s := n.attr("rule"); s != "" {
		if p.Rule, err = parseRule(s); err != nil {
			return p, false, fmt.Errorf("%w: %s: %v", device.ErrProtocol, p.Key(), err)
		}
	}
	if s := n.attr("timeout"); s != "" {
		if seconds, err := strconv.ParseFloat(s, 64); err == nil && seconds > 0 {
			p.Timeout = time.Duration(seconds * float64(time.Second))
		}
	}
	p.Timestamp = parseTimestamp(n.attr("timestamp"))

	elementTag := "one" + typ.String()
	if prefix == "def" {
		elementTag = "def" + typ.String()
	}
	for _, c := range n.Children {
		if c.XMLName.Local != elementTag {
			continue
		}
		e, err := decodeElement(typ, c)
		if err != nil {
			return p, false, fmt.Errorf("%w: %s: %v", device.ErrProtocol, p.Key(), err)
		}
		p.Elements = append(p.Elements, e)
	}
	return p, hasState, nil
}

func decodeElement(typ PropertyType, n node) (Element, error) {
	e := Element{Name: n.attr("name"), Label: n.attr("label")}
	if e.Name == "" {
		return e, fmt.Errorf("element without name")
	}
	value := strings.TrimSpace(n.Content)

	switch typ {
	case TypeText:
		e.Text = value
	case TypeNumber:
		e.Format = n.attr("format")
		for attr, dst := range map[string]*float64{"min": &e.Min, "max": &e.Max, "step": &e.Step} {
			if s := n.attr(attr); s != "" {
				v, err := ParseNumber(s)
				if err != nil {
					return e, fmt.Errorf("%s %s: %w", e.Name, attr, err)
				}
				*dst = v
			}
		}
		v, err := ParseNumber(value)
		if err != nil {
			return e, fmt.Errorf("%s: %w", e.Name, err)
		}
		e.Number = v
	case TypeSwitch:
		e.Switch = value == "On"
	case TypeLight:
		s, err := ParseState(value)
		if err != nil {
			return e, fmt.Errorf("%s: %w", e.Name, err)
		}
		e.Light = s
	case TypeBLOB:
		e.Format = n.attr("format")
		if s := n.attr("size"); s != "" {
			size, err := strconv.Atoi(s)
			if err != nil {
				return e, fmt.Errorf("%s size: %w", e.Name, err)
			}
			e.Size = size
		}
		// Still base64 encoded; see decodeBLOB.
		e.Text = value
	}
	return e, nil
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(timestampLayout+".999999999", strings.TrimSuffix(s, "Z"), time.UTC)
	if err != nil {
		return time.Time{}
	}
	return t
}

type oneElement struct {
	XMLName xml.Name
	Name    string `xml:"name,attr"`
	Value   string `xml:",chardata"`
}

type newVector struct {
	XMLName   xml.Name
	Device    string `xml:"device,attr"`
	Name      string `xml:"name,attr"`
	Timestamp string `xml:"timestamp,attr,omitempty"`
	Elements  []oneElement
}

// encodeNew builds the new*Vector carrying values, keyed by element name.
// Elements are sent in definition order.
func encodeNew(p Property, values map[string]any, now time.Time) ([]byte, error) {
	if p.Type == TypeLight || p.Type == TypeBLOB {
		return nil, fmt.Errorf("%w: writing %s vectors", device.ErrNotSupported, p.Type)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no values for %s", p.Key())
	}

	v := newVector{
		XMLName:   xml.Name{Local: "new" + p.Type.String() + "Vector"},
		Device:    p.Device,
		Name:      p.Name,
		Timestamp: now.UTC().Format(timestampLayout),
	}

	matched := 0
	for _, e := range p.Elements {
		value, ok := values[e.Name]
		if !ok {
			continue
		}
		s, err := formatValue(p.Type, value)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", p.Key(), e.Name, err)
		}
		v.Elements = append(v.Elements, oneElement{
			XMLName: xml.Name{Local: "one" + p.Type.String()},
			Name:    e.Name,
			Value:   s,
		})
		matched++
	}
	if matched != len(values) {
		for name := range values {
			if _, ok := p.Element(name); !ok {
				return nil, fmt.Errorf("%w: element %s.%s", ErrPropertyNotFound, p.Key(), name)
			}
		}
	}

	return xml.Marshal(v)
}

func formatValue(typ PropertyType, value any) (string, error) {
	switch typ {
	case TypeNumber:
		switch n := value.(type) {
		case float64:
			return formatNumber(n), nil
		case float32:
			return formatNumber(float64(n)), nil
		case int:
			return strconv.Itoa(n), nil
		case int32:
			return strconv.FormatInt(int64(n), 10), nil
		case int64:
			return strconv.FormatInt(n, 10), nil
		case string:
			f, err := ParseNumber(n)
			if err != nil {
				return "", err
			}
			return formatNumber(f), nil
		}
	case TypeSwitch:
		switch b := value.(type) {
		case bool:
			if b {
				return "On", nil
			}
			return "Off", nil
		case string:
			if b == "On" || b == "Off" {
				return b, nil
			}
		}
	case TypeText:
		if s, ok := value.(string); ok {
			return s, nil
		}
		return fmt.Sprint(value), nil
	}
	return "", fmt.Errorf("invalid %s value %v (%T)", typ, value, value)
}

type getPropertiesMsg struct {
	XMLName xml.Name `xml:"getProperties"`
	Version string   `xml:"version,attr"`
	Device  string   `xml:"device,attr,omitempty"`
	Name    string   `xml:"name,attr,omitempty"`
}

func encodeGetProperties(device, name string) []byte {
	data, _ := xml.Marshal(getPropertiesMsg{Version: ProtocolVersion, Device: device, Name: name})
	return data
}

// BLOB handling modes of enableBLOB.
const (
	BlobNever = "Never"
	BlobAlso  = "Also"
	BlobOnly  = "Only"
)

type enableBLOBMsg struct {
	XMLName xml.Name `xml:"enableBLOB"`
	Device  string   `xml:"device,attr"`
	Name    string   `xml:"name,attr,omitempty"`
	Mode    string   `xml:",chardata"`
}

func encodeEnableBLOB(device, name, mode string) []byte {
	data, _ := xml.Marshal(enableBLOBMsg{Device: device, Name: name, Mode: mode})
	return data
}
