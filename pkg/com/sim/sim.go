// Package sim provides simulated ASCOM drivers behind the com.Dispatch
// interface, for hosts without COM and for tests.
package sim

import (
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"astrobridge/pkg/com"
	"astrobridge/pkg/device"

	log "github.com/sirupsen/logrus"
)

// ASCOM error numbers raised by the simulators.
const (
	codeNotImplemented   = 0x400
	codeInvalidValue     = 0x401
	codeNotConnected     = 0x407
	codeInvalidOperation = 0x40B
)

const (
	defaultMoveDuration = 2 * time.Second
	defaultHomePosition = 0
	defaultParkPosition = 90
)

// Options configure the simulated drivers.
type Options struct {
	// MoveDuration is how long every simulated motion takes.
	MoveDuration time.Duration
	Logger       log.FieldLogger
}

// Factory creates simulators for ProgIDs ending with an ASCOM device type,
// e.g. "ASCOM.Simulator.Focuser".
type Factory struct {
	opts       Options
	apartments atomic.Int32
}

var _ com.Factory = (*Factory)(nil)

// NewFactory returns a simulator factory.
func NewFactory(opts Options) *Factory {
	if opts.MoveDuration <= 0 {
		opts.MoveDuration = defaultMoveDuration
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "simulator")
	}
	return &Factory{opts: opts}
}

// Init simulates apartment setup.
func (f *Factory) Init() error {
	f.apartments.Add(1)
	return nil
}

// Uninit simulates apartment teardown.
func (f *Factory) Uninit() {
	f.apartments.Add(-1)
}

// Apartments returns the number of initialized, not yet torn down contexts.
func (f *Factory) Apartments() int {
	return int(f.apartments.Load())
}

// Create returns a simulator for the device type named by the last segment
// of the ProgID.
func (f *Factory) Create(progID string) (com.Dispatch, error) {
	segment := progID[strings.LastIndex(progID, ".")+1:]
	typ, err := device.ParseType(segment)
	if err != nil {
		return nil, fmt.Errorf("class not registered: %s", progID)
	}

	d := &Driver{
		typ:          typ,
		name:         fmt.Sprintf("%s Simulator", typ),
		logger:       f.opts.Logger.WithField("device", progID),
		moveDuration: f.opts.MoveDuration,
		homePosition: defaultHomePosition,
		parkPosition: defaultParkPosition,
		values:       initialValues(typ),
	}
	if d.values == nil {
		return nil, fmt.Errorf("class not registered: %s", progID)
	}
	return d, nil
}

func initialValues(typ device.Type) map[string]any {
	switch typ {
	case device.TypeFocuser:
		return map[string]any{"Position": int32(0), "MaxStep": int32(50000), "Absolute": true, "Temperature": 10.0}
	case device.TypeFilterWheel:
		return map[string]any{"Position": int16(0), "Names": []string{"L", "R", "G", "B", "Ha"}}
	case device.TypeRotator:
		return map[string]any{"Position": 0.0, "CanReverse": true}
	case device.TypeDome:
		return map[string]any{"Azimuth": 0.0, "AtHome": false, "AtPark": true, "ShutterStatus": int32(device.ShutterClosed), "Slaved": false}
	case device.TypeTelescope:
		return map[string]any{"RightAscension": 0.0, "Declination": 90.0, "Tracking": false}
	case device.TypeSafetyMonitor:
		return map[string]any{"IsSafe": true}
	case device.TypeCoverCalibrator:
		return map[string]any{"CoverState": int32(device.CoverClosed), "CalibratorState": int32(device.CalibratorOff), "Brightness": int32(0), "MaxBrightness": int32(255)}
	default:
		return nil
	}
}

type motion struct {
	members []string
	until   time.Time
	apply   func()
}

// Driver is a simulated ASCOM driver. Like a real apartment-threaded COM
// object it must never be entered by two goroutines at once; concurrent
// entry is reported as an error.
type Driver struct {
	typ          device.Type
	name         string
	logger       log.FieldLogger
	moveDuration time.Duration
	homePosition float64
	parkPosition float64

	inUse     atomic.Int32
	connected bool
	values    map[string]any
	motion    *motion
}

func (d *Driver) enter() (func(), error) {
	if d.inUse.Add(1) > 1 {
		d.inUse.Add(-1)
		return nil, &device.DeviceError{Code: codeInvalidOperation, Message: "object entered from two threads"}
	}
	return func() { d.inUse.Add(-1) }, nil
}

func (d *Driver) settle() {
	if d.motion != nil && !time.Now().Before(d.motion.until) {
		d.motion.apply()
		d.motion = nil
	}
}

func (d *Driver) moving(members ...string) bool {
	if d.motion == nil {
		return false
	}
	for _, m := range d.motion.members {
		for _, want := range members {
			if m == want {
				return true
			}
		}
	}
	return false
}

func (d *Driver) start(apply func(), members ...string) {
	d.motion = &motion{members: members, until: time.Now().Add(d.moveDuration), apply: apply}
}

func notImplemented(member string) error {
	return &device.DeviceError{Code: codeNotImplemented, Message: member + " is not implemented"}
}

func (d *Driver) Get(name string) (any, error) {
	release, err := d.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	d.settle()

	switch name {
	case "Connected":
		return d.connected, nil
	case "Name":
		return d.name, nil
	case "Description":
		return "Simulated " + strings.ToLower(d.typ.String()), nil
	case "DriverVersion":
		return "1.0", nil
	}

	if !d.connected {
		return nil, &device.DeviceError{Code: codeNotConnected, Message: "not connected"}
	}

	switch name {
	case "IsMoving", "Slewing":
		return d.moving("Position", "Azimuth", "RightAscension"), nil
	case "Position":
		if d.typ == device.TypeFilterWheel && d.moving("Position") {
			return int16(-1), nil
		}
	case "ShutterStatus":
		if d.moving("ShutterStatus") {
			if d.values["ShutterStatus"] == int32(device.ShutterOpen) {
				return int32(device.ShutterClosing), nil
			}
			return int32(device.ShutterOpening), nil
		}
	case "CoverState":
		if d.moving("CoverState") {
			return int32(device.CoverMoving), nil
		}
	}

	v, ok := d.values[name]
	if !ok {
		return nil, notImplemented(name)
	}
	return v, nil
}

func (d *Driver) Set(name string, value any) error {
	release, err := d.enter()
	if err != nil {
		return err
	}
	defer release()

	d.settle()

	if name == "Connected" {
		connected, ok := value.(bool)
		if !ok {
			return &device.DeviceError{Code: codeInvalidValue, Message: "Connected expects a boolean"}
		}
		d.connected = connected
		d.logger.Infof("%s connected: %v", d.name, connected)
		return nil
	}

	if !d.connected {
		return &device.DeviceError{Code: codeNotConnected, Message: "not connected"}
	}

	if d.typ == device.TypeFilterWheel && name == "Position" {
		slot, err := number(value)
		if err != nil {
			return err
		}
		names, _ := d.values["Names"].([]string)
		if slot < 0 || int(slot) >= len(names) {
			return &device.DeviceError{Code: codeInvalidValue, Message: fmt.Sprintf("invalid filter slot %v", slot)}
		}
		d.start(func() { d.values["Position"] = int16(slot) }, "Position")
		return nil
	}

	if _, ok := d.values[name]; !ok {
		return notImplemented(name)
	}
	d.values[name] = value
	return nil
}

func (d *Driver) Call(method string, args ...any) (any, error) {
	release, err := d.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	d.settle()

	if !d.connected {
		return nil, &device.DeviceError{Code: codeNotConnected, Message: "not connected"}
	}

	switch {
	case method == "Halt" || method == "AbortSlew" || method == "HaltCover":
		d.logger.Infof("%s: %s", d.name, method)
		d.motion = nil
		return nil, nil

	case d.typ == device.TypeFocuser && method == "Move":
		pos, err := arg(args, 0)
		if err != nil {
			return nil, err
		}
		d.start(func() { d.values["Position"] = int32(pos) }, "Position")

	case d.typ == device.TypeRotator && method == "MoveAbsolute":
		pos, err := arg(args, 0)
		if err != nil {
			return nil, err
		}
		d.start(func() { d.values["Position"] = pos }, "Position")

	case d.typ == device.TypeDome && method == "SlewToAzimuth":
		az, err := arg(args, 0)
		if err != nil {
			return nil, err
		}
		d.slewDome(az)

	case d.typ == device.TypeDome && method == "FindHome":
		d.slewDome(d.homePosition)

	case d.typ == device.TypeDome && method == "Park":
		d.slewDome(d.parkPosition)

	case d.typ == device.TypeDome && method == "SetPark":
		d.parkPosition, _ = number(d.values["Azimuth"])
		d.values["AtPark"] = true

	case d.typ == device.TypeDome && (method == "OpenShutter" || method == "CloseShutter"):
		target := int32(device.ShutterOpen)
		if method == "CloseShutter" {
			target = int32(device.ShutterClosed)
		}
		d.start(func() { d.values["ShutterStatus"] = target }, "ShutterStatus")

	case d.typ == device.TypeTelescope && method == "SlewToCoordinatesAsync":
		ra, err := arg(args, 0)
		if err != nil {
			return nil, err
		}
		dec, err := arg(args, 1)
		if err != nil {
			return nil, err
		}
		if ra < 0 || ra >= 24 || dec < -90 || dec > 90 {
			return nil, &device.DeviceError{Code: codeInvalidValue, Message: fmt.Sprintf("invalid coordinates %v/%v", ra, dec)}
		}
		d.start(func() {
			d.values["RightAscension"] = ra
			d.values["Declination"] = dec
		}, "RightAscension", "Declination")

	case d.typ == device.TypeTelescope && method == "MoveAxis":
		axis, err := arg(args, 0)
		if err != nil {
			return nil, err
		}
		rate, err := arg(args, 1)
		if err != nil {
			return nil, err
		}
		d.values["AxisRate"+strconv.Itoa(int(axis))] = rate

	case d.typ == device.TypeCoverCalibrator && (method == "OpenCover" || method == "CloseCover"):
		target := int32(device.CoverOpen)
		if method == "CloseCover" {
			target = int32(device.CoverClosed)
		}
		d.start(func() { d.values["CoverState"] = target }, "CoverState")

	default:
		return nil, notImplemented(method)
	}

	d.logger.Infof("%s: %s %v", d.name, method, args)
	return nil, nil
}

func (d *Driver) slewDome(azimuth float64) {
	d.start(func() {
		d.values["Azimuth"] = azimuth
		d.values["AtHome"] = azimuth == d.homePosition
		d.values["AtPark"] = azimuth == d.parkPosition
	}, "Azimuth")
}

func (d *Driver) Release() {
	d.logger.Debugf("%s released", d.name)
}

func arg(args []any, i int) (float64, error) {
	if i >= len(args) {
		return 0, &device.DeviceError{Code: codeInvalidValue, Message: fmt.Sprintf("missing argument %d", i)}
	}
	return number(args[i])
}

func number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, &device.DeviceError{Code: codeInvalidValue, Message: fmt.Sprintf("expected a number, got %T", v)}
	}
}
