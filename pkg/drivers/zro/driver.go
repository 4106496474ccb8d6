// Package zro drives the ZRO dome controller over MQTT.
package zro

import (
	"context"
	"fmt"
	"sync"

	"astrobridge/pkg/device"
	"astrobridge/pkg/policy"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const (
	deviceName = "ZRO Dome"
	driverName = "ZRO Dome Driver"
)

var ErrNotConnected = fmt.Errorf("%w: ZRO dome", device.ErrNotConnected)

type connState int

const (
	connStateDisconnected connState = iota
	connStateConnecting
	connStateConnected
)

// ClientFactory builds the MQTT client of a connection.
type ClientFactory func(cfg MQTTConfig) mqtt.Client

func newMQTTClient(cfg MQTTConfig) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.SetClientID("astrobridge-zro")
	opts.AddBroker(cfg.Host)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)

	return mqtt.NewClient(opts)
}

// Option configures a Driver.
type Option func(*Driver)

// WithClientFactory replaces the paho client constructor.
func WithClientFactory(f ClientFactory) Option {
	return func(d *Driver) { d.newClient = f }
}

// Driver is the ZRO dome seen as a device: its position is the azimuth in
// degrees.
type Driver struct {
	id        device.Identity
	store     *Store
	policy    policy.Policy
	newClient ClientFactory
	logger    log.FieldLogger

	mu     sync.Mutex
	state  connState
	client mqtt.Client // created when the driver is connected
	dome   *Dome
}

// NewDriver returns a disconnected driver reading its configuration from
// store on every Connect.
func NewDriver(id device.Identity, store *Store, p policy.Policy, logger log.FieldLogger, opts ...Option) (*Driver, error) {
	if id.Transport != device.TransportMQTT || id.Type != device.TypeDome {
		return nil, fmt.Errorf("not an MQTT dome: %s", id)
	}

	d := &Driver{
		id:        id,
		store:     store,
		policy:    p,
		newClient: newMQTTClient,
		logger:    logger,
		state:     connStateDisconnected,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (d *Driver) Identity() device.Identity { return d.id }

func (d *Driver) Name() string { return deviceName }

func (d *Driver) Description(ctx context.Context) (string, error) {
	d.mu.Lock()
	dome := d.dome
	d.mu.Unlock()

	if dome == nil {
		return driverName, nil
	}
	if v := dome.GetStatus().Version; v != "" {
		return fmt.Sprintf("%s (firmware %s)", driverName, v), nil
	}
	return driverName, nil
}

// Connect connects to the broker and links the dome controller. It is a no-op
// on a connected driver.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case connStateConnected:
		return nil
	case connStateConnecting:
		return fmt.Errorf("driver is already connecting")
	}

	config, err := d.store.GetConfig()
	if err != nil {
		return fmt.Errorf("failed to get dome config: %v", err)
	}

	d.state = connStateConnecting
	client := d.newClient(config.MQTTConfig)

	token := client.Connect()
	if !token.WaitTimeout(d.policy.Connection) {
		d.state = connStateDisconnected
		return fmt.Errorf("%w: connecting to MQTT broker %s", device.ErrTimeout, config.Host)
	}
	if err := token.Error(); err != nil {
		d.state = connStateDisconnected
		return fmt.Errorf("%w: failed to connect to MQTT broker: %v", device.ErrConnection, err)
	}

	dome := NewDome(client, config, d.policy.PropertyWrite, d.logger)
	if err := dome.Start(ctx); err != nil {
		client.Disconnect(100)
		d.state = connStateDisconnected
		return fmt.Errorf("failed to start ZRO dome controller: %w", err)
	}

	d.client = client
	d.dome = dome
	d.state = connStateConnected
	d.logger.Info("Connected to MQTT broker")
	return nil
}

func (d *Driver) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != connStateConnected {
		return nil
	}

	d.dome.Stop(ctx)
	d.client.Disconnect(100)
	d.client = nil
	d.dome = nil
	d.state = connStateDisconnected
	d.logger.Info("Disconnected from MQTT broker")
	return nil
}

func (d *Driver) Connected(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == connStateConnected && d.client.IsConnected(), nil
}

// Close disconnects the driver.
func (d *Driver) Close() {
	d.logger.Info("Closing ZRO driver")
	if err := d.Disconnect(context.Background()); err != nil {
		d.logger.Errorf("failed to disconnect: %v", err)
	}
}

// controller returns the dome controller of a connected driver.
func (d *Driver) controller() (*Dome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != connStateConnected {
		return nil, ErrNotConnected
	}
	return d.dome, nil
}

// Status returns the last status reported by the controller.
func (d *Driver) Status() (Status, error) {
	dome, err := d.controller()
	if err != nil {
		return Status{}, err
	}
	return dome.GetStatus(), nil
}

func (d *Driver) Position(ctx context.Context) (float64, error) {
	dome, err := d.controller()
	if err != nil {
		return 0, err
	}
	return dome.ticksToDegrees(dome.GetStatus().Position), nil
}

func (d *Driver) IsMoving(ctx context.Context) (bool, error) {
	st, err := d.Status()
	if err != nil {
		return false, err
	}
	return st.Slewing, nil
}

func (d *Driver) MoveTo(ctx context.Context, azimuth float64) error {
	dome, err := d.controller()
	if err != nil {
		return err
	}
	return dome.SlewToAzimuth(ctx, azimuth)
}

func (d *Driver) Halt(ctx context.Context) error {
	dome, err := d.controller()
	if err != nil {
		return err
	}
	return dome.AbortSlew(ctx)
}

func (d *Driver) FindHome(ctx context.Context) error {
	dome, err := d.controller()
	if err != nil {
		return err
	}
	return dome.FindHome(ctx)
}

func (d *Driver) Park(ctx context.Context) error {
	dome, err := d.controller()
	if err != nil {
		return err
	}
	return dome.Park(ctx)
}

// SetPark makes the current position the park position, on the controller
// and in the stored configuration.
func (d *Driver) SetPark(ctx context.Context) error {
	dome, err := d.controller()
	if err != nil {
		return err
	}
	if err := dome.SetPark(ctx); err != nil {
		return err
	}

	cfg, err := d.store.GetConfig()
	if err != nil {
		return err
	}
	cfg.ParkPosition = dome.ticksToDegrees(dome.GetStatus().Position)
	return d.store.SetConfig(cfg)
}

// Configure stores cfg and, when connected, loads it into the controller.
func (d *Driver) Configure(ctx context.Context, cfg Config) error {
	if err := d.store.SetConfig(cfg); err != nil {
		return err
	}
	dome, err := d.controller()
	if err != nil {
		// Used from the next Connect.
		return nil
	}
	return dome.SetConfig(ctx, cfg)
}

func (d *Driver) shutterController() (*Dome, error) {
	dome, err := d.controller()
	if err != nil {
		return nil, err
	}
	if !dome.Config().UseShutter {
		return nil, fmt.Errorf("%w: no shutter configured", device.ErrNotSupported)
	}
	return dome, nil
}

func (d *Driver) ShutterStatus(ctx context.Context) (device.ShutterStatus, error) {
	dome, err := d.shutterController()
	if err != nil {
		return device.ShutterUnknown, err
	}
	return dome.GetStatus().Shutter, nil
}

func (d *Driver) OpenShutter(ctx context.Context) error {
	dome, err := d.shutterController()
	if err != nil {
		return err
	}
	return dome.OpenShutter(ctx)
}

func (d *Driver) CloseShutter(ctx context.Context) error {
	dome, err := d.shutterController()
	if err != nil {
		return err
	}
	return dome.CloseShutter(ctx)
}

// GetProperty reads a telemetry field by name, e.g. "Temperature".
func (d *Driver) GetProperty(ctx context.Context, key string) (any, error) {
	dome, err := d.controller()
	if err != nil {
		return nil, err
	}
	st := dome.GetStatus()

	switch key {
	case "AtHome":
		return st.AtHome, nil
	case "Target":
		return dome.ticksToDegrees(st.Target), nil
	case "ShutterLink":
		return st.ShutterLink, nil
	case "Temperature":
		return float64(st.Temperature), nil
	case "Humidity":
		return float64(st.Humidity), nil
	case "BatteryVoltage":
		return float64(st.BatteryVoltage), nil
	case "BatteryCurrent":
		return float64(st.BatteryCurrent), nil
	case "Version":
		return st.Version, nil
	default:
		return nil, fmt.Errorf("%w: property %q", device.ErrNotFound, key)
	}
}

var (
	_ device.NamedDevice      = (*Driver)(nil)
	_ device.Connectable      = (*Driver)(nil)
	_ device.PositionDevice   = (*Driver)(nil)
	_ device.Shutter          = (*Driver)(nil)
	_ device.PropertyReadable = (*Driver)(nil)
)
