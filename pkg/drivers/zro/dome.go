package zro

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"astrobridge/internal/pool"
	"astrobridge/pkg/device"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

type Direction int

const (
	DirCW Direction = iota
	DirCCW
)

type cmdCode uint8

// Dome commands
const (
	// Configuration commands
	cmdLoad    cmdCode = 'L' // Load dome configuration parameters
	cmdSetPark cmdCode = 'P' // Set park coordinates and policy

	// Shutter commands
	cmdConnectShutter    cmdCode = 'X' // Connect to the shutter
	cmdDisconnectShutter cmdCode = 'Z' // Disconnect from the shutter
	cmdOpenShutter       cmdCode = 'O' // Open shutter
	cmdCloseShutter      cmdCode = 'C' // Close shutter

	// Dome movement commands
	cmdAbort cmdCode = 'A' // Abort azimuth movement
	cmdHome  cmdCode = 'H' // Move to 'home' position
	cmdGoto  cmdCode = 'G' // Go to a specific azimuth position
	cmdPark  cmdCode = 'K' // Park the dome

	// Information commands
	cmdStatus  cmdCode = 'S' // Read the dome status
	cmdVersion cmdCode = 'V' // Read firmware version
	cmdBattery cmdCode = 'B' // Read shutter's battery voltage and current
)

// Status is the last state reported by the controller.
type Status struct {
	Position int       // Azimuth position in encoder ticks
	AtHome   bool      // True if the dome is at home position
	Slewing  bool      // True if the dome is slewing
	Dir      Direction // Direction of movement (CW or CCW)
	Target   int       // Target position in encoder ticks

	Shutter     device.ShutterStatus
	ShutterLink bool // True if the shutter is linked to the dome

	Temperature float32
	Humidity    float32

	BatteryVoltage float32
	BatteryCurrent float32

	Version string // Firmware version
	Updated time.Time
}

// telemetryMsg represents the telemetry message received periodically from the
// ZRO dome controller under the "telemetry" topic. Shutter carries the ASCOM
// shutter state code and is absent when no shutter is fitted.
type telemetryMsg struct {
	AzState     int     `json:"az_state"` // State of the azimuth state machine
	Position    int     `json:"pos"`
	Home        int     `json:"home"`
	Dir         int     `json:"dir"`
	Target      int     `json:"target"`
	Link        int     `json:"link"`
	Shutter     *int    `json:"shutter"`
	Temperature float32 `json:"temp"`
	Humidity    float32 `json:"hum"`
}

// batteryMsg represents the battery message received periodically from the
// ZRO dome controller under the "battery" topic.
type batteryMsg struct {
	Voltage float32 `json:"batt_voltage"`
	Current float32 `json:"batt_current"`
}

type Response struct {
	Code  cmdCode // The code of the command that was sent
	Value any     // The value of the response
	Error bool    // True if there was an error
}

// Dome talks to the ZRO dome controller over MQTT: commands are published
// under "<root>/commands" and acknowledged one at a time under
// "<root>/responses".
type Dome struct {
	client  mqtt.Client
	root    string
	timeout time.Duration
	logger  log.FieldLogger

	mu     sync.RWMutex // guards status and config
	status Status
	config Config

	cmdMu        sync.Mutex
	responseChan chan Response
}

// NewDome returns a controller using client. Each command waits at most
// timeout for its acknowledgement.
func NewDome(client mqtt.Client, config Config, timeout time.Duration, logger log.FieldLogger) *Dome {
	return &Dome{
		client:       client,
		root:         config.TopicRoot,
		config:       config,
		timeout:      timeout,
		responseChan: make(chan Response, 1),
		logger:       logger.WithField("component", "ZRO"),
		status:       Status{Shutter: device.ShutterUnknown},
	}
}

func degreesToTicks(degrees float64, ticksPerTurn int) int {
	return int(normalizeAngle(degrees) * float64(ticksPerTurn) / 360.0)
}

func ticksToDegrees(ticks int, ticksPerTurn int) float64 {
	return normalizeAngle(float64(ticks) * 360.0 / float64(ticksPerTurn))
}

// Config returns the configuration the controller runs with.
func (d *Dome) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

func (d *Dome) degreesToTicks(degrees float64) int {
	return degreesToTicks(degrees, d.Config().TicksPerTurn)
}

func (d *Dome) ticksToDegrees(ticks int) float64 {
	return ticksToDegrees(ticks, d.Config().TicksPerTurn)
}

func (d *Dome) topic(name string) string {
	return d.root + "/" + name
}

// Start subscribes to the controller topics, links the shutter and reads
// the initial status, firmware version and battery status.
func (d *Dome) Start(ctx context.Context) error {
	if !d.client.IsConnected() {
		return fmt.Errorf("%w: MQTT client", device.ErrNotConnected)
	}

	handlers := map[string]mqtt.MessageHandler{
		d.topic("telemetry"): d.telemetryHandler,
		d.topic("battery"):   d.batteryHandler,
		d.topic("responses"): d.responseHandler,
	}
	for topic, handler := range handlers {
		token := d.client.Subscribe(topic, 0, handler)
		if !token.WaitTimeout(d.timeout) {
			return fmt.Errorf("%w: subscribing to %s", device.ErrTimeout, topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: failed to subscribe to %s: %v", device.ErrConnection, topic, err)
		}
	}

	if d.Config().UseShutter {
		if err := d.sendCommand(ctx, string(cmdConnectShutter)); err != nil {
			return fmt.Errorf("failed to connect shutter: %w", err)
		}
	}

	for _, cmd := range []cmdCode{cmdStatus, cmdVersion, cmdBattery} {
		if err := d.sendCommand(ctx, string(cmd)); err != nil {
			return err
		}
	}
	return nil
}

// Stop unlinks the shutter and unsubscribes from the controller topics.
func (d *Dome) Stop(ctx context.Context) {
	if d.Config().UseShutter && d.client.IsConnected() {
		if err := d.sendCommand(ctx, string(cmdDisconnectShutter)); err != nil {
			d.logger.Warnf("Failed to disconnect shutter: %v", err)
		}
	}
	token := d.client.Unsubscribe(d.topic("telemetry"), d.topic("battery"), d.topic("responses"))
	token.WaitTimeout(d.timeout)
}

func (d *Dome) sendCommand(ctx context.Context, cmd string) error {
	if !d.client.IsConnected() {
		return ErrNotConnected
	}

	d.cmdMu.Lock()
	defer d.cmdMu.Unlock()

	// Drop a late acknowledgement of a command that already timed out.
	select {
	case resp := <-d.responseChan:
		d.logger.Debugf("Discarding stale response: %+v", resp)
	default:
	}

	// Create the message string
	msg := "_" + cmd + ";"
	d.logger.Debugf("Sending command: %s", msg)

	timer := pool.GetTimer(d.timeout)
	defer pool.PutTimer(timer)

	token := d.client.Publish(d.topic("commands"), 0, false, msg)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: failed to publish command: %v", device.ErrConnection, err)
		}
	case <-timer.C:
		return fmt.Errorf("%w: publishing %s", device.ErrTimeout, msg)
	case <-ctx.Done():
		return ctx.Err()
	}

	// Wait for the response
	select {
	case resp := <-d.responseChan:
		if resp.Code != cmdCode(cmd[0]) {
			return fmt.Errorf("%w: unexpected response command: %c", device.ErrProtocol, resp.Code)
		}
		if resp.Error {
			return device.Alert("command %s rejected by the dome controller", msg)
		}
		d.logger.Debugf("Response: %+v", resp)
		return nil

	case <-timer.C:
		return fmt.Errorf("%w: waiting for response to %s", device.ErrTimeout, msg)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// telemetryHandler processes the telemetry messages.
func (d *Dome) telemetryHandler(client mqtt.Client, msg mqtt.Message) {
	var telemetry telemetryMsg
	if err := json.Unmarshal(msg.Payload(), &telemetry); err != nil {
		d.logger.Errorf("Failed to unmarshal telemetry message: %v", err)
		return
	}

	d.logger.Debugf("Telemetry: %+v", telemetry)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.status.Position = telemetry.Position
	d.status.Dir = Direction(telemetry.Dir)
	d.status.Target = telemetry.Target
	d.status.AtHome = telemetry.Home == 1
	d.status.ShutterLink = telemetry.Link == 1

	// Determine if the dome is slewing
	d.status.Slewing = telemetry.AzState > 0 && telemetry.AzState < 5

	if telemetry.Shutter != nil {
		d.status.Shutter = device.ShutterStatusFromCode(*telemetry.Shutter)
	}

	d.status.Temperature = telemetry.Temperature
	d.status.Humidity = telemetry.Humidity
	d.status.Updated = time.Now()
}

// batteryHandler processes the battery messages.
func (d *Dome) batteryHandler(client mqtt.Client, msg mqtt.Message) {
	var battery batteryMsg
	if err := json.Unmarshal(msg.Payload(), &battery); err != nil {
		d.logger.Errorf("Failed to unmarshal battery message: %v", err)
		return
	}

	d.logger.Debugf("Battery: %+v", battery)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.BatteryVoltage = battery.Voltage
	d.status.BatteryCurrent = battery.Current
}

func (d *Dome) responseHandler(client mqtt.Client, msg mqtt.Message) {
	resp, err := parseResponse(string(msg.Payload()))
	if err != nil {
		d.logger.Errorf("Failed to parse response: %v", err)
		return
	}

	if resp.Code == cmdVersion && !resp.Error {
		if v, ok := resp.Value.(string); ok {
			d.mu.Lock()
			d.status.Version = strings.Trim(v, "()")
			d.mu.Unlock()
			d.logger.Infof("Dome controller firmware version: %s", strings.Trim(v, "()"))
		}
	}

	// Attempt to send the response to the channel with a timeout
	select {
	case d.responseChan <- resp:
	case <-time.After(1 * time.Second):
		d.logger.Warn("Timeout while sending response to the channel")
	}
}

// Responses have the format:
// "_ACK_<command>;"
// "_ACK_<command>=<value>;"
// "_NACK_<command>;"
func parseResponse(msg string) (Response, error) {
	var resp Response

	fields := strings.Split(msg, "_")
	if len(fields) != 3 {
		return resp, fmt.Errorf("bad number of fields: %s", msg)
	}
	if !strings.HasSuffix(fields[2], ";") {
		return resp, fmt.Errorf("invalid response suffix: %s", msg)
	}

	// Check if the response is an acknowledgment or not
	if fields[1] == "NACK" {
		resp.Error = true
	} else if fields[1] != "ACK" {
		return resp, fmt.Errorf("invalid response format: %s", msg)
	}

	// Extract the command and value
	cmd := strings.TrimSuffix(fields[2], ";")

	parts := strings.Split(cmd, "=")
	if len(parts[0]) == 0 {
		return resp, fmt.Errorf("invalid command format: %s", msg)
	}
	resp.Code = cmdCode(parts[0][0])

	if len(parts) == 2 {
		resp.Value = parts[1]
	} else if len(parts) != 1 {
		return resp, fmt.Errorf("invalid response value: %s", msg)
	}

	return resp, nil
}

// SetConfig sends the configuration to the ZRO dome controller.
// Each parameter is sent as a command with the format "_L<param>=<value>;"
// All values are integers. Example: "_LTICK=1000;"
func (d *Dome) SetConfig(ctx context.Context, config Config) error {
	cfgMap := map[string]int{
		"TICK": config.TicksPerTurn,
		"TOLE": config.Tolerance,
		"PKPO": degreesToTicks(config.ParkPosition, config.TicksPerTurn),
		"POSH": degreesToTicks(config.HomePosition, config.TicksPerTurn),
		"AZTO": config.AzimuthTimeout,
		"MXSP": config.MaxSpeed,
		"MNSP": config.MinSpeed,
		"BKSP": config.BrakeSpeed,
		"VLTO": config.VelTimeout,
		"SHDS": config.ShortDistance,
		"ENDV": boolToInt(config.ParkOnShutter),
	}

	for _, param := range slices.Sorted(maps.Keys(cfgMap)) {
		if err := d.sendCommand(ctx, fmt.Sprintf("%c%s=%d", cmdLoad, param, cfgMap[param])); err != nil {
			return fmt.Errorf("failed to send config parameter %s: %w", param, err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	mqttConfig := d.config.MQTTConfig
	d.config = config
	d.config.MQTTConfig = mqttConfig
	return nil
}

// GetStatus returns a copy of the last reported status.
func (d *Dome) GetStatus() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

func (d *Dome) SlewToAzimuth(ctx context.Context, az float64) error {
	ticks := d.degreesToTicks(az)
	if err := d.sendCommand(ctx, fmt.Sprintf("%c=%d", cmdGoto, ticks)); err != nil {
		return err
	}
	d.markSlewing(ticks)
	return nil
}

// markSlewing reports the dome moving until the next telemetry says
// otherwise, so that a wait started right after the command does not
// complete on stale telemetry.
func (d *Dome) markSlewing(target int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status.Slewing = true
	d.status.Target = target
}

func (d *Dome) AbortSlew(ctx context.Context) error {
	return d.sendCommand(ctx, string(cmdAbort))
}

func (d *Dome) FindHome(ctx context.Context) error {
	if err := d.sendCommand(ctx, string(cmdHome)); err != nil {
		return err
	}
	d.markSlewing(d.degreesToTicks(d.Config().HomePosition))
	return nil
}

func (d *Dome) Park(ctx context.Context) error {
	if err := d.sendCommand(ctx, string(cmdPark)); err != nil {
		return err
	}
	d.markSlewing(d.degreesToTicks(d.Config().ParkPosition))
	return nil
}

func (d *Dome) SetPark(ctx context.Context) error {
	return d.sendCommand(ctx, string(cmdSetPark))
}

// OpenShutter and CloseShutter report the shutter moving until telemetry
// says otherwise.
func (d *Dome) OpenShutter(ctx context.Context) error {
	return d.shutter(ctx, cmdOpenShutter, device.ShutterOpening)
}

func (d *Dome) CloseShutter(ctx context.Context) error {
	return d.shutter(ctx, cmdCloseShutter, device.ShutterClosing)
}

func (d *Dome) shutter(ctx context.Context, cmd cmdCode, moving device.ShutterStatus) error {
	if err := d.sendCommand(ctx, string(cmd)); err != nil {
		return err
	}
	d.mu.Lock()
	d.status.Shutter = moving
	d.mu.Unlock()
	return nil
}
