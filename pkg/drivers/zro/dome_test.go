package zro

import (
	"context"
	"testing"
	"time"

	"astrobridge/pkg/device"
	"astrobridge/pkg/operation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    Response
		expectError bool
	}{
		{
			name:  "Valid ACK without value",
			input: "_ACK_S;",
			expected: Response{
				Code:  cmdStatus,
				Error: false,
			},
		},
		{
			name:  "Valid ACK with value",
			input: "_ACK_V=(1.2.3);",
			expected: Response{
				Code:  cmdVersion,
				Value: "(1.2.3)",
				Error: false,
			},
		},
		{
			name:  "Valid NACK without value",
			input: "_NACK_V;",
			expected: Response{
				Code:  cmdVersion,
				Error: true,
			},
		},
		{
			name:  "Configuration parameter",
			input: "_ACK_LTICK=1000;",
			expected: Response{
				Code:  cmdLoad,
				Value: "1000",
			},
		},
		{
			name:        "Too few underscores",
			input:       "ACK_C;",
			expectError: true,
		},
		{
			name:        "Invalid ack indicator",
			input:       "_NOTACK_V;",
			expectError: true,
		},
		{
			name:        "Invalid extra equals",
			input:       "_ACK_P=123=456;",
			expectError: true,
		},
		{
			name:        "No semicolon",
			input:       "_ACK_P=123",
			expectError: true,
		},
		{
			name:        "Empty command",
			input:       "_ACK_;",
			expectError: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := parseResponse(tc.input)
			if tc.expectError {
				assert.Error(t, err, "expected error for input: %s", tc.input)
			} else {
				assert.NoError(t, err, "unexpected error for input: %s", tc.input)
				assert.Equal(t, tc.expected.Code, resp.Code)
				assert.Equal(t, tc.expected.Value, resp.Value)
				assert.Equal(t, tc.expected.Error, resp.Error)
			}
		})
	}
}

func TestNormalizeAngle(t *testing.T) {
	assert.Equal(t, 0.0, normalizeAngle(0.0))
	assert.Equal(t, 45.0, normalizeAngle(45.0))
	assert.Equal(t, 0.0, normalizeAngle(360.0))
	assert.Equal(t, 0.0, normalizeAngle(-360.0))
	assert.Equal(t, 10.0, normalizeAngle(370.0))
	assert.Equal(t, 330.0, normalizeAngle(-30.0))
	assert.Equal(t, 320.0, normalizeAngle(-400.0))
	assert.Equal(t, 85.0, normalizeAngle(3685.0))
	assert.Equal(t, 30.0, normalizeAngle(-3570.0))
}

func TestTicksConversion(t *testing.T) {
	assert.Equal(t, 2500, degreesToTicks(90, 10000))
	assert.Equal(t, 7500, degreesToTicks(-90, 10000))
	assert.Equal(t, 0, degreesToTicks(360, 10000))
	assert.Equal(t, 90.0, ticksToDegrees(2500, 10000))
	assert.Equal(t, 0.0, ticksToDegrees(10000, 10000))
}

func connect(t *testing.T) (*Driver, *fakeController) {
	t.Helper()
	d, fake := newTestDriver(t, newTestStore(t))
	require.NoError(t, d.Connect(context.Background()))
	return d, fake
}

func TestConnect(t *testing.T) {
	d, fake := connect(t)

	assert.Equal(t, []string{"_X;", "_S;", "_V;", "_B;"}, fake.sent())
	assert.Equal(t, 3, fake.subscribed())

	connected, err := d.Connected(context.Background())
	require.NoError(t, err)
	assert.True(t, connected)

	desc, err := d.Description(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ZRO Dome Driver (firmware 1.2.3)", desc)

	require.NoError(t, d.Connect(context.Background()))
	assert.Len(t, fake.sent(), 4)
}

func TestConnectBrokerDown(t *testing.T) {
	d, fake := newTestDriver(t, newTestStore(t))
	fake.connectErr = errBrokerDown

	err := d.Connect(context.Background())
	assert.ErrorIs(t, err, device.ErrConnection)

	connected, err := d.Connected(context.Background())
	require.NoError(t, err)
	assert.False(t, connected)
}

func TestConnectControllerSilent(t *testing.T) {
	d, fake := newTestDriver(t, newTestStore(t))
	fake.script('X', false, true)

	err := d.Connect(context.Background())
	assert.ErrorIs(t, err, device.ErrTimeout)
	assert.False(t, fake.IsConnected())
}

func TestNotConnected(t *testing.T) {
	d, _ := newTestDriver(t, newTestStore(t))

	_, err := d.Position(context.Background())
	assert.ErrorIs(t, err, device.ErrNotConnected)
	assert.ErrorIs(t, d.MoveTo(context.Background(), 10), device.ErrNotConnected)
}

func TestSlew(t *testing.T) {
	d, fake := connect(t)
	fake.emit("telemetry", `{"az_state":0,"pos":0,"home":1,"dir":0,"target":0}`)

	go func() {
		time.Sleep(50 * time.Millisecond)
		fake.emit("telemetry", `{"az_state":2,"pos":1200,"home":0,"dir":0,"target":2500}`)
		time.Sleep(50 * time.Millisecond)
		fake.emit("telemetry", `{"az_state":0,"pos":2500,"home":0,"dir":0,"target":2500}`)
	}()

	outcome, err := operation.Run(context.Background(), time.Second,
		func(ctx context.Context) error { return d.MoveTo(ctx, 90) },
		operation.Wait{Poll: 10 * time.Millisecond, Timeout: time.Second},
		operation.MovingProbe(d.IsMoving))
	require.NoError(t, err)
	assert.Equal(t, operation.Completed, outcome)
	assert.Contains(t, fake.sent(), "_G=2500;")

	pos, err := d.Position(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90.0, pos)
}

func TestRejectedCommand(t *testing.T) {
	d, fake := connect(t)
	fake.script('G', true, false)

	err := d.MoveTo(context.Background(), 45)
	assert.ErrorIs(t, err, device.ErrDevice)
}

func TestCommandTimeout(t *testing.T) {
	d, fake := connect(t)
	fake.script('A', false, true)

	start := time.Now()
	err := d.Halt(context.Background())
	assert.ErrorIs(t, err, device.ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)

	// A later command still gets its own acknowledgement.
	fake.script('A', false, false)
	assert.NoError(t, d.Halt(context.Background()))
}

func TestShutter(t *testing.T) {
	d, fake := connect(t)

	status, err := d.ShutterStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, device.ShutterUnknown, status)

	require.NoError(t, d.OpenShutter(context.Background()))
	status, err = d.ShutterStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, device.ShutterOpening, status)

	fake.emit("telemetry", `{"az_state":0,"pos":0,"link":1,"shutter":0}`)
	status, err = d.ShutterStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, device.ShutterOpen, status)

	fake.emit("telemetry", `{"az_state":0,"pos":0,"link":1,"shutter":17}`)
	status, err = d.ShutterStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, device.ShutterUnknown, status)
}

func TestNoShutter(t *testing.T) {
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.UseShutter = false
	require.NoError(t, store.SetConfig(cfg))

	d, fake := newTestDriver(t, store)
	require.NoError(t, d.Connect(context.Background()))
	assert.Equal(t, []string{"_S;", "_V;", "_B;"}, fake.sent())

	assert.ErrorIs(t, d.OpenShutter(context.Background()), device.ErrNotSupported)
	_, err := d.ShutterStatus(context.Background())
	assert.ErrorIs(t, err, device.ErrNotSupported)
}

func TestGetProperty(t *testing.T) {
	d, fake := connect(t)
	fake.emit("telemetry", `{"az_state":0,"pos":0,"home":1,"target":5000,"temp":12.5,"hum":40}`)
	fake.emit("battery", `{"batt_voltage":12.25,"batt_current":0.5}`)

	tests := []struct {
		key   string
		value any
	}{
		{"AtHome", true},
		{"Target", 180.0},
		{"Temperature", 12.5},
		{"Humidity", 40.0},
		{"BatteryVoltage", 12.25},
		{"BatteryCurrent", 0.5},
		{"Version", "1.2.3"},
	}
	for _, tc := range tests {
		t.Run(tc.key, func(t *testing.T) {
			v, err := d.GetProperty(context.Background(), tc.key)
			require.NoError(t, err)
			assert.Equal(t, tc.value, v)
		})
	}

	_, err := d.GetProperty(context.Background(), "Nope")
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestConfigure(t *testing.T) {
	d, fake := connect(t)

	cfg := DefaultConfig()
	cfg.TicksPerTurn = 3600
	cfg.ParkPosition = 180
	require.NoError(t, d.Configure(context.Background(), cfg))

	sent := fake.sent()
	assert.Contains(t, sent, "_LTICK=3600;")
	assert.Contains(t, sent, "_LPKPO=1800;")
	assert.Equal(t, "_LAZTO=120;", sent[4])
	assert.Equal(t, "_LBKSP=100;", sent[5])

	stored, err := d.store.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, 3600, stored.TicksPerTurn)

	fake.emit("telemetry", `{"az_state":0,"pos":900}`)
	pos, err := d.Position(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 90.0, pos)
}

func TestSetPark(t *testing.T) {
	d, fake := connect(t)
	fake.emit("telemetry", `{"az_state":0,"pos":5000}`)

	require.NoError(t, d.SetPark(context.Background()))
	cfg, err := d.store.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, 180.0, cfg.ParkPosition)
}

func TestDisconnect(t *testing.T) {
	d, fake := connect(t)

	require.NoError(t, d.Disconnect(context.Background()))
	assert.Equal(t, "_Z;", fake.sent()[len(fake.sent())-1])
	assert.Equal(t, 0, fake.subscribed())
	assert.False(t, fake.IsConnected())

	_, err := d.Position(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}
