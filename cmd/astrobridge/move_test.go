package main

import (
	"context"
	"testing"
	"time"

	"astrobridge/pkg/com"
	"astrobridge/pkg/com/sim"
	"astrobridge/pkg/device"
	"astrobridge/pkg/operation"
	"astrobridge/pkg/policy"
	"astrobridge/pkg/registry"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinates(t *testing.T) {
	c, err := parseCoordinates("5:30:00", " -12.5")
	require.NoError(t, err)
	assert.Equal(t, device.Coordinates{RA: 5.5, Dec: -12.5}, c)

	_, err = parseCoordinates("five", "0")
	assert.Error(t, err)
}

func TestRunTarget(t *testing.T) {
	p := policy.Default()
	p.PollInterval = 10 * time.Millisecond
	reg := registry.New(p, log.StandardLogger())
	t.Cleanup(reg.Close)

	factory := sim.NewFactory(sim.Options{MoveDuration: 50 * time.Millisecond})
	add := func(typ device.Type) device.Identity {
		id := device.Identity{Transport: device.TransportCOM, Type: typ, Name: "ASCOM.Simulator." + typ.String()}
		d, err := com.NewDevice(id, factory, p, log.StandardLogger())
		require.NoError(t, err)
		require.NoError(t, reg.Add(d))
		require.NoError(t, reg.Connect(context.Background(), id.String()))
		return id
	}

	tests := []struct {
		typ    device.Type
		target string
	}{
		{device.TypeFocuser, "1500"},
		{device.TypeTelescope, "10:00:00,45"},
		{device.TypeDome, "open"},
		{device.TypeCoverCalibrator, "open"},
		{device.TypeRotator, "halt"},
	}
	for _, tc := range tests {
		t.Run(tc.typ.String()+" "+tc.target, func(t *testing.T) {
			id := add(tc.typ)
			outcome, err := runTarget(context.Background(), reg, id, tc.target, nil)
			require.NoError(t, err)
			assert.Equal(t, operation.Completed, outcome)
		})
	}

	_, err := runTarget(context.Background(), reg, device.Identity{Transport: device.TransportCOM, Type: device.TypeTelescope, Name: "x"}, "12", nil)
	assert.Error(t, err)
	_, err = runTarget(context.Background(), reg, device.Identity{Transport: device.TransportCOM, Type: device.TypeFocuser, Name: "x"}, "far", nil)
	assert.Error(t, err)
}
