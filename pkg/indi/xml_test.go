package indi

import (
	"testing"
	"time"

	"astrobridge/pkg/device"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input string
		want  float64
	}{
		{"12.5", 12.5},
		{"  -3e2 ", -300},
		{"12:30:00", 12.5},
		{"12:30", 12.5},
		{"-5:30:00", -5.5},
		{"-0:30:00", -0.5},
		{"5 24 36", 5.41},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseNumber(tc.input)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}

	for _, bad := range []string{"", "abc", "1:2:3:4", "10:-5"} {
		_, err := ParseNumber(bad)
		assert.Error(t, err, bad)
	}
}

func TestDecodeDefinition(t *testing.T) {
	msg, err := decode([]byte(`<defNumberVector device="Telescope Simulator" name="EQUATORIAL_EOD_COORD" label="Eq. Coordinates" group="Main Control" state="Idle" perm="rw" timeout="60" timestamp="2024-03-01T21:00:00.5">
  <defNumber name="RA" label="RA (hh:mm:ss)" format="%010.6m" min="0" max="24" step="0">5:30:00</defNumber>
  <defNumber name="DEC" label="DEC (dd:mm:ss)" format="%010.6m" min="-90" max="90" step="0">-12:15:00</defNumber>
</defNumberVector>`))
	require.NoError(t, err)
	assert.Equal(t, kindDefine, msg.kind)
	assert.True(t, msg.hasState)

	p := msg.property
	assert.Equal(t, Key{Device: "Telescope Simulator", Name: "EQUATORIAL_EOD_COORD"}, p.Key())
	assert.Equal(t, "Main Control", p.Group)
	assert.Equal(t, TypeNumber, p.Type)
	assert.Equal(t, StateIdle, p.State)
	assert.Equal(t, PermRW, p.Perm)
	assert.Equal(t, 60*time.Second, p.Timeout)
	assert.Equal(t, time.Date(2024, 3, 1, 21, 0, 0, 500_000_000, time.UTC), p.Timestamp)

	require.Len(t, p.Elements, 2)
	assert.Equal(t, "RA", p.Elements[0].Name)
	assert.InDelta(t, 5.5, p.Elements[0].Number, 1e-9)
	assert.Equal(t, 24.0, p.Elements[0].Max)
	assert.InDelta(t, -12.25, p.Elements[1].Number, 1e-9)
	assert.Equal(t, -90.0, p.Elements[1].Min)
}

func TestDecodeSwitchAndLight(t *testing.T) {
	msg, err := decode([]byte(`<defSwitchVector device="Dome" name="DOME_SHUTTER" state="Ok" perm="rw" rule="OneOfMany">
<defSwitch name="SHUTTER_OPEN">Off</defSwitch><defSwitch name="SHUTTER_CLOSE">On</defSwitch></defSwitchVector>`))
	require.NoError(t, err)
	assert.Equal(t, RuleOneOfMany, msg.property.Rule)
	on, ok := msg.property.OnSwitch()
	assert.True(t, ok)
	assert.Equal(t, "SHUTTER_CLOSE", on)

	msg, err = decode([]byte(`<defLightVector device="Weather" name="WEATHER_STATUS" state="Alert">
<defLight name="WEATHER_RAIN_HOUR">Alert</defLight></defLightVector>`))
	require.NoError(t, err)
	assert.Equal(t, PermRO, msg.property.Perm)
	v, ok := msg.property.Value("WEATHER_RAIN_HOUR")
	assert.True(t, ok)
	assert.Equal(t, StateAlert, v)
}

func TestDecodeUpdate(t *testing.T) {
	msg, err := decode([]byte(`<setNumberVector device="Focuser" name="ABS_FOCUS_POSITION"><oneNumber name="FOCUS_ABSOLUTE_POSITION">100</oneNumber></setNumberVector>`))
	require.NoError(t, err)
	assert.Equal(t, kindSet, msg.kind)
	assert.False(t, msg.hasState)
	assert.Equal(t, 100.0, msg.property.Elements[0].Number)
}

func TestDecodeOther(t *testing.T) {
	msg, err := decode([]byte(`<delProperty device="Focuser" name="FOCUS_TEMPERATURE" message="gone"/>`))
	require.NoError(t, err)
	assert.Equal(t, kindDelete, msg.kind)
	assert.Equal(t, "FOCUS_TEMPERATURE", msg.property.Name)
	assert.Equal(t, "gone", msg.text)

	msg, err = decode([]byte(`<message device="Focuser" timestamp="2024-03-01T21:00:00" message="Focuser connected"/>`))
	require.NoError(t, err)
	assert.Equal(t, kindMessage, msg.kind)
	assert.Equal(t, "Focuser connected", msg.text)

	msg, err = decode([]byte(`<pingRequest uid="1"/>`))
	require.NoError(t, err)
	assert.Equal(t, kindIgnored, msg.kind)
}

func TestDecodeMalformed(t *testing.T) {
	tests := map[string]string{
		"not xml":       `<setNumberVector device="a" name="b"><oneNumber></setNumberVector>`,
		"no name":       `<setNumberVector device="a"/>`,
		"bad state":     `<setNumberVector device="a" name="b" state="Maybe"/>`,
		"bad number":    `<setNumberVector device="a" name="b"><oneNumber name="c">abc</oneNumber></setNumberVector>`,
		"unknown type":  `<defFooVector device="a" name="b"/>`,
		"no del device": `<delProperty name="b"/>`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := decode([]byte(raw))
			assert.ErrorIs(t, err, device.ErrProtocol)
		})
	}
}

func TestEncodeNew(t *testing.T) {
	now := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
	p := Property{
		Device:   "Dome",
		Name:     "DOME_SHUTTER",
		Type:     TypeSwitch,
		Elements: []Element{{Name: "SHUTTER_OPEN"}, {Name: "SHUTTER_CLOSE"}},
	}

	data, err := encodeNew(p, map[string]any{"SHUTTER_CLOSE": false, "SHUTTER_OPEN": true}, now)
	require.NoError(t, err)
	assert.Equal(t, `<newSwitchVector device="Dome" name="DOME_SHUTTER" timestamp="2024-03-01T21:00:00">`+
		`<oneSwitch name="SHUTTER_OPEN">On</oneSwitch><oneSwitch name="SHUTTER_CLOSE">Off</oneSwitch></newSwitchVector>`, string(data))

	text := Property{Device: "Mount & Co", Name: "SITE", Type: TypeText, Elements: []Element{{Name: "NAME"}}}
	data, err = encodeNew(text, map[string]any{"NAME": "<home>"}, now)
	require.NoError(t, err)
	assert.Contains(t, string(data), `device="Mount &amp; Co"`)
	assert.Contains(t, string(data), `&lt;home&gt;`)

	_, err = encodeNew(p, map[string]any{"SHUTTER_OPEN": 1.5}, now)
	assert.Error(t, err)

	_, err = encodeNew(Property{Device: "CCD", Name: "CCD1", Type: TypeBLOB}, map[string]any{"CCD1": []byte{1}}, now)
	assert.ErrorIs(t, err, device.ErrNotSupported)
}

func TestEncodeControl(t *testing.T) {
	assert.Equal(t, `<getProperties version="1.7"></getProperties>`, string(encodeGetProperties("", "")))
	assert.Equal(t, `<getProperties version="1.7" device="CCD" name="CCD1"></getProperties>`, string(encodeGetProperties("CCD", "CCD1")))
	assert.Equal(t, `<enableBLOB device="CCD">Also</enableBLOB>`, string(encodeEnableBLOB("CCD", "", BlobAlso)))
}
