package policy

import (
	"path/filepath"
	"testing"
	"time"

	"astrobridge/pkg/device"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestDefaults(t *testing.T) {
	p := Default()

	assert.Equal(t, 30*time.Second, p.Connection)
	assert.Equal(t, 60*time.Second, p.MessageCompletion)
	assert.Equal(t, 300*time.Second, p.BinaryTransfer)
	assert.Equal(t, 30*time.Second, p.PropertyRead)
	assert.Equal(t, 30*time.Second, p.PropertyWrite)
	assert.Equal(t, 300*time.Second, p.MountSlew)
	assert.Equal(t, 120*time.Second, p.FocuserMove)
	assert.Equal(t, 60*time.Second, p.FilterChange)
	assert.Equal(t, 300*time.Second, p.DomeSlew)
	assert.Equal(t, 120*time.Second, p.RotatorMove)
	assert.Equal(t, 500*time.Millisecond, p.PollInterval)
	assert.Equal(t, 30*time.Second, p.Keepalive)
	assert.Equal(t, 1*time.Second, p.ReconnectBase)
	assert.Equal(t, 30*time.Second, p.ReconnectMax)
	assert.Equal(t, 5, p.MaxReconnectAttempts)
	assert.NoError(t, p.Validate())
}

func TestMotionTimeouts(t *testing.T) {
	p := Default()

	tests := []struct {
		typ      device.Type
		expected time.Duration
	}{
		{device.TypeTelescope, p.MountSlew},
		{device.TypeFocuser, p.FocuserMove},
		{device.TypeFilterWheel, p.FilterChange},
		{device.TypeDome, p.DomeSlew},
		{device.TypeRotator, p.RotatorMove},
		{device.TypeSwitch, p.PropertyWrite},
	}
	for _, tc := range tests {
		t.Run(tc.typ.String(), func(t *testing.T) {
			assert.Equal(t, tc.expected, p.Motion(tc.typ))
		})
	}
}

func TestReconnectDelayMonotonic(t *testing.T) {
	p := Default()

	prev := time.Duration(0)
	for n := 0; n < 20; n++ {
		d := p.ReconnectDelay(n)
		assert.GreaterOrEqual(t, d, prev, "delay decreased at n=%d", n)
		assert.LessOrEqual(t, d, p.ReconnectMax)
		prev = d
	}
	assert.Equal(t, 1*time.Second, p.ReconnectDelay(0))
	assert.Equal(t, 2*time.Second, p.ReconnectDelay(1))
	assert.Equal(t, 16*time.Second, p.ReconnectDelay(4))
	assert.Equal(t, 30*time.Second, p.ReconnectDelay(5))
	assert.Equal(t, 30*time.Second, p.ReconnectDelay(100))
}

func TestJitter(t *testing.T) {
	p := Default()

	seen := map[time.Duration]bool{}
	for i := 0; i < 50; i++ {
		j := p.Jitter()
		assert.Greater(t, j, time.Duration(0))
		assert.LessOrEqual(t, j, p.ReconnectBase)
		seen[j] = true
	}
	assert.Greater(t, len(seen), 1, "jitter never varied")
}

func TestValidate(t *testing.T) {
	p := Default()
	p.PollInterval = 0
	assert.Error(t, p.Validate())

	p = Default()
	p.ReconnectMax = p.ReconnectBase / 2
	assert.Error(t, p.Validate())
}

func TestStore(t *testing.T) {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	st, err := NewStore(db)
	require.NoError(t, err)

	p, err := st.Get()
	require.NoError(t, err)
	assert.Equal(t, Default(), p)

	p.FocuserMove = 42 * time.Second
	require.NoError(t, st.Set(p))

	got, err := st.Get()
	require.NoError(t, err)
	assert.Equal(t, 42*time.Second, got.FocuserMove)

	p.Keepalive = -1
	assert.Error(t, st.Set(p))
}
