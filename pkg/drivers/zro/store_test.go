package zro

import (
	"path/filepath"
	"testing"

	"astrobridge/pkg/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestStoreDefaults(t *testing.T) {
	store := newTestStore(t)

	cfg, err := store.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	cfg := DefaultConfig()
	cfg.Host = "tcp://broker:1883"
	cfg.Username = "dome"
	cfg.ParkPosition = 270
	require.NoError(t, store.SetConfig(cfg))

	got, err := store.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestStoreRejectsInvalidConfig(t *testing.T) {
	store := newTestStore(t)

	cfg := DefaultConfig()
	cfg.TicksPerTurn = 0
	assert.Error(t, store.SetConfig(cfg))

	got, err := store.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), got)
}

func TestStoreSharesDatabaseWithPolicy(t *testing.T) {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	require.NoError(t, err)
	defer db.Close()

	policies, err := policy.NewStore(db)
	require.NoError(t, err)
	domes, err := NewStore(db)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.ParkPosition = 180
	require.NoError(t, domes.SetConfig(cfg))

	p, err := policies.Get()
	require.NoError(t, err)
	assert.Equal(t, policy.Default(), p)

	// Reopening keeps what was saved instead of restoring the defaults.
	domes, err = NewStore(db)
	require.NoError(t, err)
	got, err := domes.GetConfig()
	require.NoError(t, err)
	assert.Equal(t, 180.0, got.ParkPosition)
}
