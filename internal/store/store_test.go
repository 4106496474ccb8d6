package store

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

type settings struct {
	Host  string `json:"host"`
	Retry int    `json:"retry"`
}

func defaults() settings {
	return settings{Host: "localhost", Retry: 3}
}

func validate(s settings) error {
	if s.Retry < 0 {
		return errors.New("negative retry")
	}
	return nil
}

func openDB(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "test.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenSavesDefaults(t *testing.T) {
	db := openDB(t)

	r, err := Open(db, "settings", defaults, validate)
	require.NoError(t, err)

	got, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, defaults(), got)
}

func TestOpenKeepsStoredValue(t *testing.T) {
	db := openDB(t)

	r, err := Open(db, "settings", defaults, validate)
	require.NoError(t, err)
	require.NoError(t, r.Save(settings{Host: "dome.local", Retry: 7}))

	r, err = Open(db, "settings", defaults, validate)
	require.NoError(t, err)
	got, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, settings{Host: "dome.local", Retry: 7}, got)
}

func TestSaveValidates(t *testing.T) {
	r, err := Open(openDB(t), "settings", defaults, validate)
	require.NoError(t, err)

	assert.Error(t, r.Save(settings{Retry: -1}))

	got, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, defaults(), got)
}

func TestLoadFillsMissingFields(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(Bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte("settings"), []byte(`{"host":"observatory"}`))
	}))

	r, err := Open(db, "settings", defaults, nil)
	require.NoError(t, err)
	got, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, settings{Host: "observatory", Retry: 3}, got)
}

func TestOpenRejectsCorruptValue(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(Bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte("settings"), []byte(`{not json`))
	}))

	_, err := Open(db, "settings", defaults, validate)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
