// Package store keeps JSON encoded settings records in a bbolt database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// Bucket holds every record of the application.
const Bucket = "astrobridge"

// ErrNotFound is returned by Load when nothing has been saved under the key.
var ErrNotFound = errors.New("record not found")

// Record is a typed value saved under one key of the bucket.
type Record[T any] struct {
	db       *bolt.DB
	key      string
	defaults func() T
	validate func(T) error
}

// Open returns the record stored under key, saving defaults() first when the
// key is still empty. validate, if not nil, guards every Save.
func Open[T any](db *bolt.DB, key string, defaults func() T, validate func(T) error) (*Record[T], error) {
	r := &Record[T]{db: db, key: key, defaults: defaults, validate: validate}

	_, err := r.Load()
	switch {
	case errors.Is(err, ErrNotFound):
		log.WithField("key", key).Info("Saving default settings")
		if err := r.Save(defaults()); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}
	return r, nil
}

// Save validates v and stores it.
func (r *Record[T]) Save(v T) error {
	if r.validate != nil {
		if err := r.validate(v); err != nil {
			return err
		}
	}

	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", r.key, err)
	}

	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(Bucket))
		if err != nil {
			return err
		}
		return b.Put([]byte(r.key), value)
	})
}

// Load decodes the stored value over defaults(), so fields added after the
// value was saved keep their default.
func (r *Record[T]) Load() (T, error) {
	v := r.defaults()

	err := r.db.View(func(tx *bolt.Tx) error {
		var value []byte
		if b := tx.Bucket([]byte(Bucket)); b != nil {
			value = b.Get([]byte(r.key))
		}
		if value == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, r.key)
		}
		if err := json.Unmarshal(value, &v); err != nil {
			return fmt.Errorf("decode %s: %w", r.key, err)
		}
		return nil
	})

	return v, err
}
