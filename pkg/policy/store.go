package policy

import (
	"fmt"

	"astrobridge/internal/store"

	bolt "go.etcd.io/bbolt"
)

const policyKey = "policy"

// Store persists a policy in a bbolt database.
type Store struct {
	record *store.Record[Policy]
}

// NewStore creates a store and writes the default policy if none is stored yet.
func NewStore(db *bolt.DB) (*Store, error) {
	r, err := store.Open(db, policyKey, Default, func(p Policy) error {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("invalid policy: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{record: r}, nil
}

// Set validates the policy and saves it.
func (s *Store) Set(p Policy) error {
	return s.record.Save(p)
}

// Get retrieves the policy. Fields missing in the stored value keep their
// default.
func (s *Store) Get() (Policy, error) {
	return s.record.Load()
}
