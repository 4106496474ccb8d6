package zro

import (
	"fmt"

	"astrobridge/internal/store"

	bolt "go.etcd.io/bbolt"
)

const configKey = "zro_config"

// Store persists the dome controller configuration next to the policy.
type Store struct {
	record *store.Record[Config]
}

// NewStore opens the configuration record, saving the defaults on first use.
func NewStore(db *bolt.DB) (*Store, error) {
	r, err := store.Open(db, configKey, DefaultConfig, func(cfg Config) error {
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid dome config: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &Store{record: r}, nil
}

func (s *Store) SetConfig(cfg Config) error {
	return s.record.Save(cfg)
}

func (s *Store) GetConfig() (Config, error) {
	return s.record.Load()
}
