package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roompaneld/internal/switcher"
)

const kindSwitcherMapping = "switcher_mapping"

// StateStore keeps versioned JSON payloads keyed by (kind, id).
type StateStore struct {
	db *sql.DB
}

// NewStateStore creates a new state store.
func NewStateStore(db *sql.DB) *StateStore {
	return &StateStore{db: db}
}

// Get returns the payload and version for a resource.
// Version 0 with a nil payload means not found.
func (s *StateStore) Get(kind, id string) (payload []byte, version int64, err error) {
	var payloadStr string
	err = s.db.QueryRow(`
		SELECT payload, version FROM resource_state
		WHERE kind = ? AND id = ?
	`, kind, id).Scan(&payloadStr, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return []byte(payloadStr), version, nil
}

// Set stores payload, incrementing the version.
func (s *StateStore) Set(kind, id string, payload []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO resource_state (kind, id, payload, version, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(kind, id) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, kind, id, string(payload), time.Now().UTC().Unix())
	if err != nil {
		return err
	}

	log.Debug().Str("kind", kind).Str("id", id).Msg("State stored")
	return nil
}

// LoadMapping implements switcher.MappingStore.
func (s *StateStore) LoadMapping(family string) (switcher.Mapping, bool, error) {
	payload, version, err := s.Get(kindSwitcherMapping, family)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load mapping for %s: %w", family, err)
	}
	if version == 0 {
		return nil, false, nil
	}

	var m switcher.Mapping
	if err := json.Unmarshal(payload, &m); err != nil {
		return nil, false, fmt.Errorf("failed to decode mapping for %s: %w", family, err)
	}
	return m, true, nil
}

// SaveMapping implements switcher.MappingStore.
func (s *StateStore) SaveMapping(family string, m switcher.Mapping) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode mapping: %w", err)
	}
	if err := s.Set(kindSwitcherMapping, family, payload); err != nil {
		return fmt.Errorf("failed to save mapping for %s: %w", family, err)
	}
	return nil
}

var _ switcher.MappingStore = (*StateStore)(nil)
