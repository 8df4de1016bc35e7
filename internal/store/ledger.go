package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roompaneld/internal/automation"
	"github.com/dokzlo13/roompaneld/internal/layer"
	"github.com/dokzlo13/roompaneld/internal/observer"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventTransition     EventType = "transition"
	EventPowerSucceeded EventType = "power_succeeded"
	EventPowerFailed    EventType = "power_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID            int64
	EventType     EventType
	Timestamp     time.Time
	Payload       map[string]any
	Source        string
	CorrelationID string
}

// Ledger records accepted transitions and power calls.
// It is registered as an observer and installed as the bridge recorder.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// NewLedger creates a new Ledger using the provided database connection
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType EventType, correlationID, source string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, payload, source, correlation_id) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), l.now().UTC().Unix(), string(payloadJSON), source, correlationID,
	)
	if err != nil {
		return fmt.Errorf("failed to append %s: %w", eventType, err)
	}
	return nil
}

// OnTransition implements observer.Observer.
func (l *Ledger) OnTransition(t observer.Transition) error {
	return l.Append(EventTransition, t.ID, "panel", map[string]any{
		"seq":      t.Seq,
		"previous": t.Previous.String(),
		"current":  t.LayerName,
	})
}

// RecordPower implements automation.Recorder. Failures to write are logged.
func (l *Ledger) RecordPower(on bool, res automation.Result) {
	eventType := EventPowerSucceeded
	if !res.OK {
		eventType = EventPowerFailed
	}
	err := l.Append(eventType, "", "bridge", map[string]any{
		"on":        on,
		"strategy":  res.Strategy,
		"attempted": res.Attempted,
	})
	if err != nil {
		log.Warn().Err(err).Bool("on", on).Msg("Failed to record power result")
	}
}

// LastLayer returns the layer of the most recent recorded transition.
func (l *Ledger) LastLayer() (layer.Layer, bool, error) {
	var payloadStr sql.NullString
	err := l.db.QueryRow(`
		SELECT payload FROM event_ledger
		WHERE event_type = ?
		ORDER BY id DESC
		LIMIT 1
	`, string(EventTransition)).Scan(&payloadStr)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	var payload struct {
		Current string `json:"current"`
	}
	if err := json.Unmarshal([]byte(payloadStr.String), &payload); err != nil {
		return 0, false, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	last, ok := layer.Parse(payload.Current)
	return last, ok, nil
}

// GetByType returns the newest entries of one type, newest first.
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, payload, source, correlation_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source, correlationID sql.NullString
		var timestamp int64

		if err := rows.Scan(&entry.ID, &entry.EventType, &timestamp, &payloadStr, &source, &correlationID); err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Source = source.String
		entry.CorrelationID = correlationID.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

var (
	_ observer.Observer   = (*Ledger)(nil)
	_ automation.Recorder = (*Ledger)(nil)
)
