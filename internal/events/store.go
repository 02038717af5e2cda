package events

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on SQLite
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an open database and ensures the schema exists
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize event schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		source TEXT NOT NULL,
		target TEXT NOT NULL,
		tension_id TEXT,
		priority INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		delivered_at TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_events_target ON events(target, delivered_at);
	CREATE INDEX IF NOT EXISTS idx_events_tension ON events(tension_id);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Save persists an event
func (s *SQLiteStore) Save(event *Event) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO events (id, type, source, target, tension_id, priority, payload, created_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)`,
		event.ID,
		string(event.Type),
		event.Source,
		event.Target,
		event.TensionID,
		event.Priority,
		string(payloadJSON),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// GetPending returns undelivered events for a target, oldest and most
// urgent first. A non-broadcast target also receives broadcasts.
func (s *SQLiteStore) GetPending(target string, types []EventType) ([]*Event, error) {
	where := "delivered_at IS NULL AND (target = ? OR target = ?)"
	args := []interface{}{target, TargetAll}
	if target == TargetAll {
		where = "delivered_at IS NULL AND target = ?"
		args = []interface{}{target}
	}

	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		where += fmt.Sprintf(" AND type IN (%s)", strings.Join(placeholders, ", "))
	}

	query := fmt.Sprintf(`
		SELECT id, type, source, target, tension_id, priority, payload, created_at
		FROM events
		WHERE %s
		ORDER BY priority ASC, created_at ASC`, where)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var (
			event       Event
			tensionID   sql.NullString
			payloadJSON string
		)
		if err := rows.Scan(
			&event.ID,
			&event.Type,
			&event.Source,
			&event.Target,
			&tensionID,
			&event.Priority,
			&payloadJSON,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event.TensionID = tensionID.String
		if err := json.Unmarshal([]byte(payloadJSON), &event.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload for %s: %w", event.ID, err)
		}
		out = append(out, &event)
	}
	return out, rows.Err()
}

// MarkDelivered stamps an event as delivered
func (s *SQLiteStore) MarkDelivered(eventID string) error {
	res, err := s.db.Exec(`UPDATE events SET delivered_at = ? WHERE id = ?`, time.Now(), eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("event %s not found", eventID)
	}
	return nil
}
