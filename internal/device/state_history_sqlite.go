package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// SQLiteStateHistoryRepository implements StateHistoryRepository on the
// state_history table.
type SQLiteStateHistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStateHistoryRepository creates a state history repository on db.
func NewSQLiteStateHistoryRepository(db *sql.DB) *SQLiteStateHistoryRepository {
	return &SQLiteStateHistoryRepository{db: db, now: time.Now}
}

// RecordStateChange inserts one entry holding the written values and their
// display forms.
func (r *SQLiteStateHistoryRepository) RecordStateChange(ctx context.Context, deviceID string, updates []StateUpdate) error {
	if deviceID == "" {
		return ErrInvalidDevice
	}
	if len(updates) == 0 {
		return nil
	}

	changes := make(State, len(updates))
	ui := make(map[string]string)
	for _, u := range updates {
		changes[u.Key] = u.Value
		if u.UIValue != "" {
			ui[u.Key] = u.UIValue
		} else {
			delete(ui, u.Key)
		}
	}

	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshalling state changes: %w", err)
	}
	uiJSON, err := json.Marshal(ui)
	if err != nil {
		return fmt.Errorf("marshalling ui state: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO state_history (device_id, changes, ui_state, created_at) VALUES (?, ?, ?, ?)",
		deviceID,
		string(changesJSON),
		string(uiJSON),
		r.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting state history: %w", err)
	}
	return nil
}

// GetHistory returns entries for a device, newest first. Limit defaults
// to DefaultHistoryLimit and is capped at MaxHistoryLimit. A Key filter
// keeps only entries that wrote that key.
func (r *SQLiteStateHistoryRepository) GetHistory(ctx context.Context, deviceID string, q HistoryQuery) ([]StateHistoryEntry, error) {
	if deviceID == "" {
		return nil, ErrInvalidDevice
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	var query strings.Builder
	query.WriteString(`SELECT id, device_id, changes, ui_state, created_at
		FROM state_history h
		WHERE device_id = ?`)
	args := []any{deviceID}
	if !q.Since.IsZero() {
		query.WriteString(" AND created_at > ?")
		args = append(args, q.Since.UTC().Format(time.RFC3339))
	}
	if q.Key != "" {
		query.WriteString(" AND EXISTS (SELECT 1 FROM json_each(h.changes) WHERE json_each.key = ?)")
		args = append(args, q.Key)
	}
	query.WriteString(" ORDER BY created_at DESC, id DESC LIMIT ?")
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying state history: %w", err)
	}
	defer rows.Close()

	entries := make([]StateHistoryEntry, 0, limit)
	for rows.Next() {
		var (
			entry     StateHistoryEntry
			changes   string
			ui        string
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &entry.DeviceID, &changes, &ui, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning state history: %w", err)
		}
		if err := unmarshalState(changes, &entry.Changes); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(ui), &entry.UIState); err != nil {
			return nil, fmt.Errorf("unmarshalling ui state: %w", err)
		}
		if len(entry.UIState) == 0 {
			entry.UIState = nil
		}
		if entry.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating state history: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes entries older than olderThan and returns how many
// rows were removed.
func (r *SQLiteStateHistoryRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := r.now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting state history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

// ForgetDevice removes every entry for a deleted device.
func (r *SQLiteStateHistoryRepository) ForgetDevice(ctx context.Context, deviceID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM state_history WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("deleting state history for %s: %w", deviceID, err)
	}
	return nil
}
