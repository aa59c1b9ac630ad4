package device

import (
	"context"
	"time"
)

// StateHistoryEntry is one accepted state update: the keys a single
// message wrote and their values.
type StateHistoryEntry struct {
	ID        int64             `json:"id"`
	DeviceID  string            `json:"device_id"`
	Changes   State             `json:"changes"`
	UIState   map[string]string `json:"ui_state,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// HistoryQuery narrows a history lookup. Zero values mean no filter; Limit
// falls back to a default.
type HistoryQuery struct {
	Limit int
	Since time.Time
	Key   string
}

// StateHistoryRepository stores and retrieves state updates.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange stores the values written by one update.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - updates: The state writes, in order; later writes of a key win
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordStateChange(ctx context.Context, deviceID string, updates []StateUpdate) error

	// GetHistory returns matching entries for the device, newest first.
	GetHistory(ctx context.Context, deviceID string, q HistoryQuery) ([]StateHistoryEntry, error)
}
