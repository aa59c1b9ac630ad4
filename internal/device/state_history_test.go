package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

// clockedHistory returns a repository whose clock reads the value at *at.
func clockedHistory(t *testing.T) (*SQLiteStateHistoryRepository, *time.Time) {
	t.Helper()
	at := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	repo := NewSQLiteStateHistoryRepository(setupTestDB(t))
	repo.now = func() time.Time { return at }
	return repo, &at
}

func TestRecordStateChange(t *testing.T) {
	repo, _ := clockedHistory(t)
	ctx := context.Background()

	err := repo.RecordStateChange(ctx, "dev-1", []StateUpdate{
		{Key: StateOnOff, Value: true, UIValue: "on"},
		{Key: StateBrightness, Value: int64(75)},
		{Key: StateSensorValue, Value: 21.5, UIValue: "21.5 °C"},
		{Key: StateSensorValue, Value: 22.0},
	})
	if err != nil {
		t.Fatalf("RecordStateChange() error = %v", err)
	}

	entries, err := repo.GetHistory(ctx, "dev-1", HistoryQuery{})
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries length = %d, want 1", len(entries))
	}

	entry := entries[0]
	if len(entry.Changes) != 3 {
		t.Errorf("Changes = %v, want 3 keys", entry.Changes)
	}
	if on, ok := entry.Changes[StateOnOff].(bool); !ok || !on {
		t.Errorf("Changes[onOff] = %v, want true", entry.Changes[StateOnOff])
	}
	if level, ok := entry.Changes[StateBrightness].(int64); !ok || level != 75 {
		t.Errorf("Changes[brightness] = %#v, want int64 75", entry.Changes[StateBrightness])
	}
	if v := entry.Changes[StateSensorValue]; v != 22.0 && v != int64(22) {
		t.Errorf("Changes[sensorValue] = %#v, want the last write", v)
	}
	if entry.UIState[StateOnOff] != "on" {
		t.Errorf("UIState = %v", entry.UIState)
	}
	if _, ok := entry.UIState[StateSensorValue]; ok {
		t.Errorf("UIState kept a display value overwritten without one: %v", entry.UIState)
	}

	if err := repo.RecordStateChange(ctx, "", []StateUpdate{{Key: StateOnOff, Value: true}}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("RecordStateChange(no id) error = %v, want ErrInvalidDevice", err)
	}
	if err := repo.RecordStateChange(ctx, "dev-1", nil); err != nil {
		t.Errorf("RecordStateChange(nothing) error = %v", err)
	}
	if entries, _ := repo.GetHistory(ctx, "dev-1", HistoryQuery{}); len(entries) != 1 { //nolint:errcheck // checked above
		t.Errorf("empty update was recorded: %d entries", len(entries))
	}
}

func TestGetHistoryFilters(t *testing.T) {
	repo, at := clockedHistory(t)
	ctx := context.Background()
	start := *at

	record := func(id string, offset time.Duration, updates ...StateUpdate) {
		t.Helper()
		*at = start.Add(offset)
		if err := repo.RecordStateChange(ctx, id, updates); err != nil {
			t.Fatalf("RecordStateChange() error = %v", err)
		}
	}
	record("dev-1", 0, StateUpdate{Key: StateOnOff, Value: false})
	record("dev-1", time.Hour, StateUpdate{Key: StateBrightness, Value: int64(10)})
	record("dev-1", 2*time.Hour, StateUpdate{Key: StateOnOff, Value: true})
	record("dev-2", 2*time.Hour, StateUpdate{Key: StateOnOff, Value: true})

	tests := []struct {
		name  string
		query HistoryQuery
		want  []time.Duration
	}{
		{"all newest first", HistoryQuery{}, []time.Duration{2 * time.Hour, time.Hour, 0}},
		{"limit", HistoryQuery{Limit: 2}, []time.Duration{2 * time.Hour, time.Hour}},
		{"since is exclusive", HistoryQuery{Since: start.Add(time.Hour)}, []time.Duration{2 * time.Hour}},
		{"key", HistoryQuery{Key: StateOnOff}, []time.Duration{2 * time.Hour, 0}},
		{"key and since", HistoryQuery{Key: StateBrightness, Since: start.Add(90 * time.Minute)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := repo.GetHistory(ctx, "dev-1", tt.query)
			if err != nil {
				t.Fatalf("GetHistory() error = %v", err)
			}
			if len(entries) != len(tt.want) {
				t.Fatalf("entries = %d, want %d", len(entries), len(tt.want))
			}
			for i, off := range tt.want {
				if !entries[i].CreatedAt.Equal(start.Add(off)) {
					t.Errorf("entry[%d] CreatedAt = %s, want %s", i, entries[i].CreatedAt, start.Add(off))
				}
				if entries[i].DeviceID != "dev-1" {
					t.Errorf("entry[%d] DeviceID = %q", i, entries[i].DeviceID)
				}
			}
		})
	}

	if _, err := repo.GetHistory(ctx, "", HistoryQuery{}); !errors.Is(err, ErrInvalidDevice) {
		t.Errorf("GetHistory(no id) error = %v, want ErrInvalidDevice", err)
	}
}

func TestPruneAndForgetHistory(t *testing.T) {
	repo, at := clockedHistory(t)
	ctx := context.Background()
	now := *at

	*at = now.Add(-40 * 24 * time.Hour)
	if err := repo.RecordStateChange(ctx, "dev-1", []StateUpdate{{Key: StateOnOff, Value: true}}); err != nil {
		t.Fatal(err)
	}
	*at = now.Add(-12 * time.Hour)
	if err := repo.RecordStateChange(ctx, "dev-1", []StateUpdate{{Key: StateOnOff, Value: false}}); err != nil {
		t.Fatal(err)
	}
	*at = now

	deleted, err := repo.PruneHistory(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if _, err := repo.PruneHistory(ctx, 0); err == nil {
		t.Error("PruneHistory(0) error = nil")
	}

	if err := repo.ForgetDevice(ctx, "dev-1"); err != nil {
		t.Fatalf("ForgetDevice() error = %v", err)
	}
	if entries, _ := repo.GetHistory(ctx, "dev-1", HistoryQuery{}); len(entries) != 0 { //nolint:errcheck // empty on error
		t.Errorf("entries after ForgetDevice = %d, want 0", len(entries))
	}
}
