package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// BaseKeys returns the state keys a device holds by virtue of its type and
// capability flags, before any keys are discovered from payloads.
func BaseKeys(d *Device) []string {
	var keys []string
	switch d.Type {
	case TypeRelay, TypeOnOffSensor:
		keys = append(keys, StateOnOff)
	case TypeDimmer:
		keys = append(keys, StateOnOff, StateBrightness)
	case TypeColor:
		keys = append(keys, StateOnOff, StateBrightness, StateRed, StateGreen, StateBlue, StateWhiteTemperature)
	case TypeValueSensor:
		keys = append(keys, StateSensorValue)
	}

	if d.Props.SupportsBatteryLevel {
		keys = append(keys, StateBattery)
	}
	if d.Type != TypeGeneric {
		if d.Props.SupportsEnergyMeter {
			keys = append(keys, StateEnergyTotal)
		}
		if d.Props.SupportsEnergyMeterCurPower {
			keys = append(keys, StateCurrentPower)
		}
	}
	return keys
}

// SchemaRepository persists each device's declared dynamic state keys.
type SchemaRepository interface {
	// Load returns the declared keys for a device; nil when none are declared.
	Load(ctx context.Context, deviceID string) ([]string, error)

	// Save replaces the declared keys for a device.
	Save(ctx context.Context, deviceID string, keys []string) error

	// Delete removes the device's declared keys.
	Delete(ctx context.Context, deviceID string) error
}

// SchemaRegistry tracks which state keys each device may hold.
//
// It is kept separate from state values: a key must be declared here
// (or be a base key) before the Registry accepts a value for it.
type SchemaRegistry struct {
	repo SchemaRepository

	mu    sync.RWMutex
	cache map[string][]string
}

// NewSchemaRegistry creates a schema registry backed by repo.
func NewSchemaRegistry(repo SchemaRepository) *SchemaRegistry {
	return &SchemaRegistry{
		repo:  repo,
		cache: make(map[string][]string),
	}
}

// DeclaredKeys returns the dynamic keys declared for a device.
func (s *SchemaRegistry) DeclaredKeys(ctx context.Context, deviceID string) ([]string, error) {
	s.mu.RLock()
	keys, ok := s.cache[deviceID]
	s.mu.RUnlock()
	if ok {
		return cloneKeys(keys), nil
	}

	keys, err := s.repo.Load(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("loading state schema: %w", err)
	}

	s.mu.Lock()
	s.cache[deviceID] = keys
	s.mu.Unlock()
	return cloneKeys(keys), nil
}

// Redeclare replaces the dynamic keys declared for a device.
func (s *SchemaRegistry) Redeclare(ctx context.Context, deviceID string, keys []string) error {
	keys = cloneKeys(keys)
	if err := s.repo.Save(ctx, deviceID, keys); err != nil {
		return fmt.Errorf("saving state schema: %w", err)
	}

	s.mu.Lock()
	s.cache[deviceID] = keys
	s.mu.Unlock()
	return nil
}

// HasState reports whether key is a base key of d or declared for it.
func (s *SchemaRegistry) HasState(ctx context.Context, d *Device, key string) (bool, error) {
	for _, k := range BaseKeys(d) {
		if k == key {
			return true, nil
		}
	}

	declared, err := s.DeclaredKeys(ctx, d.ID)
	if err != nil {
		return false, err
	}
	for _, k := range declared {
		if k == key {
			return true, nil
		}
	}
	return false, nil
}

// AllKeys returns the base keys of d followed by its declared keys.
func (s *SchemaRegistry) AllKeys(ctx context.Context, d *Device) ([]string, error) {
	declared, err := s.DeclaredKeys(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	return append(BaseKeys(d), declared...), nil
}

// Forget removes a device's declared keys.
func (s *SchemaRegistry) Forget(ctx context.Context, deviceID string) error {
	if err := s.repo.Delete(ctx, deviceID); err != nil {
		return fmt.Errorf("deleting state schema: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, deviceID)
	s.mu.Unlock()
	return nil
}

func cloneKeys(keys []string) []string {
	if keys == nil {
		return nil
	}
	cpy := make([]string, len(keys))
	copy(cpy, keys)
	return cpy
}

// SQLiteSchemaRepository implements SchemaRepository using the
// device_state_schema table.
type SQLiteSchemaRepository struct {
	db *sql.DB
}

// NewSQLiteSchemaRepository creates a schema repository on db.
func NewSQLiteSchemaRepository(db *sql.DB) *SQLiteSchemaRepository {
	return &SQLiteSchemaRepository{db: db}
}

// Load returns the declared keys for a device.
func (r *SQLiteSchemaRepository) Load(ctx context.Context, deviceID string) ([]string, error) {
	var raw string
	err := r.db.QueryRowContext(ctx,
		"SELECT states FROM device_state_schema WHERE device_id = ?", deviceID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying state schema: %w", err)
	}

	var keys []string
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, fmt.Errorf("unmarshalling state schema: %w", err)
	}
	return keys, nil
}

// Save upserts the declared keys for a device.
func (r *SQLiteSchemaRepository) Save(ctx context.Context, deviceID string, keys []string) error {
	if keys == nil {
		keys = []string{}
	}
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("marshalling state schema: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO device_state_schema (device_id, states, updated_at)
		VALUES (?, ?, strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		ON CONFLICT(device_id) DO UPDATE SET
			states = excluded.states,
			updated_at = excluded.updated_at`,
		deviceID, string(raw),
	)
	if err != nil {
		return fmt.Errorf("saving state schema: %w", err)
	}
	return nil
}

// Delete removes the declared keys for a device. Deleting a device with
// no schema row is not an error.
func (r *SQLiteSchemaRepository) Delete(ctx context.Context, deviceID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM device_state_schema WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("deleting state schema: %w", err)
	}
	return nil
}
