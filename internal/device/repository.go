package device

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
)

// Repository defines the persistence operations for devices.
type Repository interface {
	// GetByID retrieves a device by its unique identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// List retrieves all devices ordered by name.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Update modifies an existing device's configuration.
	// Returns ErrDeviceNotFound if the device does not exist.
	Update(ctx context.Context, device *Device) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error

	// UpdateState stores the state columns of a device.
	UpdateState(ctx context.Context, d *Device) error
}

const deviceColumns = `id, name, type, message_type, address, broker_id, props,
	state, ui_state, state_image, state_updated_at, created_at, updated_at`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetByID retrieves a device by its unique identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+deviceColumns+" FROM devices WHERE id = ?", id)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}
	return d, nil
}

// List retrieves all devices.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+deviceColumns+" FROM devices ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, d *Device) error {
	props, state, ui, err := marshalColumns(d)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO devices (`+deviceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, string(d.Type), d.MessageType, d.Address, d.BrokerID, props,
		state, ui, d.StateImage, formatTimePtr(d.StateUpdatedAt),
		d.CreatedAt.Format(time.RFC3339), d.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDeviceExists
		}
		return fmt.Errorf("inserting device: %w", err)
	}
	return nil
}

// Update modifies an existing device's configuration columns.
func (r *SQLiteRepository) Update(ctx context.Context, d *Device) error {
	props, err := json.Marshal(d.Props)
	if err != nil {
		return fmt.Errorf("marshalling props: %w", err)
	}
	d.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET
			name = ?, type = ?, message_type = ?, address = ?, broker_id = ?,
			props = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, string(d.Type), d.MessageType, d.Address, d.BrokerID,
		string(props), d.UpdatedAt.Format(time.RFC3339), d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device: %w", err)
	}
	return checkAffected(result)
}

// Delete removes a device by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	return checkAffected(result)
}

// UpdateState stores state, ui_state, state_image and state_updated_at.
func (r *SQLiteRepository) UpdateState(ctx context.Context, d *Device) error {
	_, state, ui, err := marshalColumns(d)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE devices SET state = ?, ui_state = ?, state_image = ?, state_updated_at = ?
		WHERE id = ?`,
		state, ui, d.StateImage, formatTimePtr(d.StateUpdatedAt), d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}
	return checkAffected(result)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDevice(row scanner) (*Device, error) {
	var (
		d                     Device
		typ, props, state, ui string
		stateUpdated          sql.NullString
		createdAt, updatedAt  string
	)
	err := row.Scan(&d.ID, &d.Name, &typ, &d.MessageType, &d.Address, &d.BrokerID, &props,
		&state, &ui, &d.StateImage, &stateUpdated, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	d.Type = Type(typ)

	if err := json.Unmarshal([]byte(props), &d.Props); err != nil {
		return nil, fmt.Errorf("unmarshalling props: %w", err)
	}
	if err := unmarshalState(state, &d.State); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ui), &d.UIState); err != nil {
		return nil, fmt.Errorf("unmarshalling ui_state: %w", err)
	}

	if stateUpdated.Valid && stateUpdated.String != "" {
		t, err := time.Parse(time.RFC3339Nano, stateUpdated.String)
		if err == nil {
			d.StateUpdatedAt = &t
		}
	}
	d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // written by us
	d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // written by us
	return &d, nil
}

// unmarshalState decodes state JSON keeping integers distinct from floats.
func unmarshalState(raw string, into *State) error {
	var m map[string]any
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("unmarshalling state: %w", err)
	}
	*into = State(normaliseNumbers(m).(map[string]any))
	return nil
}

func marshalColumns(d *Device) (props, state, ui string, err error) {
	p, err := json.Marshal(d.Props)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling props: %w", err)
	}
	s := d.State
	if s == nil {
		s = State{}
	}
	st, err := json.Marshal(s)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling state: %w", err)
	}
	u := d.UIState
	if u == nil {
		u = map[string]string{}
	}
	us, err := json.Marshal(u)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling ui_state: %w", err)
	}
	return string(p), string(st), string(us), nil
}

func checkAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// normaliseNumbers turns json.Number values into int64 when integral and
// float64 otherwise.
func normaliseNumbers(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for k, elem := range val {
			val[k] = normaliseNumbers(elem)
		}
		return val
	case []any:
		for i, elem := range val {
			val[i] = normaliseNumbers(elem)
		}
		return val
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64() //nolint:errcheck // produced by the decoder
		return f
	default:
		return v
	}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}
