package device

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// ChangeFunc is called after a device is created, updated or deleted.
// old is nil on create; updated is nil on delete.
type ChangeFunc func(old, updated *Device)

// StateFunc is called after state values are written for a device.
type StateFunc func(d *Device, updates []StateUpdate)

// Stats summarises the registry contents.
type Stats struct {
	Total  int          `json:"total"`
	ByType map[Type]int `json:"by_type"`
}

// Registry provides device management with caching and thread safety.
// It wraps a Repository, adds an in-memory cache, and enforces the state
// schema on every state write.
//
// All public methods are thread-safe.
type Registry struct {
	repo    Repository
	schema  *SchemaRegistry
	history StateHistoryRepository

	cache   map[string]*Device
	cacheMu sync.RWMutex

	// writeMu serialises read-modify-write of device state.
	writeMu sync.Mutex

	listenersMu sync.RWMutex
	changeFuncs []ChangeFunc
	stateFuncs  []StateFunc

	logger Logger
}

// NewRegistry creates a device registry. schema decides which state keys
// each device may hold.
func NewRegistry(repo Repository, schema *SchemaRegistry) *Registry {
	return &Registry{
		repo:   repo,
		schema: schema,
		cache:  make(map[string]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetHistory enables recording a state snapshot after every state write.
func (r *Registry) SetHistory(h StateHistoryRepository) {
	r.history = h
}

// Schema returns the schema registry used to check state writes.
func (r *Registry) Schema() *SchemaRegistry {
	return r.schema
}

// OnChange registers fn to be called after device configuration changes.
func (r *Registry) OnChange(fn ChangeFunc) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.changeFuncs = append(r.changeFuncs, fn)
}

// OnStateChange registers fn to be called after state writes.
func (r *Registry) OnStateChange(fn StateFunc) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	r.stateFuncs = append(r.stateFuncs, fn)
}

// RefreshCache reloads all devices from the repository into the cache.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i].DeepCopy()
		d.Normalise()
		r.cache[d.ID] = d
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// GetDevice retrieves a device by ID.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.DeepCopy(), nil
	}

	d, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Normalise()

	r.cacheMu.Lock()
	r.cache[id] = d.DeepCopy()
	r.cacheMu.Unlock()
	return d, nil
}

// ListDevices returns all devices ordered by name.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	n := len(r.cache)
	r.cacheMu.RUnlock()

	if n == 0 {
		if err := r.RefreshCache(ctx); err != nil {
			return nil, err
		}
	}
	return r.filter(func(*Device) bool { return true }), nil
}

// ListByMessageType returns the devices that consume messageType, ordered
// by name.
func (r *Registry) ListByMessageType(_ context.Context, messageType string) ([]Device, error) {
	return r.filter(func(d *Device) bool { return d.MessageType == messageType }), nil
}

// MessageTypes returns the distinct message types wanted by any device.
func (r *Registry) MessageTypes() []string {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, d := range r.cache {
		if _, ok := seen[d.MessageType]; ok {
			continue
		}
		seen[d.MessageType] = struct{}{}
		out = append(out, d.MessageType)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) filter(keep func(*Device) bool) []Device {
	r.cacheMu.RLock()
	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		if keep(d) {
			devices = append(devices, *d.DeepCopy())
		}
	}
	r.cacheMu.RUnlock()

	sort.Slice(devices, func(i, j int) bool {
		if devices[i].Name != devices[j].Name {
			return devices[i].Name < devices[j].Name
		}
		return devices[i].ID < devices[j].ID
	})
	return devices
}

// CreateDevice validates and stores a new device. An empty ID is
// generated.
func (r *Registry) CreateDevice(ctx context.Context, d *Device) error {
	if d.ID == "" {
		d.ID = GenerateID()
	}
	d.Normalise()
	if err := ValidateDevice(d); err != nil {
		return err
	}

	if err := r.repo.Create(ctx, d); err != nil {
		return fmt.Errorf("creating device: %w", err)
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()

	r.logger.Info("device created", "id", d.ID, "name", d.Name, "type", d.Type)
	r.notifyChange(nil, d.DeepCopy())
	return nil
}

// CreateDeviceIfNotExists creates d unless a device with the same ID, or
// with the same name when d has no ID, already exists. It reports whether
// the device was created.
func (r *Registry) CreateDeviceIfNotExists(ctx context.Context, d *Device) (bool, error) {
	if d.ID != "" {
		_, err := r.GetDevice(ctx, d.ID)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, ErrDeviceNotFound) {
			return false, err
		}
	} else {
		named := r.filter(func(c *Device) bool { return c.Name == d.Name })
		if len(named) > 0 {
			return false, nil
		}
	}

	if err := r.CreateDevice(ctx, d); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateDevice replaces a device's configuration. State values are kept.
func (r *Registry) UpdateDevice(ctx context.Context, d *Device) error {
	old, err := r.GetDevice(ctx, d.ID)
	if err != nil {
		return err
	}
	d.Normalise()
	if err := ValidateDevice(d); err != nil {
		return err
	}

	r.writeMu.Lock()
	if err := r.repo.Update(ctx, d); err != nil {
		r.writeMu.Unlock()
		return fmt.Errorf("updating device: %w", err)
	}

	r.cacheMu.Lock()
	if cur, ok := r.cache[d.ID]; ok {
		d.State = State(deepCopyMap(cur.State))
		d.UIState = cur.DeepCopy().UIState
		d.StateImage = cur.StateImage
		d.StateUpdatedAt = cur.StateUpdatedAt
		d.CreatedAt = cur.CreatedAt
	}
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()
	r.writeMu.Unlock()

	r.logger.Info("device updated", "id", d.ID, "name", d.Name)
	r.notifyChange(old, d.DeepCopy())
	return nil
}

// DeleteDevice removes a device and its state schema.
func (r *Registry) DeleteDevice(ctx context.Context, id string) error {
	old, err := r.GetDevice(ctx, id)
	if err != nil {
		return err
	}

	if err := r.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	if err := r.schema.Forget(ctx, id); err != nil {
		r.logger.Warn("removing state schema failed", "id", id, "error", err)
	}
	if f, ok := r.history.(interface {
		ForgetDevice(ctx context.Context, deviceID string) error
	}); ok {
		if err := f.ForgetDevice(ctx, id); err != nil {
			r.logger.Warn("removing state history failed", "id", id, "error", err)
		}
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.logger.Info("device deleted", "id", id)
	r.notifyChange(old, nil)
	return nil
}

// UpdateStates writes state values for a device.
//
// Every key must be a base key or declared in the schema registry; if any
// key is not, nothing is written and the error wraps ErrStateNotDeclared.
func (r *Registry) UpdateStates(ctx context.Context, id string, updates []StateUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	r.writeMu.Lock()
	d, err := r.GetDevice(ctx, id)
	if err != nil {
		r.writeMu.Unlock()
		return err
	}

	for _, u := range updates {
		ok, err := r.schema.HasState(ctx, d, u.Key)
		if err != nil {
			r.writeMu.Unlock()
			return err
		}
		if !ok {
			r.writeMu.Unlock()
			return fmt.Errorf("%w: %q on device %s", ErrStateNotDeclared, u.Key, id)
		}
	}

	if d.State == nil {
		d.State = State{}
	}
	if d.UIState == nil {
		d.UIState = make(map[string]string)
	}
	for _, u := range updates {
		d.State[u.Key] = u.Value
		if u.UIValue != "" {
			d.UIState[u.Key] = u.UIValue
		} else {
			delete(d.UIState, u.Key)
		}
	}

	if err := r.persistState(ctx, d); err != nil {
		r.writeMu.Unlock()
		return err
	}
	r.writeMu.Unlock()

	if r.history != nil {
		if err := r.history.RecordStateChange(ctx, id, updates); err != nil {
			r.logger.Warn("recording state history failed", "id", id, "error", err)
		}
	}

	r.notifyState(d, updates)
	return nil
}

// SetStateImage sets the icon shown for the device's current state.
func (r *Registry) SetStateImage(ctx context.Context, id, image string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	d, err := r.GetDevice(ctx, id)
	if err != nil {
		return err
	}
	if d.StateImage == image {
		return nil
	}
	d.StateImage = image
	return r.persistState(ctx, d)
}

// States returns a copy of the device's current state values.
func (r *Registry) States(ctx context.Context, id string) (State, error) {
	d, err := r.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.State == nil {
		return State{}, nil
	}
	return d.State, nil
}

// GetStats returns device counts by type.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	s := Stats{Total: len(r.cache), ByType: make(map[Type]int)}
	for _, d := range r.cache {
		s.ByType[d.Type]++
	}
	return s
}

// persistState must be called with writeMu held.
func (r *Registry) persistState(ctx context.Context, d *Device) error {
	now := time.Now().UTC()
	d.StateUpdatedAt = &now
	if err := r.repo.UpdateState(ctx, d); err != nil {
		return fmt.Errorf("storing state: %w", err)
	}

	r.cacheMu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.cacheMu.Unlock()
	return nil
}

func (r *Registry) notifyChange(old, updated *Device) {
	r.listenersMu.RLock()
	funcs := append([]ChangeFunc(nil), r.changeFuncs...)
	r.listenersMu.RUnlock()
	for _, fn := range funcs {
		fn(old, updated)
	}
}

func (r *Registry) notifyState(d *Device, updates []StateUpdate) {
	r.listenersMu.RLock()
	funcs := append([]StateFunc(nil), r.stateFuncs...)
	r.listenersMu.RUnlock()
	for _, fn := range funcs {
		fn(d.DeepCopy(), updates)
	}
}
