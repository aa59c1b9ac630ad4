package trigger

import (
	"sort"
	"sync"
)

// Logger defines the logging interface used by the Registry and Firer.
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

// Registry holds the triggers currently being processed, indexed by device.
//
// All public methods are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]Trigger
	byDevice map[string][]string
	logger   Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]Trigger),
		byDevice: make(map[string][]string),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// StartProcessing adds t. It returns ErrTriggerExists if the ID is taken.
func (r *Registry) StartProcessing(t Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[t.ID]; ok {
		return ErrTriggerExists
	}
	r.byID[t.ID] = t
	r.byDevice[t.DeviceID] = append(r.byDevice[t.DeviceID], t.ID)

	r.logger.Debug("trigger added", "id", t.ID, "kind", t.Kind, "device_id", t.DeviceID)
	return nil
}

// StopProcessing removes a trigger.
func (r *Registry) StopProcessing(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return ErrTriggerNotFound
	}
	delete(r.byID, id)

	ids := r.byDevice[t.DeviceID]
	for i, other := range ids {
		if other == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(ids) == 0 {
		delete(r.byDevice, t.DeviceID)
	} else {
		r.byDevice[t.DeviceID] = ids
	}

	r.logger.Debug("trigger removed", "id", id)
	return nil
}

// StopDevice removes every trigger bound to deviceID and returns how many.
func (r *Registry) StopDevice(deviceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := r.byDevice[deviceID]
	for _, id := range ids {
		delete(r.byID, id)
	}
	delete(r.byDevice, deviceID)
	return len(ids)
}

// Get returns a trigger by ID.
func (r *Registry) Get(id string) (Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.byID[id]
	if !ok {
		return Trigger{}, ErrTriggerNotFound
	}
	return t, nil
}

// ForDevice returns the triggers bound to deviceID in the order they were added.
func (r *Registry) ForDevice(deviceID string) []Trigger {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byDevice[deviceID]
	out := make([]Trigger, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.byID[id])
	}
	return out
}

// List returns all triggers sorted by name, then ID.
func (r *Registry) List() []Trigger {
	r.mu.RLock()
	out := make([]Trigger, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of triggers.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
