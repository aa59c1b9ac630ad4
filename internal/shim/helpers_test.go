package shim

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/gray-logic-shims/internal/device"
	"github.com/nerrad567/gray-logic-shims/internal/trigger"
)

// memSchemaRepo is an in-memory device.SchemaRepository.
type memSchemaRepo struct {
	keys  map[string][]string
	saves int
}

func (r *memSchemaRepo) Load(_ context.Context, id string) ([]string, error) {
	return r.keys[id], nil
}

func (r *memSchemaRepo) Save(_ context.Context, id string, keys []string) error {
	r.keys[id] = append([]string(nil), keys...)
	r.saves++
	return nil
}

func (r *memSchemaRepo) Delete(_ context.Context, id string) error {
	delete(r.keys, id)
	return nil
}

// fakeStore is an in-memory DeviceStore enforcing the state schema the
// way device.Registry does.
type fakeStore struct {
	mu      sync.Mutex
	devices map[string]*device.Device
	schema  *device.SchemaRegistry
	repo    *memSchemaRepo
	images  map[string]string
	writes  int
	failAll error
}

func newFakeStore(devs ...*device.Device) *fakeStore {
	repo := &memSchemaRepo{keys: make(map[string][]string)}
	s := &fakeStore{
		devices: make(map[string]*device.Device),
		schema:  device.NewSchemaRegistry(repo),
		repo:    repo,
		images:  make(map[string]string),
	}
	for _, d := range devs {
		d.Normalise()
		s.devices[d.ID] = d
	}
	return s
}

func (s *fakeStore) GetDevice(_ context.Context, id string) (*device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

func (s *fakeStore) ListByMessageType(_ context.Context, messageType string) ([]device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []device.Device
	for _, d := range s.devices {
		if d.MessageType == messageType {
			out = append(out, *d.DeepCopy())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *fakeStore) UpdateStates(ctx context.Context, id string, updates []device.StateUpdate) error {
	if s.failAll != nil {
		return s.failAll
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[id]
	if !ok {
		return device.ErrDeviceNotFound
	}
	for _, u := range updates {
		has, err := s.schema.HasState(ctx, d, u.Key)
		if err != nil {
			return err
		}
		if !has {
			return fmt.Errorf("%w: %q", device.ErrStateNotDeclared, u.Key)
		}
	}
	if d.State == nil {
		d.State = device.State{}
	}
	if d.UIState == nil {
		d.UIState = make(map[string]string)
	}
	for _, u := range updates {
		d.State[u.Key] = u.Value
		if u.UIValue != "" {
			d.UIState[u.Key] = u.UIValue
		}
	}
	s.writes++
	return nil
}

func (s *fakeStore) SetStateImage(_ context.Context, id, image string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images[id] = image
	return nil
}

func (s *fakeStore) state(id string) device.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[id].State
}

func (s *fakeStore) ui(id string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[id].UIState
}

// recordLogger keeps every log line by level.
type recordLogger struct {
	mu    sync.Mutex
	lines map[string][]string
}

func newRecordLogger() *recordLogger {
	return &recordLogger{lines: make(map[string][]string)}
}

func (l *recordLogger) add(level, msg string) {
	l.mu.Lock()
	l.lines[level] = append(l.lines[level], msg)
	l.mu.Unlock()
}

func (l *recordLogger) Debug(msg string, _ ...any) { l.add("debug", msg) }
func (l *recordLogger) Info(msg string, _ ...any)  { l.add("info", msg) }
func (l *recordLogger) Warn(msg string, _ ...any)  { l.add("warn", msg) }
func (l *recordLogger) Error(msg string, _ ...any) { l.add("error", msg) }

func (l *recordLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.lines[level])
}

// fakeFirer records fired triggers.
type fakeFirer struct {
	fired []string
}

func (f *fakeFirer) Fire(_ context.Context, t trigger.Trigger, _ string) error {
	f.fired = append(f.fired, t.ID)
	return nil
}

// fakePublisher records published messages.
type fakePublisher struct {
	topics   []string
	payloads []string
	qos      []byte
	retained []bool
	err      error
}

func (p *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.payloads = append(p.payloads, string(payload))
	p.qos = append(p.qos, qos)
	p.retained = append(p.retained, retained)
	return nil
}

// fakeFetcher serves queued messages by type.
type fakeFetcher struct {
	queues  map[string][]Message
	fetches map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{queues: make(map[string][]Message), fetches: make(map[string]int)}
}

func (f *fakeFetcher) push(m Message) {
	f.queues[m.MessageType] = append(f.queues[m.MessageType], m)
}

func (f *fakeFetcher) FetchQueued(messageType string) (Message, bool) {
	f.fetches[messageType]++
	q := f.queues[messageType]
	if len(q) == 0 {
		return Message{}, false
	}
	f.queues[messageType] = q[1:]
	return q[0], true
}

func topicSensor(id, address string) *device.Device {
	return &device.Device{
		ID:          id,
		Name:        "sensor " + id,
		Type:        device.TypeValueSensor,
		MessageType: "m1",
		Address:     address,
		Props: device.Props{
			UIDLocation:      device.LocationTopic,
			UIDTopicField:    device.IntPtr(1),
			StateLocation:    device.LocationPayload,
			StatePayloadType: device.PayloadJSON,
			StatePayloadKey:  "temp",
			SensorSubtype:    "Temperature-F",
			SensorPrecision:  device.IntPtr(1),
		},
	}
}
