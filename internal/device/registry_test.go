package device

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device

	createErr error
	stateErr  error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{devices: make(map[string]*Device)}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[id]; ok {
		return d.DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, d *Device) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[d.ID]; exists {
		return ErrDeviceExists
	}
	m.devices[d.ID] = d.DeepCopy()
	return nil
}

func (m *MockRepository) Update(_ context.Context, d *Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.devices[d.ID]
	if !ok {
		return ErrDeviceNotFound
	}
	cpy := d.DeepCopy()
	cpy.State, cpy.UIState, cpy.StateImage = cur.State, cur.UIState, cur.StateImage
	m.devices[d.ID] = cpy
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *MockRepository) UpdateState(_ context.Context, d *Device) error {
	if m.stateErr != nil {
		return m.stateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.devices[d.ID]
	if !ok {
		return ErrDeviceNotFound
	}
	cpy := d.DeepCopy()
	cur.State, cur.UIState, cur.StateImage = cpy.State, cpy.UIState, cpy.StateImage
	return nil
}

type memorySchemaRepo struct {
	mu    sync.Mutex
	keys  map[string][]string
	loads int
}

func newMemorySchemaRepo() *memorySchemaRepo {
	return &memorySchemaRepo{keys: make(map[string][]string)}
}

func (m *memorySchemaRepo) Load(_ context.Context, id string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	return m.keys[id], nil
}

func (m *memorySchemaRepo) Save(_ context.Context, id string, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[id] = keys
	return nil
}

func (m *memorySchemaRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, id)
	return nil
}

type recordingHistory struct {
	mu      sync.Mutex
	entries [][]StateUpdate
	forgot  []string
}

func (h *recordingHistory) RecordStateChange(_ context.Context, _ string, updates []StateUpdate) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, updates)
	return nil
}

func (h *recordingHistory) GetHistory(context.Context, string, HistoryQuery) ([]StateHistoryEntry, error) {
	return nil, nil
}

func (h *recordingHistory) ForgetDevice(_ context.Context, id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forgot = append(h.forgot, id)
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *MockRepository) {
	t.Helper()
	repo := NewMockRepository()
	return NewRegistry(repo, NewSchemaRegistry(newMemorySchemaRepo())), repo
}

func TestRegistryCreateAndGet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	d := sampleDevice("")
	if err := reg.CreateDevice(ctx, d); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	if d.ID == "" {
		t.Fatal("CreateDevice() did not generate an ID")
	}

	got, err := reg.GetDevice(ctx, d.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	got.Name = "mutated"
	again, _ := reg.GetDevice(ctx, d.ID) //nolint:errcheck // found above
	if again.Name == "mutated" {
		t.Error("GetDevice() returned the cached instance")
	}

	if _, err := reg.GetDevice(ctx, "nope"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice(nope) error = %v, want ErrDeviceNotFound", err)
	}

	bad := sampleDevice("bad")
	bad.Type = "Toaster"
	if err := reg.CreateDevice(ctx, bad); !errors.Is(err, ErrInvalidDeviceType) {
		t.Errorf("CreateDevice(bad type) error = %v, want ErrInvalidDeviceType", err)
	}
}

func TestRegistryColorAlwaysSupportsColor(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	d := &Device{ID: "c", Name: "Lamp", Type: TypeColor, MessageType: "hue"}
	if err := reg.CreateDevice(ctx, d); err != nil {
		t.Fatalf("CreateDevice() error = %v", err)
	}
	got, _ := reg.GetDevice(ctx, "c") //nolint:errcheck // created above
	if !got.Props.SupportsColor {
		t.Error("Color device SupportsColor = false")
	}
}

func TestRegistryCreateDeviceIfNotExists(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.CreateDeviceIfNotExists(ctx, sampleDevice("a"))
	if err != nil || !created {
		t.Fatalf("first call = %v, %v, want true", created, err)
	}
	created, err = reg.CreateDeviceIfNotExists(ctx, sampleDevice("a"))
	if err != nil || created {
		t.Errorf("same id = %v, %v, want false", created, err)
	}

	unnamed := sampleDevice("")
	unnamed.Name = "Hall Sensor a"
	created, err = reg.CreateDeviceIfNotExists(ctx, unnamed)
	if err != nil || created {
		t.Errorf("same name = %v, %v, want false", created, err)
	}
}

func TestRegistryListByMessageType(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a"} {
		if err := reg.CreateDevice(ctx, sampleDevice(id)); err != nil {
			t.Fatal(err)
		}
	}
	other := sampleDevice("z")
	other.MessageType = "zigbee"
	if err := reg.CreateDevice(ctx, other); err != nil {
		t.Fatal(err)
	}

	got, _ := reg.ListByMessageType(ctx, "weather") //nolint:errcheck // never fails
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Errorf("ListByMessageType(weather) = %v", got)
	}
	if got, _ := reg.ListByMessageType(ctx, "none"); len(got) != 0 { //nolint:errcheck // never fails
		t.Errorf("ListByMessageType(none) = %v", got)
	}
	if types := reg.MessageTypes(); len(types) != 2 || types[0] != "weather" || types[1] != "zigbee" {
		t.Errorf("MessageTypes() = %v", types)
	}

	stats := reg.GetStats()
	if stats.Total != 3 || stats.ByType[TypeValueSensor] != 3 {
		t.Errorf("GetStats() = %+v", stats)
	}
}

func TestRegistryUpdateStatesRequiresDeclaredKeys(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	history := &recordingHistory{}
	reg.SetHistory(history)

	var notified []StateUpdate
	reg.OnStateChange(func(_ *Device, updates []StateUpdate) {
		notified = append(notified, updates...)
	})

	d := sampleDevice("a")
	if err := reg.CreateDevice(ctx, d); err != nil {
		t.Fatal(err)
	}

	err := reg.UpdateStates(ctx, "a", []StateUpdate{
		{Key: StateSensorValue, Value: 21.5, UIValue: "21.5 °C"},
		{Key: "humidity", Value: int64(40)},
	})
	if !errors.Is(err, ErrStateNotDeclared) {
		t.Fatalf("UpdateStates(undeclared) error = %v, want ErrStateNotDeclared", err)
	}
	if st, _ := reg.States(ctx, "a"); len(st) != 0 { //nolint:errcheck // device exists
		t.Errorf("partial write happened: %v", st)
	}

	if err := reg.Schema().Redeclare(ctx, "a", []string{"humidity"}); err != nil {
		t.Fatal(err)
	}
	err = reg.UpdateStates(ctx, "a", []StateUpdate{
		{Key: StateSensorValue, Value: 21.5, UIValue: "21.5 °C"},
		{Key: "humidity", Value: int64(40)},
	})
	if err != nil {
		t.Fatalf("UpdateStates() error = %v", err)
	}

	got, _ := reg.GetDevice(ctx, "a") //nolint:errcheck // device exists
	if got.State[StateSensorValue] != 21.5 || got.State["humidity"] != int64(40) {
		t.Errorf("State = %v", got.State)
	}
	if got.UIState[StateSensorValue] != "21.5 °C" {
		t.Errorf("UIState = %v", got.UIState)
	}
	if got.StateUpdatedAt == nil {
		t.Error("StateUpdatedAt not set")
	}
	if len(notified) != 2 {
		t.Errorf("state listener saw %d updates, want 2", len(notified))
	}
	if len(history.entries) != 1 || len(history.entries[0]) != 2 {
		t.Errorf("history entries = %v, want one entry with both writes", history.entries)
	}

	if err := reg.DeleteDevice(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if len(history.forgot) != 1 || history.forgot[0] != "a" {
		t.Errorf("history forgot = %v, want [a]", history.forgot)
	}
}

func TestRegistryUpdateStatesStoreFailure(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()
	if err := reg.CreateDevice(ctx, sampleDevice("a")); err != nil {
		t.Fatal(err)
	}

	repo.stateErr = errors.New("disk full")
	err := reg.UpdateStates(ctx, "a", []StateUpdate{{Key: StateSensorValue, Value: 1.0}})
	if err == nil {
		t.Fatal("UpdateStates() error = nil, want store failure")
	}
	if st, _ := reg.States(ctx, "a"); len(st) != 0 { //nolint:errcheck // device exists
		t.Errorf("cache updated despite store failure: %v", st)
	}
}

func TestRegistryUpdateKeepsStateAndNotifies(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	var changes [][2]*Device
	reg.OnChange(func(old, updated *Device) {
		changes = append(changes, [2]*Device{old, updated})
	})

	d := sampleDevice("a")
	if err := reg.CreateDevice(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := reg.UpdateStates(ctx, "a", []StateUpdate{{Key: StateSensorValue, Value: 3.0}}); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetStateImage(ctx, "a", "TemperatureSensorOn"); err != nil {
		t.Fatal(err)
	}

	edited := sampleDevice("a")
	edited.Props.CustomDecoder = "Expand"
	if err := reg.UpdateDevice(ctx, edited); err != nil {
		t.Fatalf("UpdateDevice() error = %v", err)
	}

	got, _ := reg.GetDevice(ctx, "a") //nolint:errcheck // device exists
	if got.State[StateSensorValue] != 3.0 || got.StateImage != "TemperatureSensorOn" {
		t.Errorf("state lost on update: %v %q", got.State, got.StateImage)
	}
	if got.Props.CustomDecoder != "Expand" {
		t.Errorf("CustomDecoder = %q", got.Props.CustomDecoder)
	}

	if err := reg.DeleteDevice(ctx, "a"); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	if len(changes) != 3 {
		t.Fatalf("change notifications = %d, want 3", len(changes))
	}
	if changes[0][0] != nil || changes[0][1] == nil {
		t.Error("create notification should have nil old")
	}
	if changes[1][0].Props.CustomDecoder != "" || changes[1][1].Props.CustomDecoder != "Expand" {
		t.Error("update notification should carry old and new props")
	}
	if changes[2][1] != nil {
		t.Error("delete notification should have nil updated")
	}
}

func TestRegistryRefreshCache(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	repo.devices["x"] = sampleDevice("x")
	if err := reg.RefreshCache(ctx); err != nil {
		t.Fatalf("RefreshCache() error = %v", err)
	}
	devices, err := reg.ListDevices(ctx)
	if err != nil || len(devices) != 1 || devices[0].ID != "x" {
		t.Errorf("ListDevices() = %v, %v", devices, err)
	}
}

func TestSchemaRegistry(t *testing.T) {
	repo := newMemorySchemaRepo()
	schema := NewSchemaRegistry(repo)
	ctx := context.Background()

	d := &Device{ID: "d", Type: TypeDimmer, Props: Props{SupportsBatteryLevel: true}}
	for _, key := range []string{StateOnOff, StateBrightness, StateBattery} {
		if ok, _ := schema.HasState(ctx, d, key); !ok { //nolint:errcheck // memory repo
			t.Errorf("HasState(%s) = false, want true", key)
		}
	}
	if ok, _ := schema.HasState(ctx, d, "extra"); ok { //nolint:errcheck // memory repo
		t.Error("HasState(extra) = true before declaring")
	}

	if err := schema.Redeclare(ctx, "d", []string{"extra"}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := schema.HasState(ctx, d, "extra"); !ok { //nolint:errcheck // memory repo
		t.Error("HasState(extra) = false after declaring")
	}

	all, _ := schema.AllKeys(ctx, d) //nolint:errcheck // memory repo
	if len(all) != 4 || all[3] != "extra" {
		t.Errorf("AllKeys() = %v", all)
	}

	loads := repo.loads
	_, _ = schema.DeclaredKeys(ctx, "d") //nolint:errcheck // memory repo
	if repo.loads != loads {
		t.Error("DeclaredKeys() bypassed the cache")
	}

	if err := schema.Forget(ctx, "d"); err != nil {
		t.Fatal(err)
	}
	if keys, _ := schema.DeclaredKeys(ctx, "d"); len(keys) != 0 { //nolint:errcheck // memory repo
		t.Errorf("DeclaredKeys(after Forget) = %v", keys)
	}
}

func TestBaseKeys(t *testing.T) {
	tests := []struct {
		name string
		dev  Device
		want []string
	}{
		{"relay", Device{Type: TypeRelay}, []string{StateOnOff}},
		{"sensor", Device{Type: TypeOnOffSensor}, []string{StateOnOff}},
		{"dimmer", Device{Type: TypeDimmer}, []string{StateOnOff, StateBrightness}},
		{"color", Device{Type: TypeColor}, []string{StateOnOff, StateBrightness, StateRed, StateGreen, StateBlue, StateWhiteTemperature}},
		{"value", Device{Type: TypeValueSensor, Props: Props{SupportsEnergyMeter: true}}, []string{StateSensorValue, StateEnergyTotal}},
		{"generic", Device{Type: TypeGeneric}, nil},
		{"generic battery", Device{Type: TypeGeneric, Props: Props{SupportsBatteryLevel: true, SupportsEnergyMeter: true, SupportsEnergyMeterCurPower: true}}, []string{StateBattery}},
		{"relay power", Device{Type: TypeRelay, Props: Props{SupportsEnergyMeterCurPower: true}}, []string{StateOnOff, StateCurrentPower}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BaseKeys(&tt.dev)
			if len(got) != len(tt.want) {
				t.Fatalf("BaseKeys() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("BaseKeys()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestDeepCopy(t *testing.T) {
	d := sampleDevice("a")
	d.State = State{"nested": map[string]any{"k": []any{1.0}}}
	d.UIState = map[string]string{"k": "v"}

	cpy := d.DeepCopy()
	*cpy.Props.UIDTopicField = 9
	cpy.State["nested"].(map[string]any)["k"].([]any)[0] = 2.0
	cpy.UIState["k"] = "changed"

	if *d.Props.UIDTopicField != 1 {
		t.Error("DeepCopy shares Props pointers")
	}
	if d.State["nested"].(map[string]any)["k"].([]any)[0] != 1.0 {
		t.Error("DeepCopy shares nested state")
	}
	if d.UIState["k"] != "v" {
		t.Error("DeepCopy shares UIState")
	}
	if (*Device)(nil).DeepCopy() != nil {
		t.Error("DeepCopy(nil) != nil")
	}
}
