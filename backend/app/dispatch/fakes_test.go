package dispatch

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"autojs-hub/backend/app/metrics"
	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/store"
	"autojs-hub/protocol"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeDevices struct {
	mu      sync.Mutex
	devices map[string]models.Device
	touched map[string]string
	// listErr fails the next ListAll once.
	listErr error
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{devices: map[string]models.Device{}, touched: map[string]string{}}
}

func (f *fakeDevices) FindByCode(_ context.Context, code string) (*models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[code]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (f *fakeDevices) FindByCodes(_ context.Context, codes []string) ([]models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Device
	for _, c := range codes {
		if d, ok := f.devices[c]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDevices) ListAll(_ context.Context) ([]models.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr; err != nil {
		f.listErr = nil
		return nil, err
	}
	out := make([]models.Device, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (f *fakeDevices) ListByGroup(ctx context.Context, group string) ([]models.Device, error) {
	all, err := f.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []models.Device
	for _, d := range all {
		if d.GroupID == group {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeDevices) Touch(_ context.Context, code, version string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[code] = version
	return nil
}

type fakeScripts struct {
	scripts map[uint]models.Script
}

func (f *fakeScripts) FindByID(_ context.Context, id uint) (*models.Script, error) {
	s, ok := f.scripts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

type fakeTasks struct {
	mu    sync.Mutex
	tasks map[uint]*models.Task
	next  uint
	now   func() time.Time
}

func newFakeTasks(now func() time.Time) *fakeTasks {
	return &fakeTasks{tasks: map[uint]*models.Task{}, now: now}
}

func (f *fakeTasks) create(t models.Task) *models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	t.ID = f.next
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	t.UpdatedAt = f.now()
	cp := t
	f.tasks[t.ID] = &cp
	return &t
}

func (f *fakeTasks) get(id uint) models.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.tasks[id]
}

func (f *fakeTasks) FindByID(_ context.Context, id uint) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTasks) CompareAndSetStatus(_ context.Context, id uint, from []models.TaskStatus, to models.TaskStatus, lastError string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || !statusIn(t.Status, from) {
		return false, nil
	}
	t.Status = to
	t.LastError = lastError
	t.UpdatedAt = f.now()
	return true, nil
}

func (f *fakeTasks) StartOccurrence(_ context.Context, id uint, from []models.TaskStatus) (*models.Task, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || !statusIn(t.Status, from) {
		return nil, false, nil
	}
	t.Status = models.TaskRunning
	t.Occurrence++
	t.NextRunAt = nil
	t.RetryCount = 0
	t.LastError = ""
	t.UpdatedAt = f.now()
	cp := *t
	return &cp, true, nil
}

func (f *fakeTasks) ScheduleNext(_ context.Context, id uint, from []models.TaskStatus, next time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || !statusIn(t.Status, from) {
		return false, nil
	}
	t.Status = models.TaskStatusScheduled
	t.NextRunAt = &next
	t.UpdatedAt = f.now()
	return true, nil
}

func (f *fakeTasks) IncrementRetry(_ context.Context, id uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.RetryCount >= t.MaxRetries {
		return false, nil
	}
	t.RetryCount++
	return true, nil
}

func (f *fakeTasks) ListDue(_ context.Context, now time.Time) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, t := range f.tasks {
		if t.Status == models.TaskStatusScheduled && t.NextRunAt != nil && !t.NextRunAt.After(now) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTasks) ListStalePending(_ context.Context, before time.Time) ([]models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, t := range f.tasks {
		if t.Status == models.TaskPending && !t.UpdatedAt.After(before) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeExecs struct {
	mu    sync.Mutex
	recs  map[string]*models.ScriptExecutionRecord
	order []string
}

func newFakeExecs() *fakeExecs { return &fakeExecs{recs: map[string]*models.ScriptExecutionRecord{}} }

func (f *fakeExecs) Create(_ context.Context, rec *models.ScriptExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = uint(len(f.order) + 1)
	cp := *rec
	f.recs[rec.InstructionID] = &cp
	f.order = append(f.order, rec.InstructionID)
	return nil
}

func (f *fakeExecs) Save(_ context.Context, rec *models.ScriptExecutionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *rec
	f.recs[rec.InstructionID] = &cp
	return nil
}

func (f *fakeExecs) FindByInstructionID(_ context.Context, id string) (*models.ScriptExecutionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeExecs) filter(keep func(*models.ScriptExecutionRecord) bool) []models.ScriptExecutionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ScriptExecutionRecord
	for _, id := range f.order {
		if r := f.recs[id]; keep(r) {
			out = append(out, *r)
		}
	}
	return out
}

func (f *fakeExecs) ListByTaskOccurrence(_ context.Context, taskID uint, occurrence int) ([]models.ScriptExecutionRecord, error) {
	return f.filter(func(r *models.ScriptExecutionRecord) bool {
		return r.TaskID == taskID && r.Occurrence == occurrence
	}), nil
}

func (f *fakeExecs) ListActive(_ context.Context) ([]models.ScriptExecutionRecord, error) {
	return f.filter(func(r *models.ScriptExecutionRecord) bool {
		return r.DeliveredAt != nil && !r.Status.IsTerminal()
	}), nil
}

func (f *fakeExecs) ListUndeliveredExpired(_ context.Context, now time.Time) ([]models.ScriptExecutionRecord, error) {
	return f.filter(func(r *models.ScriptExecutionRecord) bool {
		return r.Status == models.ExecPending && r.DeliveredAt == nil && r.ExpiresAt.Before(now)
	}), nil
}

func (f *fakeExecs) forTask(taskID uint) []models.ScriptExecutionRecord {
	return f.filter(func(r *models.ScriptExecutionRecord) bool { return r.TaskID == taskID })
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recordingNotifier) ofType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	t       *testing.T
	clock   *fakeClock
	store   *store.MemoryStore
	devices *fakeDevices
	scripts *fakeScripts
	tasks   *fakeTasks
	execs   *fakeExecs
	events  *recordingNotifier
	metrics *metrics.Metrics
	engine  *Engine
}

// flakyStore fails the PopN call numbered failPopAt (1-based) with ErrUnavailable.
type flakyStore struct {
	store.Store
	mu        sync.Mutex
	pops      int
	failPopAt int
}

func (f *flakyStore) PopN(ctx context.Context, key string, n int) ([]string, error) {
	f.mu.Lock()
	f.pops++
	fail := f.pops == f.failPopAt
	f.mu.Unlock()
	if fail {
		return nil, store.ErrUnavailable
	}
	return f.Store.PopN(ctx, key, n)
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, Config{}, nil)
}

// newHarnessWith builds a harness whose engine sees the memory store through wrap.
func newHarnessWith(t *testing.T, cfg Config, wrap func(store.Store) store.Store) *harness {
	t.Helper()
	clock := &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
	st := store.NewMemoryStore()
	st.Now = clock.Now
	var engineStore store.Store = st
	if wrap != nil {
		engineStore = wrap(st)
	}
	h := &harness{
		t:       t,
		clock:   clock,
		store:   st,
		devices: newFakeDevices(),
		scripts: &fakeScripts{scripts: map[uint]models.Script{
			1: {ID: 1, Name: "daily-checkin", Content: "toast('hi')", Timeout: 120},
		}},
		tasks:   newFakeTasks(clock.Now),
		execs:   newFakeExecs(),
		events:  &recordingNotifier{},
		metrics: metrics.New(),
	}
	e, err := New(cfg, Deps{
		Store:      engineStore,
		Devices:    h.devices,
		Scripts:    h.scripts,
		Tasks:      h.tasks,
		Executions: h.execs,
		Notifier:   h.events,
		Metrics:    h.metrics,
		Logger:     zerolog.Nop(),
		Now:        clock.Now,
	})
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) addDevice(code, cert, group string) {
	h.devices.mu.Lock()
	h.devices.devices[code] = models.Device{Code: code, Certificate: cert, GroupID: group}
	h.devices.mu.Unlock()
}

// heartbeat sends a correctly signed poll. With nothing queued it waits for wait.
func (h *harness) heartbeat(code, cert string, wait time.Duration) (*HeartbeatResponse, error) {
	ts := h.clock.Now().UnixMilli()
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return h.engine.Heartbeat(ctx, HeartbeatRequest{
		DeviceCode:  code,
		Signature:   protocol.SignHeartbeat(code, ts, cert),
		Timestamp:   ts,
		PollTimeout: 1,
	})
}

func (h *harness) report(code, cert, instID, status string, start, end time.Time) (*ReportResponse, error) {
	ts := h.clock.Now().UnixMilli()
	return h.engine.Report(context.Background(), ReportRequest{
		DeviceCode:    code,
		Signature:     protocol.SignReport(code, instID, ts, cert),
		Timestamp:     ts,
		InstructionID: instID,
		Status:        status,
		StartTime:     start.UnixMilli(),
		EndTime:       end.UnixMilli(),
	})
}

func (h *harness) statusKey(instID string) string {
	v, err := h.store.Get(context.Background(), store.InstructionStatusKey(instID))
	if err != nil {
		return ""
	}
	return v
}

// deliverAll polls every device once and returns instruction ids per device.
func (h *harness) deliverAll(certs map[string]string) map[string][]DeviceInstruction {
	out := map[string][]DeviceInstruction{}
	for code, cert := range certs {
		resp, err := h.heartbeat(code, cert, 20*time.Millisecond)
		require.NoError(h.t, err)
		out[code] = resp.Instructions
	}
	return out
}
