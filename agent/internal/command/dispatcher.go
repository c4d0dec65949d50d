package command

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autojs-hub/agent/internal/device"
	"autojs-hub/protocol"
)

const reportTimeout = 10 * time.Second

// Manager dispatches instructions to handlers and keeps running stream handlers.
type Manager struct {
	registry *Registry
	reporter Reporter
	log      zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	active map[string]context.CancelFunc // instruction id -> stop
	wg     sync.WaitGroup
}

func NewManager(registry *Registry, reporter Reporter, log zerolog.Logger) *Manager {
	return &Manager{
		registry: registry,
		reporter: reporter,
		log:      log,
		now:      time.Now,
		active:   map[string]context.CancelFunc{},
	}
}

// Dispatch runs inst and reports its outcome. Stream handlers get an interim
// running report and continue in the background.
func (m *Manager) Dispatch(ctx context.Context, inst protocol.DeviceInstruction) {
	log := m.log.With().Str("instruction", inst.InstructionID).Str("type", string(inst.Type)).Logger()
	start := m.now()

	h, ok := m.registry.Get(inst.Type)
	if !ok {
		log.Warn().Msg("unsupported instruction")
		m.report(log, inst.InstructionID, device.Result{
			Status: protocol.StatusFailed, StartTime: start, EndTime: m.now(),
			ErrorMessage: "unsupported instruction type " + string(inst.Type),
		})
		return
	}

	if h.Kind() == KindOnce {
		res := h.Handle(ctx, inst)
		m.finish(log, inst.InstructionID, start, res)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if stop, exists := m.active[inst.InstructionID]; exists {
		stop()
	}
	m.active[inst.InstructionID] = cancel
	m.mu.Unlock()

	m.report(log, inst.InstructionID, device.Result{Status: protocol.StatusRunning, StartTime: start})
	log.Info().Msg("instruction started")

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		res := h.Handle(runCtx, inst)
		m.mu.Lock()
		delete(m.active, inst.InstructionID)
		m.mu.Unlock()
		m.finish(log, inst.InstructionID, start, res)
	}()
}

// Stop cancels the given running instructions, or all of them when ids is empty.
// It returns how many were stopped.
func (m *Manager) Stop(ids ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	if len(ids) == 0 {
		for id, stop := range m.active {
			stop()
			delete(m.active, id)
			n++
		}
		return n
	}
	for _, id := range ids {
		if stop, ok := m.active[id]; ok {
			stop()
			delete(m.active, id)
			n++
		}
	}
	return n
}

// Running returns the number of stream handlers in flight.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Wait blocks until every stream handler has reported.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) finish(log zerolog.Logger, id string, start time.Time, res device.Result) {
	if res.StartTime.IsZero() {
		res.StartTime = start
	}
	if res.EndTime.IsZero() {
		res.EndTime = m.now()
	}
	ev := log.Info()
	if res.Status != protocol.StatusSuccess {
		ev = log.Warn().Str("error", res.ErrorMessage)
	}
	ev.Str("status", res.Status).Dur("took", res.EndTime.Sub(res.StartTime)).Msg("instruction finished")
	m.report(log, id, res)
}

// report uses its own deadline so results still go out during shutdown.
func (m *Manager) report(log zerolog.Logger, id string, res device.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), reportTimeout)
	defer cancel()
	resp, err := m.reporter.Report(ctx, id, res)
	if err != nil {
		log.Error().Err(err).Str("status", res.Status).Msg("report failed")
		return
	}
	if resp.Status != protocol.ReportOK {
		log.Debug().Str("reply", resp.Status).Str("message", resp.Message).Msg("report not applied")
	}
}
