// Package dispatch delivers instructions to Auto.js devices that can only
// reach the server by polling. Devices long-poll a heartbeat endpoint to
// receive queued instructions and report execution results; tasks fan out
// into one instruction per target device and roll up from the results.
//
// All transient state lives in a store.Store. Durable task and execution
// state is reached through the collaborator interfaces in collaborators.go.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"autojs-hub/backend/app/metrics"
	"autojs-hub/backend/app/store"
)

type Config struct {
	// MaxInstructionsPerPoll caps instructions returned by one heartbeat.
	MaxInstructionsPerPoll int
	DefaultPollTimeout     time.Duration
	MaxPollTimeout         time.Duration
	TimestampWindow        time.Duration

	PromoteInterval      time.Duration
	OfflineCheckInterval time.Duration
	ReapInterval         time.Duration
	// WorkerIdle is how long a dispatch worker sleeps when global_task_queue is empty.
	WorkerIdle time.Duration
	Workers    int
	// GroupHistory caps the per-group task id history list.
	GroupHistory int64
	// PollIntervalHint is sent to devices in the heartbeat config block.
	PollIntervalHint time.Duration
	// StalePending is how long a task may sit PENDING before the promote
	// loop dispatches it directly instead of waiting for global_task_queue.
	StalePending time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxInstructionsPerPoll: 10,
		DefaultPollTimeout:     30 * time.Second,
		MaxPollTimeout:         60 * time.Second,
		TimestampWindow:        DefaultTimestampWindow,
		PromoteInterval:        5 * time.Second,
		OfflineCheckInterval:   30 * time.Second,
		ReapInterval:           60 * time.Second,
		WorkerIdle:             time.Second,
		Workers:                2,
		GroupHistory:           100,
		PollIntervalHint:       5 * time.Second,
		StalePending:           2 * time.Minute,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxInstructionsPerPoll <= 0 {
		c.MaxInstructionsPerPoll = d.MaxInstructionsPerPoll
	}
	if c.DefaultPollTimeout <= 0 {
		c.DefaultPollTimeout = d.DefaultPollTimeout
	}
	if c.MaxPollTimeout <= 0 {
		c.MaxPollTimeout = d.MaxPollTimeout
	}
	if c.TimestampWindow <= 0 {
		c.TimestampWindow = d.TimestampWindow
	}
	if c.PromoteInterval <= 0 {
		c.PromoteInterval = d.PromoteInterval
	}
	if c.OfflineCheckInterval <= 0 {
		c.OfflineCheckInterval = d.OfflineCheckInterval
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = d.ReapInterval
	}
	if c.WorkerIdle <= 0 {
		c.WorkerIdle = d.WorkerIdle
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.GroupHistory <= 0 {
		c.GroupHistory = d.GroupHistory
	}
	if c.PollIntervalHint <= 0 {
		c.PollIntervalHint = d.PollIntervalHint
	}
	if c.StalePending <= 0 {
		c.StalePending = d.StalePending
	}
	return c
}

// Deps are the collaborators of the engine. Notifier, Metrics and Now are optional.
type Deps struct {
	Store      store.Store
	Devices    DeviceRegistry
	Scripts    ScriptRepository
	Tasks      TaskStore
	Executions ExecutionStore
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Logger     zerolog.Logger
	Now        func() time.Time
}

type Engine struct {
	cfg      Config
	store    store.Store
	devices  DeviceRegistry
	scripts  ScriptRepository
	tasks    TaskStore
	execs    ExecutionStore
	notifier Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	Queue    *Queue
	Liveness *Liveness
}

func New(cfg Config, deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("dispatch: store is required")
	}
	if deps.Devices == nil || deps.Scripts == nil || deps.Tasks == nil || deps.Executions == nil {
		return nil, errors.New("dispatch: device, script, task and execution collaborators are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	log := deps.Logger.With().Str("component", "dispatch").Logger()
	e := &Engine{
		cfg:      cfg.withDefaults(),
		store:    deps.Store,
		devices:  deps.Devices,
		scripts:  deps.Scripts,
		tasks:    deps.Tasks,
		execs:    deps.Executions,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		log:      log,
		now:      deps.Now,
	}
	e.Queue = &Queue{
		store:    deps.Store,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		log:      log,
		now:      deps.Now,
	}
	e.Liveness = &Liveness{store: deps.Store, now: deps.Now}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// Notify publishes an event raised outside the engine, such as task creation.
func (e *Engine) Notify(ctx context.Context, ev Event) { e.notify(ctx, ev) }

func (e *Engine) notify(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = e.now()
	}
	e.notifier.Notify(ctx, ev)
}
