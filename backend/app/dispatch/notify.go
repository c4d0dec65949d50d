package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"autojs-hub/backend/app/store"
)

type EventType string

const (
	EventTaskCreated        EventType = "task_created"
	EventTaskStatusChanged  EventType = "task_status_changed"
	EventInstructionSent    EventType = "instruction_sent"
	EventInstructionExpired EventType = "instruction_expired"
	EventScriptExecuted     EventType = "script_executed"
	EventDeviceOffline      EventType = "device_offline"
)

// Event is an outbound notification. The engine never waits on consumers.
type Event struct {
	Type          EventType `json:"type"`
	TaskID        uint      `json:"taskId,omitempty"`
	DeviceCode    string    `json:"deviceCode,omitempty"`
	InstructionID string    `json:"instructionId,omitempty"`
	Status        string    `json:"status,omitempty"`
	Message       string    `json:"message,omitempty"`
	Time          time.Time `json:"time"`
}

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) {}

// LogNotifier writes every event to the logger.
type LogNotifier struct {
	Log zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) {
	e := n.Log.Info()
	if ev.Type == EventInstructionExpired || ev.Type == EventDeviceOffline {
		e = n.Log.Warn()
	}
	e.Str("event", string(ev.Type)).
		Uint("task", ev.TaskID).
		Str("device", ev.DeviceCode).
		Str("instruction", ev.InstructionID).
		Str("status", ev.Status).
		Msg(ev.Message)
}

// RedisNotifier publishes events as JSON on store.ChannelEvents so that
// consumers in other processes can follow the engine.
type RedisNotifier struct {
	Store store.Store
	Log   zerolog.Logger
}

func (n RedisNotifier) Notify(ctx context.Context, ev Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := n.Store.Publish(ctx, store.ChannelEvents, string(b)); err != nil {
		n.Log.Warn().Err(err).Str("event", string(ev.Type)).Msg("publish event failed")
	}
}

// Broadcaster fans events out to in-process subscribers. Slow subscribers
// lose events rather than blocking the engine.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

func (b *Broadcaster) Notify(_ context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a channel of events and a function that unsubscribes and closes it.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}
