// Package command runs hub instructions on the simulated device.
package command

import (
	"context"
	"sync"

	"autojs-hub/agent/internal/device"
	"autojs-hub/protocol"
)

type Kind string

const (
	// KindOnce handlers finish before the next instruction is taken.
	KindOnce Kind = "once"
	// KindStream handlers run in the background until done or stopped.
	KindStream Kind = "stream"
)

type Handler interface {
	Kind() Kind
	// Handle runs the instruction. Stream handlers must return promptly
	// once ctx is cancelled.
	Handle(ctx context.Context, inst protocol.DeviceInstruction) device.Result
}

// Registry maps instruction types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[protocol.InstructionType]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[protocol.InstructionType]Handler{}}
}

func (r *Registry) Register(typ protocol.InstructionType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

func (r *Registry) Get(typ protocol.InstructionType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// Reporter delivers a result for an instruction to the hub.
type Reporter interface {
	Report(ctx context.Context, instructionID string, res device.Result) (*protocol.ReportResponse, error)
}
