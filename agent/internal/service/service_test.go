package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autojs-hub/agent/internal/command"
	"autojs-hub/agent/internal/device"
	"autojs-hub/protocol"
)

type scriptedPoller struct {
	mu    sync.Mutex
	steps []func() (*protocol.HeartbeatResponse, error)
	calls int
	polls []time.Duration
}

func (p *scriptedPoller) Heartbeat(ctx context.Context, pollTimeout time.Duration) (*protocol.HeartbeatResponse, error) {
	p.mu.Lock()
	p.polls = append(p.polls, pollTimeout)
	i := p.calls
	p.calls++
	p.mu.Unlock()
	if i < len(p.steps) {
		return p.steps[i]()
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (p *scriptedPoller) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type reporter struct {
	mu  sync.Mutex
	ids []string
}

func (r *reporter) Report(_ context.Context, id string, _ device.Result) (*protocol.ReportResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return &protocol.ReportResponse{Status: protocol.ReportOK}, nil
}

func (r *reporter) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestRunner_BacksOffThenDispatches(t *testing.T) {
	poller := &scriptedPoller{steps: []func() (*protocol.HeartbeatResponse, error){
		func() (*protocol.HeartbeatResponse, error) { return nil, errors.New("connection refused") },
		func() (*protocol.HeartbeatResponse, error) { return nil, device.ErrUnauthorized },
		func() (*protocol.HeartbeatResponse, error) {
			return &protocol.HeartbeatResponse{
				Status:       "ok",
				Config:       &protocol.PollConfig{MaxPollTimeout: 1},
				Instructions: []protocol.DeviceInstruction{{InstructionID: "p-1", Type: protocol.InstPing}},
			}, nil
		},
	}}
	rep := &reporter{}
	reg := command.NewRegistry()
	m := command.NewManager(reg, rep, zerolog.Nop())
	command.RegisterDefaults(reg, m, 0)

	r := &Runner{
		Client: poller, Manager: m, Log: zerolog.Nop(),
		PollTimeout: 30 * time.Second, MinBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return len(rep.seen()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return poller.count() == 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}

	assert.Equal(t, []string{"p-1"}, rep.seen())
	poller.mu.Lock()
	defer poller.mu.Unlock()
	assert.Equal(t, time.Second, poller.polls[3], "hub cap applies to later polls")
}

func TestNextBackoff(t *testing.T) {
	assert.Equal(t, 2*time.Second, nextBackoff(time.Second, time.Minute))
	assert.Equal(t, time.Minute, nextBackoff(50*time.Second, time.Minute))
}
