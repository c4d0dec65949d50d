package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/store"
	"autojs-hub/protocol"
)

func TestHeartbeat_RejectsStaleTimestamp(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	ctx := context.Background()

	for _, offset := range []time.Duration{-301 * time.Second, 301 * time.Second} {
		ts := h.clock.Now().Add(offset).UnixMilli()
		_, err := h.engine.Heartbeat(ctx, HeartbeatRequest{
			DeviceCode: "D1",
			Signature:  protocol.SignHeartbeat("D1", ts, "C1"),
			Timestamp:  ts,
		})
		assert.ErrorIs(t, err, ErrStaleTimestamp)
		assert.True(t, IsAuthError(err))
	}

	online, err := h.engine.Liveness.IsOnline(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, online, "rejected heartbeat must not mark the device online")
}

func TestHeartbeat_RejectsBadSignatureWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	ctx := context.Background()
	inst := NewInstruction(InstPing, nil, 0, 300, h.clock.Now())
	require.NoError(t, h.engine.Queue.Enqueue(ctx, "D1", inst))

	ts := h.clock.Now().UnixMilli()
	_, err := h.engine.Heartbeat(ctx, HeartbeatRequest{
		DeviceCode: "D1",
		Signature:  protocol.SignHeartbeat("D1", ts, "wrong"),
		Timestamp:  ts,
	})
	assert.ErrorIs(t, err, ErrBadSignature)

	depth, err := h.engine.Queue.PeekDepth(ctx, "D1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, depth)
	assert.Equal(t, StatusQueued, h.statusKey(inst.InstructionID))
}

func TestHeartbeat_UnknownDevice(t *testing.T) {
	h := newHarness(t)
	_, err := h.heartbeat("ghost", "C1", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrUnknownDevice)
}

func TestHeartbeat_DeliversAndMarks(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	ctx := context.Background()
	inst := NewInstruction(InstPing, nil, 5, 300, h.clock.Now())
	require.NoError(t, h.engine.Queue.Enqueue(ctx, "D1", inst))

	ts := h.clock.Now().UnixMilli()
	resp, err := h.engine.Heartbeat(ctx, HeartbeatRequest{
		DeviceCode:    "D1",
		Signature:     protocol.SignHeartbeat("D1", ts, "C1"),
		Timestamp:     ts,
		AutoJsVersion: "4.1.1",
		MonitorData:   map[string]any{"battery": 80},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Instructions, 1)
	assert.Equal(t, inst.InstructionID, resp.Instructions[0].InstructionID)
	assert.Equal(t, h.clock.Now().UnixMilli(), resp.ServerTime)
	require.NotNil(t, resp.Config)

	assert.Equal(t, StatusDelivered, h.statusKey(inst.InstructionID))
	online, err := h.engine.Liveness.IsOnline(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, online)

	m, err := h.store.Get(ctx, store.DeviceMetricsKey("D1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"battery":80}`, m)
	assert.Equal(t, "4.1.1", h.devices.touched["D1"])
	assert.Len(t, h.events.ofType(EventInstructionSent), 1)

	// a second poll gets nothing new
	again, err := h.heartbeat("D1", "C1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, again.Instructions)
}

func TestHeartbeat_RespectsPollLimit(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		require.NoError(t, h.engine.Queue.Enqueue(ctx, "D1", NewInstruction(InstUpdateStatus, nil, 0, 300, h.clock.Now())))
	}
	first, err := h.heartbeat("D1", "C1", time.Second)
	require.NoError(t, err)
	assert.Len(t, first.Instructions, 10)

	second, err := h.heartbeat("D1", "C1", time.Second)
	require.NoError(t, err)
	assert.Len(t, second.Instructions, 5)
}

func TestHeartbeat_LongPollWakesOnEnqueue(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	inst := NewInstruction(InstPing, nil, 0, 300, h.clock.Now())

	type result struct {
		resp *HeartbeatResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := h.heartbeat("D1", "C1", 5*time.Second)
		done <- result{resp, err}
	}()

	// enqueue once the poll is parked; if it lands before the subscription
	// the re-drain picks it up instead
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, h.engine.Queue.Enqueue(context.Background(), "D1", inst))

	select {
	case r := <-done:
		require.NoError(t, r.err)
		require.Len(t, r.resp.Instructions, 1)
		assert.Equal(t, inst.InstructionID, r.resp.Instructions[0].InstructionID)
	case <-time.After(3 * time.Second):
		t.Fatal("long poll did not wake on enqueue")
	}
}

func TestHeartbeat_LongPollReleasedOnCancel(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	ctx, cancel := context.WithCancel(context.Background())
	ts := h.clock.Now().UnixMilli()

	done := make(chan *HeartbeatResponse, 1)
	go func() {
		resp, err := h.engine.Heartbeat(ctx, HeartbeatRequest{
			DeviceCode:  "D1",
			Signature:   protocol.SignHeartbeat("D1", ts, "C1"),
			Timestamp:   ts,
			PollTimeout: 60,
		})
		assert.NoError(t, err)
		done <- resp
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case resp := <-done:
		assert.Empty(t, resp.Instructions)
	case <-time.After(2 * time.Second):
		t.Fatal("long poll not released on cancellation")
	}
}

func TestHeartbeat_PollTimeoutClamp(t *testing.T) {
	h := newHarness(t)
	e := h.engine
	assert.Equal(t, 30*time.Second, e.pollTimeout(0))
	assert.Equal(t, time.Second, e.pollTimeout(-5))
	assert.Equal(t, 60*time.Second, e.pollTimeout(600))
	assert.Equal(t, 15*time.Second, e.pollTimeout(15))
}

func TestHeartbeat_ExpiredInstructionTimesOutRecord(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	task := h.tasks.create(models.Task{
		Name: "t", TaskType: models.TaskImmediate, TargetType: models.TargetSpecific,
		TargetDeviceIDs: []string{"D1"}, ScriptID: 1,
	})
	require.NoError(t, h.engine.Dispatch(context.Background(), task))
	recs := h.execs.forTask(task.ID)
	require.Len(t, recs, 1)

	h.clock.Advance(121 * time.Second) // script timeout is 120s
	resp, err := h.heartbeat("D1", "C1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, resp.Instructions)

	rec, err := h.execs.FindByInstructionID(context.Background(), recs[0].InstructionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecTimeout, rec.Status)
	assert.Equal(t, StatusTimeout, h.statusKey(rec.InstructionID))
	assert.Equal(t, models.TaskFailed, h.tasks.get(task.ID).Status)
}

func TestHeartbeat_SkipsInstructionCancelledWhileQueued(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	ctx := context.Background()
	inst := NewInstruction(InstUpdateApp, nil, 0, 300, h.clock.Now())
	require.NoError(t, h.engine.Queue.Enqueue(ctx, "D1", inst))
	require.NoError(t, h.store.Set(ctx, store.InstructionStatusKey(inst.InstructionID), StatusCancelled, time.Hour))

	resp, err := h.heartbeat("D1", "C1", 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, resp.Instructions)
	assert.Equal(t, StatusCancelled, h.statusKey(inst.InstructionID))
}

func TestHeartbeat_DrainFailureKeepsPoppedInstructions(t *testing.T) {
	flaky := &flakyStore{failPopAt: 2}
	h := newHarnessWith(t, Config{MaxInstructionsPerPoll: 2}, func(s store.Store) store.Store {
		flaky.Store = s
		return flaky
	})
	h.addDevice("D1", "C1", "")
	ctx := context.Background()
	q := h.engine.Queue

	expired := NewInstruction(InstPing, nil, 0, 1, h.clock.Now().Add(-2*time.Second))
	b := NewInstruction(InstPing, nil, 0, 300, h.clock.Now())
	c := NewInstruction(InstPing, nil, 0, 300, h.clock.Now())
	for _, inst := range []DeviceInstruction{expired, b, c} {
		require.NoError(t, q.Enqueue(ctx, "D1", inst))
	}

	// the first pop takes the expired entry and b, the refill pop fails
	resp, err := h.heartbeat("D1", "C1", 20*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, resp.Instructions, 1)
	assert.Equal(t, b.InstructionID, resp.Instructions[0].InstructionID)
	assert.Equal(t, StatusDelivered, h.statusKey(b.InstructionID))
	assert.Equal(t, StatusTimeout, h.statusKey(expired.InstructionID))

	resp, err = h.heartbeat("D1", "C1", 20*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, resp.Instructions, 1)
	assert.Equal(t, c.InstructionID, resp.Instructions[0].InstructionID)
}

func TestHeartbeat_DrainFailureBeforeAnyPopIsAnError(t *testing.T) {
	h := newHarnessWith(t, Config{}, func(s store.Store) store.Store {
		return &flakyStore{Store: s, failPopAt: 1}
	})
	h.addDevice("D1", "C1", "")
	ctx := context.Background()
	inst := NewInstruction(InstPing, nil, 0, 300, h.clock.Now())
	require.NoError(t, h.engine.Queue.Enqueue(ctx, "D1", inst))

	_, err := h.heartbeat("D1", "C1", 20*time.Millisecond)
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, StatusQueued, h.statusKey(inst.InstructionID))

	resp, err := h.heartbeat("D1", "C1", 20*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, resp.Instructions, 1)
	assert.Equal(t, inst.InstructionID, resp.Instructions[0].InstructionID)
}
