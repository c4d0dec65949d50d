package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autojs-hub/backend/app/store"
)

func TestInstruction_IsExpired(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	inst := NewInstruction(InstPing, nil, 0, 1, now.Add(-2*time.Second))
	assert.True(t, inst.IsExpired(now))

	fresh := NewInstruction(InstPing, nil, 0, 1, now)
	assert.False(t, fresh.IsExpired(now))
	assert.False(t, fresh.IsExpired(now.Add(time.Second)), "expiry is strictly after created+timeout")
	assert.True(t, fresh.IsExpired(now.Add(time.Second+time.Millisecond)))
}

func TestInstruction_DefaultTimeout(t *testing.T) {
	inst := NewInstruction(InstCollectLog, nil, 0, 0, time.Now())
	assert.Equal(t, DefaultInstructionTimeout, inst.Timeout)
	assert.NotEmpty(t, inst.InstructionID)
}

func TestQueue_UrgentThenPriorityThenFIFO(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.clock.Now()
	q := h.engine.Queue

	low1 := NewInstruction(InstExecuteScript, nil, 1, 300, now)
	high := NewInstruction(InstExecuteScript, nil, 9, 300, now)
	low2 := NewInstruction(InstUpdateStatus, nil, 1, 300, now)
	ping := NewInstruction(InstPing, nil, 0, 300, now)
	stop := NewInstruction(InstStopScript, nil, 0, 300, now)
	for _, inst := range []DeviceInstruction{low1, high, low2, ping, stop} {
		require.NoError(t, q.Enqueue(ctx, "D1", inst))
	}

	depth, err := q.PeekDepth(ctx, "D1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, depth)

	pending, err := q.Pending(ctx, "D1", 0)
	require.NoError(t, err)
	assert.Len(t, pending, 5)

	res, err := q.Drain(ctx, "D1", 10)
	require.NoError(t, err)
	var ids []string
	for _, inst := range res.Delivered {
		ids = append(ids, inst.InstructionID)
	}
	assert.Equal(t, []string{ping.InstructionID, stop.InstructionID, high.InstructionID, low1.InstructionID, low2.InstructionID}, ids)
}

func TestQueue_EnqueueMarksQueued(t *testing.T) {
	h := newHarness(t)
	inst := NewInstruction(InstPing, nil, 5, 300, h.clock.Now())
	require.NoError(t, h.engine.Queue.Enqueue(context.Background(), "D1", inst))
	assert.Equal(t, StatusQueued, h.statusKey(inst.InstructionID))
	assert.Equal(t, store.TTLInstructionStatus, h.store.TTL(store.InstructionStatusKey(inst.InstructionID)))
}

func TestQueue_DrainSkipsExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.engine.Queue

	old := NewInstruction(InstPing, nil, 0, 1, h.clock.Now().Add(-2*time.Second))
	live := NewInstruction(InstPing, nil, 0, 300, h.clock.Now())
	require.NoError(t, q.Enqueue(ctx, "D1", old))
	require.NoError(t, q.Enqueue(ctx, "D1", live))

	res, err := q.Drain(ctx, "D1", 1)
	require.NoError(t, err)
	require.Len(t, res.Delivered, 1, "expired entries do not use up the limit")
	assert.Equal(t, live.InstructionID, res.Delivered[0].InstructionID)
	require.Len(t, res.Expired, 1)
	assert.Equal(t, old.InstructionID, res.Expired[0].InstructionID)
	assert.Len(t, h.events.ofType(EventInstructionExpired), 1)
}

func TestQueue_ConcurrentDrainsNeverDuplicate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	q := h.engine.Queue
	const total = 200
	for i := 0; i < total; i++ {
		require.NoError(t, q.Enqueue(ctx, "D1", NewInstruction(InstExecuteScript, map[string]any{"n": i}, i%7, 300, h.clock.Now())))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				res, err := q.Drain(ctx, "D1", 3)
				if !assert.NoError(t, err) || len(res.Delivered) == 0 {
					return
				}
				mu.Lock()
				for _, inst := range res.Delivered {
					seen[inst.InstructionID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, fmt.Sprintf("instruction %s delivered %d times", id, n))
	}
}

func TestQueue_EnqueueRejectsUnknownType(t *testing.T) {
	h := newHarness(t)
	inst := NewInstruction(InstructionType("reboot"), nil, 0, 300, h.clock.Now())
	assert.ErrorIs(t, h.engine.Queue.Enqueue(context.Background(), "D1", inst), ErrInvalidInstruction)
}

func TestQueue_StoreDownFailsFast(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Close())
	err := h.engine.Queue.Enqueue(context.Background(), "D1", NewInstruction(InstPing, nil, 0, 300, h.clock.Now()))
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.True(t, IsRetryable(err))
}

func TestLiveness_OnlineUntilTTL(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	l := h.engine.Liveness

	online, err := l.IsOnline(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, online)

	at := h.clock.Now()
	require.NoError(t, l.RecordHeartbeat(ctx, "D1", at))
	online, err = l.IsOnline(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, online)

	last, err := l.LastHeartbeat(ctx, "D1")
	require.NoError(t, err)
	assert.Equal(t, at.UnixMilli(), last.UnixMilli())

	h.clock.Advance(store.TTLDeviceOnline)
	online, err = l.IsOnline(ctx, "D1")
	require.NoError(t, err)
	assert.False(t, online)
}
