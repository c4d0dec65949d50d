package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/store"
	"autojs-hub/protocol"
)

// Enqueue a ping, deliver it, report success, then report again.
func TestScenario_PingRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	ctx := context.Background()

	i1 := NewInstruction(InstPing, nil, 5, 300, h.clock.Now())
	require.NoError(t, h.engine.Queue.Enqueue(ctx, "D1", i1))

	resp, err := h.heartbeat("D1", "C1", time.Second)
	require.NoError(t, err)
	require.Len(t, resp.Instructions, 1)
	assert.Equal(t, i1.InstructionID, resp.Instructions[0].InstructionID)
	online, err := h.engine.Liveness.IsOnline(ctx, "D1")
	require.NoError(t, err)
	assert.True(t, online)

	start := h.clock.Now()
	rep, err := h.report("D1", "C1", i1.InstructionID, StatusSuccess, start, start.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, ReportOK, rep.Status)
	assert.Equal(t, i1.InstructionID, rep.InstructionID)

	rep, err = h.report("D1", "C1", i1.InstructionID, StatusSuccess, start, start.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, ReportDuplicate, rep.Status)
}

func TestReport_SecondOutcomeIsDuplicate(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	task := h.tasks.create(models.Task{
		Name: "t", TaskType: models.TaskImmediate, TargetType: models.TargetSpecific,
		TargetDeviceIDs: []string{"D1"}, ScriptID: 1,
	})
	require.NoError(t, h.engine.Dispatch(context.Background(), task))
	got := h.deliverAll(map[string]string{"D1": "C1"})
	require.Len(t, got["D1"], 1)
	id := got["D1"][0].InstructionID

	start := h.clock.Now()
	rep, err := h.report("D1", "C1", id, StatusSuccess, start, start.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, ReportOK, rep.Status)

	rep, err = h.report("D1", "C1", id, StatusFailed, start, start.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, ReportDuplicate, rep.Status)

	assert.Equal(t, StatusSuccess, h.statusKey(id))
	rec, err := h.execs.FindByInstructionID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ExecSuccess, rec.Status)
	assert.EqualValues(t, 1000, rec.DurationMs)
}

func TestReport_UnknownInstructionIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	now := h.clock.Now()
	rep, err := h.report("D1", "C1", "never-queued", StatusSuccess, now, now)
	require.NoError(t, err)
	assert.Equal(t, ReportNotFound, rep.Status)
}

func TestReport_ExpiredStatusKeyIsNotFound(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	inst := NewInstruction(InstCollectLog, nil, 0, 300, h.clock.Now())
	require.NoError(t, h.engine.Queue.Enqueue(context.Background(), "D1", inst))

	h.clock.Advance(store.TTLInstructionStatus)
	now := h.clock.Now()
	rep, err := h.report("D1", "C1", inst.InstructionID, StatusSuccess, now, now)
	require.NoError(t, err)
	assert.Equal(t, ReportNotFound, rep.Status)
}

func TestReport_MalformedLeavesInstructionOpen(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	inst := NewInstruction(InstPing, nil, 0, 300, h.clock.Now())
	require.NoError(t, h.engine.Queue.Enqueue(context.Background(), "D1", inst))
	_, err := h.heartbeat("D1", "C1", time.Second)
	require.NoError(t, err)

	now := h.clock.Now()
	_, err = h.report("D1", "C1", inst.InstructionID, StatusSuccess, now, now.Add(-time.Second))
	assert.ErrorIs(t, err, ErrMalformedReport)
	_, err = h.report("D1", "C1", inst.InstructionID, "exploded", now, now)
	assert.ErrorIs(t, err, ErrMalformedReport)
	assert.Equal(t, StatusDelivered, h.statusKey(inst.InstructionID))

	rep, err := h.report("D1", "C1", inst.InstructionID, StatusSuccess, now, now)
	require.NoError(t, err)
	assert.Equal(t, ReportOK, rep.Status)
}

func TestReport_RejectsForgedSignature(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	inst := NewInstruction(InstPing, nil, 0, 300, h.clock.Now())
	require.NoError(t, h.engine.Queue.Enqueue(context.Background(), "D1", inst))

	now := h.clock.Now()
	_, err := h.report("D1", "not-C1", inst.InstructionID, StatusSuccess, now, now)
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.Equal(t, StatusQueued, h.statusKey(inst.InstructionID))
}

func TestReport_RunningThenSuccess(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	task := h.tasks.create(models.Task{
		Name: "t", TaskType: models.TaskImmediate, TargetType: models.TargetSpecific,
		TargetDeviceIDs: []string{"D1"}, ScriptID: 1,
	})
	require.NoError(t, h.engine.Dispatch(context.Background(), task))
	id := h.deliverAll(map[string]string{"D1": "C1"})["D1"][0].InstructionID

	start := h.clock.Now()
	ts := start.UnixMilli()
	rep, err := h.engine.Report(context.Background(), ReportRequest{
		DeviceCode: "D1", Signature: protocol.SignReport("D1", id, ts, "C1"), Timestamp: ts,
		InstructionID: id, Status: StatusRunning, StartTime: start.UnixMilli(),
	})
	require.NoError(t, err)
	assert.Equal(t, ReportOK, rep.Status)
	assert.Equal(t, StatusRunning, h.statusKey(id))
	assert.Equal(t, models.TaskRunning, h.tasks.get(task.ID).Status)

	rep, err = h.report("D1", "C1", id, StatusSuccess, start, start.Add(3*time.Second))
	require.NoError(t, err)
	assert.Equal(t, ReportOK, rep.Status)
	assert.Equal(t, models.TaskCompleted, h.tasks.get(task.ID).Status)
}

func TestReport_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	inst := NewInstruction(InstPing, nil, 0, 300, h.clock.Now())
	require.NoError(t, h.engine.Queue.Enqueue(context.Background(), "D1", inst))

	now := h.clock.Now()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[string]int{}
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rep, err := h.report("D1", "C1", inst.InstructionID, StatusSuccess, now, now)
			if assert.NoError(t, err) {
				mu.Lock()
				results[rep.Status]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, results[ReportOK])
	assert.Equal(t, 15, results[ReportDuplicate])
	assert.Len(t, h.events.ofType(EventScriptExecuted), 1)
}

func TestReport_OtherDevicesInstruction(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	h.addDevice("D2", "C2", "")
	task := h.tasks.create(models.Task{
		Name: "t", TaskType: models.TaskImmediate, TargetType: models.TargetSpecific,
		TargetDeviceIDs: []string{"D1"}, ScriptID: 1,
	})
	require.NoError(t, h.engine.Dispatch(context.Background(), task))
	id := h.execs.forTask(task.ID)[0].InstructionID

	now := h.clock.Now()
	rep, err := h.report("D2", "C2", id, StatusSuccess, now, now)
	require.NoError(t, err)
	assert.Equal(t, ReportNotFound, rep.Status)
	assert.Equal(t, StatusQueued, h.statusKey(id))
}

func TestReport_OtherDevicesAdHocInstruction(t *testing.T) {
	h := newHarness(t)
	h.addDevice("D1", "C1", "")
	h.addDevice("D2", "C2", "")
	inst, err := h.engine.SendInstruction(context.Background(), "D1", InstCollectLog, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, h.deliverAll(map[string]string{"D1": "C1"})["D1"], 1)

	now := h.clock.Now()
	rep, err := h.report("D2", "C2", inst.InstructionID, StatusSuccess, now, now)
	require.NoError(t, err)
	assert.Equal(t, ReportNotFound, rep.Status)
	assert.Equal(t, StatusDelivered, h.statusKey(inst.InstructionID))

	rep, err = h.report("D1", "C1", inst.InstructionID, StatusSuccess, now, now)
	require.NoError(t, err)
	assert.Equal(t, ReportOK, rep.Status)
}
