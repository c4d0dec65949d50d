package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"autojs-hub/agent/internal/device"
	"autojs-hub/protocol"
)

// RegisterDefaults installs the simulator handlers for every instruction type.
func RegisterDefaults(r *Registry, m *Manager, scriptDuration time.Duration) {
	r.Register(protocol.InstExecuteScript, scriptHandler{duration: scriptDuration})
	r.Register(protocol.InstStopScript, stopHandler{m: m})
	r.Register(protocol.InstPing, pingHandler{})
	r.Register(protocol.InstUpdateStatus, statusHandler{m: m})
	for _, typ := range []protocol.InstructionType{protocol.InstCollectLog, protocol.InstRestartApp, protocol.InstUpdateApp} {
		r.Register(typ, ackHandler{})
	}
}

// scriptHandler pretends to run an Auto.js script. parameters.durationMs
// overrides the run time and parameters.fail forces a failure.
type scriptHandler struct{ duration time.Duration }

func (scriptHandler) Kind() Kind { return KindStream }

func (h scriptHandler) Handle(ctx context.Context, inst protocol.DeviceInstruction) device.Result {
	start := time.Now()
	name, _ := inst.Data["scriptName"].(string)
	body, _ := inst.Data["script"].(string)
	params, _ := inst.Data["parameters"].(map[string]any)

	if strings.TrimSpace(body) == "" {
		return device.Result{Status: protocol.StatusFailed, ErrorMessage: "empty script"}
	}

	d := h.duration
	if ms, ok := params["durationMs"].(float64); ok && ms >= 0 {
		d = time.Duration(ms) * time.Millisecond
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return device.Result{Status: protocol.StatusCancelled, ErrorMessage: "script stopped"}
	case <-timer.C:
	}

	metrics := map[string]any{"durationMs": time.Since(start).Milliseconds(), "scriptBytes": len(body)}
	if fail, _ := params["fail"].(bool); fail {
		return device.Result{Status: protocol.StatusFailed, ErrorMessage: "script threw", Metrics: metrics}
	}
	return device.Result{
		Status:  protocol.StatusSuccess,
		Output:  fmt.Sprintf("executed %s (%d bytes)", name, len(body)),
		Metrics: metrics,
	}
}

// stopHandler cancels the running scripts named in data.instructionIds, or
// every running script when the list is absent.
type stopHandler struct{ m *Manager }

func (stopHandler) Kind() Kind { return KindOnce }

func (h stopHandler) Handle(_ context.Context, inst protocol.DeviceInstruction) device.Result {
	var ids []string
	if raw, ok := inst.Data["instructionIds"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	n := h.m.Stop(ids...)
	return device.Result{Status: protocol.StatusSuccess, Output: fmt.Sprintf("stopped %d script(s)", n)}
}

type pingHandler struct{}

func (pingHandler) Kind() Kind { return KindOnce }

func (pingHandler) Handle(context.Context, protocol.DeviceInstruction) device.Result {
	return device.Result{Status: protocol.StatusSuccess, Output: "pong"}
}

type statusHandler struct{ m *Manager }

func (statusHandler) Kind() Kind { return KindOnce }

func (h statusHandler) Handle(context.Context, protocol.DeviceInstruction) device.Result {
	return device.Result{
		Status:  protocol.StatusSuccess,
		Output:  fmt.Sprintf("running=%d", h.m.Running()),
		Metrics: map[string]any{"running": h.m.Running()},
	}
}

// ackHandler accepts instructions the simulator has nothing to do for.
type ackHandler struct{}

func (ackHandler) Kind() Kind { return KindOnce }

func (ackHandler) Handle(_ context.Context, inst protocol.DeviceInstruction) device.Result {
	return device.Result{Status: protocol.StatusSuccess, Output: "acknowledged " + string(inst.Type)}
}
