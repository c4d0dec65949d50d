package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/store"
)

// validateReport rejects reports that must not touch state.
func validateReport(r *ReportRequest) (models.ExecutionStatus, error) {
	if r.InstructionID == "" {
		return "", fmt.Errorf("%w: instructionId is required", ErrMalformedReport)
	}
	st, ok := executionStatus(r.Status)
	if !ok {
		return "", fmt.Errorf("%w: unknown status %q", ErrMalformedReport, r.Status)
	}
	if st == models.ExecRunning && r.EndTime == 0 {
		return st, nil
	}
	if r.EndTime < r.StartTime {
		return "", fmt.Errorf("%w: endTime %d before startTime %d", ErrMalformedReport, r.EndTime, r.StartTime)
	}
	return st, nil
}

// Report applies a device execution result exactly once. The status key
// transition is the single idempotency gate: a missing key answers
// not_found, a terminal one answers duplicate.
func (e *Engine) Report(ctx context.Context, req ReportRequest) (*ReportResponse, error) {
	resp := &ReportResponse{InstructionID: req.InstructionID}
	dev, err := e.authenticate(ctx, req.DeviceCode, req.Signature, req.Timestamp,
		req.DeviceCode, req.InstructionID, strconv.FormatInt(req.Timestamp, 10))
	if err != nil {
		e.metrics.RecordReport("rejected")
		return nil, err
	}
	status, err := validateReport(&req)
	if err != nil {
		e.metrics.RecordReport(ReportError)
		e.log.Warn().Err(err).Str("device", dev.Code).Str("instruction", req.InstructionID).Msg("malformed report")
		return nil, err
	}

	owner := ""
	rec, err := e.execs.FindByInstructionID(ctx, req.InstructionID)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = nil
		// ad-hoc instructions have no record; the owner key names the device
		owner, err = e.store.Get(ctx, store.InstructionOwnerKey(req.InstructionID))
		if errors.Is(err, store.ErrNil) {
			owner = dev.Code
		} else if err != nil {
			return nil, fmt.Errorf("load instruction owner: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("load execution record: %w", err)
	default:
		owner = rec.DeviceCode
	}
	if owner != dev.Code {
		e.log.Warn().Bool("security", true).Str("device", dev.Code).Str("owner", owner).
			Str("instruction", req.InstructionID).Msg("report for another device's instruction")
		return e.reportDone(resp, ReportNotFound, "instruction not found"), nil
	}

	res, prev, err := e.store.Transition(ctx, store.InstructionStatusKey(req.InstructionID),
		wireStatus(status), 0, terminalStatuses)
	if err != nil {
		return nil, fmt.Errorf("transition instruction status: %w", err)
	}
	switch res {
	case store.TransitionMissing:
		return e.reportDone(resp, ReportNotFound, "instruction not found"), nil
	case store.TransitionTerminal:
		e.log.Info().Str("device", dev.Code).Str("instruction", req.InstructionID).Str("stored", prev).
			Str("reported", req.Status).Msg("duplicate report ignored")
		return e.reportDone(resp, ReportDuplicate, "instruction already "+prev), nil
	case store.TransitionApplied:
	}

	if rec != nil {
		applyReport(rec, status, &req)
		if err := e.execs.Save(ctx, rec); err != nil {
			// The reaper reconciles the record from the status key.
			e.log.Error().Err(err).Str("instruction", req.InstructionID).Msg("save execution record")
		}
	}
	if status.IsTerminal() {
		d := time.Duration(req.EndTime-req.StartTime) * time.Millisecond
		e.metrics.RecordExecution(string(status), d)
		taskID := uint(0)
		if rec != nil {
			taskID = rec.TaskID
		}
		e.notify(ctx, Event{
			Type:          EventScriptExecuted,
			TaskID:        taskID,
			DeviceCode:    dev.Code,
			InstructionID: req.InstructionID,
			Status:        req.Status,
			Message:       req.ErrorMessage,
		})
		if rec != nil {
			e.afterTerminal(ctx, rec)
		}
	}
	e.log.Info().Str("device", dev.Code).Str("instruction", req.InstructionID).Str("status", req.Status).
		Int("screenshots", len(req.Screenshots)).Msg("execution reported")
	return e.reportDone(resp, ReportOK, ""), nil
}

func (e *Engine) reportDone(resp *ReportResponse, status, msg string) *ReportResponse {
	e.metrics.RecordReport(status)
	resp.Status = status
	resp.Message = msg
	resp.ServerTime = e.now().UnixMilli()
	return resp
}

func applyReport(rec *models.ScriptExecutionRecord, status models.ExecutionStatus, req *ReportRequest) {
	rec.Status = status
	if req.StartTime > 0 {
		start := time.UnixMilli(req.StartTime)
		rec.StartTime = &start
	}
	if status.IsTerminal() {
		end := time.UnixMilli(req.EndTime)
		rec.EndTime = &end
		rec.DurationMs = req.EndTime - req.StartTime
	}
	if req.Output != "" {
		rec.Output = req.Output
	}
	if req.ErrorMessage != "" {
		rec.ErrorMessage = req.ErrorMessage
	}
	if len(req.ExecutionMetrics) > 0 {
		rec.Metrics = req.ExecutionMetrics
	}
}

// terminate moves a record and its status key to a terminal status decided
// by the server (timeout, cancellation). It reports false when the
// instruction had already finished.
func (e *Engine) terminate(ctx context.Context, rec *models.ScriptExecutionRecord, to models.ExecutionStatus, reason string) (bool, error) {
	res, _, err := e.store.Transition(ctx, store.InstructionStatusKey(rec.InstructionID), wireStatus(to), 0, terminalStatuses)
	if err != nil {
		return false, fmt.Errorf("transition instruction status: %w", err)
	}
	if res == store.TransitionTerminal {
		return false, nil
	}
	// A missing key means it outlived its TTL; the record is authoritative then.
	if rec.Status.IsTerminal() {
		return false, nil
	}
	now := e.now()
	rec.Status = to
	rec.EndTime = &now
	if rec.StartTime != nil {
		rec.DurationMs = now.Sub(*rec.StartTime).Milliseconds()
	}
	if rec.ErrorMessage == "" {
		rec.ErrorMessage = reason
	}
	if err := e.execs.Save(ctx, rec); err != nil {
		return false, fmt.Errorf("save execution record: %w", err)
	}
	e.metrics.RecordExecution(string(to), time.Duration(rec.DurationMs)*time.Millisecond)
	e.notify(ctx, Event{
		Type:          EventScriptExecuted,
		TaskID:        rec.TaskID,
		DeviceCode:    rec.DeviceCode,
		InstructionID: rec.InstructionID,
		Status:        wireStatus(to),
		Message:       reason,
		Time:          now,
	})
	e.afterTerminal(ctx, rec)
	return true, nil
}

// expireInstruction times out an instruction found expired in a queue.
func (e *Engine) expireInstruction(ctx context.Context, inst DeviceInstruction, reason string) error {
	rec, err := e.execs.FindByInstructionID(ctx, inst.InstructionID)
	if errors.Is(err, ErrNotFound) {
		_, _, err := e.store.Transition(ctx, store.InstructionStatusKey(inst.InstructionID), StatusTimeout, 0, terminalStatuses)
		return err
	}
	if err != nil {
		return fmt.Errorf("load execution record: %w", err)
	}
	_, err = e.terminate(ctx, rec, models.ExecTimeout, reason)
	return err
}

// afterTerminal runs retry and rollup once a task instruction finished.
// Failures are logged; the outcome itself is already recorded.
func (e *Engine) afterTerminal(ctx context.Context, rec *models.ScriptExecutionRecord) {
	if rec.TaskID == 0 {
		return
	}
	if rec.Status.IsFailure() {
		if _, err := e.retry(ctx, rec); err != nil {
			e.log.Error().Err(err).Uint("task", rec.TaskID).Str("instruction", rec.InstructionID).Msg("retry failed")
		}
	}
	if err := e.Rollup(ctx, rec.TaskID); err != nil {
		e.log.Error().Err(err).Uint("task", rec.TaskID).Msg("task rollup failed")
	}
}
