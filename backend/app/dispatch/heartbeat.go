package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autojs-hub/backend/app/models"
	"autojs-hub/backend/app/store"
	"autojs-hub/protocol"
)

// authenticate checks the timestamp window, resolves the device and verifies
// the signature over fields, in that order. Nothing is written on failure.
func (e *Engine) authenticate(ctx context.Context, deviceCode, signature string, timestamp int64, fields ...string) (*models.Device, error) {
	if err := checkTimestamp(timestamp, e.now(), e.cfg.TimestampWindow); err != nil {
		return nil, e.authFailure(deviceCode, err)
	}
	if deviceCode == "" {
		return nil, e.authFailure(deviceCode, ErrUnknownDevice)
	}
	dev, err := e.devices.FindByCode(ctx, deviceCode)
	if errors.Is(err, ErrNotFound) {
		return nil, e.authFailure(deviceCode, ErrUnknownDevice)
	}
	if err != nil {
		return nil, fmt.Errorf("lookup device: %w", err)
	}
	if !protocol.Verify(signature, dev.Certificate, fields...) {
		return nil, e.authFailure(deviceCode, ErrBadSignature)
	}
	return dev, nil
}

func (e *Engine) authFailure(deviceCode string, err error) error {
	e.log.Warn().Bool("security", true).Str("device", deviceCode).Err(err).Msg("device request rejected")
	return err
}

func (e *Engine) pollTimeout(requested int) time.Duration {
	if requested == 0 {
		return e.cfg.DefaultPollTimeout
	}
	d := time.Duration(requested) * time.Second
	if d < time.Second {
		d = time.Second
	}
	if d > e.cfg.MaxPollTimeout {
		d = e.cfg.MaxPollTimeout
	}
	return d
}

// Heartbeat authenticates a device poll, records liveness and returns due
// instructions. With nothing due it waits for an enqueue wake signal until
// the poll timeout elapses or ctx is cancelled.
func (e *Engine) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	started := e.now()
	dev, err := e.authenticate(ctx, req.DeviceCode, req.Signature, req.Timestamp,
		req.DeviceCode, fmt.Sprint(req.Timestamp))
	if err != nil {
		e.metrics.RecordHeartbeat("rejected", 0)
		return nil, err
	}
	code := dev.Code

	if err := e.Liveness.RecordHeartbeat(ctx, code, started); err != nil {
		e.metrics.RecordHeartbeat("error", 0)
		return nil, err
	}
	if len(req.MonitorData) > 0 {
		if b, err := json.Marshal(req.MonitorData); err == nil {
			if err := e.store.Set(ctx, store.DeviceMetricsKey(code), string(b), store.TTLDeviceMetrics); err != nil {
				e.metrics.RecordHeartbeat("error", 0)
				return nil, fmt.Errorf("store device metrics: %w", err)
			}
		}
	}
	if err := e.devices.Touch(ctx, code, req.AutoJsVersion, started); err != nil {
		e.log.Warn().Err(err).Str("device", code).Msg("update device last seen")
	}

	insts, err := e.poll(ctx, code)
	if err != nil {
		e.metrics.RecordHeartbeat("error", 0)
		return nil, err
	}
	if len(insts) == 0 {
		insts, err = e.longPoll(ctx, code, e.pollTimeout(req.PollTimeout))
		if err != nil {
			e.metrics.RecordHeartbeat("error", e.now().Sub(started))
			return nil, err
		}
	}

	held := e.now().Sub(started)
	result := "empty"
	if len(insts) > 0 {
		result = "delivered"
	}
	e.metrics.RecordHeartbeat(result, held)
	e.log.Debug().Str("device", code).Int("instructions", len(insts)).Dur("held", held).Msg("heartbeat")

	return &HeartbeatResponse{
		Status:       "ok",
		Instructions: insts,
		ServerTime:   e.now().UnixMilli(),
		Config: &PollConfig{
			PollInterval:   int(e.cfg.PollIntervalHint / time.Second),
			MaxPollTimeout: int(e.cfg.MaxPollTimeout / time.Second),
		},
	}, nil
}

// longPoll subscribes to the device wake channel before draining again, so
// an enqueue between the first drain and the wait is never missed.
func (e *Engine) longPoll(ctx context.Context, code string, timeout time.Duration) ([]DeviceInstruction, error) {
	if ctx.Err() != nil {
		return []DeviceInstruction{}, nil
	}
	sub, err := e.store.Subscribe(ctx, store.PollNotifyKey(code))
	if err != nil {
		if ctx.Err() != nil {
			return []DeviceInstruction{}, nil
		}
		return nil, fmt.Errorf("subscribe poll wake: %w", err)
	}
	defer sub.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		insts, err := e.poll(ctx, code)
		if err != nil || len(insts) > 0 {
			return insts, err
		}
		select {
		case _, ok := <-sub.C():
			if !ok {
				return []DeviceInstruction{}, nil
			}
		case <-timer.C:
			return []DeviceInstruction{}, nil
		case <-ctx.Done():
			return []DeviceInstruction{}, nil
		}
		if ctx.Err() != nil {
			return []DeviceInstruction{}, nil
		}
	}
}

// poll drains the device queue once, marks what it hands out as delivered
// and times out what expired in the queue.
func (e *Engine) poll(ctx context.Context, code string) ([]DeviceInstruction, error) {
	res, drainErr := e.Queue.Drain(ctx, code, e.cfg.MaxInstructionsPerPoll)
	if drainErr != nil {
		if len(res.Delivered)+len(res.Expired) == 0 {
			return nil, drainErr
		}
		e.log.Warn().Err(drainErr).Str("device", code).Int("popped", len(res.Delivered)+len(res.Expired)).
			Msg("partial drain")
	}
	for _, inst := range res.Expired {
		if err := e.expireInstruction(ctx, inst, "expired before delivery"); err != nil {
			e.log.Error().Err(err).Str("instruction", inst.InstructionID).Msg("time out expired instruction")
		}
	}

	out := make([]DeviceInstruction, 0, len(res.Delivered))
	for i, inst := range res.Delivered {
		ok, err := e.markDelivered(ctx, code, inst)
		if err != nil {
			e.requeue(ctx, code, res.Delivered[i:])
			if len(out) > 0 {
				// hand out what was already marked; the rest waits for the next poll
				e.log.Warn().Err(err).Str("device", code).Msg("partial delivery")
				return out, nil
			}
			return nil, err
		}
		if ok {
			out = append(out, inst)
		}
	}
	if len(out) == 0 && drainErr != nil {
		return nil, drainErr
	}
	return out, nil
}

// markDelivered moves the status key to delivered. It returns false when the
// instruction reached a terminal status while queued, e.g. it was cancelled.
func (e *Engine) markDelivered(ctx context.Context, code string, inst DeviceInstruction) (bool, error) {
	key := store.InstructionStatusKey(inst.InstructionID)
	res, prev, err := e.store.Transition(ctx, key, StatusDelivered, store.TTLInstructionStatus, terminalStatuses)
	if err != nil {
		return false, fmt.Errorf("mark delivered: %w", err)
	}
	switch res {
	case store.TransitionTerminal:
		e.log.Info().Str("device", code).Str("instruction", inst.InstructionID).Str("status", prev).
			Msg("skipping instruction finished while queued")
		return false, nil
	case store.TransitionMissing:
		if err := e.store.Set(ctx, key, StatusDelivered, store.TTLInstructionStatus); err != nil {
			return false, fmt.Errorf("mark delivered: %w", err)
		}
	case store.TransitionApplied:
	}

	now := e.now()
	rec, err := e.execs.FindByInstructionID(ctx, inst.InstructionID)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		e.log.Warn().Err(err).Str("instruction", inst.InstructionID).Msg("load execution record")
	case rec.DeliveredAt == nil:
		rec.DeliveredAt = &now
		if err := e.execs.Save(ctx, rec); err != nil {
			e.log.Warn().Err(err).Str("instruction", inst.InstructionID).Msg("stamp delivery")
		}
	}

	e.metrics.RecordDelivered(string(inst.Type))
	e.notify(ctx, Event{
		Type:          EventInstructionSent,
		TaskID:        inst.TaskID,
		DeviceCode:    code,
		InstructionID: inst.InstructionID,
		Status:        StatusDelivered,
		Time:          now,
	})
	return true, nil
}

// requeue puts popped instructions back after a failure to mark them.
func (e *Engine) requeue(ctx context.Context, code string, insts []DeviceInstruction) {
	ctx = context.WithoutCancel(ctx)
	for _, inst := range insts {
		b, err := json.Marshal(inst)
		if err != nil {
			continue
		}
		if err := e.store.PushRanked(ctx, store.DeviceQueueKey(code), inst.Rank(), string(b)); err != nil {
			e.log.Error().Err(err).Str("device", code).Str("instruction", inst.InstructionID).
				Msg("instruction lost: requeue failed")
		}
	}
}
