package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"autojs-hub/backend/app/metrics"
	"autojs-hub/backend/app/store"
)

// Queue is the per-device instruction queue kept in the store list
// device_instruction_queue:<deviceCode>.
type Queue struct {
	store    store.Store
	notifier Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time
}

// DrainResult separates instructions handed to the device from those that
// expired in the queue and were discarded.
type DrainResult struct {
	Delivered []DeviceInstruction
	Expired   []DeviceInstruction
}

// Enqueue places inst on the device queue, marks it queued and wakes any
// heartbeat long-polling for the device.
func (q *Queue) Enqueue(ctx context.Context, deviceCode string, inst DeviceInstruction) error {
	if deviceCode == "" {
		return fmt.Errorf("%w: empty device code", ErrInvalidInstruction)
	}
	if !inst.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidInstruction, inst.Type)
	}
	payload, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("encode instruction: %w", err)
	}
	if err := q.store.Set(ctx, store.InstructionOwnerKey(inst.InstructionID), deviceCode, store.TTLInstructionOwner); err != nil {
		return fmt.Errorf("record instruction owner: %w", err)
	}
	// The status key is written first so a report can never race ahead of it.
	if err := q.store.Set(ctx, store.InstructionStatusKey(inst.InstructionID), StatusQueued, store.TTLInstructionStatus); err != nil {
		return fmt.Errorf("mark instruction queued: %w", err)
	}
	if err := q.store.PushRanked(ctx, store.DeviceQueueKey(deviceCode), inst.Rank(), string(payload)); err != nil {
		return fmt.Errorf("push instruction: %w", err)
	}
	q.metrics.RecordQueued(string(inst.Type))
	if err := q.store.Publish(ctx, store.PollNotifyKey(deviceCode), inst.InstructionID); err != nil {
		// The device still gets the instruction on its next poll.
		q.log.Warn().Err(err).Str("device", deviceCode).Msg("poll wake publish failed")
	}
	q.log.Debug().
		Str("device", deviceCode).
		Str("instruction", inst.InstructionID).
		Str("type", string(inst.Type)).
		Int("priority", inst.Priority).
		Msg("instruction queued")
	return nil
}

// Drain atomically pops up to limit live instructions. Expired entries are
// dropped and returned in Expired; they do not count towards limit.
// On a store error the result still holds everything popped before it, and
// the caller owns those instructions.
func (q *Queue) Drain(ctx context.Context, deviceCode string, limit int) (DrainResult, error) {
	var res DrainResult
	if limit <= 0 {
		return res, nil
	}
	now := q.now()
	key := store.DeviceQueueKey(deviceCode)
	var drainErr error
	for len(res.Delivered) < limit {
		want := limit - len(res.Delivered)
		elems, err := q.store.PopN(ctx, key, want)
		if err != nil {
			drainErr = fmt.Errorf("drain queue: %w", err)
			break
		}
		for _, raw := range elems {
			var inst DeviceInstruction
			if err := json.Unmarshal([]byte(raw), &inst); err != nil {
				q.log.Error().Err(err).Str("device", deviceCode).Msg("dropping undecodable instruction")
				continue
			}
			if inst.IsExpired(now) {
				res.Expired = append(res.Expired, inst)
				continue
			}
			res.Delivered = append(res.Delivered, inst)
		}
		if len(elems) < want {
			break
		}
	}
	if n := len(res.Expired); n > 0 {
		q.metrics.RecordExpired(n)
		for _, inst := range res.Expired {
			q.log.Warn().
				Str("device", deviceCode).
				Str("instruction", inst.InstructionID).
				Time("expired_at", inst.ExpiresAt()).
				Msg("discarding expired instruction")
			q.notifier.Notify(ctx, Event{
				Type:          EventInstructionExpired,
				TaskID:        inst.TaskID,
				DeviceCode:    deviceCode,
				InstructionID: inst.InstructionID,
				Status:        StatusTimeout,
				Time:          now,
			})
		}
	}
	return res, drainErr
}

func (q *Queue) PeekDepth(ctx context.Context, deviceCode string) (int64, error) {
	n, err := q.store.LLen(ctx, store.DeviceQueueKey(deviceCode))
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// Pending lists up to limit queued instructions in delivery order without removing them.
func (q *Queue) Pending(ctx context.Context, deviceCode string, limit int) ([]DeviceInstruction, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	elems, err := q.store.LRange(ctx, store.DeviceQueueKey(deviceCode), 0, stop)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	out := make([]DeviceInstruction, 0, len(elems))
	for _, raw := range elems {
		var inst DeviceInstruction
		if err := json.Unmarshal([]byte(raw), &inst); err != nil {
			continue
		}
		out = append(out, inst)
	}
	return out, nil
}
