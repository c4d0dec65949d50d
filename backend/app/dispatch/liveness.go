package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"autojs-hub/backend/app/store"
)

// Liveness tracks device presence purely through key expiry; a device goes
// offline when device_online:<code> lapses.
type Liveness struct {
	store store.Store
	now   func() time.Time
}

func (l *Liveness) RecordHeartbeat(ctx context.Context, deviceCode string, at time.Time) error {
	if err := l.store.Set(ctx, store.DeviceOnlineKey(deviceCode), "1", store.TTLDeviceOnline); err != nil {
		return fmt.Errorf("set online flag: %w", err)
	}
	ms := strconv.FormatInt(at.UnixMilli(), 10)
	if err := l.store.Set(ctx, store.LastHeartbeatKey(deviceCode), ms, store.TTLDeviceLastHeartbeat); err != nil {
		return fmt.Errorf("set last heartbeat: %w", err)
	}
	return nil
}

func (l *Liveness) IsOnline(ctx context.Context, deviceCode string) (bool, error) {
	ok, err := l.store.Exists(ctx, store.DeviceOnlineKey(deviceCode))
	if err != nil {
		return false, fmt.Errorf("check online flag: %w", err)
	}
	return ok, nil
}

// LastHeartbeat returns the last heartbeat time, or the zero time when none
// was seen within the retention window.
func (l *Liveness) LastHeartbeat(ctx context.Context, deviceCode string) (time.Time, error) {
	v, err := l.store.Get(ctx, store.LastHeartbeatKey(deviceCode))
	if errors.Is(err, store.ErrNil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last heartbeat: %w", err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last heartbeat %q: %w", v, err)
	}
	return time.UnixMilli(ms), nil
}
