package dispatch

import (
	"context"

	"github.com/google/uuid"

	"autojs-hub/backend/app/store"
)

// lockDevice takes the soft lock device_lock:<code>. The lock only narrows
// races; holders must stay correct if it expires mid-operation. The returned
// release is always safe to call.
func (e *Engine) lockDevice(ctx context.Context, deviceCode string) (held bool, release func()) {
	token := uuid.NewString()
	key := store.DeviceLockKey(deviceCode)
	ok, err := e.store.AcquireLock(ctx, key, token, store.TTLDeviceLock)
	if err != nil {
		e.log.Warn().Err(err).Str("device", deviceCode).Msg("device lock unavailable")
		return false, func() {}
	}
	if !ok {
		e.log.Debug().Str("device", deviceCode).Msg("device lock busy")
		return false, func() {}
	}
	return true, func() {
		// release on a fresh context so a cancelled request does not strand the lock
		if err := e.store.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			e.log.Warn().Err(err).Str("device", deviceCode).Msg("release device lock")
		}
	}
}
