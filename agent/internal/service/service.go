package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"autojs-hub/agent/internal/command"
	"autojs-hub/agent/internal/device"
	"autojs-hub/protocol"
)

type Poller interface {
	Heartbeat(ctx context.Context, pollTimeout time.Duration) (*protocol.HeartbeatResponse, error)
}

// Runner is the device main loop: poll, dispatch, repeat.
type Runner struct {
	Client      Poller
	Manager     *command.Manager
	Log         zerolog.Logger
	PollTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// Run polls until ctx is done, then waits for running scripts to report.
func (r *Runner) Run(ctx context.Context) error {
	defer r.Manager.Wait()

	pollTimeout := r.PollTimeout
	backoff := r.MinBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		resp, err := r.Client.Heartbeat(ctx, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			ev := r.Log.Warn()
			if errors.Is(err, device.ErrUnauthorized) {
				ev = r.Log.Error()
			}
			ev.Err(err).Dur("backoff", backoff).Msg("heartbeat failed")
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, r.MaxBackoff)
			continue
		}
		backoff = r.MinBackoff

		if resp.Config != nil && resp.Config.MaxPollTimeout > 0 {
			if limit := time.Duration(resp.Config.MaxPollTimeout) * time.Second; pollTimeout > limit {
				r.Log.Info().Dur("poll_timeout", limit).Msg("poll timeout capped by hub")
				pollTimeout = limit
			}
		}
		for _, inst := range resp.Instructions {
			r.Manager.Dispatch(ctx, inst)
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
