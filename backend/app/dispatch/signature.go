package dispatch

import "time"

// DefaultTimestampWindow bounds |now - timestamp| for signed device requests.
const DefaultTimestampWindow = 300 * time.Second

// checkTimestamp validates a unix-millisecond timestamp against now.
func checkTimestamp(timestamp int64, now time.Time, window time.Duration) error {
	d := now.Sub(time.UnixMilli(timestamp))
	if d < 0 {
		d = -d
	}
	if d > window {
		return ErrStaleTimestamp
	}
	return nil
}
