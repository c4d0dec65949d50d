package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autojs-hub/backend/app/store"
)

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	ch, unsubscribe := b.Subscribe(1)

	b.Notify(context.Background(), Event{Type: EventTaskCreated, TaskID: 7})
	b.Notify(context.Background(), Event{Type: EventTaskCreated, TaskID: 8}) // dropped, buffer full

	ev := <-ch
	assert.EqualValues(t, 7, ev.TaskID)

	unsubscribe()
	unsubscribe()
	_, open := <-ch
	assert.False(t, open)
	b.Notify(context.Background(), Event{Type: EventTaskCreated})
}

func TestRedisNotifier_PublishesJSON(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	sub, err := st.Subscribe(ctx, store.ChannelEvents)
	require.NoError(t, err)
	defer sub.Close()

	n := MultiNotifier{NopNotifier{}, LogNotifier{Log: zerolog.Nop()}, RedisNotifier{Store: st, Log: zerolog.Nop()}}
	n.Notify(ctx, Event{Type: EventDeviceOffline, DeviceCode: "D1"})

	select {
	case msg := <-sub.C():
		var ev Event
		require.NoError(t, json.Unmarshal([]byte(msg), &ev))
		assert.Equal(t, EventDeviceOffline, ev.Type)
		assert.Equal(t, "D1", ev.DeviceCode)
	case <-time.After(time.Second):
		t.Fatal("event not published")
	}
}
