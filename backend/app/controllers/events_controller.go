package controllers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"autojs-hub/backend/app/dispatch"
)

const (
	eventsWriteWait  = 10 * time.Second
	eventsPongWait   = 60 * time.Second
	eventsPingPeriod = eventsPongWait * 9 / 10
	eventsBuffer     = 256
)

var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventsController streams engine notifications to admin websocket clients.
type EventsController struct {
	Events *dispatch.Broadcaster
	Log    zerolog.Logger
}

func NewEventsController(events *dispatch.Broadcaster, log zerolog.Logger) *EventsController {
	return &EventsController{Events: events, Log: log}
}

func (c *EventsController) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		c.Log.Warn().Err(err).Msg("events upgrade")
		return
	}
	events, unsubscribe := c.Events.Subscribe(eventsBuffer)
	done := make(chan struct{})
	go c.readPump(conn, done)

	c.Log.Info().Str("ip", r.RemoteAddr).Msg("events client connected")
	defer func() {
		unsubscribe()
		_ = conn.Close()
		c.Log.Info().Str("ip", r.RemoteAddr).Msg("events client disconnected")
	}()

	ping := time.NewTicker(eventsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readPump discards client frames and closes done when the peer goes away.
func (c *EventsController) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.Log.Debug().Err(err).Msg("events read")
			}
			return
		}
	}
}
