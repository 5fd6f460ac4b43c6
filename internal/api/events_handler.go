package api

import (
	"net/http"
	"time"

	"snapwatch/internal/event"
	"snapwatch/internal/logging"

	"github.com/gorilla/websocket"
)

const eventWriteTimeout = 10 * time.Second

// EventsHandler streams bus events over a websocket. The server mounts
// one instance per stream: snapshot lifecycle events and raw filesystem
// changes.
type EventsHandler[T any] struct {
	Bus    *event.Bus[T]
	Logger *logging.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The server binds loopback by default; origin checks are left to a
	// fronting proxy when exposed further.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (h *EventsHandler[T]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Bus == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("websocket upgrade failed", map[string]string{
				"remote": r.RemoteAddr,
				"error":  err.Error(),
			})
		}
		return
	}
	defer conn.Close()

	events, cancel := h.Bus.Subscribe()
	defer cancel()

	// Drain the read side so close frames and pings are processed.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case entry, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(entry); err != nil {
				return
			}
		case <-readClosed:
			return
		}
	}
}
