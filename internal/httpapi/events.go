package httpapi

import (
	"context"
	"net/http"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// handleSyncEvents streams outbox task outcomes over a websocket. Each
// message is one OutboxEvent; the connection closes when the client goes away
// or the outbox shuts down.
func (s *Server) handleSyncEvents(w http.ResponseWriter, r *http.Request) {
	if s.outbox == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "outbox not running")
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	closeStatus := websocket.StatusInternalError
	closeReason := "closed"
	defer func() { conn.Close(closeStatus, closeReason) }()

	events, cancel := s.outbox.Subscribe(64)
	defer cancel()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			closeStatus, closeReason = websocket.StatusNormalClosure, "client gone"
			return
		case event, ok := <-events:
			if !ok {
				closeStatus, closeReason = websocket.StatusNormalClosure, "outbox closed"
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, event)
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}
