package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dmdmdm-nz/netwatchd/internal/runtime"
)

func accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, context.Context, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return nil, nil, err
	}
	return c, r.Context(), nil
}

// handleEvents streams one JSON Event per debounced network change until
// the client disconnects.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, ctx, err := accept(w, r)
	if err != nil {
		log.WithError(err).Error("Failed to accept event stream client")
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "closing")

	clientID := uuid.NewString()
	q := s.subscribe(clientID)
	defer s.unsubscribe(clientID)

	log.WithField("client", clientID).Info("Event stream client connected")
	defer log.WithField("client", clientID).Info("Event stream client disconnected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Read only to detect the client going away.
	go func() {
		for {
			if _, _, err := c.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()
	// Unblock the dequeue loop when the connection dies.
	go func() {
		<-ctx.Done()
		q.Shutdown()
	}()

	for {
		ev, res := q.Dequeue(runtime.Infinite)
		if res != runtime.Delivered {
			return
		}
		b, err := json.Marshal(ev)
		if err != nil {
			log.WithError(err).WithField("client", clientID).Warn("Failed to encode event")
			continue
		}
		if err := c.Write(ctx, websocket.MessageText, b); err != nil {
			return
		}
	}
}
