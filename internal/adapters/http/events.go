package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kirillkom/equity-lens/internal/core/domain"
)

const eventBufferSize = 32

// streamEvents relays project change notifications as Server-Sent Events
// until the client disconnects. Events are dropped for a client that falls
// more than eventBufferSize behind.
func (rt *Router) streamEvents(w http.ResponseWriter, r *http.Request) {
	project, ok := rt.ownedProject(w, r)
	if !ok {
		return
	}
	if rt.services.Events == nil {
		writeError(w, r, domain.WrapError(domain.ErrTemporary, "stream events", errors.New("event stream is not configured")))
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		rt.logger.Warn("sse_flush_unsupported", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan domain.Event, eventBufferSize)
	subscribed := make(chan error, 1)
	go func() {
		subscribed <- rt.services.Events.SubscribeProject(ctx, project.ID, func(event domain.Event) {
			select {
			case events <- event:
			default:
				rt.logger.Warn("sse_event_dropped", "project_id", project.ID, "type", event.Type)
			}
		})
	}()

	heartbeat := time.NewTicker(rt.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-subscribed:
			if err != nil {
				rt.logger.Error("sse_subscribe_failed", "project_id", project.ID, "error", err)
			}
			return
		case event := <-events:
			if err := writeSSEEvent(w, event); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, payload)
	return err
}
