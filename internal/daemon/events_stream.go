package daemon

import (
	"fmt"
	"net/http"

	"solasola/internal/events"
)

// handleEvents streams broadcaster events as server-sent events. Idle
// periods are filled with heartbeat comments.
func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	sub := s.daemon.opts.Events.Subscribe()
	defer sub.Unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := s.daemon.cfg.HeartbeatInterval()
	ctx := r.Context()
	for {
		evt, ok := sub.Next(ctx, heartbeat)
		if !ok {
			return
		}
		var err error
		if evt.Type == events.TypeHeartbeat {
			_, err = fmt.Fprintf(w, ": %s\n\n", events.TypeHeartbeat)
		} else {
			_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.JSON())
		}
		if err != nil {
			return
		}
		flusher.Flush()
	}
}
