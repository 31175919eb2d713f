package master

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/internal/router"
)

// handleEvents accepts a single event object or an array of events from a
// relay. 202 when every event routed; the aggregated error otherwise.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		httputil.WriteError(w, httputil.InvalidArgumentError("cannot read body: %v", err))
		return
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		httputil.WriteError(w, httputil.MissingParameterError("event body is required"))
		return
	}

	var events []router.Event
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &events); err != nil {
			httputil.WriteError(w, httputil.InvalidArgumentError("invalid event array: %v", err))
			return
		}
	} else {
		var ev router.Event
		if err := json.Unmarshal(trimmed, &ev); err != nil {
			httputil.WriteError(w, httputil.InvalidArgumentError("invalid event: %v", err))
			return
		}
		events = []router.Event{ev}
	}
	if len(events) == 0 {
		httputil.WriteError(w, httputil.MissingParameterError("event body is required"))
		return
	}

	if err := s.events.ProcessEvents(r.Context(), events); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
