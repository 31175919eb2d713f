// Package router accepts events from relays and fans notifications out to
// the configured plugins, honoring maintenance suppression.
package router

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
)

// Event is a probe-emitted state transition. Time is ms since the epoch.
type Event struct {
	UUID      string          `json:"uuid"`
	Version   int             `json:"version"`
	User      string          `json:"user"`
	Time      int64           `json:"time"`
	Machine   string          `json:"machine,omitempty"`
	ProbeUUID string          `json:"probeUuid,omitempty"`
	Type      string          `json:"type"`
	Value     json.RawMessage `json:"value,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Status    string          `json:"status"`
}

// Validate enforces the event schema strictly.
func (ev *Event) Validate() error {
	if ev.UUID == "" {
		return httputil.MissingParameterError("event uuid is required")
	}
	if _, err := uuid.Parse(ev.UUID); err != nil {
		return httputil.InvalidArgumentError("event uuid %q is not a UUID", ev.UUID)
	}
	if ev.Version < 1 {
		return httputil.MissingParameterError("event version is required")
	}
	if ev.User == "" {
		return httputil.MissingParameterError("event user is required")
	}
	if _, err := uuid.Parse(ev.User); err != nil {
		return httputil.InvalidArgumentError("event user %q is not a UUID", ev.User)
	}
	if ev.Time <= 0 {
		return httputil.MissingParameterError("event time is required")
	}
	if ev.Type == "" {
		return httputil.MissingParameterError("event type is required")
	}
	if ev.Status == "" {
		return httputil.MissingParameterError("event status is required")
	}
	if ev.Machine != "" {
		if _, err := uuid.Parse(ev.Machine); err != nil {
			return httputil.InvalidArgumentError("event machine %q is not a UUID", ev.Machine)
		}
	}
	if ev.ProbeUUID != "" {
		if _, err := uuid.Parse(ev.ProbeUUID); err != nil {
			return httputil.InvalidArgumentError("event probeUuid %q is not a UUID", ev.ProbeUUID)
		}
	}
	return nil
}
