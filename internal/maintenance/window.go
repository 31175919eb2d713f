// Package maintenance implements maintenance windows: creation, listing,
// deletion, the time-ordered expiry reaper, and the event-suppression
// predicate.
package maintenance

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
)

// KV keys, logical DB 1.
const (
	idsKey       = "maintenanceIds"    // hash: user -> counter
	byEndKey     = "maintenancesByEnd" // zset: window key scored by end-ms
	setKeyFmt    = "maintenances:%s"   // set: ids owned by user
	windowKeyFmt = "maintenance:%s:%d"
)

// Window is one maintenance window. Scope is exactly one of All, Probes,
// ProbeGroups or Machines. Start and End are ms since the epoch.
type Window struct {
	ID          int64    `json:"id"`
	User        string   `json:"user"`
	Start       int64    `json:"start"`
	End         int64    `json:"end"`
	Notes       string   `json:"notes,omitempty"`
	All         bool     `json:"all,omitempty"`
	Probes      []string `json:"probes,omitempty"`
	ProbeGroups []string `json:"probeGroups,omitempty"`
	Machines    []string `json:"machines,omitempty"`
}

// Key returns the window's hash key.
func (w *Window) Key() string {
	return WindowKey(w.User, w.ID)
}

// WindowKey builds the hash key for (user, id).
func WindowKey(user string, id int64) string {
	return fmt.Sprintf(windowKeyFmt, user, id)
}

func userSetKey(user string) string {
	return fmt.Sprintf(setKeyFmt, user)
}

// parseWindowKey inverts WindowKey.
func parseWindowKey(key string) (user string, id int64, ok bool) {
	parts := strings.Split(key, ":")
	if len(parts) != 3 || parts[0] != "maintenance" {
		return "", 0, false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return parts[1], id, true
}

// Validate enforces the window invariants. It runs on create and again on
// every load from storage so bogus records are caught and healed.
func (w *Window) Validate() error {
	if w.User == "" {
		return httputil.MissingParameterError("user is required")
	}
	if w.Start <= 0 || w.End <= 0 {
		return httputil.MissingParameterError("start and end are required")
	}
	if w.Start >= w.End {
		return httputil.InvalidArgumentError("start %d must precede end %d", w.Start, w.End)
	}
	scopes := 0
	if w.All {
		scopes++
	}
	if len(w.Probes) > 0 {
		scopes++
	}
	if len(w.ProbeGroups) > 0 {
		scopes++
	}
	if len(w.Machines) > 0 {
		scopes++
	}
	if scopes != 1 {
		return httputil.InvalidArgumentError("exactly one of all, probes, probeGroups or machines is required")
	}
	return nil
}

// toHash flattens the window into KV hash fields.
func (w *Window) toHash() []interface{} {
	fields := []interface{}{
		"id", strconv.FormatInt(w.ID, 10),
		"user", w.User,
		"start", strconv.FormatInt(w.Start, 10),
		"end", strconv.FormatInt(w.End, 10),
	}
	if w.Notes != "" {
		fields = append(fields, "notes", w.Notes)
	}
	if w.All {
		fields = append(fields, "all", "true")
	}
	if len(w.Probes) > 0 {
		fields = append(fields, "probes", jsonList(w.Probes))
	}
	if len(w.ProbeGroups) > 0 {
		fields = append(fields, "probeGroups", jsonList(w.ProbeGroups))
	}
	if len(w.Machines) > 0 {
		fields = append(fields, "machines", jsonList(w.Machines))
	}
	return fields
}

// windowFromHash rebuilds a window from KV hash fields.
func windowFromHash(h map[string]string) (*Window, error) {
	if len(h) == 0 {
		return nil, fmt.Errorf("empty maintenance hash")
	}
	id, err := strconv.ParseInt(h["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad id %q", h["id"])
	}
	start, err := strconv.ParseInt(h["start"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad start %q", h["start"])
	}
	end, err := strconv.ParseInt(h["end"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad end %q", h["end"])
	}
	w := &Window{
		ID:    id,
		User:  h["user"],
		Start: start,
		End:   end,
		Notes: h["notes"],
		All:   h["all"] == "true",
	}
	if w.Probes, err = parseList(h["probes"]); err != nil {
		return nil, err
	}
	if w.ProbeGroups, err = parseList(h["probeGroups"]); err != nil {
		return nil, err
	}
	if w.Machines, err = parseList(h["machines"]); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

func jsonList(items []string) string {
	raw, _ := json.Marshal(items)
	return string(raw)
}

func parseList(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("bad list %q", raw)
	}
	return items, nil
}

var relativeEndRe = regexp.MustCompile(`^([0-9]+)([mhd])$`)

// ParseStartField resolves a start value: an ms-epoch integer or the
// literal "now".
func ParseStartField(raw json.RawMessage, now time.Time) (int64, error) {
	if len(raw) == 0 {
		return 0, httputil.MissingParameterError("start is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "now" {
			return now.UnixMilli(), nil
		}
		return 0, httputil.InvalidArgumentError("invalid start %q", s)
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
		return 0, httputil.InvalidArgumentError("invalid start %s", string(raw))
	}
	return ms, nil
}

// ParseEndField resolves an end value: an ms-epoch integer or a relative
// "Nm"/"Nh"/"Nd" with N in [1, 1e6].
func ParseEndField(raw json.RawMessage, now time.Time) (int64, error) {
	if len(raw) == 0 {
		return 0, httputil.MissingParameterError("end is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		m := relativeEndRe.FindStringSubmatch(s)
		if m == nil {
			return 0, httputil.InvalidArgumentError("invalid end %q", s)
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || n < 1 || n > 1_000_000 {
			return 0, httputil.InvalidArgumentError("invalid end duration %q", s)
		}
		var unit time.Duration
		switch m[2] {
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		}
		return now.Add(time.Duration(n) * unit).UnixMilli(), nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil || ms <= 0 {
		return 0, httputil.InvalidArgumentError("invalid end %s", string(raw))
	}
	return ms, nil
}
