package master

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/internal/maintenance"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/metrics"
)

type maintenancePayload struct {
	Start       json.RawMessage `json:"start"`
	End         json.RawMessage `json:"end"`
	Notes       string          `json:"notes"`
	All         bool            `json:"all"`
	Probes      []string        `json:"probes"`
	ProbeGroups []string        `json:"probeGroups"`
	Machines    []string        `json:"machines"`
}

func (s *Server) handleListMaintenances(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	windows, err := s.maint.List(r.Context(), user.UUID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, windows)
}

func (s *Server) handleCreateMaintenance(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	var payload maintenancePayload
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}

	now := time.Now()
	start, err := maintenance.ParseStartField(payload.Start, now)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	end, err := maintenance.ParseEndField(payload.End, now)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	win := &maintenance.Window{
		User:        user.UUID,
		Start:       start,
		End:         end,
		Notes:       payload.Notes,
		All:         payload.All,
		Probes:      payload.Probes,
		ProbeGroups: payload.ProbeGroups,
		Machines:    payload.Machines,
	}
	// Surface scope and ordering violations before burning an id.
	probeWin := *win
	if err := probeWin.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.maint.Create(r.Context(), win); err != nil {
		httputil.WriteError(w, err)
		return
	}
	metrics.RecordMaintenance("created")
	httputil.WriteJSON(w, http.StatusCreated, win)
}

// maintenanceID parses the {id} path component.
func maintenanceID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, httputil.InvalidArgumentError("invalid maintenance id %q", raw)
	}
	return id, nil
}

// maintenanceMissing distinguishes a never-issued id (404) from one the
// per-user counter already passed (410 Gone).
func (s *Server) maintenanceMissing(r *http.Request, userUUID string, id int64) error {
	current, err := s.maint.CurrentID(r.Context(), userUUID)
	if err != nil {
		return err
	}
	if id <= current {
		return httputil.GoneError("maintenance %d is gone", id)
	}
	return httputil.ResourceNotFoundError("maintenance %d not found", id)
}

func (s *Server) handleGetMaintenance(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	id, err := maintenanceID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	win, err := s.maint.Get(r.Context(), user.UUID, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if win == nil {
		httputil.WriteError(w, s.maintenanceMissing(r, user.UUID, id))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, win)
}

func (s *Server) handleDeleteMaintenance(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	id, err := maintenanceID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	deleted, err := s.maint.Delete(r.Context(), user.UUID, id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if !deleted {
		httputil.WriteError(w, s.maintenanceMissing(r, user.UUID, id))
		return
	}
	metrics.RecordMaintenance("deleted")
	w.WriteHeader(http.StatusNoContent)
}

// handleListAllMaintenances is the operator-only cross-user listing. The
// acting user is named by the ?user= query parameter.
func (s *Server) handleListAllMaintenances(w http.ResponseWriter, r *http.Request) {
	actorID := r.URL.Query().Get("user")
	if actorID == "" {
		httputil.WriteError(w, httputil.MissingParameterError("user query parameter is required"))
		return
	}
	actor, err := s.users.Resolve(r.Context(), actorID)
	if err != nil {
		httputil.WriteError(w, httputil.InternalError(err, ""))
		return
	}
	if actor == nil {
		httputil.WriteError(w, httputil.ResourceNotFoundError("no such user: %q", actorID))
		return
	}
	if !actor.Operator {
		httputil.WriteError(w, httputil.InvalidArgumentError("operator privileges required"))
		return
	}

	windows, err := s.maint.ListAll(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	type windowWithLogin struct {
		*maintenance.Window
		Login string `json:"login,omitempty"`
	}
	out := make([]windowWithLogin, 0, len(windows))
	for _, win := range windows {
		entry := windowWithLogin{Window: win}
		if owner, rerr := s.users.Resolve(r.Context(), win.User); rerr == nil && owner != nil {
			entry.Login = owner.Login
		}
		out = append(out, entry)
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
