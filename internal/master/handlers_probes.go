package master

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/internal/probe"
)

// probePayload is the request body for probe create and put.
type probePayload struct {
	UUID     string          `json:"uuid"`
	User     string          `json:"user"`
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Agent    string          `json:"agent"`
	Machine  string          `json:"machine"`
	Group    string          `json:"group"`
	Contacts []string        `json:"contacts"`
	Config   json.RawMessage `json:"config"`
	Disabled bool            `json:"disabled"`
}

func (pl *probePayload) toProbe(ownerUUID string) (*probe.Probe, error) {
	if pl.User != "" && pl.User != ownerUUID {
		return nil, httputil.InvalidArgumentError("user %q does not match the request owner", pl.User)
	}
	return &probe.Probe{
		UUID:     pl.UUID,
		User:     ownerUUID,
		Name:     pl.Name,
		Type:     pl.Type,
		Agent:    pl.Agent,
		Machine:  pl.Machine,
		Group:    pl.Group,
		Contacts: pl.Contacts,
		Config:   pl.Config,
		Disabled: pl.Disabled,
	}, nil
}

func skipAuthzParam(r *http.Request) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get("skipauthz"))
	return b
}

func (s *Server) handleListProbes(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	probes, err := s.probes.List(r.Context(), user.UUID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	views := make([]probe.PublicView, 0, len(probes))
	for _, p := range probes {
		views = append(views, p.Public())
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

func (s *Server) handleCreateProbe(w http.ResponseWriter, r *http.Request) {
	s.writeProbe(w, r, "", http.StatusCreated)
}

func (s *Server) handlePutProbe(w http.ResponseWriter, r *http.Request) {
	s.writeProbe(w, r, mux.Vars(r)["uuid"], http.StatusOK)
}

func (s *Server) writeProbe(w http.ResponseWriter, r *http.Request, probeUUID string, okStatus int) {
	user := requestUser(r)
	var payload probePayload
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if probeUUID != "" {
		if payload.UUID != "" && payload.UUID != probeUUID {
			httputil.WriteError(w, httputil.InvalidArgumentError("uuid %q does not match the request path", payload.UUID))
			return
		}
		payload.UUID = probeUUID
	}
	p, err := payload.toProbe(user.UUID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := s.probes.Put(r.Context(), user, p, skipAuthzParam(r)); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, okStatus, p.Public())
}

func (s *Server) handleGetProbe(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	p, err := s.probes.Get(r.Context(), user.UUID, mux.Vars(r)["uuid"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if p == nil {
		httputil.WriteError(w, httputil.ResourceNotFoundError("probe %s not found", mux.Vars(r)["uuid"]))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p.Public())
}

func (s *Server) handleDeleteProbe(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	if err := s.probes.Delete(r.Context(), user, user.UUID, mux.Vars(r)["uuid"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
