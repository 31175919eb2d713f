package master

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/internal/probe"
)

type probeGroupPayload struct {
	UUID     string   `json:"uuid"`
	User     string   `json:"user"`
	Name     string   `json:"name"`
	Contacts []string `json:"contacts"`
	Disabled bool     `json:"disabled"`
}

func (s *Server) handleListProbeGroups(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	groups, err := s.probes.ListGroups(r.Context(), user.UUID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, groups)
}

func (s *Server) handleCreateProbeGroup(w http.ResponseWriter, r *http.Request) {
	s.writeProbeGroup(w, r, "", http.StatusCreated)
}

func (s *Server) handlePutProbeGroup(w http.ResponseWriter, r *http.Request) {
	s.writeProbeGroup(w, r, mux.Vars(r)["uuid"], http.StatusOK)
}

func (s *Server) writeProbeGroup(w http.ResponseWriter, r *http.Request, groupUUID string, okStatus int) {
	user := requestUser(r)
	var payload probeGroupPayload
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if payload.User != "" && payload.User != user.UUID {
		httputil.WriteError(w, httputil.InvalidArgumentError("user %q does not match the request owner", payload.User))
		return
	}
	if groupUUID != "" {
		if payload.UUID != "" && payload.UUID != groupUUID {
			httputil.WriteError(w, httputil.InvalidArgumentError("uuid %q does not match the request path", payload.UUID))
			return
		}
		payload.UUID = groupUUID
	}
	g := &probe.Group{
		UUID:     payload.UUID,
		User:     user.UUID,
		Name:     payload.Name,
		Contacts: payload.Contacts,
		Disabled: payload.Disabled,
	}
	if err := s.probes.PutGroup(r.Context(), user, g); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, okStatus, g)
}

func (s *Server) handleGetProbeGroup(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	g, err := s.probes.GetGroup(r.Context(), user.UUID, mux.Vars(r)["uuid"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if g == nil {
		httputil.WriteError(w, httputil.ResourceNotFoundError("probe group %s not found", mux.Vars(r)["uuid"]))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, g)
}

func (s *Server) handleDeleteProbeGroup(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	if err := s.probes.DeleteGroup(r.Context(), user, user.UUID, mux.Vars(r)["uuid"]); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
