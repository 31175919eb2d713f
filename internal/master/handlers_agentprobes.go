package master

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
)

// handleAgentProbes serves the per-agent probe manifest. GET returns the
// manifest body; HEAD returns only the digest so relays can poll cheaply.
// Both carry the digest in Content-MD5.
func (s *Server) handleAgentProbes(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		httputil.WriteError(w, httputil.MissingParameterError("agent query parameter is required"))
		return
	}
	if _, err := uuid.Parse(agent); err != nil {
		httputil.WriteError(w, httputil.InvalidArgumentError("agent %q is not a UUID", agent))
		return
	}

	m, err := s.probes.AgentProbes(r.Context(), agent)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	w.Header().Set("Content-MD5", m.Digest)
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.Itoa(len(m.Body)))
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write(m.Body)
}
