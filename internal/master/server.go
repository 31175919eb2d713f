// Package master is the HTTP surface of the amon master: versioned REST
// endpoints, request wiring and the error taxonomy mapping.
package master

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joshwilsdon-forks/sdc-amon/internal/account"
	"github.com/joshwilsdon-forks/sdc-amon/internal/httputil"
	"github.com/joshwilsdon-forks/sdc-amon/internal/maintenance"
	"github.com/joshwilsdon-forks/sdc-amon/internal/probe"
	"github.com/joshwilsdon-forks/sdc-amon/internal/router"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/logger"
	"github.com/joshwilsdon-forks/sdc-amon/pkg/metrics"
)

// APIVersion is the served API version, echoed on every response.
const APIVersion = "1.0.0"

// Server wires the REST endpoints over the domain services.
type Server struct {
	probes *probe.Service
	maint  *maintenance.Engine
	events *router.Router
	users  *account.Resolver
	log    *logger.Logger
	mux    *mux.Router
}

// New builds the server and registers all routes.
func New(probes *probe.Service, maint *maintenance.Engine, events *router.Router,
	users *account.Resolver, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewDefault("master")
	}
	s := &Server{
		probes: probes,
		maint:  maint,
		events: events,
		users:  users,
		log:    log,
		mux:    mux.NewRouter(),
	}
	s.routes()
	return s
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.mux.Use(RecoveryMiddleware(s.log))
	s.mux.Use(LoggingMiddleware(s.log))
	s.mux.Use(MetricsMiddleware())
	s.mux.Use(APIVersionMiddleware())

	s.mux.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.mux.HandleFunc("/agentprobes", s.handleAgentProbes).Methods(http.MethodGet, http.MethodHead)
	s.mux.HandleFunc("/events", s.handleEvents).Methods(http.MethodPost)
	s.mux.HandleFunc("/maintenances", s.handleListAllMaintenances).Methods(http.MethodGet)

	pub := s.mux.PathPrefix("/pub/{user}").Subrouter()
	pub.Use(s.userMiddleware())
	pub.HandleFunc("", s.handleGetUser).Methods(http.MethodGet)

	pub.HandleFunc("/probes", s.handleListProbes).Methods(http.MethodGet)
	pub.HandleFunc("/probes", s.handleCreateProbe).Methods(http.MethodPost)
	pub.HandleFunc("/probes/{uuid}", s.handleGetProbe).Methods(http.MethodGet)
	pub.HandleFunc("/probes/{uuid}", s.handlePutProbe).Methods(http.MethodPut)
	pub.HandleFunc("/probes/{uuid}", s.handleDeleteProbe).Methods(http.MethodDelete)

	pub.HandleFunc("/probegroups", s.handleListProbeGroups).Methods(http.MethodGet)
	pub.HandleFunc("/probegroups", s.handleCreateProbeGroup).Methods(http.MethodPost)
	pub.HandleFunc("/probegroups/{uuid}", s.handleGetProbeGroup).Methods(http.MethodGet)
	pub.HandleFunc("/probegroups/{uuid}", s.handlePutProbeGroup).Methods(http.MethodPut)
	pub.HandleFunc("/probegroups/{uuid}", s.handleDeleteProbeGroup).Methods(http.MethodDelete)

	pub.HandleFunc("/maintenances", s.handleListMaintenances).Methods(http.MethodGet)
	pub.HandleFunc("/maintenances", s.handleCreateMaintenance).Methods(http.MethodPost)
	pub.HandleFunc("/maintenances/{id}", s.handleGetMaintenance).Methods(http.MethodGet)
	pub.HandleFunc("/maintenances/{id}", s.handleDeleteMaintenance).Methods(http.MethodDelete)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"ping":    "pong",
		"pid":     os.Getpid(),
		"version": APIVersion,
	})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user := requestUser(r)
	httputil.WriteJSON(w, http.StatusOK, user)
}
