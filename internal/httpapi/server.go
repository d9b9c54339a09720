package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/eldercare-dispatch/internal/alerts"
	"github.com/example/eldercare-dispatch/internal/dispatch"
	"github.com/example/eldercare-dispatch/internal/fabric"
	"github.com/example/eldercare-dispatch/internal/fleet"
)

type Server struct {
	logger *slog.Logger
	alerts *alerts.Service
	disp   *dispatch.Service
	fleet  *fleet.Service
	hub    *fabric.Hub
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, alertsSvc *alerts.Service, dispSvc *dispatch.Service, fleetSvc *fleet.Service, hub *fabric.Hub) *Server {
	s := &Server{
		logger: logger,
		alerts: alertsSvc,
		disp:   dispSvc,
		fleet:  fleetSvc,
		hub:    hub,
		mux:    mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/alerts", s.handleRaiseAlert).Methods("POST")
	api.HandleFunc("/alerts", s.handleAlertQueue).Methods("GET")
	api.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods("GET")
	api.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledgeAlert).Methods("POST")
	api.HandleFunc("/alerts/{id}/candidates", s.handleCandidates).Methods("GET")
	api.HandleFunc("/alerts/{id}/dispatch", s.handleCreateDispatch).Methods("POST")

	api.HandleFunc("/dispatches", s.handleListDispatches).Methods("GET")
	api.HandleFunc("/dispatches/{id}", s.handleGetDispatch).Methods("GET")
	api.HandleFunc("/dispatches/{id}/accept", s.handleAcceptDispatch).Methods("POST")
	api.HandleFunc("/dispatches/{id}/arrive", s.handleArriveDispatch).Methods("POST")
	api.HandleFunc("/dispatches/{id}/complete", s.handleCompleteDispatch).Methods("POST")
	api.HandleFunc("/dispatches/{id}/cancel", s.handleCancelDispatch).Methods("POST")
	api.HandleFunc("/dispatches/{id}/status", s.handleUpdateDispatchStatus).Methods("PATCH")
	api.HandleFunc("/dispatches/{id}/locations", s.handleDispatchTrail).Methods("GET")

	api.HandleFunc("/ambulances", s.handleRegisterAmbulance).Methods("POST")
	api.HandleFunc("/ambulances", s.handleListAmbulances).Methods("GET")
	api.HandleFunc("/ambulances/stats", s.handleFleetStats).Methods("GET")
	api.HandleFunc("/ambulances/nearby", s.handleNearby).Methods("GET")
	api.HandleFunc("/ambulances/{id}", s.handleGetAmbulance).Methods("GET")
	api.HandleFunc("/ambulances/{id}", s.handleRetireAmbulance).Methods("DELETE")
	api.HandleFunc("/ambulances/{id}/status", s.handleSetAmbulanceStatus).Methods("PATCH")
	api.HandleFunc("/ambulances/{id}/location", s.handleAmbulanceLocation).Methods("POST")

	s.mux.HandleFunc("/ws/coordinators", s.handleWSCoordinators)
	s.mux.HandleFunc("/ws/drivers/{id}", s.handleWSDriver)
	s.mux.HandleFunc("/ws/families/{elder_id}", s.handleWSFamily)
	s.mux.HandleFunc("/ws/ambulances/{id}", s.handleWSAmbulance)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
