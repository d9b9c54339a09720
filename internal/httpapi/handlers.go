package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/eldercare-dispatch/internal/alerts"
	"github.com/example/eldercare-dispatch/internal/dispatch"
	"github.com/example/eldercare-dispatch/internal/faults"
	"github.com/example/eldercare-dispatch/internal/fleet"
	"github.com/example/eldercare-dispatch/internal/models"
	"github.com/example/eldercare-dispatch/internal/storage"
)

type errorBody struct {
	Kind    faults.Kind `json:"kind"`
	Message string      `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusForKind(k faults.Kind) int {
	switch k {
	case faults.KindNotFound:
		return http.StatusNotFound
	case faults.KindInvalidInput:
		return http.StatusBadRequest
	case faults.KindForbidden:
		return http.StatusForbidden
	case faults.KindInvalidStateTransition, faults.KindAmbulanceUnavailable, faults.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := faults.KindOf(err)
	status := statusForKind(kind)
	if status == http.StatusInternalServerError {
		s.logger.Error("internal error", "error", err)
		writeJSON(w, status, map[string]errorBody{"error": {Kind: "internal", Message: "internal error"}})
		return
	}
	writeJSON(w, status, map[string]errorBody{"error": {Kind: kind, Message: err.Error()}})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return faults.InvalidInput("malformed request body: %v", err)
	}
	return nil
}

func (s *Server) handleRaiseAlert(w http.ResponseWriter, r *http.Request) {
	var p alerts.RaiseParams
	if err := decode(r, &p); err != nil {
		s.writeError(w, err)
		return
	}
	alert, err := s.alerts.Raise(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, alert)
}

func (s *Server) handleAlertQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.AlertFilter{
		Priority: models.AlertPriority(q.Get("priority")),
	}
	if raw := q.Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, models.AlertStatus(strings.TrimSpace(part)))
		}
	}
	f.Limit = intQuery(q.Get("limit"), 50)
	list, err := s.alerts.Queue(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": list})
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alerts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CoordinatorID string `json:"coordinator_id"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	alert, err := s.alerts.Acknowledge(r.Context(), mux.Vars(r)["id"], body.CoordinatorID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r.URL.Query().Get("limit"), 0)
	cands, err := s.disp.Candidates(r.Context(), mux.Vars(r)["id"], limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": cands})
}

func (s *Server) handleCreateDispatch(w http.ResponseWriter, r *http.Request) {
	var p dispatch.CreateParams
	if err := decode(r, &p); err != nil {
		s.writeError(w, err)
		return
	}
	p.AlertID = mux.Vars(r)["id"]
	d, err := s.disp.Create(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleListDispatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.DispatchFilter{
		AlertID:       q.Get("alert_id"),
		AmbulanceID:   q.Get("ambulance_id"),
		DriverID:      q.Get("driver_id"),
		CoordinatorID: q.Get("coordinator_id"),
		OpenOnly:      q.Get("open") == "true",
		Limit:         intQuery(q.Get("limit"), 50),
	}
	list, err := s.disp.List(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"dispatches": list})
}

func (s *Server) handleGetDispatch(w http.ResponseWriter, r *http.Request) {
	d, err := s.disp.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type driverActionBody struct {
	DriverID string `json:"driver_id"`
	Notes    string `json:"notes,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (s *Server) handleAcceptDispatch(w http.ResponseWriter, r *http.Request) {
	var body driverActionBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.disp.Accept(r.Context(), mux.Vars(r)["id"], body.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleArriveDispatch(w http.ResponseWriter, r *http.Request) {
	var body driverActionBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.disp.MarkArrived(r.Context(), mux.Vars(r)["id"], body.DriverID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCompleteDispatch(w http.ResponseWriter, r *http.Request) {
	var body driverActionBody
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.disp.Complete(r.Context(), mux.Vars(r)["id"], body.DriverID, body.Notes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCancelDispatch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CallerID string `json:"caller_id"`
		Reason   string `json:"reason,omitempty"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.disp.Cancel(r.Context(), mux.Vars(r)["id"], body.CallerID, body.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleUpdateDispatchStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string                `json:"driver_id"`
		Status   models.DispatchStatus `json:"status"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	d, err := s.disp.UpdateStatus(r.Context(), mux.Vars(r)["id"], body.DriverID, body.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDispatchTrail(w http.ResponseWriter, r *http.Request) {
	trail, err := s.disp.Trail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": trail})
}

func (s *Server) handleRegisterAmbulance(w http.ResponseWriter, r *http.Request) {
	var p fleet.RegisterParams
	if err := decode(r, &p); err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.fleet.Register(r.Context(), p)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAmbulances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := storage.AmbulanceFilter{
		Status:     models.AmbulanceStatus(q.Get("status")),
		Type:       q.Get("type"),
		OnlyActive: q.Get("include_retired") != "true",
		Limit:      intQuery(q.Get("limit"), 100),
	}
	list, err := s.fleet.List(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ambulances": list})
}

func (s *Server) handleFleetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.fleet.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lat, err1 := strconv.ParseFloat(q.Get("lat"), 64)
	lon, err2 := strconv.ParseFloat(q.Get("lon"), 64)
	if err1 != nil || err2 != nil {
		s.writeError(w, faults.InvalidInput("lat and lon query parameters are required"))
		return
	}
	radius, _ := strconv.ParseFloat(q.Get("radius_km"), 64)
	pings, err := s.fleet.Nearby(r.Context(), lat, lon, radius, intQuery(q.Get("limit"), 10))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nearby": pings})
}

func (s *Server) handleGetAmbulance(w http.ResponseWriter, r *http.Request) {
	a, err := s.fleet.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRetireAmbulance(w http.ResponseWriter, r *http.Request) {
	if err := s.fleet.SoftDelete(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetAmbulanceStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Status models.AmbulanceStatus `json:"status"`
	}
	if err := decode(r, &body); err != nil {
		s.writeError(w, err)
		return
	}
	a, err := s.fleet.SetStatus(r.Context(), mux.Vars(r)["id"], body.Status)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleAmbulanceLocation(w http.ResponseWriter, r *http.Request) {
	var ping models.LocationPing
	if err := decode(r, &ping); err != nil {
		s.writeError(w, err)
		return
	}
	ping.AmbulanceID = mux.Vars(r)["id"]
	a, err := s.fleet.UpdateLocation(r.Context(), ping)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func intQuery(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
