// Package dispatch binds one alert to one ambulance/driver and drives the
// response cycle. Every state change here mirrors the parent alert and, where
// the transition frees the vehicle, the fleet registry — inside the same
// store-level atomic unit.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/eldercare-dispatch/internal/directory"
	"github.com/example/eldercare-dispatch/internal/fabric"
	"github.com/example/eldercare-dispatch/internal/faults"
	"github.com/example/eldercare-dispatch/internal/geo"
	"github.com/example/eldercare-dispatch/internal/models"
	"github.com/example/eldercare-dispatch/internal/notify"
	"github.com/example/eldercare-dispatch/internal/observability"
	"github.com/example/eldercare-dispatch/internal/storage"
)

type Service struct {
	Store       storage.Store
	Fabric      fabric.Publisher
	Users       directory.Users
	Elders      directory.Elders
	Email       notify.EmailSender
	Log         *slog.Logger
	AvgSpeedKmh float64
	// Now is swappable in tests; nil means time.Now.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

type CreateParams struct {
	AlertID       string `json:"alert_id"`
	AmbulanceID   string `json:"ambulance_id"`
	CoordinatorID string `json:"coordinator_id"`
	HospitalDest  string `json:"hospital_destination,omitempty"`
}

// assignmentNotice is the payload pushed to the assigned driver.
type assignmentNotice struct {
	DispatchID   string               `json:"dispatch_id"`
	AlertID      string               `json:"alert_id"`
	ElderID      string               `json:"elder_id"`
	ElderName    string               `json:"elder_name,omitempty"`
	Priority     models.AlertPriority `json:"priority"`
	Location     models.AlertLocation `json:"location"`
	Medical      models.MedicalSnapshot `json:"medical"`
	DistanceKm   float64              `json:"distance_km"`
	ETAMinutes   int                  `json:"eta_minutes"`
	HospitalDest string               `json:"hospital_destination,omitempty"`
}

// Create assigns an ambulance to an alert. The availability check and all
// three mutations commit atomically in the store; of N racing coordinators
// exactly one wins and the rest see AmbulanceUnavailable. Notifications and
// email go out only after the commit and never undo it.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.AmbulanceDispatch, error) {
	if p.AlertID == "" || p.AmbulanceID == "" {
		return nil, faults.InvalidInput("alert_id and ambulance_id are required")
	}
	if p.CoordinatorID == "" {
		return nil, faults.InvalidInput("coordinator_id is required")
	}

	amb, err := s.Store.GetAmbulance(ctx, p.AmbulanceID)
	if err != nil {
		return nil, err
	}
	if amb.DriverID == "" {
		return nil, faults.Conflict("ambulance %s has no assigned driver", amb.ID)
	}
	alert, err := s.Store.GetAlert(ctx, p.AlertID)
	if err != nil {
		return nil, err
	}

	var distanceKm float64
	var etaMin int
	route := models.RouteSnapshot{Destination: alert.Location.Coord}
	if amb.Location != nil {
		route.Origin = amb.Location.Coord
		distanceKm = geo.DistanceKm(amb.Location.Lat, amb.Location.Lon, alert.Location.Lat, alert.Location.Lon)
		etaMin = geo.ETAMinutes(distanceKm, s.AvgSpeedKmh)
	}

	d := &models.AmbulanceDispatch{
		ID:            uuid.NewString(),
		AlertID:       alert.ID,
		AmbulanceID:   amb.ID,
		DriverID:      amb.DriverID,
		CoordinatorID: p.CoordinatorID,
		Status:        models.DispatchDispatched,
		DispatchedAt:  s.now(),
		DistanceKm:    distanceKm,
		ETAMinutes:    etaMin,
		Route:         route,
		HospitalDest:  p.HospitalDest,
	}
	if err := s.Store.CreateDispatch(ctx, d); err != nil {
		if faults.IsKind(err, faults.KindAmbulanceUnavailable) {
			observability.DispatchConflicts.Inc()
		}
		return nil, err
	}
	observability.DispatchesCreated.Inc()
	s.Log.Info("dispatch created",
		"dispatch_id", d.ID, "alert_id", d.AlertID, "ambulance_id", d.AmbulanceID,
		"driver_id", d.DriverID, "distance_km", d.DistanceKm, "eta_minutes", d.ETAMinutes)

	s.notifyCreated(ctx, d, alert)
	return d, nil
}

func (s *Service) notifyCreated(ctx context.Context, d *models.AmbulanceDispatch, alert *models.EmergencyAlert) {
	notice := assignmentNotice{
		DispatchID:   d.ID,
		AlertID:      alert.ID,
		ElderID:      alert.ElderID,
		Priority:     alert.Priority,
		Location:     alert.Location,
		Medical:      alert.Medical,
		DistanceKm:   d.DistanceKm,
		ETAMinutes:   d.ETAMinutes,
		HospitalDest: d.HospitalDest,
	}
	if elder, err := s.Elders.LookupElder(ctx, alert.ElderID); err == nil {
		notice.ElderName = elder.Name
	} else {
		s.Log.Warn("elder lookup failed", "elder_id", alert.ElderID, "error", err)
	}

	s.Fabric.Publish(fabric.Driver(d.DriverID), fabric.NewEvent(fabric.EventDispatchCreated, notice))
	s.Fabric.Publish(fabric.Family(alert.ElderID), fabric.NewEvent(fabric.EventDispatchCreated, d))
	s.Fabric.Publish(fabric.Coordinators(), fabric.NewEvent(fabric.EventDispatchCreated, d))

	driver, err := s.Users.LookupUser(ctx, d.DriverID)
	if err != nil || driver.Email == "" {
		s.Log.Warn("driver email unavailable, skipping mail", "driver_id", d.DriverID, "error", err)
		return
	}
	subject := fmt.Sprintf("Emergency dispatch %s (%s priority)", d.ID, alert.Priority)
	body := fmt.Sprintf("You have been dispatched to an emergency.\nAlert: %s\nLocation: %.5f, %.5f %s\nETA estimate: %d minutes.",
		alert.ID, alert.Location.Lat, alert.Location.Lon, alert.Location.Address, d.ETAMinutes)
	if err := s.Email.Send(ctx, driver.Email, subject, body); err != nil {
		// best-effort: the dispatch already committed
		s.Log.Warn("dispatch email failed", "dispatch_id", d.ID, "driver_id", d.DriverID, "error", err)
	}
}

func (s *Service) owned(ctx context.Context, dispatchID, driverID string) (*models.AmbulanceDispatch, error) {
	d, err := s.Store.GetDispatch(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if d.DriverID != driverID {
		return nil, faults.Forbidden("driver %s does not own dispatch %s", driverID, dispatchID)
	}
	return d, nil
}

// Accept records the assigned driver taking the dispatch. Response time is
// the gap between dispatch and acceptance, in whole seconds.
func (s *Service) Accept(ctx context.Context, dispatchID, driverID string) (*models.AmbulanceDispatch, error) {
	d, err := s.owned(ctx, dispatchID, driverID)
	if err != nil {
		return nil, err
	}
	at := s.now()
	responseSec := int64(at.Sub(d.DispatchedAt) / time.Second)
	updated, err := s.Store.TransitionDispatch(ctx, storage.DispatchTransition{
		DispatchID:      dispatchID,
		From:            []models.DispatchStatus{models.DispatchDispatched},
		To:              models.DispatchAccepted,
		At:              at,
		SetAccepted:     true,
		ResponseTimeSec: &responseSec,
		AlertStatus:     models.AlertEnRoute,
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("dispatch accepted", "dispatch_id", dispatchID, "driver_id", driverID, "response_sec", responseSec)
	s.broadcast(ctx, updated, fabric.EventDispatchAccepted)
	return updated, nil
}

// MarkArrived records arrival on scene and the total response time from the
// original dispatch moment.
func (s *Service) MarkArrived(ctx context.Context, dispatchID, driverID string) (*models.AmbulanceDispatch, error) {
	d, err := s.owned(ctx, dispatchID, driverID)
	if err != nil {
		return nil, err
	}
	at := s.now()
	responseSec := int64(at.Sub(d.DispatchedAt) / time.Second)
	updated, err := s.Store.TransitionDispatch(ctx, storage.DispatchTransition{
		DispatchID:      dispatchID,
		From:            []models.DispatchStatus{models.DispatchAccepted, models.DispatchEnRoute},
		To:              models.DispatchArrived,
		At:              at,
		SetArrived:      true,
		ResponseTimeSec: &responseSec,
		AlertStatus:     models.AlertAssistanceProvided,
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("dispatch arrived", "dispatch_id", dispatchID, "total_response_sec", responseSec)
	s.broadcast(ctx, updated, fabric.EventDispatchArrived)
	return updated, nil
}

// Complete closes out an arrived dispatch, frees the ambulance, and writes
// the completion metadata into the alert's notes.
func (s *Service) Complete(ctx context.Context, dispatchID, driverID, notes string) (*models.AmbulanceDispatch, error) {
	if _, err := s.owned(ctx, dispatchID, driverID); err != nil {
		return nil, err
	}
	at := s.now()
	alertNotes := map[string]string{
		models.NoteCompletedBy: driverID,
	}
	if notes != "" {
		alertNotes[models.NoteCompletionSummary] = notes
	}
	updated, err := s.Store.TransitionDispatch(ctx, storage.DispatchTransition{
		DispatchID:      dispatchID,
		From:            []models.DispatchStatus{models.DispatchArrived},
		To:              models.DispatchCompleted,
		At:              at,
		SetCompleted:    true,
		Notes:           notes,
		AlertStatus:     models.AlertCompleted,
		AlertNotes:      alertNotes,
		AmbulanceStatus: models.AmbulanceAvailable,
	})
	if err != nil {
		return nil, err
	}
	observability.DispatchesCompleted.Inc()
	s.Log.Info("dispatch completed", "dispatch_id", dispatchID, "ambulance_id", updated.AmbulanceID)
	s.broadcast(ctx, updated, fabric.EventDispatchCompleted)
	return updated, nil
}

// Cancel aborts a non-terminal dispatch, freeing the ambulance and mirroring
// the alert to cancelled. The coordinator who created the dispatch or the
// assigned driver may cancel.
func (s *Service) Cancel(ctx context.Context, dispatchID, callerID, reason string) (*models.AmbulanceDispatch, error) {
	d, err := s.Store.GetDispatch(ctx, dispatchID)
	if err != nil {
		return nil, err
	}
	if callerID != d.DriverID && callerID != d.CoordinatorID {
		return nil, faults.Forbidden("caller %s may not cancel dispatch %s", callerID, dispatchID)
	}
	at := s.now()
	alertNotes := map[string]string{models.NoteCancelledBy: callerID}
	if reason != "" {
		alertNotes[models.NoteCancelReason] = reason
	}
	updated, err := s.Store.TransitionDispatch(ctx, storage.DispatchTransition{
		DispatchID:      dispatchID,
		From:            []models.DispatchStatus{models.DispatchDispatched, models.DispatchAccepted, models.DispatchEnRoute, models.DispatchArrived},
		To:              models.DispatchCancelled,
		At:              at,
		AlertStatus:     models.AlertCancelled,
		AlertNotes:      alertNotes,
		AmbulanceStatus: models.AmbulanceAvailable,
	})
	if err != nil {
		return nil, err
	}
	s.Log.Info("dispatch cancelled", "dispatch_id", dispatchID, "by", callerID)
	s.broadcast(ctx, updated, fabric.EventDispatchCancelled)
	return updated, nil
}

// UpdateStatus is the generic driver-side transition. Accept, arrival and
// completion keep their dedicated semantics; en_route is the only step with
// no extra bookkeeping.
func (s *Service) UpdateStatus(ctx context.Context, dispatchID, driverID string, to models.DispatchStatus) (*models.AmbulanceDispatch, error) {
	switch to {
	case models.DispatchAccepted:
		return s.Accept(ctx, dispatchID, driverID)
	case models.DispatchEnRoute:
		if _, err := s.owned(ctx, dispatchID, driverID); err != nil {
			return nil, err
		}
		updated, err := s.Store.TransitionDispatch(ctx, storage.DispatchTransition{
			DispatchID:  dispatchID,
			From:        []models.DispatchStatus{models.DispatchAccepted},
			To:          models.DispatchEnRoute,
			At:          s.now(),
			AlertStatus: models.AlertEnRoute,
		})
		if err != nil {
			return nil, err
		}
		s.broadcast(ctx, updated, fabric.EventDispatchStatus)
		return updated, nil
	case models.DispatchArrived:
		return s.MarkArrived(ctx, dispatchID, driverID)
	case models.DispatchCompleted:
		return s.Complete(ctx, dispatchID, driverID, "")
	case models.DispatchCancelled:
		return s.Cancel(ctx, dispatchID, driverID, "")
	default:
		return nil, faults.InvalidInput("unknown dispatch status %q", to)
	}
}

// broadcast pushes a lifecycle event to coordinators and the elder's family.
// Fire-and-forget on both scopes.
func (s *Service) broadcast(ctx context.Context, d *models.AmbulanceDispatch, eventType string) {
	s.Fabric.Publish(fabric.Coordinators(), fabric.NewEvent(eventType, d))
	alert, err := s.Store.GetAlert(ctx, d.AlertID)
	if err != nil {
		s.Log.Warn("alert lookup for broadcast failed", "alert_id", d.AlertID, "error", err)
		return
	}
	s.Fabric.Publish(fabric.Family(alert.ElderID), fabric.NewEvent(eventType, d))
}

// Candidates ranks available ambulances for an alert by ascending distance,
// ties broken by ambulance id. Equipment and capacity are shown, not scored:
// choosing remains the coordinator's call.
func (s *Service) Candidates(ctx context.Context, alertID string, limit int) ([]geo.Candidate, error) {
	alert, err := s.Store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	available, err := s.Store.ListAmbulances(ctx, storage.AmbulanceFilter{
		Status:     models.AmbulanceAvailable,
		OnlyActive: true,
	})
	if err != nil {
		return nil, err
	}
	flat := make([]models.Ambulance, 0, len(available))
	for _, a := range available {
		flat = append(flat, *a)
	}
	return geo.Nearest(alert.Location.Coord, flat, s.AvgSpeedKmh, limit), nil
}

func (s *Service) Get(ctx context.Context, dispatchID string) (*models.AmbulanceDispatch, error) {
	return s.Store.GetDispatch(ctx, dispatchID)
}

// List serves both the active board and history, scoped to a coordinator or
// driver when asked.
func (s *Service) List(ctx context.Context, f storage.DispatchFilter) ([]*models.AmbulanceDispatch, error) {
	return s.Store.ListDispatches(ctx, f)
}

// Trail returns a dispatch's location history in server receipt order.
func (s *Service) Trail(ctx context.Context, dispatchID string) ([]*models.LocationRecord, error) {
	if _, err := s.Store.GetDispatch(ctx, dispatchID); err != nil {
		return nil, err
	}
	return s.Store.ListLocations(ctx, dispatchID)
}
