// Package fleet is the ambulance registry: identity, manual status changes,
// location pings, soft deletion. Assigned-state transitions (en_route as a
// result of dispatch, the release back to available) belong to the dispatch
// pipeline, not to this package's setters.
package fleet

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/eldercare-dispatch/internal/fabric"
	"github.com/example/eldercare-dispatch/internal/faults"
	"github.com/example/eldercare-dispatch/internal/geo"
	"github.com/example/eldercare-dispatch/internal/models"
	"github.com/example/eldercare-dispatch/internal/observability"
	"github.com/example/eldercare-dispatch/internal/storage"
)

// PingPublisher feeds the location ingest pipeline; nil-able, Kafka-backed in
// production.
type PingPublisher interface {
	PublishPing(ping models.LocationPing) error
}

type Service struct {
	Store   storage.Store
	Fabric  fabric.Publisher
	Pings   PingPublisher // optional
	Tracker geo.Tracker   // optional live-position cache
	Log     *slog.Logger
	Now     func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

type RegisterParams struct {
	VehicleNumber string   `json:"vehicle_number"`
	LicensePlate  string   `json:"license_plate"`
	Type          string   `json:"type"`
	DriverID      string   `json:"driver_id,omitempty"`
	HospitalID    string   `json:"hospital_id,omitempty"`
	Capacity      int      `json:"capacity"`
	Equipment     []string `json:"equipment,omitempty"`
}

func (s *Service) Register(ctx context.Context, p RegisterParams) (*models.Ambulance, error) {
	if p.VehicleNumber == "" || p.LicensePlate == "" {
		return nil, faults.InvalidInput("vehicle_number and license_plate are required")
	}
	if p.Type == "" {
		return nil, faults.InvalidInput("ambulance type is required")
	}
	now := s.now()
	a := &models.Ambulance{
		ID:            uuid.NewString(),
		VehicleNumber: p.VehicleNumber,
		LicensePlate:  p.LicensePlate,
		Type:          p.Type,
		DriverID:      p.DriverID,
		HospitalID:    p.HospitalID,
		Status:        models.AmbulanceAvailable,
		Capacity:      p.Capacity,
		Equipment:     p.Equipment,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Store.CreateAmbulance(ctx, a); err != nil {
		return nil, err
	}
	s.Log.Info("ambulance registered", "ambulance_id", a.ID, "vehicle_number", a.VehicleNumber, "type", a.Type)
	return a, nil
}

// SetStatus is the manual setter, limited to the known status values. The
// store refuses while an open dispatch holds the ambulance.
func (s *Service) SetStatus(ctx context.Context, id string, status models.AmbulanceStatus) (*models.Ambulance, error) {
	if !status.Valid() {
		return nil, faults.InvalidInput("unknown ambulance status %q", status)
	}
	a, err := s.Store.SetAmbulanceStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.Log.Info("ambulance status set", "ambulance_id", id, "status", status)
	return a, nil
}

// UpdateLocation records a driver ping. Always allowed; when the ambulance is
// en_route the fix also lands in the dispatch's location trail and is
// broadcast to the ambulance's watchers, the coordinators, and the elder's
// family. Pipeline and fabric failures are absorbed: the registry update is
// the only part the caller can fail on.
func (s *Service) UpdateLocation(ctx context.Context, ping models.LocationPing) (*models.Ambulance, error) {
	if ping.AmbulanceID == "" {
		return nil, faults.InvalidInput("ambulance_id is required")
	}
	if ping.Lat < -90 || ping.Lat > 90 || ping.Lon < -180 || ping.Lon > 180 {
		return nil, faults.InvalidInput("coordinates out of range")
	}
	if ping.Source == "" {
		ping.Source = models.SourceGPS
	}
	now := s.now()
	fix := models.VehicleFix{
		Coord:      models.Coord{Lat: ping.Lat, Lon: ping.Lon},
		AccuracyM:  ping.AccuracyM,
		AltitudeM:  ping.AltitudeM,
		SpeedKmh:   ping.SpeedKmh,
		HeadingDeg: ping.HeadingDeg,
		RecordedAt: now,
	}
	a, err := s.Store.UpdateAmbulanceLocation(ctx, ping.AmbulanceID, fix)
	if err != nil {
		return nil, err
	}
	observability.LocationPings.Inc()

	if s.Pings != nil {
		if err := s.Pings.PublishPing(ping); err != nil {
			s.Log.Warn("location ping publish failed", "ambulance_id", ping.AmbulanceID, "error", err)
		}
	} else if s.Tracker != nil {
		// no ingest pipeline: maintain the live-position cache inline
		if err := s.Tracker.Upsert(ctx, ping); err != nil {
			s.Log.Warn("tracker upsert failed", "ambulance_id", ping.AmbulanceID, "error", err)
		}
	}

	if a.Status == models.AmbulanceEnRoute {
		s.recordAndBroadcast(ctx, a, ping, fix)
	}
	return a, nil
}

func (s *Service) recordAndBroadcast(ctx context.Context, a *models.Ambulance, ping models.LocationPing, fix models.VehicleFix) {
	event := fabric.NewEvent(fabric.EventAmbulanceLocation, map[string]any{
		"ambulance_id": a.ID,
		"fix":          fix,
	})
	s.Fabric.Publish(fabric.AmbulanceWatch(a.ID), event)
	s.Fabric.Publish(fabric.Coordinators(), event)

	d, err := s.Store.OpenDispatchForAmbulance(ctx, a.ID)
	if err != nil {
		s.Log.Warn("open dispatch lookup failed", "ambulance_id", a.ID, "error", err)
		return
	}
	if d == nil {
		return
	}
	rec := &models.LocationRecord{
		ID:         uuid.NewString(),
		AlertID:    d.AlertID,
		DispatchID: d.ID,
		Fix:        fix,
		Source:     ping.Source,
		ClientTime: ping.ClientTime,
		RecordedAt: fix.RecordedAt,
	}
	if err := s.Store.AppendLocation(ctx, rec); err != nil {
		s.Log.Warn("location append failed", "dispatch_id", d.ID, "error", err)
	}
	if alert, err := s.Store.GetAlert(ctx, d.AlertID); err == nil {
		s.Fabric.Publish(fabric.Family(alert.ElderID), event)
	}
}

// SoftDelete retires an ambulance. Historical dispatches keep their
// reference; an open dispatch blocks the delete outright.
func (s *Service) SoftDelete(ctx context.Context, id string) error {
	if err := s.Store.SoftDeleteAmbulance(ctx, id); err != nil {
		return err
	}
	s.Log.Info("ambulance retired", "ambulance_id", id)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Ambulance, error) {
	return s.Store.GetAmbulance(ctx, id)
}

func (s *Service) List(ctx context.Context, f storage.AmbulanceFilter) ([]*models.Ambulance, error) {
	return s.Store.ListAmbulances(ctx, f)
}

func (s *Service) Stats(ctx context.Context) (models.FleetStats, error) {
	return s.Store.FleetStats(ctx)
}

// Nearby consults the live-position cache; it degrades to an empty answer
// when no tracker is wired.
func (s *Service) Nearby(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]models.LocationPing, error) {
	if s.Tracker == nil {
		return nil, nil
	}
	return s.Tracker.Nearby(ctx, lat, lon, radiusKm, limit)
}
