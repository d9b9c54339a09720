// Package alerts owns the emergency-alert lifecycle from raise to resolution.
// Once a dispatch exists for an alert, status changes arrive only by mirroring
// from the dispatch pipeline; this service handles the pre-dispatch steps.
package alerts

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/eldercare-dispatch/internal/fabric"
	"github.com/example/eldercare-dispatch/internal/faults"
	"github.com/example/eldercare-dispatch/internal/models"
	"github.com/example/eldercare-dispatch/internal/observability"
	"github.com/example/eldercare-dispatch/internal/storage"
)

type Service struct {
	Store  storage.Store
	Fabric fabric.Publisher
	Log    *slog.Logger
	// Now is swappable in tests; nil means time.Now.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

type RaiseParams struct {
	ElderID    string                 `json:"elder_id"`
	ReporterID string                 `json:"reporter_id"`
	Type       models.AlertType       `json:"type"`
	Priority   models.AlertPriority   `json:"priority"`
	Location   models.AlertLocation   `json:"location"`
	Medical    models.MedicalSnapshot `json:"medical"`
}

// Raise creates a pending alert and tells the coordinator room about it.
func (s *Service) Raise(ctx context.Context, p RaiseParams) (*models.EmergencyAlert, error) {
	if p.ElderID == "" {
		return nil, faults.InvalidInput("elder_id is required")
	}
	if !p.Type.Valid() {
		return nil, faults.InvalidInput("unknown alert type %q", p.Type)
	}
	if !p.Priority.Valid() {
		return nil, faults.InvalidInput("unknown priority %q", p.Priority)
	}
	if p.Location.Lat == 0 && p.Location.Lon == 0 {
		return nil, faults.InvalidInput("alert location is required")
	}

	now := s.now()
	alert := &models.EmergencyAlert{
		ID:         uuid.NewString(),
		ElderID:    p.ElderID,
		ReporterID: p.ReporterID,
		Type:       p.Type,
		Priority:   p.Priority,
		Status:     models.AlertPending,
		Location:   p.Location,
		Medical:    p.Medical,
		Notes:      map[string]string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Store.CreateAlert(ctx, alert); err != nil {
		return nil, err
	}
	observability.AlertsRaised.WithLabelValues(string(alert.Priority)).Inc()
	s.Log.Info("alert raised", "alert_id", alert.ID, "elder_id", alert.ElderID, "priority", alert.Priority, "type", alert.Type)
	s.Fabric.Publish(fabric.Coordinators(), fabric.NewEvent(fabric.EventAlertRaised, alert))
	return alert, nil
}

// Acknowledge moves a pending alert to acknowledged on behalf of a
// coordinator. Acknowledging anything else is the caller's mistake and is
// surfaced, never retried.
func (s *Service) Acknowledge(ctx context.Context, alertID, coordinatorID string) (*models.EmergencyAlert, error) {
	if coordinatorID == "" {
		return nil, faults.InvalidInput("coordinator id is required")
	}
	alert, err := s.Store.AcknowledgeAlert(ctx, alertID, coordinatorID, s.now())
	if err != nil {
		return nil, err
	}
	s.Log.Info("alert acknowledged", "alert_id", alertID, "coordinator_id", coordinatorID)
	s.Fabric.Publish(fabric.Coordinators(), fabric.NewEvent(fabric.EventAlertAcknowledged, alert))
	return alert, nil
}

// Queue lists alerts for the coordinator board, most severe and oldest first.
func (s *Service) Queue(ctx context.Context, f storage.AlertFilter) ([]*models.EmergencyAlert, error) {
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, faults.InvalidInput("unknown priority %q", f.Priority)
	}
	return s.Store.ListAlerts(ctx, f)
}

func (s *Service) Get(ctx context.Context, alertID string) (*models.EmergencyAlert, error) {
	return s.Store.GetAlert(ctx, alertID)
}
