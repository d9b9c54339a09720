package storage

import (
	"context"
	"time"

	"github.com/example/eldercare-dispatch/internal/models"
)

// AlertFilter narrows the coordinator alert queue. Results are always ordered
// severity ascending (critical first), then oldest first.
type AlertFilter struct {
	Statuses []models.AlertStatus
	Priority models.AlertPriority
	Limit    int
}

type AmbulanceFilter struct {
	Status     models.AmbulanceStatus
	Type       string
	OnlyActive bool
	Limit      int
}

type DispatchFilter struct {
	AlertID       string
	AmbulanceID   string
	DriverID      string
	CoordinatorID string
	OpenOnly      bool
	Limit         int
}

// DispatchTransition is one guarded step of the dispatch state machine plus
// everything that must change with it in the same atomic unit: the mirrored
// alert status, appended alert notes, and the ambulance status when the
// transition frees the vehicle.
type DispatchTransition struct {
	DispatchID string
	From       []models.DispatchStatus
	To         models.DispatchStatus
	At         time.Time

	SetAccepted     bool
	SetArrived      bool
	SetCompleted    bool
	ResponseTimeSec *int64
	Notes           string

	AlertStatus     models.AlertStatus
	AlertNotes      map[string]string
	AmbulanceStatus models.AmbulanceStatus // "" leaves the ambulance alone
}

// Store is the persistence boundary. Implementations must make CreateDispatch
// and TransitionDispatch atomic and isolated: concurrent CreateDispatch calls
// against one available ambulance get exactly one winner, and a transition
// whose From guard no longer matches fails instead of being reordered.
type Store interface {
	CreateAlert(ctx context.Context, a *models.EmergencyAlert) error
	GetAlert(ctx context.Context, id string) (*models.EmergencyAlert, error)
	// AcknowledgeAlert flips pending -> acknowledged, recording who and when.
	// Any other current status is an InvalidStateTransition.
	AcknowledgeAlert(ctx context.Context, alertID, coordinatorID string, at time.Time) (*models.EmergencyAlert, error)
	ListAlerts(ctx context.Context, f AlertFilter) ([]*models.EmergencyAlert, error)

	CreateAmbulance(ctx context.Context, a *models.Ambulance) error
	GetAmbulance(ctx context.Context, id string) (*models.Ambulance, error)
	ListAmbulances(ctx context.Context, f AmbulanceFilter) ([]*models.Ambulance, error)
	// SetAmbulanceStatus is the manual setter; it refuses (Conflict) while an
	// open dispatch holds the ambulance, because assigned-state transitions
	// belong to the dispatch pipeline.
	SetAmbulanceStatus(ctx context.Context, id string, status models.AmbulanceStatus) (*models.Ambulance, error)
	UpdateAmbulanceLocation(ctx context.Context, id string, fix models.VehicleFix) (*models.Ambulance, error)
	SoftDeleteAmbulance(ctx context.Context, id string) error
	FleetStats(ctx context.Context) (models.FleetStats, error)

	// CreateDispatch applies the whole dispatch-creation unit atomically:
	// verify the alert is pending/acknowledged and has no open dispatch, flip
	// the ambulance available -> en_route (the race loser fails with
	// AmbulanceUnavailable), mirror the alert to dispatched, insert the row.
	CreateDispatch(ctx context.Context, d *models.AmbulanceDispatch) error
	GetDispatch(ctx context.Context, id string) (*models.AmbulanceDispatch, error)
	TransitionDispatch(ctx context.Context, t DispatchTransition) (*models.AmbulanceDispatch, error)
	ListDispatches(ctx context.Context, f DispatchFilter) ([]*models.AmbulanceDispatch, error)
	// OpenDispatchForAmbulance returns (nil, nil) when the ambulance is free.
	OpenDispatchForAmbulance(ctx context.Context, ambulanceID string) (*models.AmbulanceDispatch, error)

	AppendLocation(ctx context.Context, rec *models.LocationRecord) error
	// ListLocations returns a dispatch's trail ordered by server receipt time.
	ListLocations(ctx context.Context, dispatchID string) ([]*models.LocationRecord, error)
}
