package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// AlertLocation is where an incident was reported from.
type AlertLocation struct {
	Coord
	Address string `json:"address,omitempty"`
}

// VehicleFix is one positional sample for an ambulance. Optional telemetry
// fields are pointers so "not reported" survives a JSON round trip.
type VehicleFix struct {
	Coord
	AccuracyM  *float64  `json:"accuracy_m,omitempty"`
	AltitudeM  *float64  `json:"altitude_m,omitempty"`
	SpeedKmh   *float64  `json:"speed_kmh,omitempty"`
	HeadingDeg *float64  `json:"heading_deg,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type AlertType string

const (
	AlertSOS     AlertType = "sos"
	AlertFall    AlertType = "fall_detected"
	AlertMedical AlertType = "medical"
	AlertManual  AlertType = "manual"
)

func (t AlertType) Valid() bool {
	switch t {
	case AlertSOS, AlertFall, AlertMedical, AlertManual:
		return true
	}
	return false
}

type AlertPriority string

const (
	PriorityCritical AlertPriority = "critical"
	PriorityHigh     AlertPriority = "high"
	PriorityMedium   AlertPriority = "medium"
	PriorityLow      AlertPriority = "low"
)

// SeverityRank orders priorities for queue sorting, critical first.
func (p AlertPriority) SeverityRank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

func (p AlertPriority) Valid() bool { return p.SeverityRank() < 4 }

type AlertStatus string

const (
	AlertPending            AlertStatus = "pending"
	AlertAcknowledged       AlertStatus = "acknowledged"
	AlertDispatched         AlertStatus = "dispatched"
	AlertEnRoute            AlertStatus = "en_route"
	AlertAssistanceProvided AlertStatus = "assistance_provided"
	AlertCompleted          AlertStatus = "completed"
	AlertResolved           AlertStatus = "resolved"
	AlertCancelled          AlertStatus = "cancelled"
)

func (s AlertStatus) Terminal() bool {
	return s == AlertCompleted || s == AlertResolved || s == AlertCancelled
}

// MedicalSnapshot is captured when the alert is raised and never mutated.
type MedicalSnapshot struct {
	Conditions  []string `json:"conditions,omitempty"`
	Allergies   []string `json:"allergies,omitempty"`
	Medications []string `json:"medications,omitempty"`
}

// Known note keys accumulated on an alert over its lifetime. The notes map is
// append-only: transitions add entries, nothing rewrites them.
const (
	NoteCompletionSummary = "completion_summary"
	NoteCompletedBy       = "completed_by"
	NoteCancelReason      = "cancel_reason"
	NoteCancelledBy       = "cancelled_by"
)

type EmergencyAlert struct {
	ID             string            `json:"id"`
	ElderID        string            `json:"elder_id"`
	ReporterID     string            `json:"reporter_id"`
	Type           AlertType         `json:"type"`
	Priority       AlertPriority     `json:"priority"`
	Status         AlertStatus       `json:"status"`
	Location       AlertLocation     `json:"location"`
	Medical        MedicalSnapshot   `json:"medical"`
	AcknowledgedBy string            `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
	Notes          map[string]string `json:"notes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

type AmbulanceStatus string

const (
	AmbulanceAvailable   AmbulanceStatus = "available"
	AmbulanceEnRoute     AmbulanceStatus = "en_route"
	AmbulanceBusy        AmbulanceStatus = "busy"
	AmbulanceMaintenance AmbulanceStatus = "maintenance"
	AmbulanceOffline     AmbulanceStatus = "offline"
)

func (s AmbulanceStatus) Valid() bool {
	switch s {
	case AmbulanceAvailable, AmbulanceEnRoute, AmbulanceBusy, AmbulanceMaintenance, AmbulanceOffline:
		return true
	}
	return false
}

type Ambulance struct {
	ID            string          `json:"id"`
	VehicleNumber string          `json:"vehicle_number"`
	LicensePlate  string          `json:"license_plate"`
	Type          string          `json:"type"`
	DriverID      string          `json:"driver_id,omitempty"`
	HospitalID    string          `json:"hospital_id,omitempty"`
	Status        AmbulanceStatus `json:"status"`
	Location      *VehicleFix     `json:"location,omitempty"`
	Capacity      int             `json:"capacity"`
	Equipment     []string        `json:"equipment,omitempty"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type DispatchStatus string

const (
	DispatchDispatched DispatchStatus = "dispatched"
	DispatchAccepted   DispatchStatus = "accepted"
	DispatchEnRoute    DispatchStatus = "en_route"
	DispatchArrived    DispatchStatus = "arrived"
	DispatchCompleted  DispatchStatus = "completed"
	DispatchCancelled  DispatchStatus = "cancelled"
)

func (s DispatchStatus) Terminal() bool {
	return s == DispatchCompleted || s == DispatchCancelled
}

func (s DispatchStatus) Valid() bool {
	switch s {
	case DispatchDispatched, DispatchAccepted, DispatchEnRoute, DispatchArrived, DispatchCompleted, DispatchCancelled:
		return true
	}
	return false
}

// RouteSnapshot freezes the origin/destination pair computed at dispatch time.
type RouteSnapshot struct {
	Origin      Coord `json:"origin"`
	Destination Coord `json:"destination"`
}

type AmbulanceDispatch struct {
	ID              string         `json:"id"`
	AlertID         string         `json:"alert_id"`
	AmbulanceID     string         `json:"ambulance_id"`
	DriverID        string         `json:"driver_id"`
	CoordinatorID   string         `json:"coordinator_id"`
	Status          DispatchStatus `json:"status"`
	DispatchedAt    time.Time      `json:"dispatched_at"`
	AcceptedAt      *time.Time     `json:"accepted_at,omitempty"`
	ArrivedAt       *time.Time     `json:"arrived_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	ResponseTimeSec *int64         `json:"response_time_sec,omitempty"`
	DistanceKm      float64        `json:"distance_km"`
	ETAMinutes      int            `json:"eta_minutes"`
	Route           RouteSnapshot  `json:"route"`
	HospitalDest    string         `json:"hospital_destination,omitempty"`
	Notes           string         `json:"notes,omitempty"`
}

type LocationSource string

const (
	SourceGPS    LocationSource = "gps"
	SourceManual LocationSource = "manual"
)

type LocationRecord struct {
	ID         string         `json:"id"`
	AlertID    string         `json:"alert_id"`
	DispatchID string         `json:"dispatch_id"`
	Fix        VehicleFix     `json:"fix"`
	Source     LocationSource `json:"source"`
	// ClientTime is advisory only; audit ordering uses RecordedAt, which the
	// server assigns at append time.
	ClientTime *time.Time `json:"client_time,omitempty"`
	RecordedAt time.Time  `json:"recorded_at"`
}

// LocationPing is the wire shape a driver app reports and the message body on
// the ambulance-locations Kafka topic.
type LocationPing struct {
	AmbulanceID string         `json:"ambulance_id"`
	Lat         float64        `json:"lat"`
	Lon         float64        `json:"lon"`
	AccuracyM   *float64       `json:"accuracy_m,omitempty"`
	AltitudeM   *float64       `json:"altitude_m,omitempty"`
	SpeedKmh    *float64       `json:"speed_kmh,omitempty"`
	HeadingDeg  *float64       `json:"heading_deg,omitempty"`
	Source      LocationSource `json:"source,omitempty"`
	ClientTime  *time.Time     `json:"client_time,omitempty"`
}

// FleetStats is the counts-by-status/type summary for the coordinator board.
type FleetStats struct {
	Total    int                     `json:"total"`
	ByStatus map[AmbulanceStatus]int `json:"by_status"`
	ByType   map[string]int          `json:"by_type"`
}
