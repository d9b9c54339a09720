package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/eldercare-dispatch/internal/faults"
	"github.com/example/eldercare-dispatch/internal/models"
)

// MemoryStore keeps everything behind one mutex, which trivially satisfies the
// atomicity contract. It backs local runs and tests; production uses Postgres.
type MemoryStore struct {
	mu         sync.Mutex
	alerts     map[string]*models.EmergencyAlert
	ambulances map[string]*models.Ambulance
	dispatches map[string]*models.AmbulanceDispatch
	locations  map[string][]*models.LocationRecord // keyed by dispatch id, append order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:     make(map[string]*models.EmergencyAlert),
		ambulances: make(map[string]*models.Ambulance),
		dispatches: make(map[string]*models.AmbulanceDispatch),
		locations:  make(map[string][]*models.LocationRecord),
	}
}

func copyAlert(a *models.EmergencyAlert) *models.EmergencyAlert {
	c := *a
	if a.Notes != nil {
		c.Notes = make(map[string]string, len(a.Notes))
		for k, v := range a.Notes {
			c.Notes[k] = v
		}
	}
	return &c
}

func copyAmbulance(a *models.Ambulance) *models.Ambulance {
	c := *a
	if a.Location != nil {
		loc := *a.Location
		c.Location = &loc
	}
	c.Equipment = append([]string(nil), a.Equipment...)
	return &c
}

func copyDispatch(d *models.AmbulanceDispatch) *models.AmbulanceDispatch {
	c := *d
	return &c
}

func (m *MemoryStore) CreateAlert(_ context.Context, a *models.EmergencyAlert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts[a.ID] = copyAlert(a)
	return nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id string) (*models.EmergencyAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return nil, faults.NotFound("alert %s", id)
	}
	return copyAlert(a), nil
}

func (m *MemoryStore) AcknowledgeAlert(_ context.Context, alertID, coordinatorID string, at time.Time) (*models.EmergencyAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[alertID]
	if !ok {
		return nil, faults.NotFound("alert %s", alertID)
	}
	if a.Status != models.AlertPending {
		return nil, faults.InvalidStateTransition("alert %s is %s, not pending", alertID, a.Status)
	}
	a.Status = models.AlertAcknowledged
	a.AcknowledgedBy = coordinatorID
	ts := at
	a.AcknowledgedAt = &ts
	a.UpdatedAt = at
	return copyAlert(a), nil
}

func (m *MemoryStore) ListAlerts(_ context.Context, f AlertFilter) ([]*models.EmergencyAlert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.EmergencyAlert, 0)
	for _, a := range m.alerts {
		if !alertMatches(a, f) {
			continue
		}
		out = append(out, copyAlert(a))
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Priority.SeverityRank(), out[j].Priority.SeverityRank()
		if ri != rj {
			return ri < rj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func alertMatches(a *models.EmergencyAlert, f AlertFilter) bool {
	if f.Priority != "" && a.Priority != f.Priority {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if a.Status == s {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateAmbulance(_ context.Context, a *models.Ambulance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.ambulances {
		if existing.VehicleNumber == a.VehicleNumber {
			return faults.Conflict("vehicle number %s already registered", a.VehicleNumber)
		}
		if existing.LicensePlate == a.LicensePlate {
			return faults.Conflict("license plate %s already registered", a.LicensePlate)
		}
	}
	m.ambulances[a.ID] = copyAmbulance(a)
	return nil
}

func (m *MemoryStore) GetAmbulance(_ context.Context, id string) (*models.Ambulance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.ambulances[id]
	if !ok {
		return nil, faults.NotFound("ambulance %s", id)
	}
	return copyAmbulance(a), nil
}

func (m *MemoryStore) ListAmbulances(_ context.Context, f AmbulanceFilter) ([]*models.Ambulance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Ambulance, 0)
	for _, a := range m.ambulances {
		if f.OnlyActive && !a.Active {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		out = append(out, copyAmbulance(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) SetAmbulanceStatus(_ context.Context, id string, status models.AmbulanceStatus) (*models.Ambulance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.ambulances[id]
	if !ok {
		return nil, faults.NotFound("ambulance %s", id)
	}
	if d := m.openDispatchLocked(id); d != nil {
		return nil, faults.Conflict("ambulance %s is held by open dispatch %s", id, d.ID)
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	return copyAmbulance(a), nil
}

func (m *MemoryStore) UpdateAmbulanceLocation(_ context.Context, id string, fix models.VehicleFix) (*models.Ambulance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.ambulances[id]
	if !ok {
		return nil, faults.NotFound("ambulance %s", id)
	}
	f := fix
	a.Location = &f
	a.UpdatedAt = time.Now()
	return copyAmbulance(a), nil
}

func (m *MemoryStore) SoftDeleteAmbulance(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.ambulances[id]
	if !ok {
		return faults.NotFound("ambulance %s", id)
	}
	if d := m.openDispatchLocked(id); d != nil {
		return faults.Conflict("ambulance %s has open dispatch %s", id, d.ID)
	}
	a.Active = false
	a.Status = models.AmbulanceOffline
	a.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) FleetStats(_ context.Context) (models.FleetStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := models.FleetStats{
		ByStatus: make(map[models.AmbulanceStatus]int),
		ByType:   make(map[string]int),
	}
	for _, a := range m.ambulances {
		if !a.Active {
			continue
		}
		stats.Total++
		stats.ByStatus[a.Status]++
		stats.ByType[a.Type]++
	}
	return stats, nil
}

func (m *MemoryStore) openDispatchLocked(ambulanceID string) *models.AmbulanceDispatch {
	for _, d := range m.dispatches {
		if d.AmbulanceID == ambulanceID && !d.Status.Terminal() {
			return d
		}
	}
	return nil
}

func (m *MemoryStore) CreateDispatch(_ context.Context, d *models.AmbulanceDispatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	amb, ok := m.ambulances[d.AmbulanceID]
	if !ok {
		return faults.NotFound("ambulance %s", d.AmbulanceID)
	}
	alert, ok := m.alerts[d.AlertID]
	if !ok {
		return faults.NotFound("alert %s", d.AlertID)
	}
	// Availability is checked first so the loser of a race over one ambulance
	// always sees AmbulanceUnavailable, whatever else the winner changed.
	if !amb.Active || amb.Status != models.AmbulanceAvailable {
		return faults.AmbulanceUnavailable("ambulance %s is %s", d.AmbulanceID, amb.Status)
	}
	if alert.Status != models.AlertPending && alert.Status != models.AlertAcknowledged {
		return faults.InvalidStateTransition("alert %s is %s, not dispatchable", d.AlertID, alert.Status)
	}
	for _, existing := range m.dispatches {
		if existing.AlertID == d.AlertID && !existing.Status.Terminal() {
			return faults.Conflict("alert %s already has open dispatch %s", d.AlertID, existing.ID)
		}
	}

	amb.Status = models.AmbulanceEnRoute
	amb.UpdatedAt = d.DispatchedAt
	alert.Status = models.AlertDispatched
	alert.UpdatedAt = d.DispatchedAt
	m.dispatches[d.ID] = copyDispatch(d)
	return nil
}

func (m *MemoryStore) GetDispatch(_ context.Context, id string) (*models.AmbulanceDispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dispatches[id]
	if !ok {
		return nil, faults.NotFound("dispatch %s", id)
	}
	return copyDispatch(d), nil
}

func (m *MemoryStore) TransitionDispatch(_ context.Context, t DispatchTransition) (*models.AmbulanceDispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.dispatches[t.DispatchID]
	if !ok {
		return nil, faults.NotFound("dispatch %s", t.DispatchID)
	}
	allowed := false
	for _, s := range t.From {
		if d.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, faults.InvalidStateTransition("dispatch %s is %s, cannot move to %s", d.ID, d.Status, t.To)
	}

	d.Status = t.To
	if t.SetAccepted {
		ts := t.At
		d.AcceptedAt = &ts
	}
	if t.SetArrived {
		ts := t.At
		d.ArrivedAt = &ts
	}
	if t.SetCompleted {
		ts := t.At
		d.CompletedAt = &ts
	}
	if t.ResponseTimeSec != nil {
		v := *t.ResponseTimeSec
		d.ResponseTimeSec = &v
	}
	if t.Notes != "" {
		d.Notes = t.Notes
	}

	if t.AlertStatus != "" {
		if alert, ok := m.alerts[d.AlertID]; ok {
			alert.Status = t.AlertStatus
			alert.UpdatedAt = t.At
			for k, v := range t.AlertNotes {
				if alert.Notes == nil {
					alert.Notes = make(map[string]string)
				}
				if _, exists := alert.Notes[k]; !exists {
					alert.Notes[k] = v
				}
			}
		}
	}
	if t.AmbulanceStatus != "" {
		if amb, ok := m.ambulances[d.AmbulanceID]; ok {
			amb.Status = t.AmbulanceStatus
			amb.UpdatedAt = t.At
		}
	}
	return copyDispatch(d), nil
}

func (m *MemoryStore) ListDispatches(_ context.Context, f DispatchFilter) ([]*models.AmbulanceDispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.AmbulanceDispatch, 0)
	for _, d := range m.dispatches {
		if f.AlertID != "" && d.AlertID != f.AlertID {
			continue
		}
		if f.AmbulanceID != "" && d.AmbulanceID != f.AmbulanceID {
			continue
		}
		if f.DriverID != "" && d.DriverID != f.DriverID {
			continue
		}
		if f.CoordinatorID != "" && d.CoordinatorID != f.CoordinatorID {
			continue
		}
		if f.OpenOnly && d.Status.Terminal() {
			continue
		}
		out = append(out, copyDispatch(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DispatchedAt.Equal(out[j].DispatchedAt) {
			return out[i].DispatchedAt.After(out[j].DispatchedAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) OpenDispatchForAmbulance(_ context.Context, ambulanceID string) (*models.AmbulanceDispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d := m.openDispatchLocked(ambulanceID); d != nil {
		return copyDispatch(d), nil
	}
	return nil, nil
}

func (m *MemoryStore) AppendLocation(_ context.Context, rec *models.LocationRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := *rec
	m.locations[rec.DispatchID] = append(m.locations[rec.DispatchID], &r)
	return nil
}

func (m *MemoryStore) ListLocations(_ context.Context, dispatchID string) ([]*models.LocationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	recs := m.locations[dispatchID]
	out := make([]*models.LocationRecord, 0, len(recs))
	for _, r := range recs {
		c := *r
		out = append(out, &c)
	}
	return out, nil
}
