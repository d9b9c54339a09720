package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/eldercare-dispatch/internal/faults"
	"github.com/example/eldercare-dispatch/internal/models"
)

// PostgresStore implements Store on database/sql + lib/pq. The dispatch
// creation CAS (conditional UPDATE on ambulance status inside one
// transaction) is where the exclusivity invariant is enforced.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an existing handle, used by tests.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Close() error { return p.db.Close() }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

const alertColumns = `id, elder_id, reporter_id, alert_type, priority, status, lat, lon, address,
	medical, acknowledged_by, acknowledged_at, notes, created_at, updated_at`

func (p *PostgresStore) CreateAlert(ctx context.Context, a *models.EmergencyAlert) error {
	medical, err := json.Marshal(a.Medical)
	if err != nil {
		return err
	}
	notes, err := json.Marshal(a.Notes)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO emergency_alerts(`+alertColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULLIF($11,''),$12,$13,$14,$15)`,
		a.ID, a.ElderID, a.ReporterID, a.Type, a.Priority, a.Status,
		a.Location.Lat, a.Location.Lon, a.Location.Address,
		medical, a.AcknowledgedBy, a.AcknowledgedAt, notes, a.CreatedAt, a.UpdatedAt)
	return err
}

func scanAlert(row interface{ Scan(...any) error }) (*models.EmergencyAlert, error) {
	var (
		a        models.EmergencyAlert
		medical  []byte
		notes    []byte
		ackBy    sql.NullString
		address  sql.NullString
	)
	err := row.Scan(&a.ID, &a.ElderID, &a.ReporterID, &a.Type, &a.Priority, &a.Status,
		&a.Location.Lat, &a.Location.Lon, &address,
		&medical, &ackBy, &a.AcknowledgedAt, &notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Location.Address = address.String
	a.AcknowledgedBy = ackBy.String
	if len(medical) > 0 {
		if err := json.Unmarshal(medical, &a.Medical); err != nil {
			return nil, err
		}
	}
	if len(notes) > 0 {
		if err := json.Unmarshal(notes, &a.Notes); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func (p *PostgresStore) GetAlert(ctx context.Context, id string) (*models.EmergencyAlert, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM emergency_alerts WHERE id=$1`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("alert %s", id)
	}
	return a, err
}

func (p *PostgresStore) AcknowledgeAlert(ctx context.Context, alertID, coordinatorID string, at time.Time) (*models.EmergencyAlert, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE emergency_alerts
		SET status=$1, acknowledged_by=$2, acknowledged_at=$3, updated_at=$3
		WHERE id=$4 AND status=$5`,
		models.AlertAcknowledged, coordinatorID, at, alertID, models.AlertPending)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		current, err := p.GetAlert(ctx, alertID)
		if err != nil {
			return nil, err
		}
		return nil, faults.InvalidStateTransition("alert %s is %s, not pending", alertID, current.Status)
	}
	return p.GetAlert(ctx, alertID)
}

func (p *PostgresStore) ListAlerts(ctx context.Context, f AlertFilter) ([]*models.EmergencyAlert, error) {
	q := `SELECT ` + alertColumns + ` FROM emergency_alerts WHERE 1=1`
	args := []any{}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		args = append(args, pq.Array(statuses))
		q += fmt.Sprintf(" AND status = ANY($%d)", len(args))
	}
	if f.Priority != "" {
		args = append(args, f.Priority)
		q += fmt.Sprintf(" AND priority = $%d", len(args))
	}
	q += ` ORDER BY CASE priority
		WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END,
		created_at ASC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.EmergencyAlert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const ambulanceColumns = `id, vehicle_number, license_plate, type, driver_id, hospital_id, status,
	loc_lat, loc_lon, loc_accuracy_m, loc_altitude_m, loc_speed_kmh, loc_heading_deg, loc_recorded_at,
	capacity, equipment, active, created_at, updated_at`

func (p *PostgresStore) CreateAmbulance(ctx context.Context, a *models.Ambulance) error {
	equipment, err := json.Marshal(a.Equipment)
	if err != nil {
		return err
	}
	var lat, lon, acc, alt, speed, heading *float64
	var recordedAt *time.Time
	if a.Location != nil {
		lat, lon = &a.Location.Lat, &a.Location.Lon
		acc, alt = a.Location.AccuracyM, a.Location.AltitudeM
		speed, heading = a.Location.SpeedKmh, a.Location.HeadingDeg
		recordedAt = &a.Location.RecordedAt
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO ambulances(`+ambulanceColumns+`)
		VALUES($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		a.ID, a.VehicleNumber, a.LicensePlate, a.Type, a.DriverID, a.HospitalID, a.Status,
		lat, lon, acc, alt, speed, heading, recordedAt,
		a.Capacity, equipment, a.Active, a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err) {
		return faults.Conflict("vehicle number or license plate already registered")
	}
	return err
}

func scanAmbulance(row interface{ Scan(...any) error }) (*models.Ambulance, error) {
	var (
		a          models.Ambulance
		driverID   sql.NullString
		hospitalID sql.NullString
		lat, lon   sql.NullFloat64
		acc, alt   sql.NullFloat64
		speed, hdg sql.NullFloat64
		recordedAt sql.NullTime
		equipment  []byte
	)
	err := row.Scan(&a.ID, &a.VehicleNumber, &a.LicensePlate, &a.Type, &driverID, &hospitalID, &a.Status,
		&lat, &lon, &acc, &alt, &speed, &hdg, &recordedAt,
		&a.Capacity, &equipment, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.DriverID = driverID.String
	a.HospitalID = hospitalID.String
	if lat.Valid && lon.Valid {
		fix := &models.VehicleFix{Coord: models.Coord{Lat: lat.Float64, Lon: lon.Float64}}
		if acc.Valid {
			fix.AccuracyM = &acc.Float64
		}
		if alt.Valid {
			fix.AltitudeM = &alt.Float64
		}
		if speed.Valid {
			fix.SpeedKmh = &speed.Float64
		}
		if hdg.Valid {
			fix.HeadingDeg = &hdg.Float64
		}
		if recordedAt.Valid {
			fix.RecordedAt = recordedAt.Time
		}
		a.Location = fix
	}
	if len(equipment) > 0 {
		if err := json.Unmarshal(equipment, &a.Equipment); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func (p *PostgresStore) GetAmbulance(ctx context.Context, id string) (*models.Ambulance, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+ambulanceColumns+` FROM ambulances WHERE id=$1`, id)
	a, err := scanAmbulance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("ambulance %s", id)
	}
	return a, err
}

func (p *PostgresStore) ListAmbulances(ctx context.Context, f AmbulanceFilter) ([]*models.Ambulance, error) {
	q := `SELECT ` + ambulanceColumns + ` FROM ambulances WHERE 1=1`
	args := []any{}
	if f.OnlyActive {
		q += " AND active"
	}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		q += fmt.Sprintf(" AND type = $%d", len(args))
	}
	q += " ORDER BY id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ambulance
	for rows.Next() {
		a, err := scanAmbulance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) SetAmbulanceStatus(ctx context.Context, id string, status models.AmbulanceStatus) (*models.Ambulance, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE ambulances SET status=$1, updated_at=now()
		WHERE id=$2 AND NOT EXISTS (
			SELECT 1 FROM ambulance_dispatches
			WHERE ambulance_id=$2 AND status NOT IN ('completed','cancelled'))`,
		status, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := p.GetAmbulance(ctx, id); err != nil {
			return nil, err
		}
		return nil, faults.Conflict("ambulance %s is held by an open dispatch", id)
	}
	return p.GetAmbulance(ctx, id)
}

func (p *PostgresStore) UpdateAmbulanceLocation(ctx context.Context, id string, fix models.VehicleFix) (*models.Ambulance, error) {
	res, err := p.db.ExecContext(ctx, `UPDATE ambulances SET
		loc_lat=$1, loc_lon=$2, loc_accuracy_m=$3, loc_altitude_m=$4,
		loc_speed_kmh=$5, loc_heading_deg=$6, loc_recorded_at=$7, updated_at=now()
		WHERE id=$8`,
		fix.Lat, fix.Lon, fix.AccuracyM, fix.AltitudeM, fix.SpeedKmh, fix.HeadingDeg, fix.RecordedAt, id)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, faults.NotFound("ambulance %s", id)
	}
	return p.GetAmbulance(ctx, id)
}

func (p *PostgresStore) SoftDeleteAmbulance(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE ambulances SET active=false, status=$1, updated_at=now()
		WHERE id=$2 AND NOT EXISTS (
			SELECT 1 FROM ambulance_dispatches
			WHERE ambulance_id=$2 AND status NOT IN ('completed','cancelled'))`,
		models.AmbulanceOffline, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.GetAmbulance(ctx, id); err != nil {
			return err
		}
		return faults.Conflict("ambulance %s has an open dispatch", id)
	}
	return nil
}

func (p *PostgresStore) FleetStats(ctx context.Context) (models.FleetStats, error) {
	stats := models.FleetStats{
		ByStatus: make(map[models.AmbulanceStatus]int),
		ByType:   make(map[string]int),
	}
	rows, err := p.db.QueryContext(ctx, `SELECT status, type, count(*) FROM ambulances WHERE active GROUP BY status, type`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status models.AmbulanceStatus
			typ    string
			n      int
		)
		if err := rows.Scan(&status, &typ, &n); err != nil {
			return stats, err
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.ByType[typ] += n
	}
	return stats, rows.Err()
}

const dispatchColumns = `id, alert_id, ambulance_id, driver_id, coordinator_id, status,
	dispatched_at, accepted_at, arrived_at, completed_at, response_time_sec,
	distance_km, eta_minutes, origin_lat, origin_lon, dest_lat, dest_lon,
	hospital_destination, notes`

// CreateDispatch runs the whole creation unit in one transaction. The
// conditional UPDATE on the ambulance row is the compare-and-set: of N
// concurrent attempts exactly one sees rows-affected 1; every other attempt
// fails AmbulanceUnavailable before touching the alert.
func (p *PostgresStore) CreateDispatch(ctx context.Context, d *models.AmbulanceDispatch) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE ambulances SET status=$1, updated_at=$2
		WHERE id=$3 AND status=$4 AND active`,
		models.AmbulanceEnRoute, d.DispatchedAt, d.AmbulanceID, models.AmbulanceAvailable)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ambulances WHERE id=$1)`, d.AmbulanceID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return faults.NotFound("ambulance %s", d.AmbulanceID)
		}
		return faults.AmbulanceUnavailable("ambulance %s is not available", d.AmbulanceID)
	}

	var alertStatus models.AlertStatus
	err = tx.QueryRowContext(ctx, `SELECT status FROM emergency_alerts WHERE id=$1 FOR UPDATE`, d.AlertID).Scan(&alertStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return faults.NotFound("alert %s", d.AlertID)
	}
	if err != nil {
		return err
	}
	if alertStatus != models.AlertPending && alertStatus != models.AlertAcknowledged {
		return faults.InvalidStateTransition("alert %s is %s, not dispatchable", d.AlertID, alertStatus)
	}

	var hasOpen bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ambulance_dispatches
		WHERE alert_id=$1 AND status NOT IN ('completed','cancelled'))`, d.AlertID).Scan(&hasOpen)
	if err != nil {
		return err
	}
	if hasOpen {
		return faults.Conflict("alert %s already has an open dispatch", d.AlertID)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE emergency_alerts SET status=$1, updated_at=$2 WHERE id=$3`,
		models.AlertDispatched, d.DispatchedAt, d.AlertID); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO ambulance_dispatches(`+dispatchColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NULLIF($18,''),NULLIF($19,''))`,
		d.ID, d.AlertID, d.AmbulanceID, d.DriverID, d.CoordinatorID, d.Status,
		d.DispatchedAt, d.AcceptedAt, d.ArrivedAt, d.CompletedAt, d.ResponseTimeSec,
		d.DistanceKm, d.ETAMinutes,
		d.Route.Origin.Lat, d.Route.Origin.Lon, d.Route.Destination.Lat, d.Route.Destination.Lon,
		d.HospitalDest, d.Notes); err != nil {
		return err
	}

	return tx.Commit()
}

func scanDispatch(row interface{ Scan(...any) error }) (*models.AmbulanceDispatch, error) {
	var (
		d        models.AmbulanceDispatch
		hospital sql.NullString
		notes    sql.NullString
	)
	err := row.Scan(&d.ID, &d.AlertID, &d.AmbulanceID, &d.DriverID, &d.CoordinatorID, &d.Status,
		&d.DispatchedAt, &d.AcceptedAt, &d.ArrivedAt, &d.CompletedAt, &d.ResponseTimeSec,
		&d.DistanceKm, &d.ETAMinutes,
		&d.Route.Origin.Lat, &d.Route.Origin.Lon, &d.Route.Destination.Lat, &d.Route.Destination.Lon,
		&hospital, &notes)
	if err != nil {
		return nil, err
	}
	d.HospitalDest = hospital.String
	d.Notes = notes.String
	return &d, nil
}

func (p *PostgresStore) GetDispatch(ctx context.Context, id string) (*models.AmbulanceDispatch, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM ambulance_dispatches WHERE id=$1`, id)
	d, err := scanDispatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("dispatch %s", id)
	}
	return d, err
}

func (p *PostgresStore) TransitionDispatch(ctx context.Context, t DispatchTransition) (*models.AmbulanceDispatch, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM ambulance_dispatches WHERE id=$1 FOR UPDATE`, t.DispatchID)
	d, err := scanDispatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, faults.NotFound("dispatch %s", t.DispatchID)
	}
	if err != nil {
		return nil, err
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
		d.ResponseTimeSec = t.ResponseTimeSec
	}
	if t.Notes != "" {
		d.Notes = t.Notes
	}
	if _, err := tx.ExecContext(ctx, `UPDATE ambulance_dispatches SET
		status=$1, accepted_at=$2, arrived_at=$3, completed_at=$4, response_time_sec=$5, notes=NULLIF($6,'')
		WHERE id=$7`,
		d.Status, d.AcceptedAt, d.ArrivedAt, d.CompletedAt, d.ResponseTimeSec, d.Notes, d.ID); err != nil {
		return nil, err
	}

	if t.AlertStatus != "" {
		notes := t.AlertNotes
		if notes == nil {
			notes = map[string]string{}
		}
		patch, err := json.Marshal(notes)
		if err != nil {
			return nil, err
		}
		// $3 || notes: existing keys win, so notes stay append-only.
		if _, err := tx.ExecContext(ctx, `UPDATE emergency_alerts SET
			status=$1, updated_at=$2, notes = $3::jsonb || COALESCE(notes, '{}'::jsonb)
			WHERE id=$4`,
			t.AlertStatus, t.At, patch, d.AlertID); err != nil {
			return nil, err
		}
	}

	if t.AmbulanceStatus != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE ambulances SET status=$1, updated_at=$2 WHERE id=$3`,
			t.AmbulanceStatus, t.At, d.AmbulanceID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *PostgresStore) ListDispatches(ctx context.Context, f DispatchFilter) ([]*models.AmbulanceDispatch, error) {
	q := `SELECT ` + dispatchColumns + ` FROM ambulance_dispatches WHERE 1=1`
	args := []any{}
	add := func(clause string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(clause, len(args))
	}
	if f.AlertID != "" {
		add(" AND alert_id=$%d", f.AlertID)
	}
	if f.AmbulanceID != "" {
		add(" AND ambulance_id=$%d", f.AmbulanceID)
	}
	if f.DriverID != "" {
		add(" AND driver_id=$%d", f.DriverID)
	}
	if f.CoordinatorID != "" {
		add(" AND coordinator_id=$%d", f.CoordinatorID)
	}
	if f.OpenOnly {
		q += " AND status NOT IN ('completed','cancelled')"
	}
	q += " ORDER BY dispatched_at DESC, id ASC"
	if f.Limit > 0 {
		add(" LIMIT $%d", f.Limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.AmbulanceDispatch
	for rows.Next() {
		d, err := scanDispatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) OpenDispatchForAmbulance(ctx context.Context, ambulanceID string) (*models.AmbulanceDispatch, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+dispatchColumns+` FROM ambulance_dispatches
		WHERE ambulance_id=$1 AND status NOT IN ('completed','cancelled')
		ORDER BY dispatched_at DESC LIMIT 1`, ambulanceID)
	d, err := scanDispatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func (p *PostgresStore) AppendLocation(ctx context.Context, rec *models.LocationRecord) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO location_records(
		id, alert_id, dispatch_id, lat, lon, accuracy_m, altitude_m, speed_kmh, heading_deg,
		source, client_time, recorded_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		rec.ID, rec.AlertID, rec.DispatchID, rec.Fix.Lat, rec.Fix.Lon,
		rec.Fix.AccuracyM, rec.Fix.AltitudeM, rec.Fix.SpeedKmh, rec.Fix.HeadingDeg,
		rec.Source, rec.ClientTime, rec.RecordedAt)
	return err
}

func (p *PostgresStore) ListLocations(ctx context.Context, dispatchID string) ([]*models.LocationRecord, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT
		id, alert_id, dispatch_id, lat, lon, accuracy_m, altitude_m, speed_kmh, heading_deg,
		source, client_time, recorded_at
		FROM location_records WHERE dispatch_id=$1 ORDER BY recorded_at ASC, id ASC`, dispatchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.LocationRecord
	for rows.Next() {
		var r models.LocationRecord
		if err := rows.Scan(&r.ID, &r.AlertID, &r.DispatchID, &r.Fix.Lat, &r.Fix.Lon,
			&r.Fix.AccuracyM, &r.Fix.AltitudeM, &r.Fix.SpeedKmh, &r.Fix.HeadingDeg,
			&r.Source, &r.ClientTime, &r.Fix.RecordedAt); err != nil {
			return nil, err
		}
		r.RecordedAt = r.Fix.RecordedAt
		out = append(out, &r)
	}
	return out, rows.Err()
}
