package fleet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/eldercare-dispatch/internal/fabric"
	"github.com/example/eldercare-dispatch/internal/faults"
	"github.com/example/eldercare-dispatch/internal/geo"
	"github.com/example/eldercare-dispatch/internal/models"
	"github.com/example/eldercare-dispatch/internal/storage"
)

type capturedPing struct {
	pings []models.LocationPing
	fail  bool
}

func (c *capturedPing) PublishPing(p models.LocationPing) error {
	if c.fail {
		return errors.New("broker unreachable")
	}
	c.pings = append(c.pings, p)
	return nil
}

func newService() (*Service, storage.Store, *fabric.Recorder) {
	rec := &fabric.Recorder{}
	store := storage.NewMemoryStore()
	svc := &Service{
		Store:  store,
		Fabric: rec,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	return svc, store, rec
}

func validRegister() RegisterParams {
	return RegisterParams{
		VehicleNumber: "WP-AMB-1234",
		LicensePlate:  "CAB-5678",
		Type:          "als",
		DriverID:      "driver-1",
		Capacity:      2,
		Equipment:     []string{"defibrillator", "oxygen"},
	}
}

func TestRegisterStartsAvailable(t *testing.T) {
	svc, _, _ := newService()
	a, err := svc.Register(context.Background(), validRegister())
	require.NoError(t, err)
	require.NotEmpty(t, a.ID)
	require.Equal(t, models.AmbulanceAvailable, a.Status)
	require.True(t, a.Active)

	_, err = svc.Register(context.Background(), validRegister())
	require.True(t, faults.IsKind(err, faults.KindConflict))
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newService()
	p := validRegister()
	p.VehicleNumber = ""
	_, err := svc.Register(context.Background(), p)
	require.True(t, faults.IsKind(err, faults.KindInvalidInput))

	p = validRegister()
	p.Type = ""
	_, err = svc.Register(context.Background(), p)
	require.True(t, faults.IsKind(err, faults.KindInvalidInput))
}

func TestSetStatusRejectsUnknownValue(t *testing.T) {
	svc, _, _ := newService()
	a, err := svc.Register(context.Background(), validRegister())
	require.NoError(t, err)

	_, err = svc.SetStatus(context.Background(), a.ID, "warp_speed")
	require.True(t, faults.IsKind(err, faults.KindInvalidInput))

	got, err := svc.SetStatus(context.Background(), a.ID, models.AmbulanceMaintenance)
	require.NoError(t, err)
	require.Equal(t, models.AmbulanceMaintenance, got.Status)
}

func TestUpdateLocationValidatesCoordinates(t *testing.T) {
	svc, _, _ := newService()
	a, err := svc.Register(context.Background(), validRegister())
	require.NoError(t, err)

	_, err = svc.UpdateLocation(context.Background(), models.LocationPing{AmbulanceID: a.ID, Lat: 91, Lon: 0})
	require.True(t, faults.IsKind(err, faults.KindInvalidInput))
	_, err = svc.UpdateLocation(context.Background(), models.LocationPing{AmbulanceID: "", Lat: 6.9, Lon: 79.8})
	require.True(t, faults.IsKind(err, faults.KindInvalidInput))
}

func TestUpdateLocationFeedsPipelineAndTracker(t *testing.T) {
	svc, _, _ := newService()
	pipe := &capturedPing{}
	svc.Pings = pipe
	a, err := svc.Register(context.Background(), validRegister())
	require.NoError(t, err)

	got, err := svc.UpdateLocation(context.Background(), models.LocationPing{AmbulanceID: a.ID, Lat: 6.9271, Lon: 79.8612})
	require.NoError(t, err)
	require.NotNil(t, got.Location)
	require.Equal(t, 6.9271, got.Location.Lat)
	require.Len(t, pipe.pings, 1)

	// a pipeline failure never fails the ping
	pipe.fail = true
	_, err = svc.UpdateLocation(context.Background(), models.LocationPing{AmbulanceID: a.ID, Lat: 6.9280, Lon: 79.8620})
	require.NoError(t, err)

	// without a pipeline the tracker is maintained inline
	svc.Pings = nil
	svc.Tracker = geo.NewIndex()
	_, err = svc.UpdateLocation(context.Background(), models.LocationPing{AmbulanceID: a.ID, Lat: 6.9290, Lon: 79.8630})
	require.NoError(t, err)
	near, err := svc.Nearby(context.Background(), 6.9290, 79.8630, 1, 10)
	require.NoError(t, err)
	require.Len(t, near, 1)
	require.Equal(t, a.ID, near[0].AmbulanceID)
}

func TestEnRoutePingLandsInTrailAndFabric(t *testing.T) {
	svc, store, rec := newService()
	ctx := context.Background()
	a, err := svc.Register(ctx, validRegister())
	require.NoError(t, err)

	alert := &models.EmergencyAlert{
		ID:       "alert-1",
		ElderID:  "elder-1",
		Type:     models.AlertSOS,
		Priority: models.PriorityCritical,
		Status:   models.AlertAcknowledged,
		Location: models.AlertLocation{Coord: models.Coord{Lat: 6.9344, Lon: 79.8428}},
	}
	require.NoError(t, store.CreateAlert(ctx, alert))
	d := &models.AmbulanceDispatch{
		ID:            "disp-1",
		AlertID:       alert.ID,
		AmbulanceID:   a.ID,
		DriverID:      "driver-1",
		CoordinatorID: "coord-1",
		Status:        models.DispatchDispatched,
		DispatchedAt:  time.Now(),
	}
	require.NoError(t, store.CreateDispatch(ctx, d))

	// the dispatch moved the ambulance to en_route; pings now hit the trail
	_, err = svc.UpdateLocation(ctx, models.LocationPing{AmbulanceID: a.ID, Lat: 6.9300, Lon: 79.8500})
	require.NoError(t, err)
	_, err = svc.UpdateLocation(ctx, models.LocationPing{AmbulanceID: a.ID, Lat: 6.9320, Lon: 79.8460})
	require.NoError(t, err)

	trail, err := store.ListLocations(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	require.Equal(t, alert.ID, trail[0].AlertID)
	require.Equal(t, 6.9300, trail[0].Fix.Lat)
	require.False(t, trail[0].RecordedAt.IsZero())

	require.Len(t, rec.ByScope(fabric.AmbulanceWatch(a.ID)), 2)
	require.Len(t, rec.ByScope(fabric.Coordinators()), 2)
	require.Len(t, rec.ByScope(fabric.Family("elder-1")), 2)
}

func TestIdlePingSkipsTrail(t *testing.T) {
	svc, store, rec := newService()
	ctx := context.Background()
	a, err := svc.Register(ctx, validRegister())
	require.NoError(t, err)

	_, err = svc.UpdateLocation(ctx, models.LocationPing{AmbulanceID: a.ID, Lat: 6.9300, Lon: 79.8500})
	require.NoError(t, err)

	require.Empty(t, rec.Events)
	recs, err := store.ListLocations(ctx, "disp-1")
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestSoftDeleteBlockedByOpenDispatch(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()
	a, err := svc.Register(ctx, validRegister())
	require.NoError(t, err)

	alert := &models.EmergencyAlert{
		ID:       "alert-1",
		ElderID:  "elder-1",
		Type:     models.AlertSOS,
		Priority: models.PriorityCritical,
		Status:   models.AlertPending,
		Location: models.AlertLocation{Coord: models.Coord{Lat: 6.9344, Lon: 79.8428}},
	}
	require.NoError(t, store.CreateAlert(ctx, alert))
	require.NoError(t, store.CreateDispatch(ctx, &models.AmbulanceDispatch{
		ID: "disp-1", AlertID: alert.ID, AmbulanceID: a.ID, DriverID: "driver-1",
		CoordinatorID: "coord-1", Status: models.DispatchDispatched, DispatchedAt: time.Now(),
	}))

	err = svc.SoftDelete(ctx, a.ID)
	require.True(t, faults.IsKind(err, faults.KindConflict))

	// close the dispatch, then the delete goes through
	_, err = store.TransitionDispatch(ctx, storage.DispatchTransition{
		DispatchID:      "disp-1",
		From:            []models.DispatchStatus{models.DispatchDispatched},
		To:              models.DispatchCancelled,
		At:              time.Now(),
		AlertStatus:     models.AlertCancelled,
		AmbulanceStatus: models.AmbulanceAvailable,
	})
	require.NoError(t, err)
	require.NoError(t, svc.SoftDelete(ctx, a.ID))

	got, err := svc.Get(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, got.Active)
	require.Equal(t, models.AmbulanceOffline, got.Status)

	// retired units drop out of the stats
	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, stats.Total)
}
