package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/eldercare-dispatch/internal/directory"
	"github.com/example/eldercare-dispatch/internal/fabric"
	"github.com/example/eldercare-dispatch/internal/faults"
	"github.com/example/eldercare-dispatch/internal/models"
	"github.com/example/eldercare-dispatch/internal/storage"
)

type sentMail struct {
	to, subject string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	fail bool
}

func (f *fakeMailer) Send(_ context.Context, to, subject, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("smtp gateway down")
	}
	f.sent = append(f.sent, sentMail{to: to, subject: subject})
	return nil
}

type fixture struct {
	svc   *Service
	store storage.Store
	rec   *fabric.Recorder
	mail  *fakeMailer
	dir   *directory.Static
}

func newFixture() *fixture {
	dir := directory.NewStatic()
	dir.AddUser(directory.User{ID: "driver-1", Name: "Nuwan", Email: "nuwan@example.com", Role: "driver"})
	dir.AddElder(directory.Elder{ID: "elder-1", Name: "Mrs. Perera"})
	rec := &fabric.Recorder{}
	mail := &fakeMailer{}
	store := storage.NewMemoryStore()
	svc := &Service{
		Store:       store,
		Fabric:      rec,
		Users:       dir,
		Elders:      dir,
		Email:       mail,
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		AvgSpeedKmh: 60,
		Now:         func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}
	return &fixture{svc: svc, store: store, rec: rec, mail: mail, dir: dir}
}

func (f *fixture) seedAlert(t *testing.T, id string) *models.EmergencyAlert {
	t.Helper()
	a := &models.EmergencyAlert{
		ID:       id,
		ElderID:  "elder-1",
		Type:     models.AlertSOS,
		Priority: models.PriorityCritical,
		Status:   models.AlertAcknowledged,
		Location: models.AlertLocation{Coord: models.Coord{Lat: 6.9344, Lon: 79.8428}, Address: "12 Temple Road"},
		Notes:    map[string]string{},
	}
	require.NoError(t, f.store.CreateAlert(context.Background(), a))
	return a
}

func (f *fixture) seedAmbulance(t *testing.T, id, driverID string) *models.Ambulance {
	t.Helper()
	a := &models.Ambulance{
		ID:            id,
		VehicleNumber: "WP-" + id,
		LicensePlate:  "PLATE-" + id,
		Type:          "als",
		DriverID:      driverID,
		Status:        models.AmbulanceAvailable,
		Location:      &models.VehicleFix{Coord: models.Coord{Lat: 6.9271, Lon: 79.8612}},
		Active:        true,
	}
	require.NoError(t, f.store.CreateAmbulance(context.Background(), a))
	return a
}

func TestCreateAssignsAndNotifies(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alert := f.seedAlert(t, "alert-1")
	amb := f.seedAmbulance(t, "amb-1", "driver-1")

	d, err := f.svc.Create(ctx, CreateParams{AlertID: alert.ID, AmbulanceID: amb.ID, CoordinatorID: "coord-1"})
	require.NoError(t, err)
	require.Equal(t, models.DispatchDispatched, d.Status)
	require.Equal(t, "driver-1", d.DriverID)
	require.Greater(t, d.DistanceKm, 0.0)
	require.Greater(t, d.ETAMinutes, 0)

	got, err := f.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Equal(t, models.AlertDispatched, got.Status)
	gotAmb, err := f.store.GetAmbulance(ctx, amb.ID)
	require.NoError(t, err)
	require.Equal(t, models.AmbulanceEnRoute, gotAmb.Status)

	require.Len(t, f.rec.ByScope(fabric.Driver("driver-1")), 1)
	require.Len(t, f.rec.ByScope(fabric.Family("elder-1")), 1)
	require.Len(t, f.rec.ByScope(fabric.Coordinators()), 1)
	notice, ok := f.rec.ByScope(fabric.Driver("driver-1"))[0].Payload.(assignmentNotice)
	require.True(t, ok)
	require.Equal(t, "Mrs. Perera", notice.ElderName)

	require.Len(t, f.mail.sent, 1)
	require.Equal(t, "nuwan@example.com", f.mail.sent[0].to)
}

func TestCreateConcurrentOneWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.seedAmbulance(t, "amb-1", "driver-1")

	const n = 12
	alerts := make([]string, n)
	for i := 0; i < n; i++ {
		alerts[i] = f.seedAlert(t, "alert-"+string(rune('a'+i))).ID
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.Create(ctx, CreateParams{AlertID: alerts[i], AmbulanceID: "amb-1", CoordinatorID: "coord-1"})
		}(i)
	}
	wg.Wait()

	winners, losers := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			winners++
		case faults.IsKind(err, faults.KindAmbulanceUnavailable):
			losers++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, winners)
	require.Equal(t, n-1, losers)
}

func TestCreateRequiresAssignedDriver(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alert := f.seedAlert(t, "alert-1")
	amb := f.seedAmbulance(t, "amb-1", "")

	_, err := f.svc.Create(ctx, CreateParams{AlertID: alert.ID, AmbulanceID: amb.ID, CoordinatorID: "coord-1"})
	require.True(t, faults.IsKind(err, faults.KindConflict))
}

func TestCreateEmailFailureDoesNotUndoDispatch(t *testing.T) {
	f := newFixture()
	f.mail.fail = true
	ctx := context.Background()
	alert := f.seedAlert(t, "alert-1")
	f.seedAmbulance(t, "amb-1", "driver-1")

	d, err := f.svc.Create(ctx, CreateParams{AlertID: alert.ID, AmbulanceID: "amb-1", CoordinatorID: "coord-1"})
	require.NoError(t, err)
	got, err := f.store.GetDispatch(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.DispatchDispatched, got.Status)
}

func TestCompleteBeforeArrivalRejected(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alert := f.seedAlert(t, "alert-1")
	f.seedAmbulance(t, "amb-1", "driver-1")
	d, err := f.svc.Create(ctx, CreateParams{AlertID: alert.ID, AmbulanceID: "amb-1", CoordinatorID: "coord-1"})
	require.NoError(t, err)

	_, err = f.svc.Complete(ctx, d.ID, "driver-1", "skipping ahead")
	require.True(t, faults.IsKind(err, faults.KindInvalidStateTransition))

	// nothing moved
	gotA, err := f.store.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	require.Equal(t, models.AlertDispatched, gotA.Status)
	gotAmb, err := f.store.GetAmbulance(ctx, "amb-1")
	require.NoError(t, err)
	require.Equal(t, models.AmbulanceEnRoute, gotAmb.Status)
	gotD, err := f.store.GetDispatch(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, models.DispatchDispatched, gotD.Status)
}

func TestOnlyAssignedDriverMayAdvance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alert := f.seedAlert(t, "alert-1")
	f.seedAmbulance(t, "amb-1", "driver-1")
	d, err := f.svc.Create(ctx, CreateParams{AlertID: alert.ID, AmbulanceID: "amb-1", CoordinatorID: "coord-1"})
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, d.ID, "driver-2")
	require.True(t, faults.IsKind(err, faults.KindForbidden))
}

func TestFullResponseCycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alert := f.seedAlert(t, "alert-1")
	f.seedAmbulance(t, "amb-1", "driver-1")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	f.svc.Now = func() time.Time { return clock }

	d, err := f.svc.Create(ctx, CreateParams{AlertID: alert.ID, AmbulanceID: "amb-1", CoordinatorID: "coord-1"})
	require.NoError(t, err)

	clock = base.Add(45 * time.Second)
	d, err = f.svc.Accept(ctx, d.ID, "driver-1")
	require.NoError(t, err)
	require.Equal(t, models.DispatchAccepted, d.Status)
	require.NotNil(t, d.ResponseTimeSec)
	require.Equal(t, int64(45), *d.ResponseTimeSec)
	gotA, _ := f.store.GetAlert(ctx, alert.ID)
	require.Equal(t, models.AlertEnRoute, gotA.Status)

	clock = base.Add(2 * time.Minute)
	d, err = f.svc.UpdateStatus(ctx, d.ID, "driver-1", models.DispatchEnRoute)
	require.NoError(t, err)
	require.Equal(t, models.DispatchEnRoute, d.Status)

	clock = base.Add(9 * time.Minute)
	d, err = f.svc.MarkArrived(ctx, d.ID, "driver-1")
	require.NoError(t, err)
	require.Equal(t, models.DispatchArrived, d.Status)
	require.Equal(t, int64(540), *d.ResponseTimeSec)
	gotA, _ = f.store.GetAlert(ctx, alert.ID)
	require.Equal(t, models.AlertAssistanceProvided, gotA.Status)

	clock = base.Add(25 * time.Minute)
	d, err = f.svc.Complete(ctx, d.ID, "driver-1", "stabilized, transported to National Hospital")
	require.NoError(t, err)
	require.Equal(t, models.DispatchCompleted, d.Status)

	gotA, _ = f.store.GetAlert(ctx, alert.ID)
	require.Equal(t, models.AlertCompleted, gotA.Status)
	require.Equal(t, "driver-1", gotA.Notes[models.NoteCompletedBy])
	require.Equal(t, "stabilized, transported to National Hospital", gotA.Notes[models.NoteCompletionSummary])

	gotAmb, _ := f.store.GetAmbulance(ctx, "amb-1")
	require.Equal(t, models.AmbulanceAvailable, gotAmb.Status)

	// one event per lifecycle step reached the coordinator room
	types := []string{}
	for _, e := range f.rec.ByScope(fabric.Coordinators()) {
		types = append(types, e.Type)
	}
	require.Equal(t, []string{
		fabric.EventDispatchCreated,
		fabric.EventDispatchAccepted,
		fabric.EventDispatchStatus,
		fabric.EventDispatchArrived,
		fabric.EventDispatchCompleted,
	}, types)
}

func TestCancelByCoordinatorFreesAmbulance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alert := f.seedAlert(t, "alert-1")
	f.seedAmbulance(t, "amb-1", "driver-1")
	d, err := f.svc.Create(ctx, CreateParams{AlertID: alert.ID, AmbulanceID: "amb-1", CoordinatorID: "coord-1"})
	require.NoError(t, err)

	_, err = f.svc.Cancel(ctx, d.ID, "coord-2", "false alarm")
	require.True(t, faults.IsKind(err, faults.KindForbidden))

	d, err = f.svc.Cancel(ctx, d.ID, "coord-1", "false alarm")
	require.NoError(t, err)
	require.Equal(t, models.DispatchCancelled, d.Status)

	gotA, _ := f.store.GetAlert(ctx, alert.ID)
	require.Equal(t, models.AlertCancelled, gotA.Status)
	require.Equal(t, "false alarm", gotA.Notes[models.NoteCancelReason])
	gotAmb, _ := f.store.GetAmbulance(ctx, "amb-1")
	require.Equal(t, models.AmbulanceAvailable, gotAmb.Status)
}

func TestCandidatesRankedByDistance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alert := f.seedAlert(t, "alert-1")

	near := f.seedAmbulance(t, "amb-near", "driver-1")
	far := f.seedAmbulance(t, "amb-far", "driver-2")
	_, err := f.store.UpdateAmbulanceLocation(ctx, near.ID, models.VehicleFix{Coord: models.Coord{Lat: 6.9350, Lon: 79.8430}})
	require.NoError(t, err)
	_, err = f.store.UpdateAmbulanceLocation(ctx, far.ID, models.VehicleFix{Coord: models.Coord{Lat: 7.2906, Lon: 80.6337}})
	require.NoError(t, err)

	// busy units never rank
	busy := f.seedAmbulance(t, "amb-busy", "driver-3")
	_, err = f.store.SetAmbulanceStatus(ctx, busy.ID, models.AmbulanceBusy)
	require.NoError(t, err)

	cands, err := f.svc.Candidates(ctx, alert.ID, 10)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	require.Equal(t, "amb-near", cands[0].Ambulance.ID)
	require.Equal(t, "amb-far", cands[1].Ambulance.ID)
	require.Less(t, cands[0].DistanceKm, cands[1].DistanceKm)
}
