package alerts

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/eldercare-dispatch/internal/fabric"
	"github.com/example/eldercare-dispatch/internal/faults"
	"github.com/example/eldercare-dispatch/internal/models"
	"github.com/example/eldercare-dispatch/internal/storage"
)

func newService() (*Service, *fabric.Recorder) {
	rec := &fabric.Recorder{}
	return &Service{
		Store:  storage.NewMemoryStore(),
		Fabric: rec,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:    func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	}, rec
}

func validParams() RaiseParams {
	return RaiseParams{
		ElderID:  "elder-1",
		Type:     models.AlertFall,
		Priority: models.PriorityHigh,
		Location: models.AlertLocation{Coord: models.Coord{Lat: 6.9344, Lon: 79.8428}, Address: "12 Temple Road"},
		Medical:  models.MedicalSnapshot{Conditions: []string{"hypertension"}, Medications: []string{"amlodipine"}},
	}
}

func TestRaiseCreatesPendingAndBroadcasts(t *testing.T) {
	svc, rec := newService()
	ctx := context.Background()

	alert, err := svc.Raise(ctx, validParams())
	require.NoError(t, err)
	require.NotEmpty(t, alert.ID)
	require.Equal(t, models.AlertPending, alert.Status)
	require.Equal(t, []string{"hypertension"}, alert.Medical.Conditions)

	events := rec.ByScope(fabric.Coordinators())
	require.Len(t, events, 1)
	require.Equal(t, fabric.EventAlertRaised, events[0].Type)
}

func TestRaiseValidation(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	p := validParams()
	p.ElderID = ""
	_, err := svc.Raise(ctx, p)
	require.True(t, faults.IsKind(err, faults.KindInvalidInput))

	p = validParams()
	p.Type = "spurious"
	_, err = svc.Raise(ctx, p)
	require.True(t, faults.IsKind(err, faults.KindInvalidInput))

	p = validParams()
	p.Priority = "urgent-ish"
	_, err = svc.Raise(ctx, p)
	require.True(t, faults.IsKind(err, faults.KindInvalidInput))

	p = validParams()
	p.Location = models.AlertLocation{}
	_, err = svc.Raise(ctx, p)
	require.True(t, faults.IsKind(err, faults.KindInvalidInput))
}

func TestAcknowledgeOnceOnly(t *testing.T) {
	svc, rec := newService()
	ctx := context.Background()
	alert, err := svc.Raise(ctx, validParams())
	require.NoError(t, err)

	acked, err := svc.Acknowledge(ctx, alert.ID, "coord-1")
	require.NoError(t, err)
	require.Equal(t, models.AlertAcknowledged, acked.Status)
	require.Equal(t, "coord-1", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)

	// a second coordinator acking the same alert is rejected, not merged
	_, err = svc.Acknowledge(ctx, alert.ID, "coord-2")
	require.True(t, faults.IsKind(err, faults.KindInvalidStateTransition))

	got, err := svc.Get(ctx, alert.ID)
	require.NoError(t, err)
	require.Equal(t, "coord-1", got.AcknowledgedBy)

	events := rec.ByScope(fabric.Coordinators())
	require.Len(t, events, 2) // raised + one ack
	require.Equal(t, fabric.EventAlertAcknowledged, events[1].Type)
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Acknowledge(context.Background(), "nope", "coord-1")
	require.True(t, faults.IsKind(err, faults.KindNotFound))
}

func TestQueueOrdersBySeverityThenAge(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	svc.Now = func() time.Time { return clock }

	mk := func(prio models.AlertPriority, offset time.Duration) string {
		clock = base.Add(offset)
		p := validParams()
		p.Priority = prio
		a, err := svc.Raise(ctx, p)
		require.NoError(t, err)
		return a.ID
	}

	lowOld := mk(models.PriorityLow, 0)
	critNew := mk(models.PriorityCritical, 3*time.Minute)
	critOld := mk(models.PriorityCritical, 1*time.Minute)
	high := mk(models.PriorityHigh, 2*time.Minute)

	got, err := svc.Queue(ctx, storage.AlertFilter{})
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, a := range got {
		ids = append(ids, a.ID)
	}
	require.Equal(t, []string{critOld, critNew, high, lowOld}, ids)
}

func TestQueueRejectsUnknownPriority(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Queue(context.Background(), storage.AlertFilter{Priority: "mild"})
	require.True(t, faults.IsKind(err, faults.KindInvalidInput))
}
