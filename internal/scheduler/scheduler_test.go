package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/config"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/metrics"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/mlclient"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

type fakeTwinStore struct {
	pending    []*models.Twin
	stale      []*models.Twin
	reservoirs []*models.Twin
	marked     int64
	cutoffs    []time.Time
}

func (f *fakeTwinStore) ListBySyncStatus(_ context.Context, status models.SyncStatus) ([]*models.Twin, error) {
	if status == models.SyncStale {
		return f.stale, nil
	}
	return f.pending, nil
}

func (f *fakeTwinStore) ListReservoirs(context.Context) ([]*models.Twin, error) {
	return f.reservoirs, nil
}

func (f *fakeTwinStore) MarkStaleBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.marked, nil
}

type fakeEngine struct {
	republished []models.TwinKey
	failFor     map[string]bool
	desired     []models.TwinKey
}

func (f *fakeEngine) Republish(_ context.Context, key models.TwinKey) (bool, error) {
	if f.failFor[key.DeviceID()] {
		return false, errors.New("broker unavailable")
	}
	f.republished = append(f.republished, key)
	return true, nil
}

func (f *fakeEngine) SetDesired(_ context.Context, key models.TwinKey, _ *models.DeviceState) (*models.Twin, error) {
	f.desired = append(f.desired, key)
	return nil, nil
}

type fakePairing struct {
	calls int
}

func (f *fakePairing) ExpireTimedOutSessions() []*models.PairingSession {
	f.calls++
	return nil
}

type raisedAlert struct {
	farmID   string
	deviceID string
	severity models.AlertSeverity
	category models.AlertCategory
	message  string
}

type fakeAlerts struct {
	raised []raisedAlert
}

func (f *fakeAlerts) CreateAlert(_ context.Context, farmID, deviceID string, severity models.AlertSeverity, category models.AlertCategory, message string) (*models.Alert, error) {
	f.raised = append(f.raised, raisedAlert{
		farmID: farmID, deviceID: deviceID,
		severity: severity, category: category, message: message,
	})
	return nil, nil
}

type fakeRecommender struct {
	calls int
}

func (f *fakeRecommender) RecommendDosing(context.Context, *mlclient.ReservoirSnapshot) (*mlclient.Recommendation, error) {
	f.calls++
	return &mlclient.Recommendation{PhTarget: 6.0, EcTargetMsCm: 1.8}, nil
}

func pendingTwin(towerID string) *models.Twin {
	return &models.Twin{
		FarmID:     "farm-1",
		CoordID:    "coord-1",
		TowerID:    towerID,
		Kind:       models.KindTower,
		SyncStatus: models.SyncPending,
	}
}

func newScheduler(store *fakeTwinStore, engine *fakeEngine, rec Recommender) (*Scheduler, *fakeAlerts) {
	cfg := config.SyncConfig{
		PendingSweepInterval:  time.Second,
		StaleSweepInterval:    time.Second,
		StaleThreshold:        2 * time.Minute,
		PairingExpiryInterval: time.Second,
	}
	alerts := &fakeAlerts{}
	return New(store, engine, &fakePairing{}, alerts, rec, metrics.New(), cfg, time.Minute, zap.NewNop()), alerts
}

func TestPendingSweepIsolatesFailures(t *testing.T) {
	store := &fakeTwinStore{
		pending: []*models.Twin{pendingTwin("T1"), pendingTwin("T2"), pendingTwin("T3")},
	}
	engine := &fakeEngine{failFor: map[string]bool{"T2": true}}
	s, _ := newScheduler(store, engine, nil)

	s.sweepPending(context.Background())

	assert.Len(t, engine.republished, 2, "siblings of a failing twin still republish")
	assert.Equal(t, "T1", engine.republished[0].TowerID)
	assert.Equal(t, "T3", engine.republished[1].TowerID)
}

func TestStaleSweepUsesThresholdCutoff(t *testing.T) {
	store := &fakeTwinStore{marked: 4}
	engine := &fakeEngine{}
	s, _ := newScheduler(store, engine, nil)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	s.sweepStale(context.Background())

	assert.Equal(t, []time.Time{fixed.Add(-2 * time.Minute)}, store.cutoffs)
}

func TestStaleSweepRaisesConnectivityAlerts(t *testing.T) {
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	lastSeen := fixed.Add(-10 * time.Minute)
	silent := &models.Twin{
		FarmID:         "farm-1",
		CoordID:        "coord-1",
		TowerID:        "T1",
		Kind:           models.KindTower,
		SyncStatus:     models.SyncStale,
		LastReportedAt: &lastSeen,
	}
	store := &fakeTwinStore{marked: 1, stale: []*models.Twin{silent}}
	engine := &fakeEngine{}
	s, alerts := newScheduler(store, engine, nil)
	s.now = func() time.Time { return fixed }

	s.sweepStale(context.Background())

	assert.Len(t, alerts.raised, 1, "a twin gone silent must surface as an alert")
	raised := alerts.raised[0]
	assert.Equal(t, "farm-1", raised.farmID)
	assert.Equal(t, "T1", raised.deviceID)
	assert.Equal(t, models.SeverityWarning, raised.severity)
	assert.Equal(t, models.AlertConnectivity, raised.category)
	assert.Equal(t, "Device silent for 10m0s", raised.message)
}

func TestRecommendationSkipsReservoirsWithoutReadings(t *testing.T) {
	silent := &models.Twin{FarmID: "farm-1", CoordID: "coord-a", Kind: models.KindReservoir}
	reporting := &models.Twin{
		FarmID:   "farm-1",
		CoordID:  "coord-b",
		Kind:     models.KindReservoir,
		Reported: models.DeviceState{Ph: models.Float64(6.4)},
	}
	store := &fakeTwinStore{reservoirs: []*models.Twin{silent, reporting}}
	engine := &fakeEngine{}
	rec := &fakeRecommender{}
	s, _ := newScheduler(store, engine, rec)

	s.recommendDosing(context.Background())

	assert.Equal(t, 1, rec.calls)
	assert.Len(t, engine.desired, 1)
	assert.Equal(t, "coord-b", engine.desired[0].CoordID)
}

func TestLoopsStopOnCancel(t *testing.T) {
	store := &fakeTwinStore{}
	engine := &fakeEngine{}
	s, _ := newScheduler(store, engine, nil)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler loops did not stop on cancel")
	}
}
