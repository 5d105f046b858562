package alerts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/metrics"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

type fakeAlertStore struct {
	mu     sync.Mutex
	active map[string]*models.Alert
}

func newFakeAlertStore() *fakeAlertStore {
	return &fakeAlertStore{active: make(map[string]*models.Alert)}
}

func (s *fakeAlertStore) GetActiveByKey(_ context.Context, alertKey string) (*models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[alertKey], nil
}

func (s *fakeAlertStore) Insert(_ context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[alert.AlertKey] = alert
	return nil
}

func (s *fakeAlertStore) Resolve(_ context.Context, alertKey string, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[alertKey]; !ok {
		return 0, nil
	}
	delete(s.active, alertKey)
	return 1, nil
}

type fakeFarmStore struct {
	count int
}

func (s *fakeFarmStore) AdjustActiveAlerts(_ context.Context, _ string, delta int) error {
	s.count += delta
	return nil
}

type recordedEvent struct {
	name    string
	payload interface{}
}

type fakeAlertNotifier struct {
	events []recordedEvent
}

func (n *fakeAlertNotifier) Publish(event string, payload interface{}) {
	n.events = append(n.events, recordedEvent{name: event, payload: payload})
}

func (n *fakeAlertNotifier) countOf(name string) int {
	total := 0
	for _, e := range n.events {
		if e.name == name {
			total++
		}
	}
	return total
}

func newTestEngine() (*Engine, *fakeAlertStore, *fakeFarmStore, *fakeAlertNotifier) {
	store := newFakeAlertStore()
	farms := &fakeFarmStore{}
	notifier := &fakeAlertNotifier{}
	engine := NewEngine(store, farms, notifier, metrics.New(), DefaultThresholds(), zap.NewNop())
	return engine, store, farms, notifier
}

func TestCreateAlertDeduplicates(t *testing.T) {
	engine, store, farms, notifier := newTestEngine()
	ctx := context.Background()

	first, err := engine.CreateAlert(ctx, "farm-1", "tower-T1", models.SeverityWarning, models.AlertBatteryLow, "Battery 3100mV below 3300mV")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := engine.CreateAlert(ctx, "farm-1", "tower-T1", models.SeverityWarning, models.AlertBatteryLow, "Battery 3050mV below 3300mV")
	require.NoError(t, err)
	assert.Nil(t, second, "an already-active key must no-op")

	assert.Len(t, store.active, 1)
	assert.Equal(t, 1, farms.count)
	assert.Equal(t, 1, notifier.countOf("alert_created"))
}

func TestAutoResolveWithoutActiveAlertIsNoop(t *testing.T) {
	engine, _, farms, notifier := newTestEngine()

	resolved, err := engine.AutoResolveAlert(context.Background(), "farm-1", "tower-T1", models.AlertBatteryLow)
	require.NoError(t, err)
	assert.False(t, resolved)
	assert.Equal(t, 0, farms.count)
	assert.Empty(t, notifier.events)
}

func TestAlertLifecycleRoundTrip(t *testing.T) {
	engine, store, farms, notifier := newTestEngine()
	ctx := context.Background()

	_, err := engine.CreateAlert(ctx, "farm-1", "coord-1", models.SeverityWarning, models.AlertPhOutOfRange, "pH 4.00 outside 5.5-7.5")
	require.NoError(t, err)

	resolved, err := engine.AutoResolveAlert(ctx, "farm-1", "coord-1", models.AlertPhOutOfRange)
	require.NoError(t, err)
	assert.True(t, resolved)

	assert.Empty(t, store.active)
	assert.Equal(t, 0, farms.count)
	assert.Equal(t, 1, notifier.countOf("alert_created"))
	assert.Equal(t, 1, notifier.countOf("alert_updated"))
}

func reservoirTwin(reported models.DeviceState) *models.Twin {
	now := time.Now()
	return &models.Twin{
		FarmID:         "farm-1",
		CoordID:        "coord-1",
		Kind:           models.KindReservoir,
		Reported:       reported,
		LastReportedAt: &now,
	}
}

func TestEvaluateReservoirPhOutOfRange(t *testing.T) {
	engine, store, _, _ := newTestEngine()
	ctx := context.Background()

	twin := reservoirTwin(models.DeviceState{Ph: models.Float64(4.0)})
	engine.EvaluateReservoir(ctx, twin)

	key := models.AlertKeyFor("farm-1", twin.Key().DeviceID(), models.AlertPhOutOfRange)
	alert := store.active[key]
	require.NotNil(t, alert, "pH 4.0 must raise ph_out_of_range")
	assert.Equal(t, models.SeverityWarning, alert.Severity)

	// Reading back in range auto-resolves the same category.
	twin.Reported.Ph = models.Float64(6.2)
	engine.EvaluateReservoir(ctx, twin)
	assert.Nil(t, store.active[key])
}

func TestEvaluateReservoirTemperatureSwingClearsOppositeCategory(t *testing.T) {
	engine, store, _, _ := newTestEngine()
	ctx := context.Background()

	twin := reservoirTwin(models.DeviceState{WaterTempC: models.Float64(30.0)})
	engine.EvaluateReservoir(ctx, twin)
	deviceID := twin.Key().DeviceID()
	highKey := models.AlertKeyFor("farm-1", deviceID, models.AlertTemperatureHigh)
	lowKey := models.AlertKeyFor("farm-1", deviceID, models.AlertTemperatureLow)
	require.NotNil(t, store.active[highKey])

	// swinging below the low bound fires low and clears high
	twin.Reported.WaterTempC = models.Float64(10.0)
	engine.EvaluateReservoir(ctx, twin)
	assert.Nil(t, store.active[highKey])
	require.NotNil(t, store.active[lowKey])

	// an in-range reading clears both
	twin.Reported.WaterTempC = models.Float64(21.0)
	engine.EvaluateReservoir(ctx, twin)
	assert.Nil(t, store.active[highKey])
	assert.Nil(t, store.active[lowKey])
}

func TestEvaluateReservoirSkipsAbsentSensors(t *testing.T) {
	engine, store, _, _ := newTestEngine()

	// No readings at all: nothing fires, nothing resolves.
	engine.EvaluateReservoir(context.Background(), reservoirTwin(models.DeviceState{}))
	assert.Empty(t, store.active)
}

func TestEvaluateReservoirEcRequiresSetpoint(t *testing.T) {
	engine, store, _, _ := newTestEngine()
	ctx := context.Background()

	twin := reservoirTwin(models.DeviceState{EcMsCm: models.Float64(3.0)})
	engine.EvaluateReservoir(ctx, twin)
	assert.Empty(t, store.active, "no dosing setpoint means no EC judgement")

	twin.Desired.Dosing = &models.DosingSetpoints{PhTarget: 6.0, EcTargetMsCm: 1.8}
	engine.EvaluateReservoir(ctx, twin)
	key := models.AlertKeyFor("farm-1", twin.Key().DeviceID(), models.AlertEcOutOfRange)
	require.NotNil(t, store.active[key], "3.0 deviates more than 20% from 1.8")
}

func TestEvaluateReservoirWaterLevelCritical(t *testing.T) {
	engine, store, _, _ := newTestEngine()

	twin := reservoirTwin(models.DeviceState{WaterLevelPct: models.Float64(12)})
	engine.EvaluateReservoir(context.Background(), twin)

	key := models.AlertKeyFor("farm-1", twin.Key().DeviceID(), models.AlertWaterLevel)
	alert := store.active[key]
	require.NotNil(t, alert)
	assert.Equal(t, models.SeverityCritical, alert.Severity)
}

func TestEvaluateTowerStatusModeOffline(t *testing.T) {
	engine, store, _, _ := newTestEngine()
	ctx := context.Background()
	now := time.Now()

	twin := &models.Twin{
		FarmID:         "farm-1",
		CoordID:        "coord-1",
		TowerID:        "T1",
		Kind:           models.KindTower,
		Reported:       models.DeviceState{StatusMode: models.String(models.StatusModeError)},
		LastReportedAt: &now,
	}
	engine.EvaluateTower(ctx, twin)

	key := models.AlertKeyFor("farm-1", twin.Key().DeviceID(), models.AlertTowerOffline)
	require.NotNil(t, store.active[key])

	// pairing is transitional: it must not resolve the alert.
	twin.Reported.StatusMode = models.String(models.StatusModePairing)
	engine.EvaluateTower(ctx, twin)
	assert.NotNil(t, store.active[key])

	twin.Reported.StatusMode = models.String(models.StatusModeOperational)
	engine.EvaluateTower(ctx, twin)
	assert.Nil(t, store.active[key])
}

func TestEvaluateTowerConnectivityTimeout(t *testing.T) {
	engine, store, _, _ := newTestEngine()
	stale := time.Now().Add(-5 * time.Minute)

	twin := &models.Twin{
		FarmID:         "farm-1",
		CoordID:        "coord-1",
		TowerID:        "T2",
		Kind:           models.KindTower,
		LastReportedAt: &stale,
	}
	engine.EvaluateTower(context.Background(), twin)

	key := models.AlertKeyFor("farm-1", twin.Key().DeviceID(), models.AlertConnectivity)
	alert := store.active[key]
	require.NotNil(t, alert)
	assert.Equal(t, models.SeverityWarning, alert.Severity,
		"a silent device is a warning, not a critical failure")
}
