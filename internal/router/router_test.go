package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/metrics"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/mqtt"
)

func TestParseDeviceTopic(t *testing.T) {
	tests := []struct {
		topic   string
		key     models.TwinKey
		kind    string
		wantErr bool
	}{
		{
			topic: "farm/farm-1/coord/coord-1/reservoir/telemetry",
			key:   models.TwinKey{FarmID: "farm-1", CoordID: "coord-1"},
			kind:  "telemetry",
		},
		{
			topic: "farm/farm-1/coord/coord-1/tower/T3/telemetry",
			key:   models.TwinKey{FarmID: "farm-1", CoordID: "coord-1", TowerID: "T3"},
			kind:  "telemetry",
		},
		{
			topic: "farm/farm-1/coord/coord-1/tower/T3/status",
			key:   models.TwinKey{FarmID: "farm-1", CoordID: "coord-1", TowerID: "T3"},
			kind:  "status",
		},
		{
			topic: "farm/farm-1/coord/coord-1/pairing/request",
			key:   models.TwinKey{FarmID: "farm-1", CoordID: "coord-1"},
			kind:  "request",
		},
		{
			topic: "farm/farm-1/coord/coord-1/status/connection",
			key:   models.TwinKey{FarmID: "farm-1", CoordID: "coord-1"},
			kind:  "connection",
		},
		{topic: "farm/farm-1/coord/coord-1/tower/T3", wantErr: true},
		{topic: "something/else/entirely/now/here", wantErr: true},
		{topic: "farm//coord/c/serial", wantErr: true},
	}

	for _, tt := range tests {
		parsed, err := parseDeviceTopic(tt.topic)
		if tt.wantErr {
			assert.Error(t, err, tt.topic)
			continue
		}
		require.NoError(t, err, tt.topic)
		assert.Equal(t, tt.key, parsed.key, tt.topic)
		assert.Equal(t, tt.kind, parsed.kind, tt.topic)
	}
}

func TestParseAnnounceTopic(t *testing.T) {
	coordID, err := parseAnnounceTopic("coordinator/coord-7/announce")
	require.NoError(t, err)
	assert.Equal(t, "coord-7", coordID)

	_, err = parseAnnounceTopic("coordinator/coord-7/registered")
	assert.Error(t, err)
}

type fakeTwinEngine struct {
	applied []models.TwinKey
	twin    *models.Twin
}

func (f *fakeTwinEngine) ApplyReported(_ context.Context, key models.TwinKey, _ *models.DeviceState) (*models.Twin, error) {
	f.applied = append(f.applied, key)
	if f.twin != nil {
		return f.twin, nil
	}
	return &models.Twin{FarmID: key.FarmID, CoordID: key.CoordID, TowerID: key.TowerID, Kind: key.Kind()}, nil
}

type fakeTwinStore struct {
	connected map[models.TwinKey]bool
}

func (f *fakeTwinStore) SetConnected(_ context.Context, key models.TwinKey, connected bool) error {
	if f.connected == nil {
		f.connected = make(map[models.TwinKey]bool)
	}
	f.connected[key] = connected
	return nil
}

type fakeAlertEngine struct {
	reservoirs int
	towers     int
}

func (f *fakeAlertEngine) EvaluateReservoir(context.Context, *models.Twin) { f.reservoirs++ }
func (f *fakeAlertEngine) EvaluateTower(context.Context, *models.Twin)    { f.towers++ }

type fakePairingEngine struct {
	discoveries []string
	completions []string
}

func (f *fakePairingEngine) ProcessDiscoveryRequest(_ context.Context, _, _ string, req *models.DiscoveryRequest) *models.PairingRequest {
	f.discoveries = append(f.discoveries, req.DeviceID)
	return nil
}

func (f *fakePairingEngine) HandleCompletionEvent(_ context.Context, _, _ string, event *models.PairingCompletion) error {
	f.completions = append(f.completions, event.DeviceID)
	return nil
}

type fakeAdmission struct {
	known      map[string]bool
	registered []string
}

func (f *fakeAdmission) IsKnown(_ context.Context, farmID, coordID string) (bool, error) {
	return f.known[farmID+":"+coordID], nil
}

func (f *fakeAdmission) Register(_ context.Context, farmID, coordID string) error {
	f.registered = append(f.registered, farmID+":"+coordID)
	return nil
}

type fakeTelemetryStore struct {
	appended int
}

func (f *fakeTelemetryStore) Append(context.Context, models.TwinKey, []byte) error {
	f.appended++
	return nil
}

type fakeNotifier struct {
	events []string
}

func (f *fakeNotifier) Publish(event string, _ interface{}) {
	f.events = append(f.events, event)
}

type fakeBus struct {
	subscribed []string
	published  []string
}

func (f *fakeBus) Subscribe(topic string, _ byte, _ mqtt.MessageHandler) error {
	f.subscribed = append(f.subscribed, topic)
	return nil
}

func (f *fakeBus) Publish(topic string, _ byte, _ bool, _ []byte) error {
	f.published = append(f.published, topic)
	return nil
}

type fixture struct {
	router    *Router
	bus       *fakeBus
	twins     *fakeTwinEngine
	twinStore *fakeTwinStore
	alerts    *fakeAlertEngine
	pairing   *fakePairingEngine
	admission *fakeAdmission
	telemetry *fakeTelemetryStore
	notifier  *fakeNotifier
}

func newFixture() *fixture {
	f := &fixture{
		bus:       &fakeBus{},
		twins:     &fakeTwinEngine{},
		twinStore: &fakeTwinStore{},
		alerts:    &fakeAlertEngine{},
		pairing:   &fakePairingEngine{},
		admission: &fakeAdmission{known: map[string]bool{"farm-1:coord-1": true}},
		telemetry: &fakeTelemetryStore{},
		notifier:  &fakeNotifier{},
	}
	f.router = New(f.bus, f.twins, f.twinStore, f.alerts, f.pairing,
		f.admission, f.telemetry, f.notifier, metrics.New(),
		1, 5*time.Second, zap.NewNop())
	return f
}

func TestStartSubscribesAllPatterns(t *testing.T) {
	f := newFixture()
	require.NoError(t, f.router.Start())
	assert.Len(t, f.bus.subscribed, 9)
	assert.Contains(t, f.bus.subscribed, TopicTowerTelemetry)
	assert.Contains(t, f.bus.subscribed, TopicAnnounce)
}

func TestTelemetryDispatchesToTwinAndAlerts(t *testing.T) {
	f := newFixture()

	err := f.router.handleTelemetry("farm/farm-1/coord/coord-1/tower/T1/telemetry",
		[]byte(`{"air_temp_c": 23.5, "pump_on": true}`))
	require.NoError(t, err)

	require.Len(t, f.twins.applied, 1)
	assert.Equal(t, "T1", f.twins.applied[0].TowerID)
	assert.Equal(t, 1, f.alerts.towers)
	assert.Equal(t, 0, f.alerts.reservoirs)
	assert.Equal(t, 1, f.telemetry.appended)
}

func TestReservoirTelemetryEvaluatesReservoirRules(t *testing.T) {
	f := newFixture()

	err := f.router.handleTelemetry("farm/farm-1/coord/coord-1/reservoir/telemetry",
		[]byte(`{"ph": 6.1, "water_temp_c": 21.0}`))
	require.NoError(t, err)

	assert.Equal(t, 1, f.alerts.reservoirs)
	assert.Equal(t, 0, f.alerts.towers)
}

func TestUnknownCoordinatorIsDroppedBeforeDispatch(t *testing.T) {
	f := newFixture()

	err := f.router.handleTelemetry("farm/farm-9/coord/intruder/tower/T1/telemetry",
		[]byte(`{"air_temp_c": 23.5}`))
	require.NoError(t, err)

	assert.Empty(t, f.twins.applied)
	assert.Equal(t, 0, f.telemetry.appended)
	assert.Empty(t, f.pairing.discoveries)
}

func TestMalformedPayloadDoesNotHaltIngestion(t *testing.T) {
	f := newFixture()

	err := f.router.handleTelemetry("farm/farm-1/coord/coord-1/tower/T1/telemetry",
		[]byte(`{not json`))
	require.NoError(t, err, "a bad payload is dropped, never an error")
	assert.Empty(t, f.twins.applied)

	// subsequent good message still flows
	err = f.router.handleTelemetry("farm/farm-1/coord/coord-1/tower/T1/telemetry",
		[]byte(`{"air_temp_c": 22.0}`))
	require.NoError(t, err)
	assert.Len(t, f.twins.applied, 1)
}

func TestPairingRequestRoutesToEngine(t *testing.T) {
	f := newFixture()

	err := f.router.handlePairingRequest("farm/farm-1/coord/coord-1/pairing/request",
		[]byte(`{"device_id": "T5", "rssi": -60}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"T5"}, f.pairing.discoveries)
}

func TestCompletionRoutesToEngine(t *testing.T) {
	f := newFixture()

	err := f.router.handlePairingComplete("farm/farm-1/coord/coord-1/pairing/complete",
		[]byte(`{"device_id": "T5", "success": true}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"T5"}, f.pairing.completions)
}

func TestConnectionEventMutatesAndFansOut(t *testing.T) {
	f := newFixture()

	err := f.router.handleConnection("farm/farm-1/coord/coord-1/status/connection",
		[]byte(`{"event": "disconnected", "reason": "keepalive timeout"}`))
	require.NoError(t, err)

	key := models.TwinKey{FarmID: "farm-1", CoordID: "coord-1"}
	assert.False(t, f.twinStore.connected[key])
	assert.Contains(t, f.notifier.events, "connection_event")
}

func TestSerialLogIsPassThroughOnly(t *testing.T) {
	f := newFixture()

	err := f.router.handleSerialLog("farm/farm-1/coord/coord-1/serial",
		[]byte("boot: sensors ok"))
	require.NoError(t, err)

	assert.Contains(t, f.notifier.events, "serial_log")
	assert.Empty(t, f.twins.applied)
	assert.Equal(t, 0, f.telemetry.appended)
}

func TestAnnounceRegistersAndAcks(t *testing.T) {
	f := newFixture()

	err := f.router.handleAnnounce("coordinator/coord-2/announce",
		[]byte(`{"coord_id": "coord-2", "farm_id": "farm-1", "fw": "2.1.0"}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"farm-1:coord-2"}, f.admission.registered)
	assert.Equal(t, []string{"coordinator/coord-2/registered"}, f.bus.published)
	assert.Contains(t, f.notifier.events, "coordinator_announced")
}
