package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/metrics"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/mqtt"
)

// TwinEngine is the twin mutation surface the router dispatches to.
type TwinEngine interface {
	ApplyReported(ctx context.Context, key models.TwinKey, fields *models.DeviceState) (*models.Twin, error)
}

// TwinStore covers the lightweight mutations that bypass the engine.
type TwinStore interface {
	SetConnected(ctx context.Context, key models.TwinKey, connected bool) error
}

// AlertEngine evaluates thresholds after a reported-state write.
type AlertEngine interface {
	EvaluateReservoir(ctx context.Context, twin *models.Twin)
	EvaluateTower(ctx context.Context, twin *models.Twin)
}

// PairingEngine handles the pairing topic family.
type PairingEngine interface {
	ProcessDiscoveryRequest(ctx context.Context, farmID, coordID string, req *models.DiscoveryRequest) *models.PairingRequest
	HandleCompletionEvent(ctx context.Context, farmID, coordID string, event *models.PairingCompletion) error
}

// Admission answers whether a coordinator is known before any
// message may mutate state.
type Admission interface {
	IsKnown(ctx context.Context, farmID, coordID string) (bool, error)
	Register(ctx context.Context, farmID, coordID string) error
}

// TelemetryStore archives raw telemetry payloads.
type TelemetryStore interface {
	Append(ctx context.Context, key models.TwinKey, payload []byte) error
}

// Notifier receives fire-and-forget router events.
type Notifier interface {
	Publish(event string, payload interface{})
}

// Bus is the subscribe/publish surface of the message broker.
type Bus interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Router wires the topic tree to the engines. Every handler catches
// its own failures: one bad message never halts ingestion.
type Router struct {
	bus       Bus
	twins     TwinEngine
	twinStore TwinStore
	alerts    AlertEngine
	pairing   PairingEngine
	admission Admission
	telemetry TelemetryStore
	notifier  Notifier
	metrics   *metrics.Metrics
	qos       byte
	timeout   time.Duration
	logger    *zap.Logger
}

// New creates the router.
func New(bus Bus, twins TwinEngine, twinStore TwinStore, alerts AlertEngine, pairing PairingEngine,
	admission Admission, telemetry TelemetryStore, notifier Notifier, m *metrics.Metrics,
	qos byte, timeout time.Duration, logger *zap.Logger) *Router {
	return &Router{
		bus:       bus,
		twins:     twins,
		twinStore: twinStore,
		alerts:    alerts,
		pairing:   pairing,
		admission: admission,
		telemetry: telemetry,
		notifier:  notifier,
		metrics:   m,
		qos:       qos,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start subscribes every topic pattern the sync core consumes.
func (r *Router) Start() error {
	subs := map[string]mqtt.MessageHandler{
		TopicReservoirTelemetry: r.handleTelemetry,
		TopicTowerTelemetry:     r.handleTelemetry,
		TopicTowerStatus:        r.handleTelemetry,
		TopicPairingRequest:     r.handlePairingRequest,
		TopicPairingStatus:      r.handlePairingStatus,
		TopicPairingComplete:    r.handlePairingComplete,
		TopicSerialLog:          r.handleSerialLog,
		TopicConnectionStatus:   r.handleConnection,
		TopicAnnounce:           r.handleAnnounce,
	}
	for pattern, handler := range subs {
		if err := r.bus.Subscribe(pattern, r.qos, handler); err != nil {
			return fmt.Errorf("failed to subscribe %s: %w", pattern, err)
		}
	}
	r.logger.Info("Router subscribed", zap.Int("patterns", len(subs)))
	return nil
}

// admit parses the topic and runs admission control. A nil error with
// ok=false means the message was rejected and already accounted for.
func (r *Router) admit(ctx context.Context, topic string) (parsedTopic, bool) {
	parsed, err := parseDeviceTopic(topic)
	if err != nil {
		r.metrics.MessagesDropped.WithLabelValues("bad_topic").Inc()
		r.logger.Warn("Unparseable topic", zap.String("topic", topic), zap.Error(err))
		return parsedTopic{}, false
	}

	known, err := r.admission.IsKnown(ctx, parsed.key.FarmID, parsed.key.CoordID)
	if err != nil {
		// Fail closed: an unreachable admission store must not let
		// unvetted devices write state. The device will retry.
		r.metrics.MessagesDropped.WithLabelValues("admission_error").Inc()
		r.logger.Error("Admission check failed", zap.String("topic", topic), zap.Error(err))
		return parsedTopic{}, false
	}
	if !known {
		r.handleUnknownDevice(parsed.key, topic)
		return parsedTopic{}, false
	}
	return parsed, true
}

func (r *Router) handleUnknownDevice(key models.TwinKey, topic string) {
	r.metrics.UnknownDevices.Inc()
	r.logger.Warn("Message from unknown coordinator",
		zap.String("topic", topic),
		zap.String("coord_id", key.CoordID),
	)
}

// handleTelemetry serves all three reported-state topics: reservoir
// telemetry, tower telemetry, and tower status frames.
func (r *Router) handleTelemetry(topic string, payload []byte) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	parsed, ok := r.admit(ctx, topic)
	if !ok {
		return nil
	}
	r.metrics.MessagesReceived.WithLabelValues(parsed.kind).Inc()

	var fields models.DeviceState
	if err := json.Unmarshal(payload, &fields); err != nil {
		r.metrics.MessagesDropped.WithLabelValues("bad_payload").Inc()
		r.logger.Warn("Malformed telemetry payload",
			zap.String("topic", topic),
			zap.Error(err),
		)
		return nil
	}

	if err := r.telemetry.Append(ctx, parsed.key, payload); err != nil {
		// Archive failure is not a reason to drop the live update.
		r.logger.Error("Failed to archive telemetry",
			zap.String("device_id", parsed.key.DeviceID()),
			zap.Error(err),
		)
	}

	twin, err := r.twins.ApplyReported(ctx, parsed.key, &fields)
	if err != nil {
		r.logger.Error("Failed to apply reported state",
			zap.String("device_id", parsed.key.DeviceID()),
			zap.Error(err),
		)
		return nil
	}

	// Threshold checks run against the freshly merged values, not the
	// raw frame, so a partial payload is judged with full context.
	switch parsed.key.Kind() {
	case models.KindReservoir:
		r.alerts.EvaluateReservoir(ctx, twin)
	case models.KindTower:
		r.alerts.EvaluateTower(ctx, twin)
	}
	return nil
}

func (r *Router) handlePairingRequest(topic string, payload []byte) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	parsed, ok := r.admit(ctx, topic)
	if !ok {
		return nil
	}
	r.metrics.MessagesReceived.WithLabelValues("pairing").Inc()

	var req models.DiscoveryRequest
	if err := json.Unmarshal(payload, &req); err != nil || req.DeviceID == "" {
		r.metrics.MessagesDropped.WithLabelValues("bad_payload").Inc()
		r.logger.Warn("Malformed discovery request", zap.String("topic", topic))
		return nil
	}

	r.pairing.ProcessDiscoveryRequest(ctx, parsed.key.FarmID, parsed.key.CoordID, &req)
	return nil
}

// handlePairingStatus fans out coordinator pairing progress frames
// untouched. They carry no state the core persists.
func (r *Router) handlePairingStatus(topic string, payload []byte) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	parsed, ok := r.admit(ctx, topic)
	if !ok {
		return nil
	}
	r.metrics.MessagesReceived.WithLabelValues("pairing").Inc()

	r.notifier.Publish("pairing_status", map[string]interface{}{
		"farm_id":  parsed.key.FarmID,
		"coord_id": parsed.key.CoordID,
		"raw":      json.RawMessage(payload),
	})
	return nil
}

func (r *Router) handlePairingComplete(topic string, payload []byte) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	parsed, ok := r.admit(ctx, topic)
	if !ok {
		return nil
	}
	r.metrics.MessagesReceived.WithLabelValues("pairing").Inc()

	var event models.PairingCompletion
	if err := json.Unmarshal(payload, &event); err != nil || event.DeviceID == "" {
		r.metrics.MessagesDropped.WithLabelValues("bad_payload").Inc()
		r.logger.Warn("Malformed pairing completion", zap.String("topic", topic))
		return nil
	}

	if err := r.pairing.HandleCompletionEvent(ctx, parsed.key.FarmID, parsed.key.CoordID, &event); err != nil {
		r.logger.Error("Failed to handle pairing completion",
			zap.String("device_id", event.DeviceID),
			zap.Error(err),
		)
	}
	return nil
}

// handleSerialLog is pure pass-through: firmware log lines go to the
// realtime channel and nowhere else.
func (r *Router) handleSerialLog(topic string, payload []byte) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	parsed, ok := r.admit(ctx, topic)
	if !ok {
		return nil
	}
	r.metrics.MessagesReceived.WithLabelValues("serial").Inc()

	r.notifier.Publish("serial_log", map[string]interface{}{
		"farm_id":  parsed.key.FarmID,
		"coord_id": parsed.key.CoordID,
		"line":     string(payload),
	})
	return nil
}

func (r *Router) handleConnection(topic string, payload []byte) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	parsed, ok := r.admit(ctx, topic)
	if !ok {
		return nil
	}
	r.metrics.MessagesReceived.WithLabelValues("connection").Inc()

	var event models.ConnectionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		r.metrics.MessagesDropped.WithLabelValues("bad_payload").Inc()
		r.logger.Warn("Malformed connection event", zap.String("topic", topic))
		return nil
	}

	connected := event.Event == "connected"
	if err := r.twinStore.SetConnected(ctx, parsed.key, connected); err != nil {
		r.logger.Error("Failed to update connection state",
			zap.String("coord_id", parsed.key.CoordID),
			zap.Error(err),
		)
	}

	r.notifier.Publish("connection_event", map[string]interface{}{
		"farm_id":  parsed.key.FarmID,
		"coord_id": parsed.key.CoordID,
		"event":    event.Event,
		"reason":   event.Reason,
	})
	return nil
}

// handleAnnounce registers a booting coordinator with admission
// control and acks it. Announce is the one topic that bypasses the
// admission gate, because it is how a coordinator becomes known.
func (r *Router) handleAnnounce(topic string, payload []byte) error {
	ctx, cancel := r.opCtx()
	defer cancel()

	coordID, err := parseAnnounceTopic(topic)
	if err != nil {
		r.metrics.MessagesDropped.WithLabelValues("bad_topic").Inc()
		r.logger.Warn("Unparseable announce topic", zap.String("topic", topic))
		return nil
	}
	r.metrics.MessagesReceived.WithLabelValues("announce").Inc()

	var announce models.AnnounceMessage
	if err := json.Unmarshal(payload, &announce); err != nil || announce.FarmID == "" {
		r.metrics.MessagesDropped.WithLabelValues("bad_payload").Inc()
		r.logger.Warn("Malformed announce payload", zap.String("topic", topic))
		return nil
	}

	if err := r.admission.Register(ctx, announce.FarmID, coordID); err != nil {
		r.logger.Error("Failed to register coordinator",
			zap.String("coord_id", coordID),
			zap.Error(err),
		)
		return nil
	}

	ack, _ := json.Marshal(map[string]string{
		"coord_id": coordID,
		"farm_id":  announce.FarmID,
		"status":   "registered",
	})
	if err := r.bus.Publish(registeredTopic(coordID), r.qos, false, ack); err != nil {
		r.logger.Error("Failed to ack coordinator registration",
			zap.String("coord_id", coordID),
			zap.Error(err),
		)
	}

	r.notifier.Publish("coordinator_announced", announce)
	r.logger.Info("Coordinator registered",
		zap.String("coord_id", coordID),
		zap.String("farm_id", announce.FarmID),
	)
	return nil
}

func (r *Router) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.timeout)
}
