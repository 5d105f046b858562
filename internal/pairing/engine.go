package pairing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

// TwinStore is the twin persistence surface pairing needs. Provision
// creates the shadow for an approved device without claiming it ever
// reported; MergeReported is reserved for device-originated updates
// like the coordinator's completion event.
type TwinStore interface {
	GetByKey(ctx context.Context, key models.TwinKey) (*models.Twin, error)
	Provision(ctx context.Context, key models.TwinKey, fields *models.DeviceState, now time.Time) (*models.Twin, error)
	MergeReported(ctx context.Context, key models.TwinKey, fields *models.DeviceState, now time.Time) (*models.Twin, error)
	Delete(ctx context.Context, key models.TwinKey) error
}

// Publisher sends pairing directives to devices.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Notifier receives fire-and-forget pairing events.
type Notifier interface {
	Publish(event string, payload interface{})
}

// Engine drives the pairing session state machine. Discovery outside
// an active window is rejected outright: unsolicited devices never
// create twins.
//
// mu serializes every read and write of session contents. The index
// mutex only guards the map itself, and MQTT handlers, the operator
// surface, and the expiry sweep all touch the same live sessions.
// Observers only ever receive snapshots.
type Engine struct {
	mu        sync.Mutex
	sessions  *SessionIndex
	twins     TwinStore
	publisher Publisher
	notifier  Notifier
	qos       byte
	logger    *zap.Logger

	now func() time.Time
}

// NewEngine creates the engine.
func NewEngine(sessions *SessionIndex, twins TwinStore, publisher Publisher, notifier Notifier, qos byte, logger *zap.Logger) *Engine {
	return &Engine{
		sessions:  sessions,
		twins:     twins,
		publisher: publisher,
		notifier:  notifier,
		qos:       qos,
		logger:    logger,
		now:       time.Now,
	}
}

// StartSession opens a pairing window for a coordinator. Starting
// while an unexpired session is active returns that session unchanged
// with no second outbound command.
func (e *Engine) StartSession(ctx context.Context, farmID, coordID string, duration time.Duration) (*models.PairingSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if existing := e.sessions.Get(farmID, coordID); existing != nil && !existing.IsExpired(now) {
		return existing.Snapshot(), nil
	}

	session := &models.PairingSession{
		SessionID:       uuid.New().String(),
		FarmID:          farmID,
		CoordID:         coordID,
		Status:          models.SessionActive,
		StartedAt:       now,
		ExpiresAt:       now.Add(duration),
		PendingRequests: make(map[string]*models.PairingRequest),
	}
	e.sessions.Put(session)

	if err := e.publishCommand(farmID, coordID, models.PairingCommand{
		Cmd:       "start_pairing",
		DurationS: int(duration / time.Second),
	}); err != nil {
		e.sessions.Remove(farmID, coordID)
		return nil, fmt.Errorf("failed to start pairing: %w", err)
	}

	snap := session.Snapshot()
	e.notifier.Publish("pairing_session_started", snap)
	e.logger.Info("Pairing session started",
		zap.String("farm_id", farmID),
		zap.String("coord_id", coordID),
		zap.Duration("duration", duration),
	)
	return snap, nil
}

// StopSession cancels the active session, if any. Returns nil when
// nothing was active.
func (e *Engine) StopSession(ctx context.Context, farmID, coordID string) (*models.PairingSession, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session := e.sessions.Get(farmID, coordID)
	if session == nil {
		return nil, nil
	}

	e.endSession(session, models.SessionCancelled)
	if err := e.publishCommand(farmID, coordID, models.PairingCommand{Cmd: "stop_pairing"}); err != nil {
		e.logger.Error("Failed to publish stop_pairing",
			zap.String("coord_id", coordID),
			zap.Error(err),
		)
	}

	snap := session.Snapshot()
	e.notifier.Publish("pairing_session_stopped", snap)
	return snap, nil
}

// ProcessDiscoveryRequest records a tower's advertisement inside an
// active window. Outside a window the request is dropped. A repeat
// advertisement for a device already pending refreshes its mutable
// fields in place without a second notification.
func (e *Engine) ProcessDiscoveryRequest(ctx context.Context, farmID, coordID string, req *models.DiscoveryRequest) *models.PairingRequest {
	e.mu.Lock()
	defer e.mu.Unlock()

	session := e.sessions.Get(farmID, coordID)
	if session == nil || session.IsExpired(e.now()) {
		e.logger.Warn("Discovery request outside pairing window",
			zap.String("coord_id", coordID),
			zap.String("device_id", req.DeviceID),
		)
		return nil
	}

	if existing, ok := session.PendingRequests[req.DeviceID]; ok {
		existing.Rssi = req.Rssi
		existing.Firmware = req.Firmware
		existing.Capabilities = req.Capabilities
		return existing.Snapshot()
	}

	record := &models.PairingRequest{
		RequestID:    uuid.New().String()[:8],
		DeviceID:     req.DeviceID,
		Mac:          req.Mac,
		Rssi:         req.Rssi,
		Firmware:     req.Firmware,
		Capabilities: req.Capabilities,
		Status:       models.RequestPending,
		ReceivedAt:   e.now(),
	}
	session.PendingRequests[req.DeviceID] = record

	snap := record.Snapshot()
	e.notifier.Publish("pairing_request_received", snap)
	e.logger.Info("Pairing request received",
		zap.String("device_id", req.DeviceID),
		zap.String("request_id", record.RequestID),
	)
	return snap
}

// ApprovePendingRequest provisions the twin for a pending device and
// tells the coordinator to bind it. Without an active session or a
// pending request nothing is mutated.
func (e *Engine) ApprovePendingRequest(ctx context.Context, farmID, coordID, deviceID string) (*models.Twin, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, req := e.pendingRequest(farmID, coordID, deviceID)
	if req == nil {
		return nil, nil
	}

	key := models.TwinKey{FarmID: farmID, CoordID: coordID, TowerID: deviceID}
	initial := &models.DeviceState{
		StatusMode: models.String(models.StatusModePairing),
	}
	if req.Firmware != "" {
		initial.Fw = models.String(req.Firmware)
	}
	twin, err := e.twins.Provision(ctx, key, initial, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to provision twin: %w", err)
	}

	resolvedAt := e.now()
	req.Status = models.RequestApproved
	req.ResolvedAt = &resolvedAt
	session.ApprovedTowers = append(session.ApprovedTowers, deviceID)

	if err := e.publishCommand(farmID, coordID, models.PairingCommand{
		Cmd:       "approve",
		DeviceID:  deviceID,
		RequestID: req.RequestID,
	}); err != nil {
		e.logger.Error("Failed to publish approve command",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}

	e.notifier.Publish("twin_updated", twin)
	e.notifier.Publish("pairing_request_resolved", req.Snapshot())
	e.logger.Info("Pairing request approved", zap.String("device_id", deviceID))
	return twin, nil
}

// RejectPendingRequest marks a pending device rejected. No twin is
// created.
func (e *Engine) RejectPendingRequest(ctx context.Context, farmID, coordID, deviceID string) (*models.PairingRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	session, req := e.pendingRequest(farmID, coordID, deviceID)
	if req == nil {
		return nil, nil
	}

	resolvedAt := e.now()
	req.Status = models.RequestRejected
	req.ResolvedAt = &resolvedAt
	session.RejectedTowers = append(session.RejectedTowers, deviceID)

	if err := e.publishCommand(farmID, coordID, models.PairingCommand{
		Cmd:       "reject",
		DeviceID:  deviceID,
		RequestID: req.RequestID,
	}); err != nil {
		e.logger.Error("Failed to publish reject command",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
	}

	snap := req.Snapshot()
	e.notifier.Publish("pairing_request_resolved", snap)
	return snap, nil
}

// HandleCompletionEvent processes the coordinator's report that a
// tower finished (or failed) binding. A success for a twin that no
// longer exists is tolerated as a no-op.
func (e *Engine) HandleCompletionEvent(ctx context.Context, farmID, coordID string, event *models.PairingCompletion) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !event.Success {
		e.notifier.Publish("pairing_failed", event)
		e.logger.Warn("Pairing completion reported failure",
			zap.String("device_id", event.DeviceID),
			zap.String("error", event.Error),
		)
		return nil
	}

	key := models.TwinKey{FarmID: farmID, CoordID: coordID, TowerID: event.DeviceID}
	existing, err := e.twins.GetByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load twin for completion: %w", err)
	}
	if existing == nil {
		e.logger.Warn("Completion event for unknown twin",
			zap.String("device_id", event.DeviceID),
		)
		return nil
	}

	update := &models.DeviceState{
		StatusMode: models.String(models.StatusModeOperational),
	}
	if event.Firmware != "" {
		update.Fw = models.String(event.Firmware)
	}
	twin, err := e.twins.MergeReported(ctx, key, update, e.now())
	if err != nil {
		return fmt.Errorf("failed to activate twin: %w", err)
	}

	e.notifier.Publish("twin_updated", twin)
	e.logger.Info("Tower pairing completed", zap.String("device_id", event.DeviceID))

	// Once every discovered device has been decided and bound, the
	// window has done its job and closes as completed.
	if session := e.sessions.Get(farmID, coordID); session != nil && allResolved(session) {
		e.endSession(session, models.SessionCompleted)
		e.notifier.Publish("pairing_session_completed", session.Snapshot())
	}
	return nil
}

func allResolved(session *models.PairingSession) bool {
	for _, req := range session.PendingRequests {
		if req.Status == models.RequestPending {
			return false
		}
	}
	return true
}

// ExpireTimedOutSessions closes every session whose window has
// passed. Each expiry notifies exactly once; a second call right
// after finds nothing left to expire.
func (e *Engine) ExpireTimedOutSessions() []*models.PairingSession {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	expired := e.sessions.Expired(now)
	out := make([]*models.PairingSession, 0, len(expired))
	for _, session := range expired {
		session.Status = models.SessionExpired
		session.EndedAt = &now
		snap := session.Snapshot()
		out = append(out, snap)
		e.notifier.Publish("pairing_session_expired", snap)
		e.logger.Info("Pairing session expired",
			zap.String("farm_id", session.FarmID),
			zap.String("coord_id", session.CoordID),
		)
	}
	return out
}

// ForgetDevice unbinds a tower: the coordinator is told to drop it
// and the twin is deleted. Unknown devices return an error.
func (e *Engine) ForgetDevice(ctx context.Context, key models.TwinKey) error {
	existing, err := e.twins.GetByKey(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to load twin: %w", err)
	}
	if existing == nil {
		return fmt.Errorf("device %s not found", key.DeviceID())
	}

	if err := e.publishCommand(key.FarmID, key.CoordID, models.PairingCommand{
		Cmd:      "forget",
		DeviceID: key.TowerID,
	}); err != nil {
		e.logger.Error("Failed to publish forget command",
			zap.String("device_id", key.DeviceID()),
			zap.Error(err),
		)
	}

	if err := e.twins.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete twin: %w", err)
	}

	e.notifier.Publish("twin_deleted", map[string]string{
		"farm_id":   key.FarmID,
		"coord_id":  key.CoordID,
		"device_id": key.DeviceID(),
	})
	e.logger.Info("Device forgotten", zap.String("device_id", key.DeviceID()))
	return nil
}

func (e *Engine) pendingRequest(farmID, coordID, deviceID string) (*models.PairingSession, *models.PairingRequest) {
	session := e.sessions.Get(farmID, coordID)
	if session == nil || session.IsExpired(e.now()) {
		return nil, nil
	}
	req, ok := session.PendingRequests[deviceID]
	if !ok || req.Status != models.RequestPending {
		return nil, nil
	}
	return session, req
}

func (e *Engine) endSession(session *models.PairingSession, status models.PairingSessionStatus) {
	now := e.now()
	session.Status = status
	session.EndedAt = &now
	e.sessions.Remove(session.FarmID, session.CoordID)
}

func (e *Engine) publishCommand(farmID, coordID string, cmd models.PairingCommand) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode pairing command: %w", err)
	}
	topic := models.TwinKey{FarmID: farmID, CoordID: coordID}.CommandTopic()
	return e.publisher.Publish(topic, e.qos, false, payload)
}
