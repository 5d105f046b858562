// Package twin owns the device twin lifecycle: applying reported
// state, accepting desired state, and keeping the sync status machine
// honest about the difference between the two.
package twin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/metrics"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/reconcile"
)

// Store is the twin persistence surface the engine needs.
type Store interface {
	GetByKey(ctx context.Context, key models.TwinKey) (*models.Twin, error)
	MergeReported(ctx context.Context, key models.TwinKey, fields *models.DeviceState, now time.Time) (*models.Twin, error)
	MergeDesired(ctx context.Context, key models.TwinKey, fields *models.DeviceState, now time.Time) (*models.Twin, error)
	UpdateSyncStatus(ctx context.Context, key models.TwinKey, status models.SyncStatus, retryCount int) error
	IncrementSyncRetry(ctx context.Context, key models.TwinKey) error
}

// Publisher sends outbound device commands.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	IsConnected() bool
}

// Notifier receives fire-and-forget change events.
type Notifier interface {
	Publish(event string, payload interface{})
}

// Engine applies twin mutations and issues the commands they imply.
// Ordering is always persist-first, notify-second: a notification
// failure can never undo a committed write.
type Engine struct {
	store     Store
	publisher Publisher
	notifier  Notifier
	metrics   *metrics.Metrics
	qos       byte
	logger    *zap.Logger

	now func() time.Time
}

// NewEngine creates the engine.
func NewEngine(store Store, publisher Publisher, notifier Notifier, m *metrics.Metrics, qos byte, logger *zap.Logger) *Engine {
	return &Engine{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
		metrics:   m,
		qos:       qos,
		logger:    logger,
		now:       time.Now,
	}
}

// ApplyReported merges freshly observed device state into the twin.
// Unknown devices are auto-provisioned here on purpose: admission
// control happens upstream in the router, and anything that reaches
// this layer is trusted telemetry.
func (e *Engine) ApplyReported(ctx context.Context, key models.TwinKey, fields *models.DeviceState) (*models.Twin, error) {
	twin, err := e.store.MergeReported(ctx, key, fields, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to apply reported state: %w", err)
	}

	switch twin.SyncStatus {
	case models.SyncPending:
		delta := reconcile.Compute(&twin.Reported, &twin.Desired)
		if delta == nil {
			if err := e.store.UpdateSyncStatus(ctx, key, models.SyncInSync, 0); err != nil {
				e.logger.Error("Failed to mark twin in sync",
					zap.String("device_id", key.DeviceID()),
					zap.Error(err),
				)
			} else {
				twin.SyncStatus = models.SyncInSync
				twin.SyncRetryCount = 0
			}
		} else {
			if err := e.store.IncrementSyncRetry(ctx, key); err != nil {
				e.logger.Error("Failed to increment sync retry",
					zap.String("device_id", key.DeviceID()),
					zap.Error(err),
				)
			} else {
				twin.SyncRetryCount++
			}
		}

	case models.SyncStale, models.SyncOffline:
		// The device is talking again. No outstanding delta means it is
		// fully reconciled; otherwise the command is still owed.
		delta := reconcile.Compute(&twin.Reported, &twin.Desired)
		next := models.SyncInSync
		retries := 0
		if delta != nil {
			next = models.SyncPending
			retries = twin.SyncRetryCount
		}
		if err := e.store.UpdateSyncStatus(ctx, key, next, retries); err != nil {
			e.logger.Error("Failed to restore twin sync status",
				zap.String("device_id", key.DeviceID()),
				zap.Error(err),
			)
		} else {
			twin.SyncStatus = next
			twin.SyncRetryCount = retries
		}
	}

	e.notifier.Publish("twin_updated", twin)
	return twin, nil
}

// SetDesired merges operator- or automation-requested values into the
// twin's desired state and, when anything is outstanding, publishes a
// command carrying only the delta fields. The twin is left pending
// either way; only a reported update can confirm reconciliation.
func (e *Engine) SetDesired(ctx context.Context, key models.TwinKey, fields *models.DeviceState) (*models.Twin, error) {
	twin, err := e.store.MergeDesired(ctx, key, fields, e.now())
	if err != nil {
		return nil, fmt.Errorf("failed to set desired state: %w", err)
	}

	if delta := reconcile.Compute(&twin.Reported, &twin.Desired); delta != nil {
		if err := e.publishDelta(key, delta, "desired"); err != nil {
			// Not fatal: the twin is pending and the sync sweep will
			// republish on the next pass.
			e.logger.Warn("Failed to publish command, deferring to sync sweep",
				zap.String("device_id", key.DeviceID()),
				zap.Error(err),
			)
		}
	}

	e.notifier.Publish("twin_updated", twin)
	return twin, nil
}

// GetDelta computes the outstanding command without mutating anything.
// Returns (nil, nil) when the twin does not exist or nothing differs.
func (e *Engine) GetDelta(ctx context.Context, key models.TwinKey) (*models.DeviceState, error) {
	twin, err := e.store.GetByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load twin for delta: %w", err)
	}
	if twin == nil {
		return nil, nil
	}

	return reconcile.Compute(&twin.Reported, &twin.Desired), nil
}

// Republish re-reads one twin and republishes its outstanding command,
// if any. Reports whether a command went out. The re-read matters: the
// device may have reported mid-sweep and the store is the sole source
// of truth.
func (e *Engine) Republish(ctx context.Context, key models.TwinKey) (bool, error) {
	twin, err := e.store.GetByKey(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to reload twin: %w", err)
	}
	if twin == nil || twin.SyncStatus != models.SyncPending {
		return false, nil
	}

	delta := reconcile.Compute(&twin.Reported, &twin.Desired)
	if delta == nil {
		return false, nil
	}

	if err := e.publishDelta(key, delta, "sweep"); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Engine) publishDelta(key models.TwinKey, delta *models.DeviceState, origin string) error {
	payload, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("failed to encode command payload: %w", err)
	}

	if err := e.publisher.Publish(key.CommandTopic(), e.qos, false, payload); err != nil {
		return err
	}
	e.metrics.CommandsPublished.WithLabelValues(origin).Inc()

	e.logger.Debug("Published command",
		zap.String("topic", key.CommandTopic()),
		zap.Int("bytes", len(payload)),
	)
	return nil
}
