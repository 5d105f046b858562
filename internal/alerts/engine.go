// Package alerts derives operational alerts from freshly ingested
// device state. Every threshold check runs independently: one failing
// check never shadows the others, and each auto-resolves its own
// category when the reading comes back into range.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/metrics"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/repository"
)

// Store is the alert persistence surface the engine needs.
type Store interface {
	GetActiveByKey(ctx context.Context, alertKey string) (*models.Alert, error)
	Insert(ctx context.Context, alert *models.Alert) error
	Resolve(ctx context.Context, alertKey string, resolvedAt time.Time) (int64, error)
}

// FarmStore maintains the per-farm active-alert counter.
type FarmStore interface {
	AdjustActiveAlerts(ctx context.Context, farmID string, delta int) error
}

// Notifier receives fire-and-forget alert events.
type Notifier interface {
	Publish(event string, payload interface{})
}

// Engine evaluates threshold rules and owns alert lifecycle.
type Engine struct {
	store      Store
	farms      FarmStore
	notifier   Notifier
	metrics    *metrics.Metrics
	thresholds Thresholds
	logger     *zap.Logger

	now func() time.Time
}

// NewEngine creates the engine with the given thresholds.
func NewEngine(store Store, farms FarmStore, notifier Notifier, m *metrics.Metrics, thresholds Thresholds, logger *zap.Logger) *Engine {
	return &Engine{
		store:      store,
		farms:      farms,
		notifier:   notifier,
		metrics:    m,
		thresholds: thresholds,
		logger:     logger,
		now:        time.Now,
	}
}

// CreateAlert inserts a new active alert unless one is already active
// for the same key, in which case nothing happens at all: no duplicate
// row, no re-notification. Returns the created alert, or nil on no-op.
func (e *Engine) CreateAlert(ctx context.Context, farmID, deviceID string, severity models.AlertSeverity, category models.AlertCategory, message string) (*models.Alert, error) {
	alertKey := models.AlertKeyFor(farmID, deviceID, category)

	existing, err := e.store.GetActiveByKey(ctx, alertKey)
	if err != nil {
		return nil, fmt.Errorf("failed to check active alert: %w", err)
	}
	if existing != nil {
		return nil, nil
	}

	alert := &models.Alert{
		ID:        uuid.New().String(),
		AlertKey:  alertKey,
		FarmID:    farmID,
		DeviceID:  deviceID,
		Severity:  severity,
		Category:  category,
		Status:    models.AlertActive,
		Message:   message,
		CreatedAt: e.now(),
	}

	if err := e.store.Insert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to insert alert: %w", err)
	}

	e.metrics.AlertsCreated.WithLabelValues(string(category)).Inc()

	// The farm counter is advisory; a missing farm must not undo an
	// alert that already committed.
	if err := e.farms.AdjustActiveAlerts(ctx, farmID, 1); err != nil {
		if errors.Is(err, repository.ErrFarmNotFound) {
			e.logger.Warn("Farm missing for alert counter update",
				zap.String("farm_id", farmID),
				zap.String("alert_key", alertKey),
			)
		} else {
			e.logger.Error("Failed to update farm alert counter",
				zap.String("farm_id", farmID),
				zap.Error(err),
			)
		}
	}

	e.notifier.Publish("alert_created", alert)
	e.notifier.Publish("farm_alerts_updated", map[string]string{"farm_id": farmID})

	e.logger.Info("Alert created",
		zap.String("alert_key", alertKey),
		zap.String("severity", string(severity)),
	)

	return alert, nil
}

// AutoResolveAlert resolves the active alert for a key, if any.
// Returns true when something was actually resolved.
func (e *Engine) AutoResolveAlert(ctx context.Context, farmID, deviceID string, category models.AlertCategory) (bool, error) {
	alertKey := models.AlertKeyFor(farmID, deviceID, category)

	existing, err := e.store.GetActiveByKey(ctx, alertKey)
	if err != nil {
		return false, fmt.Errorf("failed to check active alert: %w", err)
	}
	if existing == nil {
		return false, nil
	}

	resolvedAt := e.now()
	resolved, err := e.store.Resolve(ctx, alertKey, resolvedAt)
	if err != nil {
		return false, fmt.Errorf("failed to resolve alert: %w", err)
	}
	if resolved == 0 {
		// Raced with another resolver; nothing left to do.
		return false, nil
	}

	e.metrics.AlertsResolved.WithLabelValues(string(category)).Inc()

	if err := e.farms.AdjustActiveAlerts(ctx, farmID, -1); err != nil {
		if errors.Is(err, repository.ErrFarmNotFound) {
			e.logger.Warn("Farm missing for alert counter update",
				zap.String("farm_id", farmID),
				zap.String("alert_key", alertKey),
			)
		} else {
			e.logger.Error("Failed to update farm alert counter",
				zap.String("farm_id", farmID),
				zap.Error(err),
			)
		}
	}

	existing.Status = models.AlertResolved
	existing.ResolvedAt = &resolvedAt
	e.notifier.Publish("alert_updated", existing)
	e.notifier.Publish("farm_alerts_updated", map[string]string{"farm_id": farmID})

	return true, nil
}
