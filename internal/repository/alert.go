package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

// AlertRepository persists operational alerts. The active-alert
// uniqueness per alert_key is enforced by a partial unique index
// (alert_key WHERE status = 'active'), so a racing duplicate insert
// fails instead of violating the invariant.
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository creates the repository.
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

const alertColumns = `
	id,
	alert_key,
	farm_id,
	device_id,
	severity,
	category,
	status,
	message,
	created_at,
	resolved_at`

func scanAlert(row rowScanner) (*models.Alert, error) {
	var alert models.Alert
	var resolvedAt sql.NullTime

	err := row.Scan(
		&alert.ID,
		&alert.AlertKey,
		&alert.FarmID,
		&alert.DeviceID,
		&alert.Severity,
		&alert.Category,
		&alert.Status,
		&alert.Message,
		&alert.CreatedAt,
		&resolvedAt,
	)
	if err != nil {
		return nil, err
	}

	if resolvedAt.Valid {
		alert.ResolvedAt = &resolvedAt.Time
	}

	return &alert, nil
}

// GetActiveByKey returns the active alert for a dedup key, or
// (nil, nil) when none is active.
func (r *AlertRepository) GetActiveByKey(ctx context.Context, alertKey string) (*models.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE alert_key = $1
		  AND status = $2
	`

	alert, err := scanAlert(r.db.QueryRowContext(ctx, query, alertKey, string(models.AlertActive)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active alert: %w", err)
	}

	return alert, nil
}

// Insert stores a new alert.
func (r *AlertRepository) Insert(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO alerts (
			id, alert_key, farm_id, device_id,
			severity, category, status, message,
			created_at, resolved_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		alert.ID,
		alert.AlertKey,
		alert.FarmID,
		alert.DeviceID,
		string(alert.Severity),
		string(alert.Category),
		string(alert.Status),
		alert.Message,
		alert.CreatedAt,
		alert.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	return nil
}

// Resolve marks the active alert for a key as resolved. Returns the
// number of rows touched; zero means nothing was active.
func (r *AlertRepository) Resolve(ctx context.Context, alertKey string, resolvedAt time.Time) (int64, error) {
	query := `
		UPDATE alerts
		SET status = $3,
		    resolved_at = $2
		WHERE alert_key = $1
		  AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query,
		alertKey,
		resolvedAt,
		string(models.AlertResolved),
		string(models.AlertActive),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve alert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// ListActiveByFarm returns every active alert for a farm, newest first.
func (r *AlertRepository) ListActiveByFarm(ctx context.Context, farmID string) ([]*models.Alert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM alerts
		WHERE farm_id = $1
		  AND status = $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, farmID, string(models.AlertActive))
	if err != nil {
		return nil, fmt.Errorf("failed to list active alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}
