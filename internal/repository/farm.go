package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

// ErrFarmNotFound signals a referential gap: the alert counter update
// targeted a farm that does not exist. Callers log and continue.
var ErrFarmNotFound = errors.New("farm not found")

// FarmRepository reads and maintains the small slice of farm state the
// sync core touches: the active-alert counter.
type FarmRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFarmRepository creates the repository.
func NewFarmRepository(db *sql.DB, logger *zap.Logger) *FarmRepository {
	return &FarmRepository{
		db:     db,
		logger: logger,
	}
}

// GetByID loads one farm. Returns (nil, nil) when it does not exist.
func (r *FarmRepository) GetByID(ctx context.Context, farmID string) (*models.Farm, error) {
	query := `
		SELECT id, name, active_alert_count, created_at, updated_at
		FROM farms
		WHERE id = $1
	`

	var farm models.Farm
	err := r.db.QueryRowContext(ctx, query, farmID).Scan(
		&farm.ID,
		&farm.Name,
		&farm.ActiveAlertCount,
		&farm.CreatedAt,
		&farm.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get farm: %w", err)
	}

	return &farm, nil
}

// AdjustActiveAlerts moves the farm's active-alert counter by delta,
// clamped at zero. Returns ErrFarmNotFound when the farm is missing.
func (r *FarmRepository) AdjustActiveAlerts(ctx context.Context, farmID string, delta int) error {
	query := `
		UPDATE farms
		SET active_alert_count = GREATEST(active_alert_count + $2, 0),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, farmID, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust active alert count: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrFarmNotFound
	}

	return nil
}

// ListCoordinatorIDs returns the known coordinator IDs per farm, used
// to seed the admission cache at startup.
func (r *FarmRepository) ListCoordinatorIDs(ctx context.Context) (map[string][]string, error) {
	query := `
		SELECT DISTINCT farm_id, coord_id
		FROM twins
		WHERE kind = $1
	`

	rows, err := r.db.QueryContext(ctx, query, string(models.KindReservoir))
	if err != nil {
		return nil, fmt.Errorf("failed to list coordinator ids: %w", err)
	}
	defer rows.Close()

	byFarm := map[string][]string{}
	for rows.Next() {
		var farmID, coordID string
		if err := rows.Scan(&farmID, &coordID); err != nil {
			return nil, fmt.Errorf("failed to scan coordinator id: %w", err)
		}
		byFarm[farmID] = append(byFarm[farmID], coordID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate coordinator ids: %w", err)
	}

	return byFarm, nil
}
