package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

// TwinRepository persists device twins. The composite key
// (farm_id, coord_id, tower_id) is authoritative for every query; the
// uuid id column is storage-side only.
//
// Reported and desired state live in JSONB columns so that a partial
// update is a single atomic `||` merge: fields absent from the incoming
// document never touch previously stored values, and version plus
// timestamps move in the same statement.
type TwinRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTwinRepository creates the repository.
func NewTwinRepository(db *sql.DB, logger *zap.Logger) *TwinRepository {
	return &TwinRepository{
		db:     db,
		logger: logger,
	}
}

const twinColumns = `
	id,
	farm_id,
	coord_id,
	tower_id,
	kind,
	reported,
	desired,
	sync_status,
	version,
	last_reported_at,
	last_desired_at,
	is_connected,
	sync_retry_count,
	created_at,
	updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTwin(row rowScanner) (*models.Twin, error) {
	var twin models.Twin
	var reported, desired []byte
	var lastReportedAt, lastDesiredAt sql.NullTime

	err := row.Scan(
		&twin.ID,
		&twin.FarmID,
		&twin.CoordID,
		&twin.TowerID,
		&twin.Kind,
		&reported,
		&desired,
		&twin.SyncStatus,
		&twin.Version,
		&lastReportedAt,
		&lastDesiredAt,
		&twin.IsConnected,
		&twin.SyncRetryCount,
		&twin.CreatedAt,
		&twin.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastReportedAt.Valid {
		twin.LastReportedAt = &lastReportedAt.Time
	}
	if lastDesiredAt.Valid {
		twin.LastDesiredAt = &lastDesiredAt.Time
	}
	if len(reported) > 0 {
		if err := json.Unmarshal(reported, &twin.Reported); err != nil {
			return nil, fmt.Errorf("failed to decode reported state: %w", err)
		}
	}
	if len(desired) > 0 {
		if err := json.Unmarshal(desired, &twin.Desired); err != nil {
			return nil, fmt.Errorf("failed to decode desired state: %w", err)
		}
	}

	return &twin, nil
}

// GetByKey loads one twin by its composite key. Returns (nil, nil) when
// no twin exists for the key.
func (r *TwinRepository) GetByKey(ctx context.Context, key models.TwinKey) (*models.Twin, error) {
	query := `
		SELECT ` + twinColumns + `
		FROM twins
		WHERE farm_id = $1
		  AND coord_id = $2
		  AND tower_id = $3
	`

	twin, err := scanTwin(r.db.QueryRowContext(ctx, query, key.FarmID, key.CoordID, key.TowerID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get twin: %w", err)
	}

	return twin, nil
}

// MergeReported merges the present fields into the stored reported
// state, stamps last_reported_at, marks the device connected, and
// increments the version — all in one statement. A twin that does not
// exist yet is auto-created in the in_sync status.
func (r *TwinRepository) MergeReported(ctx context.Context, key models.TwinKey, fields *models.DeviceState, now time.Time) (*models.Twin, error) {
	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode reported state: %w", err)
	}

	query := `
		INSERT INTO twins (
			id, farm_id, coord_id, tower_id, kind,
			reported, desired, sync_status, version,
			last_reported_at, is_connected, sync_retry_count,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::jsonb, '{}'::jsonb, $7, 1,
			$8, TRUE, 0,
			$8, $8
		)
		ON CONFLICT (farm_id, coord_id, tower_id) DO UPDATE SET
			reported = twins.reported || EXCLUDED.reported,
			version = twins.version + 1,
			last_reported_at = EXCLUDED.last_reported_at,
			is_connected = TRUE,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + twinColumns

	twin, err := scanTwin(r.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		key.FarmID,
		key.CoordID,
		key.TowerID,
		string(key.Kind()),
		doc,
		string(models.SyncInSync),
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to merge reported state: %w", err)
	}

	return twin, nil
}

// Provision creates the twin for a device approved during pairing, or
// refreshes one that already exists. The given fields land in the
// reported document so the status mode is visible immediately, but
// last_reported_at stays NULL and is_connected stays FALSE: the device
// has not actually reported yet, and connectivity checks must not
// treat provisioning as a heartbeat.
func (r *TwinRepository) Provision(ctx context.Context, key models.TwinKey, fields *models.DeviceState, now time.Time) (*models.Twin, error) {
	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode provisioned state: %w", err)
	}

	query := `
		INSERT INTO twins (
			id, farm_id, coord_id, tower_id, kind,
			reported, desired, sync_status, version,
			is_connected, sync_retry_count,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::jsonb, '{}'::jsonb, $7, 1,
			FALSE, 0,
			$8, $8
		)
		ON CONFLICT (farm_id, coord_id, tower_id) DO UPDATE SET
			reported = twins.reported || EXCLUDED.reported,
			version = twins.version + 1,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + twinColumns

	twin, err := scanTwin(r.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		key.FarmID,
		key.CoordID,
		key.TowerID,
		string(key.Kind()),
		doc,
		string(models.SyncInSync),
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to provision twin: %w", err)
	}

	return twin, nil
}

// MergeDesired merges the present fields into the stored desired state,
// stamps last_desired_at, moves the twin to pending with a fresh retry
// counter, and increments the version. Upserts like MergeReported so an
// operator can target a twin that has never reported.
func (r *TwinRepository) MergeDesired(ctx context.Context, key models.TwinKey, fields *models.DeviceState, now time.Time) (*models.Twin, error) {
	doc, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode desired state: %w", err)
	}

	query := `
		INSERT INTO twins (
			id, farm_id, coord_id, tower_id, kind,
			reported, desired, sync_status, version,
			last_desired_at, is_connected, sync_retry_count,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			'{}'::jsonb, $6::jsonb, $7, 1,
			$8, FALSE, 0,
			$8, $8
		)
		ON CONFLICT (farm_id, coord_id, tower_id) DO UPDATE SET
			desired = twins.desired || EXCLUDED.desired,
			sync_status = EXCLUDED.sync_status,
			sync_retry_count = 0,
			version = twins.version + 1,
			last_desired_at = EXCLUDED.last_desired_at,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + twinColumns

	twin, err := scanTwin(r.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		key.FarmID,
		key.CoordID,
		key.TowerID,
		string(key.Kind()),
		doc,
		string(models.SyncPending),
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to merge desired state: %w", err)
	}

	return twin, nil
}

// UpdateSyncStatus sets the sync status and retry counter of one twin.
func (r *TwinRepository) UpdateSyncStatus(ctx context.Context, key models.TwinKey, status models.SyncStatus, retryCount int) error {
	query := `
		UPDATE twins
		SET sync_status = $4,
		    sync_retry_count = $5,
		    version = version + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE farm_id = $1
		  AND coord_id = $2
		  AND tower_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, key.FarmID, key.CoordID, key.TowerID, string(status), retryCount)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("twin not found: farm=%s coord=%s tower=%s", key.FarmID, key.CoordID, key.TowerID)
	}

	return nil
}

// IncrementSyncRetry bumps the retry counter of a pending twin.
func (r *TwinRepository) IncrementSyncRetry(ctx context.Context, key models.TwinKey) error {
	query := `
		UPDATE twins
		SET sync_retry_count = sync_retry_count + 1,
		    version = version + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE farm_id = $1
		  AND coord_id = $2
		  AND tower_id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, key.FarmID, key.CoordID, key.TowerID); err != nil {
		return fmt.Errorf("failed to increment sync retry: %w", err)
	}

	return nil
}

// ListBySyncStatus returns every twin currently in the given status.
func (r *TwinRepository) ListBySyncStatus(ctx context.Context, status models.SyncStatus) ([]*models.Twin, error) {
	query := `
		SELECT ` + twinColumns + `
		FROM twins
		WHERE sync_status = $1
		ORDER BY updated_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list twins by sync status: %w", err)
	}
	defer rows.Close()

	twins := []*models.Twin{}
	for rows.Next() {
		twin, err := scanTwin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan twin: %w", err)
		}
		twins = append(twins, twin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate twins: %w", err)
	}

	return twins, nil
}

// ListReservoirs returns every coordinator reservoir twin.
func (r *TwinRepository) ListReservoirs(ctx context.Context) ([]*models.Twin, error) {
	query := `
		SELECT ` + twinColumns + `
		FROM twins
		WHERE kind = 'reservoir'
		ORDER BY farm_id, coord_id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list reservoir twins: %w", err)
	}
	defer rows.Close()

	twins := []*models.Twin{}
	for rows.Next() {
		twin, err := scanTwin(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan twin: %w", err)
		}
		twins = append(twins, twin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate twins: %w", err)
	}

	return twins, nil
}

// MarkStaleBefore bulk-marks every twin whose last reported state is
// older than the cutoff as stale and disconnected, skipping twins
// already stale or offline. Returns the number of twins touched.
func (r *TwinRepository) MarkStaleBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE twins
		SET sync_status = $1,
		    is_connected = FALSE,
		    version = version + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE last_reported_at IS NOT NULL
		  AND last_reported_at < $2
		  AND sync_status NOT IN ($3, $4)
	`

	result, err := r.db.ExecContext(ctx, query,
		string(models.SyncStale),
		cutoff,
		string(models.SyncStale),
		string(models.SyncOffline),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale twins: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// SetConnected flips only the connectivity flag, for connection
// lifecycle events that carry no sensor data.
func (r *TwinRepository) SetConnected(ctx context.Context, key models.TwinKey, connected bool) error {
	query := `
		UPDATE twins
		SET is_connected = $4,
		    version = version + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE farm_id = $1
		  AND coord_id = $2
		  AND tower_id = $3
	`

	if _, err := r.db.ExecContext(ctx, query, key.FarmID, key.CoordID, key.TowerID, connected); err != nil {
		return fmt.Errorf("failed to set connected flag: %w", err)
	}

	return nil
}

// Delete removes a twin permanently. Twins are destroyed only by an
// explicit device forget.
func (r *TwinRepository) Delete(ctx context.Context, key models.TwinKey) error {
	query := `
		DELETE FROM twins
		WHERE farm_id = $1
		  AND coord_id = $2
		  AND tower_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, key.FarmID, key.CoordID, key.TowerID)
	if err != nil {
		return fmt.Errorf("failed to delete twin: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("twin not found: farm=%s coord=%s tower=%s", key.FarmID, key.CoordID, key.TowerID)
	}

	return nil
}
