package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/DICEsda/Batchlors-Intelligent-Hydroponics-sub002/internal/models"
)

func setupMockTwinDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *TwinRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewTwinRepository(db, zap.NewNop())
	return db, mock, repo
}

var twinColumnNames = []string{
	"id", "farm_id", "coord_id", "tower_id", "kind",
	"reported", "desired", "sync_status", "version",
	"last_reported_at", "last_desired_at", "is_connected",
	"sync_retry_count", "created_at", "updated_at",
}

func TestGetByKey_Found(t *testing.T) {
	db, mock, repo := setupMockTwinDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(twinColumnNames).AddRow(
		"3f1c9e0a-0000-0000-0000-000000000001", "farm-1", "coord-1", "T1", "tower",
		[]byte(`{"air_temp_c":23.5,"pump_on":false}`), []byte(`{"pump_on":true}`),
		"pending", 7,
		now, now, true,
		2, now, now,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("farm-1", "coord-1", "T1").
		WillReturnRows(rows)

	twin, err := repo.GetByKey(context.Background(), models.TwinKey{FarmID: "farm-1", CoordID: "coord-1", TowerID: "T1"})

	require.NoError(t, err)
	require.NotNil(t, twin)
	assert.Equal(t, models.SyncPending, twin.SyncStatus)
	assert.Equal(t, int64(7), twin.Version)
	assert.Equal(t, 2, twin.SyncRetryCount)
	require.NotNil(t, twin.Reported.AirTempC)
	assert.Equal(t, 23.5, *twin.Reported.AirTempC)
	require.NotNil(t, twin.Desired.PumpOn)
	assert.True(t, *twin.Desired.PumpOn)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByKey_NotFound(t *testing.T) {
	db, mock, repo := setupMockTwinDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("farm-1", "coord-1", "").
		WillReturnError(sql.ErrNoRows)

	twin, err := repo.GetByKey(context.Background(), models.TwinKey{FarmID: "farm-1", CoordID: "coord-1"})

	require.NoError(t, err)
	assert.Nil(t, twin)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeReported_ReturnsUpdatedTwin(t *testing.T) {
	db, mock, repo := setupMockTwinDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(twinColumnNames).AddRow(
		"3f1c9e0a-0000-0000-0000-000000000001", "farm-1", "coord-1", "T1", "tower",
		[]byte(`{"air_temp_c":23.5}`), []byte(`{}`),
		"in_sync", 1,
		now, nil, true,
		0, now, now,
	)

	mock.ExpectQuery(`INSERT INTO twins`).WillReturnRows(rows)

	fields := &models.DeviceState{AirTempC: models.Float64(23.5)}
	twin, err := repo.MergeReported(context.Background(), models.TwinKey{FarmID: "farm-1", CoordID: "coord-1", TowerID: "T1"}, fields, now)

	require.NoError(t, err)
	require.NotNil(t, twin)
	assert.Equal(t, models.SyncInSync, twin.SyncStatus)
	assert.True(t, twin.IsConnected)
	require.NotNil(t, twin.Reported.AirTempC)
	assert.Equal(t, 23.5, *twin.Reported.AirTempC)
	assert.Nil(t, twin.LastDesiredAt)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestProvision_DoesNotClaimAReport(t *testing.T) {
	db, mock, repo := setupMockTwinDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(twinColumnNames).AddRow(
		"3f1c9e0a-0000-0000-0000-000000000003", "farm-1", "coord-1", "T1", "tower",
		[]byte(`{"status_mode":"pairing"}`), []byte(`{}`),
		"in_sync", 1,
		nil, nil, false,
		0, now, now,
	)

	mock.ExpectQuery(`INSERT INTO twins`).WillReturnRows(rows)

	fields := &models.DeviceState{StatusMode: models.String(models.StatusModePairing)}
	twin, err := repo.Provision(context.Background(), models.TwinKey{FarmID: "farm-1", CoordID: "coord-1", TowerID: "T1"}, fields, now)

	require.NoError(t, err)
	require.NotNil(t, twin)
	assert.Nil(t, twin.LastReportedAt, "provisioning is not a device report")
	assert.False(t, twin.IsConnected)
	require.NotNil(t, twin.Reported.StatusMode)
	assert.Equal(t, models.StatusModePairing, *twin.Reported.StatusMode)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeDesired_MovesToPending(t *testing.T) {
	db, mock, repo := setupMockTwinDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(twinColumnNames).AddRow(
		"3f1c9e0a-0000-0000-0000-000000000002", "farm-1", "coord-1", "", "reservoir",
		[]byte(`{"ph":5.1}`), []byte(`{"main_pump_on":true}`),
		"pending", 4,
		now, now, true,
		0, now, now,
	)

	mock.ExpectQuery(`INSERT INTO twins`).WillReturnRows(rows)

	fields := &models.DeviceState{MainPumpOn: models.Bool(true)}
	twin, err := repo.MergeDesired(context.Background(), models.TwinKey{FarmID: "farm-1", CoordID: "coord-1"}, fields, now)

	require.NoError(t, err)
	require.NotNil(t, twin)
	assert.Equal(t, models.SyncPending, twin.SyncStatus)
	assert.Equal(t, 0, twin.SyncRetryCount)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSyncStatus_TwinMissing(t *testing.T) {
	db, mock, repo := setupMockTwinDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE twins`).
		WithArgs("farm-1", "coord-1", "T9", "in_sync", 0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSyncStatus(context.Background(), models.TwinKey{FarmID: "farm-1", CoordID: "coord-1", TowerID: "T9"}, models.SyncInSync, 0)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkStaleBefore_ReturnsCount(t *testing.T) {
	db, mock, repo := setupMockTwinDB(t)
	defer db.Close()

	cutoff := time.Now().Add(-2 * time.Minute)
	mock.ExpectExec(`UPDATE twins`).
		WithArgs("stale", cutoff, "stale", "offline").
		WillReturnResult(sqlmock.NewResult(0, 3))

	count, err := repo.MarkStaleBefore(context.Background(), cutoff)

	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDelete_TwinMissing(t *testing.T) {
	db, mock, repo := setupMockTwinDB(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM twins`).
		WithArgs("farm-1", "coord-1", "T1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), models.TwinKey{FarmID: "farm-1", CoordID: "coord-1", TowerID: "T1"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	require.NoError(t, mock.ExpectationsWereMet())
}
