package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/statlake/internal/testutil"
	"github.com/leapstack-labs/statlake/pkg/core"
)

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(testutil.NewTestLogger(t))
	require.NoError(t, store.Open(":memory:"))
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_InitSchema(t *testing.T) {
	store := setupTestStore(t)

	for _, table := range []string{"runs", "dataset_runs"} {
		rows, err := store.db.Query("SELECT 1 FROM " + table + " LIMIT 1")
		require.NoError(t, err, "table %s", table)
		require.NoError(t, rows.Close())
	}
	v, err := store.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// Migrations are idempotent.
	require.NoError(t, store.InitSchema())
}

func TestSQLiteStore_RunLifecycle(t *testing.T) {
	store := setupTestStore(t)

	run, err := store.CreateRun(core.FlowUpdate)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusRunning, run.Status)

	got, err := store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.FlowUpdate, got.Flow)
	assert.Nil(t, got.CompletedAt)
	assert.WithinDuration(t, run.StartedAt, got.StartedAt, time.Microsecond)

	require.NoError(t, store.CompleteRun(run.ID, core.RunStatusPartial, "weekly: fetch failed"))
	got, err = store.GetRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, core.RunStatusPartial, got.Status)
	assert.Equal(t, "weekly: fetch failed", got.Error)
	require.NotNil(t, got.CompletedAt)

	assert.Error(t, store.CompleteRun("missing", core.RunStatusCompleted, ""))
	_, err = store.GetRun("missing")
	assert.ErrorContains(t, err, "run not found")
}

func TestSQLiteStore_ListAndLatest(t *testing.T) {
	store := setupTestStore(t)

	latest, err := store.GetLatestRun(core.FlowBootstrap)
	require.NoError(t, err)
	assert.Nil(t, latest)

	first, err := store.CreateRun(core.FlowBootstrap)
	require.NoError(t, err)
	second, err := store.CreateRun(core.FlowUpdate)
	require.NoError(t, err)
	third, err := store.CreateRun(core.FlowBootstrap)
	require.NoError(t, err)

	runs, err := store.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, third.ID, runs[0].ID)
	assert.Equal(t, second.ID, runs[1].ID)

	latest, err = store.GetLatestRun(core.FlowBootstrap)
	require.NoError(t, err)
	assert.Equal(t, third.ID, latest.ID)
	assert.NotEqual(t, first.ID, latest.ID)
}

func TestSQLiteStore_DatasetRuns(t *testing.T) {
	store := setupTestStore(t)
	run, err := store.CreateRun(core.FlowUpdate)
	require.NoError(t, err)

	require.NoError(t, store.RecordDatasetRun(&core.DatasetRun{
		RunID: run.ID, Dataset: "weekly", Status: core.DatasetRunStatusFailed, Error: "timeout",
	}))
	require.NoError(t, store.RecordDatasetRun(&core.DatasetRun{
		RunID: run.ID, Dataset: "weekly", Status: core.DatasetRunStatusSuccess,
		Rows: 120, Partitions: 2, DurationMS: 40,
	}))
	require.NoError(t, store.RecordDatasetRun(&core.DatasetRun{
		RunID: run.ID, Dataset: "injuries", Status: core.DatasetRunStatusSuccess,
		Rows: 3, Partitions: 1, FailedPartitions: 1,
	}))

	drs, err := store.GetDatasetRuns(run.ID)
	require.NoError(t, err)
	require.Len(t, drs, 2)
	assert.Equal(t, "injuries", drs[0].Dataset)
	assert.Equal(t, 1, drs[0].FailedPartitions)
	assert.Equal(t, "weekly", drs[1].Dataset)
	assert.Equal(t, core.DatasetRunStatusSuccess, drs[1].Status)
	assert.Equal(t, int64(120), drs[1].Rows)
	assert.Empty(t, drs[1].Error)
}

func TestOpenStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.db")
	store, err := OpenStore(path, nil)
	require.NoError(t, err)
	_, err = store.CreateRun(core.FlowPromote)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := OpenStore(path, nil)
	require.NoError(t, err)
	defer reopened.Close()
	runs, err := reopened.ListRuns(10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLiteStore_NotOpened(t *testing.T) {
	store := NewSQLiteStore(nil)
	_, err := store.CreateRun(core.FlowUpdate)
	assert.ErrorContains(t, err, "database not opened")
	assert.ErrorContains(t, store.RecordDatasetRun(&core.DatasetRun{}), "database not opened")
	assert.NoError(t, store.Close())
}

func TestSQLiteStore_DriverFailures(t *testing.T) {
	tests := []struct {
		name      string
		setupMock func(mock sqlmock.Sqlmock)
		call      func(s *SQLiteStore) error
		errMsg    string
	}{
		{
			name: "create run",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO runs").WillReturnError(assert.AnError)
			},
			call: func(s *SQLiteStore) error {
				_, err := s.CreateRun(core.FlowUpdate)
				return err
			},
			errMsg: "failed to create run",
		},
		{
			name: "record dataset run",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO dataset_runs").WillReturnError(assert.AnError)
			},
			call: func(s *SQLiteStore) error {
				return s.RecordDatasetRun(&core.DatasetRun{RunID: "r1", Dataset: "weekly"})
			},
			errMsg: "failed to record dataset run r1/weekly",
		},
		{
			name: "complete run",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("UPDATE runs").WillReturnResult(sqlmock.NewResult(0, 0))
			},
			call: func(s *SQLiteStore) error {
				return s.CompleteRun("r1", core.RunStatusCompleted, "")
			},
			errMsg: "run not found: r1",
		},
		{
			name: "corrupt timestamp",
			setupMock: func(mock sqlmock.Sqlmock) {
				rows := sqlmock.NewRows([]string{"id", "flow", "status", "started_at", "completed_at", "error"}).
					AddRow("r1", "update", "running", "yesterday", nil, nil)
				mock.ExpectQuery("SELECT (.+) FROM runs").WillReturnRows(rows)
			},
			call: func(s *SQLiteStore) error {
				_, err := s.ListRuns(5)
				return err
			},
			errMsg: "invalid timestamp",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			tt.setupMock(mock)

			err = tt.call(newWithDB(db))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
