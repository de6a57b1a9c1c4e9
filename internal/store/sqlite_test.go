package store_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agrid-Dev/smarthrt/internal/store"
)

func newMock(t *testing.T) (*store.SQLite, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return store.NewSQLite(db), mock
}

func TestSQLite_Save_UpsertsEveryKeyInOneTransaction(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO thermal_state")).
		WithArgs("living", "rcth", "50", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO thermal_state")).
		WithArgs("living", "tsp", "19", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := s.Save(context.Background(), "living", store.Record{"tsp": "19", "rcth": "50"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_Save_RollsBackOnError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO thermal_state")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Save(context.Background(), "living", store.Record{"tsp": "19"})
	assert.ErrorContains(t, err, "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_Load(t *testing.T) {
	s, mock := newMock(t)

	rows := sqlmock.NewRows([]string{"key", "value"}).
		AddRow("rcth", "42.5").
		AddRow("smartheating_mode", "true")
	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value FROM thermal_state")).
		WithArgs("living").
		WillReturnRows(rows)

	rec, err := s.Load(context.Background(), "living")
	require.NoError(t, err)
	assert.Equal(t, store.Record{"rcth": "42.5", "smartheating_mode": "true"}, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_Load_NoRowsIsNil(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value FROM thermal_state")).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}))

	rec, err := s.Load(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSQLite_Load_PropagatesQueryError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value FROM thermal_state")).
		WillReturnError(sql.ErrConnDone)

	_, err := s.Load(context.Background(), "living")
	assert.ErrorIs(t, err, sql.ErrConnDone)
}

func TestSQLite_AppendCycle_AssignsID(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 1, 10, 6, 0, 0, 0, time.FixedZone("CET", 3600))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO learning_cycles")).
		WithArgs(sqlmock.AnyArg(), "living", "rcth", at.UTC(), 41.0, -9.0, 5.0, 2.0, true).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.AppendCycle(context.Background(), store.Cycle{
		InstanceID: "living",
		Kind:       store.CycleRCth,
		OccurredAt: at,
		Calculated: 41,
		Error:      -9,
		WindKmh:    5,
		Relaxation: 2,
		Applied:    true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLite_Cycles(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 1, 10, 5, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{"id", "instance_id", "kind", "occurred_at", "calculated", "error", "wind_kmh", "relaxation", "applied"}).
		AddRow("c-1", "living", "rpth", at, 60.0, 10.0, 0.0, 2.0, true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM learning_cycles")).
		WithArgs("living", -1).
		WillReturnRows(rows)

	cycles, err := s.Cycles(context.Background(), "living", 0)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, store.CycleRPth, cycles[0].Kind)
	assert.Equal(t, 60.0, cycles[0].Calculated)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenSQLite_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smarthrt.db")
	s, err := store.OpenSQLite(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "living", store.Record{"rcth": "50", "tsp": "19"}))
	require.NoError(t, s.Save(ctx, "living", store.Record{"tsp": "20"}))
	require.NoError(t, s.Close())

	s, err = store.OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.Load(ctx, "living")
	require.NoError(t, err)
	assert.Equal(t, store.Record{"rcth": "50", "tsp": "20"}, rec)
}
