package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"live-ingest/dto"
)

const historySessionID = "4a1d5c3e-8f0b-4d7e-9a55-3c1b2f6e7d80"

func newMockHistory(t *testing.T) (HistoryRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := openHistoryDB(db)
	require.NoError(t, err)
	return &historyRepo{db: gormDB}, mock
}

func TestRecordStartedInsertsActiveRow(t *testing.T) {
	repo, mock := newMockHistory(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "stream_history"`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	mock.ExpectCommit()

	err := repo.RecordStarted(context.Background(), dto.StreamStartedEvent{
		SessionID: historySessionID,
		OwnerID:   "U1",
		StartedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordStartedRejectsBadSessionID(t *testing.T) {
	repo, mock := newMockHistory(t)

	err := repo.RecordStarted(context.Background(), dto.StreamStartedEvent{SessionID: "not-a-uuid", OwnerID: "U1"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEndedUpdatesRow(t *testing.T) {
	repo, mock := newMockHistory(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "stream_history" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.RecordEnded(context.Background(), dto.StreamEndedEvent{
		SessionID:       historySessionID,
		OwnerID:         "U1",
		DurationSeconds: 42.7,
		EndedAt:         time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordEndedWithoutStartRowFails(t *testing.T) {
	repo, mock := newMockHistory(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "stream_history" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.RecordEnded(context.Background(), dto.StreamEndedEvent{
		SessionID: historySessionID,
		OwnerID:   "U1",
		EndedAt:   time.Now().UTC(),
	})
	require.ErrorIs(t, err, ErrHistoryNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBySessionID(t *testing.T) {
	repo, mock := newMockHistory(t)
	id := uuid.MustParse(historySessionID)
	started := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	ended := started.Add(90 * time.Second)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "stream_history" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "status", "started_at", "ended_at", "duration_seconds"}).
			AddRow(id.String(), "U1", "ended", started, ended, int64(90)))

	row, err := repo.FindBySessionID(context.Background(), historySessionID)
	require.NoError(t, err)
	require.Equal(t, id, row.ID)
	require.Equal(t, "U1", row.OwnerID)
	require.Equal(t, "ended", row.Status)
	require.NotNil(t, row.DurationSeconds)
	require.Equal(t, int64(90), *row.DurationSeconds)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindBySessionIDNotFound(t *testing.T) {
	repo, mock := newMockHistory(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "stream_history" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindBySessionID(context.Background(), historySessionID)
	require.ErrorIs(t, err, ErrHistoryNotFound)

	_, err = repo.FindBySessionID(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, ErrHistoryNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
