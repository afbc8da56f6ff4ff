package store

import (
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"listsync/models"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)
	return db, mock
}

func newStoreLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestQueueEnqueueInsertsNewRow(t *testing.T) {
	db, mock := newMockDB(t)
	st := NewQueueStore(db, newStoreLogger())

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "queue_entries" .* ON CONFLICT \("campaign_id","email"\) DO NOTHING`).
		WithArgs("c1", "a@example.com", "Ann", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	created, err := st.Enqueue("c1", "A@Example.com", "Ann")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueueEnqueueDuplicateIsAbsorbed(t *testing.T) {
	db, mock := newMockDB(t)
	st := NewQueueStore(db, newStoreLogger())

	// ON CONFLICT DO NOTHING returns no row for the duplicate.
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "queue_entries" .* ON CONFLICT \("campaign_id","email"\) DO NOTHING`).
		WithArgs("c1", "a@example.com", "Ann", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	created, err := st.Enqueue("c1", "a@example.com", "Ann")
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxnInsertIfAbsentFirstDelivery(t *testing.T) {
	db, mock := newMockDB(t)
	st := NewTxnStore(db, newStoreLogger())

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "webhook_txns" .* ON CONFLICT \("provider","type","txn_id","txn_date"\) DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	first, err := st.InsertIfAbsent(&models.WebhookTxn{
		Provider: "mailchimp",
		Type:     "unsubscribe",
		TxnID:    "m1",
		TxnDate:  "2026-08-28",
	})
	require.NoError(t, err)
	assert.True(t, first)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTxnInsertIfAbsentReplay(t *testing.T) {
	db, mock := newMockDB(t)
	st := NewTxnStore(db, newStoreLogger())

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "webhook_txns" .* ON CONFLICT \("provider","type","txn_id","txn_date"\) DO NOTHING`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	first, err := st.InsertIfAbsent(&models.WebhookTxn{
		Provider: "mailchimp",
		Type:     "unsubscribe",
		TxnID:    "m1",
		TxnDate:  "2026-08-28",
	})
	require.NoError(t, err)
	assert.False(t, first)
	assert.NoError(t, mock.ExpectationsWereMet())
}
