package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/himanshuu932/rakshak/internal/models"
)

func setupMockSettingsDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *SettingsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewSettingsRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestSettingsGet_Success(t *testing.T) {
	db, mock, repo := setupMockSettingsDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"value"}).
		AddRow(`{"latitude":12.9,"longitude":77.6,"timestamp":100}`)

	mock.ExpectQuery(`SELECT value FROM settings`).
		WithArgs("lastLocation_9876543210").
		WillReturnRows(rows)

	v, err := repo.Get(context.Background(), "lastLocation_9876543210")
	require.NoError(t, err)
	assert.Contains(t, v, `"latitude":12.9`)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsGet_NotFound(t *testing.T) {
	db, mock, repo := setupMockSettingsDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT value FROM settings`).
		WithArgs("lastLocation_missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "lastLocation_missing")
	assert.ErrorIs(t, err, ErrSettingNotFound)
}

func TestSettingsSet_Upsert(t *testing.T) {
	db, mock, repo := setupMockSettingsDB(t)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO settings`).
		WithArgs("lastLocation_9876543210", `{"timestamp":1}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Set(context.Background(), "lastLocation_9876543210", `{"timestamp":1}`)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrustedUpsert_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTrustedRepository(db, zap.NewNop())

	mock.ExpectExec(`INSERT INTO trusted_senders`).
		WithArgs("+91 91234 56789", "919123456789", "SOS_LOCATION", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.UpsertTrustedSender(context.Background(), &models.TrustedSender{
		PhoneNumber: "+91 91234 56789",
		Keyword:     "SOS_LOCATION",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTrustedUpsert_MissingFields(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewTrustedRepository(db, zap.NewNop())

	assert.Error(t, repo.UpsertTrustedSender(context.Background(), &models.TrustedSender{PhoneNumber: "123"}))
	assert.Error(t, repo.UpsertTrustedSender(context.Background(), &models.TrustedSender{Keyword: "SOS"}))
}
