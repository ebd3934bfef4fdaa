package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecrm/basecrm-api/internal/models"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
)

func TestCreateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("INSERT INTO refresh_tokens").WillReturnResult(sqlmock.NewResult(1, 1))

	token := &models.RefreshToken{UserID: "u1", Token: "opaque", ExpiresAt: time.Now().Add(7 * 24 * time.Hour), CreatedByIP: "10.0.0.1"}
	require.NoError(t, repo.CreateRefreshToken(context.Background(), token))
	assert.NotEmpty(t, token.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "user_id", "token", "expires_at", "created_at", "created_by_ip", "revoked_at", "revoked_by_ip", "replaced_by_token"}).
		AddRow("t1", "u1", "opaque", now.Add(time.Hour), now, "10.0.0.1", nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT "+refreshTokenColumns+" FROM refresh_tokens WHERE token = $1 LIMIT 1")).
		WithArgs("opaque").
		WillReturnRows(rows)

	rt, err := repo.FindRefreshToken(context.Background(), "opaque")
	require.NoError(t, err)
	assert.Equal(t, "u1", rt.UserID)
	assert.True(t, rt.Usable(now))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeRefreshTokenAlreadyRevoked(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.RevokeRefreshToken(context.Background(), "opaque", time.Now(), "10.0.0.1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenRevoked))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshToken(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO refresh_tokens").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	replacement := &models.RefreshToken{UserID: "u1", Token: "new-opaque", ExpiresAt: time.Now().Add(7 * 24 * time.Hour), CreatedByIP: "10.0.0.2"}
	err := repo.RotateRefreshToken(context.Background(), "old-opaque", replacement, time.Now(), "10.0.0.2")
	require.NoError(t, err)
	assert.NotEmpty(t, replacement.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRotateRefreshTokenLosesRace(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE refresh_tokens SET revoked_at").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	replacement := &models.RefreshToken{UserID: "u1", Token: "new-opaque", ExpiresAt: time.Now().Add(time.Hour)}
	err := repo.RotateRefreshToken(context.Background(), "old-opaque", replacement, time.Now(), "10.0.0.2")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenRevoked))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeUserTokenInvalid(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("UPDATE user_tokens SET consumed_at").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.ConsumeUserToken(context.Background(), "u1", models.TokenPurposePasswordReset, "digest", time.Now())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceRecoveryCodes(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM recovery_codes").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO recovery_codes").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO recovery_codes").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.ReplaceRecoveryCodes(context.Background(), "u1", []string{"h1", "h2"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeRecoveryCode(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTokenRepository(db)

	mock.ExpectExec("UPDATE recovery_codes SET used_at").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.ConsumeRecoveryCode(context.Background(), "u1", "digest", time.Now()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
