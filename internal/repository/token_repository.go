package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/basecrm/basecrm-api/internal/models"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
)

// TokenRepository provides database access for refresh tokens, single-use
// account tokens and MFA recovery codes.
type TokenRepository struct {
	db *sqlx.DB
}

// NewTokenRepository creates a new instance of TokenRepository.
func NewTokenRepository(db *sqlx.DB) *TokenRepository {
	return &TokenRepository{db: db}
}

const refreshTokenColumns = `id, user_id, token, expires_at, created_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by_token`

// CreateRefreshToken persists a refresh token entry.
func (r *TokenRepository) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by_token) VALUES (:id, :user_id, :token, :expires_at, :created_at, :created_by_ip, :revoked_at, :revoked_by_ip, :replaced_by_token)`
	if _, err := r.db.NamedExecContext(ctx, query, token); err != nil {
		return fmt.Errorf("create refresh token: %w", err)
	}
	return nil
}

// FindRefreshToken returns a refresh token by its opaque value.
func (r *TokenRepository) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token = $1 LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// FindActiveRefreshToken returns the newest usable refresh token for a user,
// or sql.ErrNoRows when none exists.
func (r *TokenRepository) FindActiveRefreshToken(ctx context.Context, userID string, now time.Time) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2 ORDER BY created_at DESC LIMIT 1`
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, userID, now); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find active refresh token: %w", err)
	}
	return &rt, nil
}

// RevokeRefreshToken marks a token as revoked. The update is conditional on
// the token still being active so concurrent revocations cannot race; a
// token already revoked reports ErrTokenRevoked.
func (r *TokenRepository) RevokeRefreshToken(ctx context.Context, token string, revokedAt time.Time, revokedByIP string) error {
	const query = `UPDATE refresh_tokens SET revoked_at = $2, revoked_by_ip = $3 WHERE token = $1 AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, token, revokedAt, revokedByIP)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh token rows: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrTokenRevoked
	}
	return nil
}

// RotateRefreshToken revokes the old token and inserts its replacement in a
// single transaction. The conditional revoke guarantees only one caller wins
// when the same token is presented concurrently.
func (r *TokenRepository) RotateRefreshToken(ctx context.Context, oldToken string, replacement *models.RefreshToken, rotatedAt time.Time, ip string) error {
	if replacement.ID == "" {
		replacement.ID = uuid.NewString()
	}
	if replacement.CreatedAt.IsZero() {
		replacement.CreatedAt = rotatedAt
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rotate: %w", err)
	}
	defer tx.Rollback()

	const revokeQuery = `UPDATE refresh_tokens SET revoked_at = $2, revoked_by_ip = $3, replaced_by_token = $4 WHERE token = $1 AND revoked_at IS NULL`
	res, err := tx.ExecContext(ctx, revokeQuery, oldToken, rotatedAt, ip, replacement.Token)
	if err != nil {
		return fmt.Errorf("rotate revoke: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rotate revoke rows: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrTokenRevoked
	}

	const insertQuery = `INSERT INTO refresh_tokens (id, user_id, token, expires_at, created_at, created_by_ip, revoked_at, revoked_by_ip, replaced_by_token) VALUES (:id, :user_id, :token, :expires_at, :created_at, :created_by_ip, :revoked_at, :revoked_by_ip, :replaced_by_token)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, replacement); err != nil {
		return fmt.Errorf("rotate insert: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rotate: %w", err)
	}
	return nil
}

// RevokeUserRefreshTokens revokes all active refresh tokens for a user.
func (r *TokenRepository) RevokeUserRefreshTokens(ctx context.Context, userID string, revokedAt time.Time, revokedByIP string) error {
	const query = `UPDATE refresh_tokens SET revoked_at = $2, revoked_by_ip = $3 WHERE user_id = $1 AND revoked_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, userID, revokedAt, revokedByIP); err != nil {
		return fmt.Errorf("revoke user refresh tokens: %w", err)
	}
	return nil
}

// CreateUserToken stores a single-use token digest, invalidating any earlier
// unconsumed token of the same purpose so only the newest one works.
func (r *TokenRepository) CreateUserToken(ctx context.Context, token *models.UserToken) error {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create user token: %w", err)
	}
	defer tx.Rollback()

	const invalidateQuery = `UPDATE user_tokens SET consumed_at = $3 WHERE user_id = $1 AND purpose = $2 AND consumed_at IS NULL`
	if _, err := tx.ExecContext(ctx, invalidateQuery, token.UserID, token.Purpose, token.CreatedAt); err != nil {
		return fmt.Errorf("invalidate user tokens: %w", err)
	}

	const insertQuery = `INSERT INTO user_tokens (id, user_id, purpose, token_hash, expires_at, created_at, consumed_at) VALUES (:id, :user_id, :purpose, :token_hash, :expires_at, :created_at, :consumed_at)`
	if _, err := tx.NamedExecContext(ctx, insertQuery, token); err != nil {
		return fmt.Errorf("create user token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create user token: %w", err)
	}
	return nil
}

// ConsumeUserToken marks the matching unconsumed, unexpired token as used.
// It reports ErrInvalidToken when no such token exists.
func (r *TokenRepository) ConsumeUserToken(ctx context.Context, userID string, purpose models.UserTokenPurpose, tokenHash string, now time.Time) error {
	const query = `UPDATE user_tokens SET consumed_at = $4 WHERE user_id = $1 AND purpose = $2 AND token_hash = $3 AND consumed_at IS NULL AND expires_at > $4`
	res, err := r.db.ExecContext(ctx, query, userID, purpose, tokenHash, now)
	if err != nil {
		return fmt.Errorf("consume user token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume user token rows: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrInvalidToken
	}
	return nil
}

// ReplaceRecoveryCodes deletes the user's existing recovery codes and stores
// a fresh batch of digests.
func (r *TokenRepository) ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes []string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace recovery codes: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}

	now := time.Now().UTC()
	const insertQuery = `INSERT INTO recovery_codes (id, user_id, code_hash, created_at) VALUES ($1, $2, $3, $4)`
	for _, hash := range codeHashes {
		if _, err := tx.ExecContext(ctx, insertQuery, uuid.NewString(), userID, hash, now); err != nil {
			return fmt.Errorf("insert recovery code: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace recovery codes: %w", err)
	}
	return nil
}

// ConsumeRecoveryCode marks an unused recovery code as spent. It reports
// ErrInvalidMFACode when no unused code matches the digest.
func (r *TokenRepository) ConsumeRecoveryCode(ctx context.Context, userID, codeHash string, now time.Time) error {
	const query = `UPDATE recovery_codes SET used_at = $3 WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, userID, codeHash, now)
	if err != nil {
		return fmt.Errorf("consume recovery code: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("consume recovery code rows: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrInvalidMFACode
	}
	return nil
}

// DeleteRecoveryCodes removes every recovery code for a user, used when MFA
// is disabled.
func (r *TokenRepository) DeleteRecoveryCodes(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete recovery codes: %w", err)
	}
	return nil
}
