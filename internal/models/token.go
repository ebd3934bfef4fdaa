package models

import "time"

// RefreshToken represents a persisted refresh token. Tokens are revoked
// rather than deleted so the rotation chain stays auditable.
type RefreshToken struct {
	ID              string     `db:"id" json:"id"`
	UserID          string     `db:"user_id" json:"user_id"`
	Token           string     `db:"token" json:"token"`
	ExpiresAt       time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	CreatedByIP     string     `db:"created_by_ip" json:"created_by_ip"`
	RevokedAt       *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
	RevokedByIP     *string    `db:"revoked_by_ip" json:"revoked_by_ip,omitempty"`
	ReplacedByToken *string    `db:"replaced_by_token" json:"replaced_by_token,omitempty"`
}

// Expired reports whether the token's lifetime has elapsed.
func (t *RefreshToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// Usable reports whether the token may still authenticate a refresh: not
// revoked and not expired.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && !t.Expired(now)
}

// UserTokenPurpose names the single-use token flows backed by the store's
// token provider.
type UserTokenPurpose string

const (
	TokenPurposeEmailConfirmation UserTokenPurpose = "email_confirmation"
	TokenPurposePasswordReset     UserTokenPurpose = "password_reset"
)

// UserToken is a single-use, expiring token for email confirmation and
// password reset flows. Only a digest of the token value is stored.
type UserToken struct {
	ID         string           `db:"id" json:"id"`
	UserID     string           `db:"user_id" json:"user_id"`
	Purpose    UserTokenPurpose `db:"purpose" json:"purpose"`
	TokenHash  string           `db:"token_hash" json:"-"`
	ExpiresAt  time.Time        `db:"expires_at" json:"expires_at"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	ConsumedAt *time.Time       `db:"consumed_at" json:"consumed_at,omitempty"`
}

// RecoveryCode stores the digest of a single MFA recovery code.
type RecoveryCode struct {
	ID        string     `db:"id" json:"id"`
	UserID    string     `db:"user_id" json:"user_id"`
	CodeHash  string     `db:"code_hash" json:"-"`
	UsedAt    *time.Time `db:"used_at" json:"used_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
