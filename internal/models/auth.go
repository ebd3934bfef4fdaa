package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// ScopeMFAVerification marks an access token restricted to MFA operations.
const ScopeMFAVerification = "mfa_verification"

// LoginRequest holds credentials for authenticating a user. IP and UserAgent
// are populated by the handler from the request, never from the body.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginOutcomeKind distinguishes the three possible results of a successful
// password check.
type LoginOutcomeKind int

const (
	// OutcomeFullAccess means both an access token and a refresh token were
	// issued; no MFA step is pending.
	OutcomeFullAccess LoginOutcomeKind = iota
	// OutcomeMFASetupRequired means the user has no MFA enrolled and received
	// a scoped token that can only reach the MFA endpoints.
	OutcomeMFASetupRequired
	// OutcomeMFAVerificationRequired means MFA is enabled, the device is not
	// trusted, and a scoped token was issued pending code verification.
	OutcomeMFAVerificationRequired
)

// LoginOutcome is the tagged result of a login attempt. Exactly one of
// AccessToken or ScopedToken is set, never both.
type LoginOutcome struct {
	Kind         LoginOutcomeKind
	AccessToken  string
	RefreshToken *RefreshToken
	ScopedToken  string
}

// LoginResponse is the wire shape of a login result.
type LoginResponse struct {
	AccessToken     string `json:"accessToken,omitempty"`
	TempToken       string `json:"tempToken,omitempty"`
	RequireSetupMfa bool   `json:"requireSetupMfa"`
	MfaRequired     bool   `json:"mfaRequired"`
}

// AccessClaims is the JWT payload for access tokens. Permissions carries a
// JSON-serialized permission name list; Scope is non-empty only on restricted
// tokens, which always carry an empty permission list.
type AccessClaims struct {
	UserID      string `json:"uid"`
	FullName    string `json:"name"`
	Permissions string `json:"permissions"`
	Scope       string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Restricted reports whether the claims belong to an MFA-scoped token.
func (c *AccessClaims) Restricted() bool {
	return c.Scope != ""
}

// RegisterRequest is the admin-initiated user creation payload.
type RegisterRequest struct {
	FirstName string   `json:"firstName" validate:"required"`
	LastName  string   `json:"lastName"`
	Email     string   `json:"email" validate:"required,email"`
	Roles     []string `json:"roles"`
}

// ForgotPasswordRequest initiates the password reset flow.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes the password reset flow.
type ResetPasswordRequest struct {
	Email       string `json:"email" validate:"required,email"`
	ResetCode   string `json:"resetCode" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

// ConfirmEmailRequest confirms a newly registered address.
type ConfirmEmailRequest struct {
	UserID string `json:"userId" validate:"required"`
	Token  string `json:"token" validate:"required"`
}

// MfaVerifyRequest carries a 6-digit TOTP code.
type MfaVerifyRequest struct {
	Code        string `json:"code" validate:"required"`
	TrustDevice bool   `json:"trustDevice"`
}

// MfaSetupResponse returns provisioning material for an authenticator app.
// The manual key is the base32 secret grouped in blocks of four characters
// for hand entry.
type MfaSetupResponse struct {
	QRCode    string `json:"qrCode"`
	ManualKey string `json:"manualKey"`
}

// UserInfo describes a user in list and profile responses.
type UserInfo struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	FirstName      string `json:"firstName"`
	LastName       string `json:"lastName"`
	EmailConfirmed bool   `json:"emailConfirmed"`
	MFAEnabled     bool   `json:"mfaEnabled"`
}
