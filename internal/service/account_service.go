package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/basecrm/basecrm-api/internal/models"
	"github.com/basecrm/basecrm-api/pkg/config"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
	"github.com/basecrm/basecrm-api/pkg/jobs"
	"github.com/basecrm/basecrm-api/pkg/mail"
)

const (
	confirmationTokenExpiry = 24 * time.Hour
	resetTokenExpiry        = time.Hour
)

type accountUserRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	Create(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	ConfirmEmail(ctx context.Context, id string, ts time.Time) error
	FindRolesByUserID(ctx context.Context, userID string) ([]models.Role, error)
	FindRolesByNames(ctx context.Context, names []string) ([]models.Role, error)
	AssignRoles(ctx context.Context, userID string, roleIDs []string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type accountTokenRepository interface {
	CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error
	FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error)
	FindActiveRefreshToken(ctx context.Context, userID string, now time.Time) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string, revokedAt time.Time, revokedByIP string) error
	RotateRefreshToken(ctx context.Context, oldToken string, replacement *models.RefreshToken, rotatedAt time.Time, ip string) error
	RevokeUserRefreshTokens(ctx context.Context, userID string, revokedAt time.Time, revokedByIP string) error
	CreateUserToken(ctx context.Context, token *models.UserToken) error
	ConsumeUserToken(ctx context.Context, userID string, purpose models.UserTokenPurpose, tokenHash string, now time.Time) error
}

type loginAttemptRepository interface {
	RecordLoginFailure(ctx context.Context, email string, window time.Duration) (int64, error)
	LoginFailures(ctx context.Context, email string) (int64, error)
	ClearLoginFailures(ctx context.Context, email string) error
}

type deviceTrustChecker interface {
	IsTrusted(ctx context.Context, userID, userAgent, ip string) (bool, error)
	Trust(ctx context.Context, userID, userAgent, ip string) (*models.TrustedDevice, error)
}

type mfaVerifier interface {
	VerifyCode(ctx context.Context, userID, code string) error
	VerifyRecoveryCode(ctx context.Context, userID, code string) error
}

type emailQueue interface {
	Enqueue(job jobs.Job) error
}

// EmailJobType tags queued email deliveries.
const EmailJobType = "email"

// EmailJob is the payload handed to the jobs queue for delivery.
type EmailJob struct {
	To      string
	Subject string
	HTML    string
}

// AccountConfig tunes the account flows.
type AccountConfig struct {
	ClientURL string
	Lockout   config.LockoutConfig
}

// AccountService implements the credential flows: login with the MFA
// decision table, refresh token exchange, registration, and the email-backed
// confirmation and reset flows.
type AccountService struct {
	users     accountUserRepository
	tokens    accountTokenRepository
	attempts  loginAttemptRepository
	devices   deviceTrustChecker
	mfa       mfaVerifier
	issuer    *TokenService
	queue     emailQueue
	validator *validator.Validate
	logger    *zap.Logger
	config    AccountConfig
}

// NewAccountService constructs an AccountService instance.
func NewAccountService(
	users accountUserRepository,
	tokens accountTokenRepository,
	attempts loginAttemptRepository,
	devices deviceTrustChecker,
	mfa mfaVerifier,
	issuer *TokenService,
	queue emailQueue,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg AccountConfig,
) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.Lockout.MaxAttempts <= 0 {
		cfg.Lockout.MaxAttempts = 5
	}
	if cfg.Lockout.Window <= 0 {
		cfg.Lockout.Window = 15 * time.Minute
	}
	return &AccountService{
		users: users, tokens: tokens, attempts: attempts,
		devices: devices, mfa: mfa, issuer: issuer, queue: queue,
		validator: validate, logger: logger, config: cfg,
	}
}

// Login checks the password and applies the MFA decision table:
//
//   - MFA disabled: a scoped token is issued and the client is told to set
//     up MFA before anything else.
//   - MFA enabled, device trusted: full access plus a refresh token.
//   - MFA enabled, device untrusted: a scoped token pending code
//     verification.
//
// Failures never reveal whether the email exists; lockout counts failures
// per email across a sliding window.
func (s *AccountService) Login(ctx context.Context, req models.LoginRequest) (*models.LoginOutcome, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	if err := s.checkLockout(ctx, req.Email); err != nil {
		return nil, err
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.recordLoginFailure(ctx, req.Email)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	if !user.Active {
		s.recordLoginFailure(ctx, req.Email)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordLoginFailure(ctx, req.Email)
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	s.clearLoginFailures(ctx, req.Email)
	now := time.Now().UTC()

	if !user.MFAEnabled {
		scoped, err := s.issuer.IssueScopedToken(user, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue token")
		}
		s.audit(ctx, user.ID, models.AuditActionLoginMFA, req.IP, req.UserAgent)
		return &models.LoginOutcome{Kind: models.OutcomeMFASetupRequired, ScopedToken: scoped}, nil
	}

	trusted, err := s.devices.IsTrusted(ctx, user.ID, req.UserAgent, req.IP)
	if err != nil {
		return nil, err
	}
	if !trusted {
		scoped, err := s.issuer.IssueScopedToken(user, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue token")
		}
		s.audit(ctx, user.ID, models.AuditActionLoginMFA, req.IP, req.UserAgent)
		return &models.LoginOutcome{Kind: models.OutcomeMFAVerificationRequired, ScopedToken: scoped}, nil
	}

	return s.grantFullAccess(ctx, user, req.IP, req.UserAgent, now)
}

// CompleteMFALogin verifies a TOTP or recovery code presented with a scoped
// token and upgrades the session to full access. With trustDevice set the
// request's device skips the challenge on future logins.
func (s *AccountService) CompleteMFALogin(ctx context.Context, userID, code string, trustDevice bool, userAgent, ip string) (*models.LoginOutcome, error) {
	if err := s.mfa.VerifyCode(ctx, userID, code); err != nil {
		if !appErrors.Is(err, appErrors.ErrInvalidMFACode) {
			return nil, err
		}
		// A recovery code is longer than six digits; give it a chance
		// before reporting the failure.
		if recErr := s.mfa.VerifyRecoveryCode(ctx, userID, code); recErr != nil {
			return nil, err
		}
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}

	if trustDevice {
		if _, err := s.devices.Trust(ctx, user.ID, userAgent, ip); err != nil {
			s.logger.Warn("failed to trust device", zap.Error(err))
		} else {
			s.audit(ctx, user.ID, models.AuditActionDeviceTrusted, ip, userAgent)
		}
	}

	return s.grantFullAccess(ctx, user, ip, userAgent, time.Now().UTC())
}

// Refresh exchanges a refresh token for a new access token. A token still
// inside its lifetime is reused as-is; an expired one is rotated into a
// replacement so the chain stays auditable. Revoked tokens are rejected.
func (s *AccountService) Refresh(ctx context.Context, tokenValue, ip string) (string, *models.RefreshToken, error) {
	stored, err := s.tokens.FindRefreshToken(ctx, tokenValue)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, appErrors.Clone(appErrors.ErrInvalidToken, "refresh token not found")
		}
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	if stored.RevokedAt != nil {
		return "", nil, appErrors.Clone(appErrors.ErrTokenRevoked, "")
	}

	user, err := s.users.FindByID(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil, appErrors.Clone(appErrors.ErrUnauthorized, "user no longer exists")
		}
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	if !user.Active {
		return "", nil, appErrors.Clone(appErrors.ErrUnauthorized, "account is inactive")
	}

	now := time.Now().UTC()
	current := stored
	if stored.Expired(now) {
		replacement, err := s.issuer.NewRefreshToken(user.ID, ip, now)
		if err != nil {
			return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
		}
		if err := s.tokens.RotateRefreshToken(ctx, stored.Token, replacement, now, ip); err != nil {
			if appErrors.Is(err, appErrors.ErrTokenRevoked) {
				return "", nil, appErrors.Clone(appErrors.ErrTokenRevoked, "")
			}
			return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
		}
		current = replacement
		s.audit(ctx, user.ID, models.AuditActionTokenRotate, ip, "")
	} else {
		s.audit(ctx, user.ID, models.AuditActionTokenRefresh, ip, "")
	}

	perms, err := s.permissionsFor(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}
	access, err := s.issuer.IssueAccessToken(user, perms, now)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue access token")
	}
	return access, current, nil
}

// Revoke marks a refresh token revoked. Revoking an unknown or already
// revoked token succeeds, so logout is idempotent.
func (s *AccountService) Revoke(ctx context.Context, tokenValue, ip string) error {
	if tokenValue == "" {
		return nil
	}
	err := s.tokens.RevokeRefreshToken(ctx, tokenValue, time.Now().UTC(), ip)
	if err != nil && !appErrors.Is(err, appErrors.ErrTokenRevoked) {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh token")
	}
	return nil
}

// GrantableRoles lists the roles the requester may assign to new users,
// which is exactly the requester's own roles.
func (s *AccountService) GrantableRoles(ctx context.Context, requesterID string) ([]models.Role, error) {
	roles, err := s.users.FindRolesByUserID(ctx, requesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roles")
	}
	return roles, nil
}

// Register creates a user on behalf of an authenticated requester. The
// requested roles are intersected with the requester's own roles so nobody
// can grant beyond what they hold. The new account starts with a random
// password and receives a confirmation email; the password is set through
// the reset flow.
func (s *AccountService) Register(ctx context.Context, requesterID string, req models.RegisterRequest, ip, userAgent string) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid register payload")
	}

	if _, err := s.users.FindByEmail(ctx, req.Email); err == nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}

	grantable, err := s.users.FindRolesByUserID(ctx, requesterID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load requester roles")
	}
	roles := intersectRoles(grantable, req.Roles)

	randomPassword, err := randomToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate password")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(randomPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: string(hash),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Active:       true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}

	if len(roles) > 0 {
		ids := make([]string, 0, len(roles))
		for _, role := range roles {
			ids = append(ids, role.ID)
		}
		if err := s.users.AssignRoles(ctx, user.ID, ids); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign roles")
		}
	}

	if err := s.sendConfirmationEmail(ctx, user); err != nil {
		s.logger.Warn("failed to queue confirmation email", zap.Error(err))
	}

	s.audit(ctx, user.ID, models.AuditActionRegister, ip, userAgent)
	return user, nil
}

// ConfirmEmail consumes a confirmation token and marks the address verified.
func (s *AccountService) ConfirmEmail(ctx context.Context, req models.ConfirmEmailRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid confirm email payload")
	}

	now := time.Now().UTC()
	if err := s.tokens.ConsumeUserToken(ctx, req.UserID, models.TokenPurposeEmailConfirmation, hashToken(req.Token), now); err != nil {
		if appErrors.Is(err, appErrors.ErrInvalidToken) {
			return appErrors.New(appErrors.ErrInvalidToken.Code, http.StatusBadRequest, "confirmation link is invalid or expired")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume token")
	}

	if err := s.users.ConfirmEmail(ctx, req.UserID, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm email")
	}
	s.audit(ctx, req.UserID, models.AuditActionEmailConfirmed, "", "")
	return nil
}

// ResendConfirmationEmail queues a fresh confirmation email for the given
// user. Unlike the forgot-password flow this endpoint sits behind a bearer
// token, so an unknown user id is reported rather than hidden.
func (s *AccountService) ResendConfirmationEmail(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if user.EmailConfirmed {
		return nil
	}
	if err := s.sendConfirmationEmail(ctx, user); err != nil {
		s.logger.Warn("failed to queue confirmation email", zap.Error(err))
	}
	return nil
}

// ForgotPassword queues a reset email. It succeeds regardless of whether
// the email exists; the reset mail only goes out to confirmed addresses.
func (s *AccountService) ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid forgot password payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}
	if !user.EmailConfirmed {
		return nil
	}

	token, err := s.issueUserToken(ctx, user.ID, models.TokenPurposePasswordReset, resetTokenExpiry)
	if err != nil {
		return err
	}

	resetURL := fmt.Sprintf("%s/reset-password?email=%s&code=%s",
		s.config.ClientURL, url.QueryEscape(user.Email), url.QueryEscape(token))
	html, err := mail.ResetPasswordEmailHTML(resetURL)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render email")
	}
	s.enqueueEmail(user.Email, mail.SubjectResetPassword, html)
	return nil
}

// ResetPassword consumes a reset code and sets the new password, revoking
// every refresh token so stolen sessions die with the old password.
func (s *AccountService) ResetPassword(ctx context.Context, req models.ResetPasswordRequest, ip string) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reset password payload")
	}

	user, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.New(appErrors.ErrInvalidToken.Code, http.StatusBadRequest, "reset code is invalid or expired")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch user")
	}

	now := time.Now().UTC()
	if err := s.tokens.ConsumeUserToken(ctx, user.ID, models.TokenPurposePasswordReset, hashToken(req.ResetCode), now); err != nil {
		if appErrors.Is(err, appErrors.ErrInvalidToken) {
			return appErrors.New(appErrors.ErrInvalidToken.Code, http.StatusBadRequest, "reset code is invalid or expired")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to consume token")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	if err := s.users.UpdatePassword(ctx, user.ID, string(hash), now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update password")
	}

	if err := s.tokens.RevokeUserRefreshTokens(ctx, user.ID, now, ip); err != nil {
		s.logger.Warn("failed to revoke refresh tokens after password reset", zap.Error(err))
	}
	s.audit(ctx, user.ID, models.AuditActionPasswordReset, ip, "")
	return nil
}

// IssueSession grants full access tokens to a user who just completed an
// MFA step outside the login flow, such as finishing enrollment.
func (s *AccountService) IssueSession(ctx context.Context, userID, ip, userAgent string) (*models.LoginOutcome, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "user no longer exists")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return s.grantFullAccess(ctx, user, ip, userAgent, time.Now().UTC())
}

func (s *AccountService) grantFullAccess(ctx context.Context, user *models.User, ip, userAgent string, now time.Time) (*models.LoginOutcome, error) {
	perms, err := s.permissionsFor(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	access, err := s.issuer.IssueAccessToken(user, perms, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue access token")
	}

	refresh, err := s.tokens.FindActiveRefreshToken(ctx, user.ID, now)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up refresh token")
		}
		refresh, err = s.issuer.NewRefreshToken(user.ID, ip, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
		}
		if err := s.tokens.CreateRefreshToken(ctx, refresh); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
		}
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.Warn("failed to update last login", zap.Error(err))
	}
	s.audit(ctx, user.ID, models.AuditActionLogin, ip, userAgent)

	return &models.LoginOutcome{
		Kind:         models.OutcomeFullAccess,
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (s *AccountService) permissionsFor(ctx context.Context, userID string) ([]models.Permission, error) {
	roles, err := s.users.FindRolesByUserID(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roles")
	}
	return models.PermissionUnion(roles), nil
}

func (s *AccountService) sendConfirmationEmail(ctx context.Context, user *models.User) error {
	token, err := s.issueUserToken(ctx, user.ID, models.TokenPurposeEmailConfirmation, confirmationTokenExpiry)
	if err != nil {
		return err
	}

	confirmURL := fmt.Sprintf("%s/confirm-email?userId=%s&token=%s",
		s.config.ClientURL, url.QueryEscape(user.ID), url.QueryEscape(token))
	html, err := mail.ConfirmationEmailHTML(user.FullName(), confirmURL)
	if err != nil {
		return fmt.Errorf("render confirmation email: %w", err)
	}
	s.enqueueEmail(user.Email, mail.SubjectConfirmEmail, html)
	return nil
}

func (s *AccountService) issueUserToken(ctx context.Context, userID string, purpose models.UserTokenPurpose, expiry time.Duration) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate token")
	}
	now := time.Now().UTC()
	record := &models.UserToken{
		UserID:    userID,
		Purpose:   purpose,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(expiry),
		CreatedAt: now,
	}
	if err := s.tokens.CreateUserToken(ctx, record); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store token")
	}
	return token, nil
}

func (s *AccountService) enqueueEmail(to, subject, html string) {
	if s.queue == nil {
		return
	}
	err := s.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    EmailJobType,
		Payload: EmailJob{To: to, Subject: subject, HTML: html},
	})
	if err != nil {
		s.logger.Warn("failed to enqueue email", zap.String("to", to), zap.Error(err))
	}
}

func (s *AccountService) checkLockout(ctx context.Context, email string) error {
	failures, err := s.attempts.LoginFailures(ctx, email)
	if err != nil {
		s.logger.Warn("failed to read login attempt counter", zap.Error(err))
		return nil
	}
	if failures >= int64(s.config.Lockout.MaxAttempts) {
		return appErrors.New(appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "too many failed login attempts, try again later")
	}
	return nil
}

func (s *AccountService) recordLoginFailure(ctx context.Context, email string) {
	if _, err := s.attempts.RecordLoginFailure(ctx, email, s.config.Lockout.Window); err != nil {
		s.logger.Warn("failed to record login failure", zap.Error(err))
	}
}

func (s *AccountService) clearLoginFailures(ctx context.Context, email string) {
	if err := s.attempts.ClearLoginFailures(ctx, email); err != nil {
		s.logger.Warn("failed to clear login attempt counter", zap.Error(err))
	}
}

func (s *AccountService) audit(ctx context.Context, userID, action, ip, userAgent string) {
	err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "auth",
		ResourceID: &userID,
		IPAddress:  ip,
		UserAgent:  userAgent,
	})
	if err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

// intersectRoles keeps only the requested roles the requester also holds.
func intersectRoles(grantable []models.Role, requested []string) []models.Role {
	allowed := make(map[string]models.Role, len(grantable))
	for _, role := range grantable {
		allowed[role.Name] = role
	}
	var out []models.Role
	seen := make(map[string]struct{})
	for _, name := range requested {
		role, ok := allowed[name]
		if !ok {
			continue
		}
		if _, dup := seen[role.ID]; dup {
			continue
		}
		seen[role.ID] = struct{}{}
		out = append(out, role)
	}
	return out
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
