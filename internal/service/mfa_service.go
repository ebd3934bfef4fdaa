package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/basecrm/basecrm-api/internal/models"
	"github.com/basecrm/basecrm-api/pkg/config"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
	"github.com/basecrm/basecrm-api/pkg/totp"
)

type mfaUserRepository interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	SetMFASecret(ctx context.Context, id, secret string, ts time.Time) error
	EnableMFA(ctx context.Context, id string, ts time.Time) error
	DisableMFA(ctx context.Context, id string, ts time.Time) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type recoveryCodeRepository interface {
	ReplaceRecoveryCodes(ctx context.Context, userID string, codeHashes []string) error
	ConsumeRecoveryCode(ctx context.Context, userID, codeHash string, now time.Time) error
	DeleteRecoveryCodes(ctx context.Context, userID string) error
}

type mfaAttemptRepository interface {
	RecordMFAFailure(ctx context.Context, userID string, window time.Duration) (int64, error)
	MFAFailures(ctx context.Context, userID string) (int64, error)
	ClearMFAFailures(ctx context.Context, userID string) error
}

var sixDigits = regexp.MustCompile(`^[0-9]{6}$`)

// NormalizeCode strips the separators authenticator apps display. Anything
// other than exactly six digits after stripping is rejected upstream.
func NormalizeCode(code string) string {
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	return code
}

// MfaService handles TOTP enrollment, verification and recovery codes.
// Verification attempts are rate limited through Redis so a stolen scoped
// token cannot be used to brute force the six digit space.
type MfaService struct {
	users    mfaUserRepository
	codes    recoveryCodeRepository
	attempts mfaAttemptRepository
	devices  deviceRepository
	logger   *zap.Logger
	config   config.MFAConfig
}

// NewMfaService constructs an MfaService instance.
func NewMfaService(users mfaUserRepository, codes recoveryCodeRepository, attempts mfaAttemptRepository, devices deviceRepository, logger *zap.Logger, cfg config.MFAConfig) *MfaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RecoveryCodeCount <= 0 {
		cfg.RecoveryCodeCount = 10
	}
	if cfg.MaxVerifyAttempts <= 0 {
		cfg.MaxVerifyAttempts = 5
	}
	if cfg.VerifyWindow <= 0 {
		cfg.VerifyWindow = 15 * time.Minute
	}
	return &MfaService{users: users, codes: codes, attempts: attempts, devices: devices, logger: logger, config: cfg}
}

// Status reports whether MFA is enabled for the user.
func (s *MfaService) Status(ctx context.Context, userID string) (bool, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.MFAEnabled, nil
}

// GenerateSetup creates a fresh TOTP secret for the user and returns the
// provisioning material. The secret is stored immediately but MFA stays
// disabled until VerifyAndEnable proves the authenticator was enrolled.
// Calling it again before enabling replaces the pending secret.
func (s *MfaService) GenerateSetup(ctx context.Context, userID string) (*models.MfaSetupResponse, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "mfa is already enabled")
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate mfa secret")
	}

	if err := s.users.SetMFASecret(ctx, user.ID, secret, time.Now().UTC()); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store mfa secret")
	}

	return &models.MfaSetupResponse{
		QRCode:    totp.ProvisionURI(s.config.Issuer, user.Email, secret),
		ManualKey: totp.FormatManualKey(secret),
	}, nil
}

// VerifyAndEnable checks the enrollment code against the pending secret,
// enables MFA and returns a fresh batch of recovery codes in plain text.
// This is the only time the codes are visible.
func (s *MfaService) VerifyAndEnable(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, appErrors.Clone(appErrors.ErrConflict, "mfa is already enabled")
	}
	if user.MFASecret == "" {
		return nil, appErrors.Clone(appErrors.ErrMFANotEnabled, "mfa setup has not been started")
	}

	if err := s.checkCode(ctx, user, code); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := s.users.EnableMFA(ctx, user.ID, now); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enable mfa")
	}

	plain, hashes, err := s.generateRecoveryCodes()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate recovery codes")
	}
	if err := s.codes.ReplaceRecoveryCodes(ctx, user.ID, hashes); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store recovery codes")
	}

	s.audit(ctx, user.ID, models.AuditActionMFAEnabled)
	return plain, nil
}

// VerifyCode checks a TOTP code for a user with MFA enabled.
func (s *MfaService) VerifyCode(ctx context.Context, userID, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return appErrors.Clone(appErrors.ErrMFANotEnabled, "")
	}
	return s.checkCode(ctx, user, code)
}

// VerifyRecoveryCode consumes a one-time recovery code in place of a TOTP
// code. Each code works exactly once.
func (s *MfaService) VerifyRecoveryCode(ctx context.Context, userID, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return appErrors.Clone(appErrors.ErrMFANotEnabled, "")
	}

	if err := s.rateLimit(ctx, user.ID); err != nil {
		return err
	}

	digest := hashRecoveryCode(code)
	if err := s.codes.ConsumeRecoveryCode(ctx, user.ID, digest, time.Now().UTC()); err != nil {
		if appErrors.Is(err, appErrors.ErrInvalidMFACode) {
			s.recordFailure(ctx, user.ID)
			return appErrors.Clone(appErrors.ErrInvalidMFACode, "invalid recovery code")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify recovery code")
	}

	s.clearFailures(ctx, user.ID)
	return nil
}

// Disable turns MFA off after a final code check, clearing the recovery
// codes and every trusted device. The secret survives so a later re-enable
// starts from a fresh setup rather than a half-cleared state.
func (s *MfaService) Disable(ctx context.Context, userID, code string) error {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return appErrors.Clone(appErrors.ErrMFANotEnabled, "")
	}

	if err := s.checkCode(ctx, user, code); err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := s.users.DisableMFA(ctx, user.ID, now); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to disable mfa")
	}
	if err := s.codes.DeleteRecoveryCodes(ctx, user.ID); err != nil {
		s.logger.Warn("failed to delete recovery codes", zap.Error(err))
	}
	if err := s.devices.DeleteByUser(ctx, user.ID); err != nil {
		s.logger.Warn("failed to delete trusted devices", zap.Error(err))
	}

	s.audit(ctx, user.ID, models.AuditActionMFADisabled)
	return nil
}

// RegenerateRecoveryCodes replaces the user's recovery codes after a code
// check and returns the new plain-text batch.
func (s *MfaService) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MFAEnabled {
		return nil, appErrors.Clone(appErrors.ErrMFANotEnabled, "")
	}
	if err := s.checkCode(ctx, user, code); err != nil {
		return nil, err
	}

	plain, hashes, err := s.generateRecoveryCodes()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate recovery codes")
	}
	if err := s.codes.ReplaceRecoveryCodes(ctx, user.ID, hashes); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store recovery codes")
	}
	return plain, nil
}

func (s *MfaService) checkCode(ctx context.Context, user *models.User, code string) error {
	if err := s.rateLimit(ctx, user.ID); err != nil {
		return err
	}

	code = NormalizeCode(code)
	if !sixDigits.MatchString(code) {
		s.logger.Debug("rejected malformed mfa code", zap.String("user_id", user.ID))
		s.recordFailure(ctx, user.ID)
		return appErrors.Clone(appErrors.ErrInvalidMFACode, "")
	}

	ok, err := totp.Verify(user.MFASecret, code, time.Now().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to verify code")
	}
	if !ok {
		s.recordFailure(ctx, user.ID)
		return appErrors.Clone(appErrors.ErrInvalidMFACode, "")
	}

	s.clearFailures(ctx, user.ID)
	return nil
}

func (s *MfaService) rateLimit(ctx context.Context, userID string) error {
	failures, err := s.attempts.MFAFailures(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to read mfa attempt counter", zap.Error(err))
		return nil
	}
	if failures >= int64(s.config.MaxVerifyAttempts) {
		return appErrors.New(appErrors.ErrForbidden.Code, appErrors.ErrForbidden.Status, "too many failed attempts, try again later")
	}
	return nil
}

func (s *MfaService) recordFailure(ctx context.Context, userID string) {
	if _, err := s.attempts.RecordMFAFailure(ctx, userID, s.config.VerifyWindow); err != nil {
		s.logger.Warn("failed to record mfa failure", zap.Error(err))
	}
}

func (s *MfaService) clearFailures(ctx context.Context, userID string) {
	if err := s.attempts.ClearMFAFailures(ctx, userID); err != nil {
		s.logger.Warn("failed to clear mfa attempt counter", zap.Error(err))
	}
}

func (s *MfaService) audit(ctx context.Context, userID, action string) {
	err := s.users.CreateAuditLog(ctx, &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "mfa",
		ResourceID: &userID,
	})
	if err != nil {
		s.logger.Warn("failed to record audit log", zap.String("action", action), zap.Error(err))
	}
}

func (s *MfaService) loadUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

func (s *MfaService) generateRecoveryCodes() ([]string, []string, error) {
	plain := make([]string, 0, s.config.RecoveryCodeCount)
	hashes := make([]string, 0, s.config.RecoveryCodeCount)
	for i := 0; i < s.config.RecoveryCodeCount; i++ {
		code, err := newRecoveryCode()
		if err != nil {
			return nil, nil, err
		}
		plain = append(plain, code)
		hashes = append(hashes, hashRecoveryCode(code))
	}
	return plain, hashes, nil
}

// newRecoveryCode yields a code like "K7QX3-M2PWH": ten base32 characters
// split for readability.
func newRecoveryCode() (string, error) {
	buf := make([]byte, 7)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate recovery code: %w", err)
	}
	raw := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)[:10]
	return raw[:5] + "-" + raw[5:], nil
}

func hashRecoveryCode(code string) string {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(code), "-", ""))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
