package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/basecrm/basecrm-api/internal/models"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
	"github.com/basecrm/basecrm-api/pkg/jobs"
)

type mockAccountUserRepo struct {
	userByEmail   *models.User
	userByID      *models.User
	roles         []models.Role
	rolesByName   map[string]models.Role
	created       *models.User
	assignedRoles []string
	auditLogs     []*models.AuditLog
	lastLoginSet  bool
	passwordHash  string
	confirmed     bool
}

func (m *mockAccountUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.userByEmail == nil || m.userByEmail.Email != email {
		return nil, sql.ErrNoRows
	}
	return m.userByEmail, nil
}

func (m *mockAccountUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	if m.userByID != nil && m.userByID.ID == id {
		return m.userByID, nil
	}
	if m.userByEmail != nil && m.userByEmail.ID == id {
		return m.userByEmail, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAccountUserRepo) Create(ctx context.Context, user *models.User) error {
	user.ID = "new-user"
	m.created = user
	return nil
}

func (m *mockAccountUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	m.lastLoginSet = true
	return nil
}

func (m *mockAccountUserRepo) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	m.passwordHash = passwordHash
	return nil
}

func (m *mockAccountUserRepo) ConfirmEmail(ctx context.Context, id string, ts time.Time) error {
	m.confirmed = true
	return nil
}

func (m *mockAccountUserRepo) FindRolesByUserID(ctx context.Context, userID string) ([]models.Role, error) {
	return m.roles, nil
}

func (m *mockAccountUserRepo) FindRolesByNames(ctx context.Context, names []string) ([]models.Role, error) {
	var out []models.Role
	for _, name := range names {
		if role, ok := m.rolesByName[name]; ok {
			out = append(out, role)
		}
	}
	return out, nil
}

func (m *mockAccountUserRepo) AssignRoles(ctx context.Context, userID string, roleIDs []string) error {
	m.assignedRoles = append(m.assignedRoles, roleIDs...)
	return nil
}

func (m *mockAccountUserRepo) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.auditLogs = append(m.auditLogs, log)
	return nil
}

type mockAccountTokenRepo struct {
	refreshTokens map[string]*models.RefreshToken
	active        *models.RefreshToken
	userTokens    map[string]*models.UserToken
	revokedAll    bool
	rotatedFrom   string
}

func newMockAccountTokenRepo() *mockAccountTokenRepo {
	return &mockAccountTokenRepo{
		refreshTokens: map[string]*models.RefreshToken{},
		userTokens:    map[string]*models.UserToken{},
	}
}

func (m *mockAccountTokenRepo) CreateRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	m.refreshTokens[token.Token] = token
	return nil
}

func (m *mockAccountTokenRepo) FindRefreshToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := m.refreshTokens[token]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return rt, nil
}

func (m *mockAccountTokenRepo) FindActiveRefreshToken(ctx context.Context, userID string, now time.Time) (*models.RefreshToken, error) {
	if m.active == nil || !m.active.Usable(now) {
		return nil, sql.ErrNoRows
	}
	return m.active, nil
}

func (m *mockAccountTokenRepo) RevokeRefreshToken(ctx context.Context, token string, revokedAt time.Time, revokedByIP string) error {
	rt, ok := m.refreshTokens[token]
	if !ok || rt.RevokedAt != nil {
		return appErrors.ErrTokenRevoked
	}
	rt.RevokedAt = &revokedAt
	return nil
}

func (m *mockAccountTokenRepo) RotateRefreshToken(ctx context.Context, oldToken string, replacement *models.RefreshToken, rotatedAt time.Time, ip string) error {
	rt, ok := m.refreshTokens[oldToken]
	if !ok || rt.RevokedAt != nil {
		return appErrors.ErrTokenRevoked
	}
	rt.RevokedAt = &rotatedAt
	rt.ReplacedByToken = &replacement.Token
	m.refreshTokens[replacement.Token] = replacement
	m.rotatedFrom = oldToken
	return nil
}

func (m *mockAccountTokenRepo) RevokeUserRefreshTokens(ctx context.Context, userID string, revokedAt time.Time, revokedByIP string) error {
	m.revokedAll = true
	return nil
}

func (m *mockAccountTokenRepo) CreateUserToken(ctx context.Context, token *models.UserToken) error {
	m.userTokens[token.TokenHash] = token
	return nil
}

func (m *mockAccountTokenRepo) ConsumeUserToken(ctx context.Context, userID string, purpose models.UserTokenPurpose, tokenHash string, now time.Time) error {
	ut, ok := m.userTokens[tokenHash]
	if !ok || ut.Purpose != purpose || ut.ConsumedAt != nil || now.After(ut.ExpiresAt) {
		return appErrors.ErrInvalidToken
	}
	ut.ConsumedAt = &now
	return nil
}

type mockTrustChecker struct {
	trusted      bool
	trustCalled  bool
	trustedAgent string
}

func (m *mockTrustChecker) IsTrusted(ctx context.Context, userID, userAgent, ip string) (bool, error) {
	return m.trusted, nil
}

func (m *mockTrustChecker) Trust(ctx context.Context, userID, userAgent, ip string) (*models.TrustedDevice, error) {
	m.trustCalled = true
	m.trustedAgent = userAgent
	return &models.TrustedDevice{ID: "d1", UserID: userID}, nil
}

type mockVerifier struct {
	codeErr     error
	recoveryErr error
	lastCode    string
}

func (m *mockVerifier) VerifyCode(ctx context.Context, userID, code string) error {
	m.lastCode = code
	return m.codeErr
}

func (m *mockVerifier) VerifyRecoveryCode(ctx context.Context, userID, code string) error {
	return m.recoveryErr
}

type mockQueue struct {
	jobs []jobs.Job
}

func (m *mockQueue) Enqueue(job jobs.Job) error {
	m.jobs = append(m.jobs, job)
	return nil
}

type accountFixture struct {
	svc      *AccountService
	users    *mockAccountUserRepo
	tokens   *mockAccountTokenRepo
	attempts *mockAttemptRepo
	trust    *mockTrustChecker
	verifier *mockVerifier
	queue    *mockQueue
}

func newAccountFixture(t *testing.T, user *models.User) *accountFixture {
	t.Helper()
	issuer, err := NewTokenService(testJWTConfig(), nil)
	require.NoError(t, err)

	f := &accountFixture{
		users:    &mockAccountUserRepo{userByEmail: user, userByID: user},
		tokens:   newMockAccountTokenRepo(),
		attempts: &mockAttemptRepo{},
		trust:    &mockTrustChecker{},
		verifier: &mockVerifier{},
		queue:    &mockQueue{},
	}
	f.svc = NewAccountService(
		f.users, f.tokens, f.attempts, f.trust, f.verifier, issuer, f.queue,
		validator.New(), zap.NewNop(),
		AccountConfig{ClientURL: "https://app.example.com"},
	)
	return f
}

func activeUser(t *testing.T, mfaEnabled bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.DefaultCost)
	require.NoError(t, err)
	return &models.User{
		ID:           "u1",
		Email:        "jane@example.com",
		PasswordHash: string(hash),
		FirstName:    "Jane",
		LastName:     "Doe",
		Active:       true,
		MFAEnabled:   mfaEnabled,
	}
}

func loginReq() models.LoginRequest {
	return models.LoginRequest{Email: "jane@example.com", Password: "password", IP: "10.0.0.1", UserAgent: "agent"}
}

func TestLoginMFADisabled(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, false))

	outcome, err := f.svc.Login(context.Background(), loginReq())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMFASetupRequired, outcome.Kind)
	assert.Empty(t, outcome.AccessToken)
	assert.Nil(t, outcome.RefreshToken)
	require.NotEmpty(t, outcome.ScopedToken)

	claims, err := f.svc.issuer.ValidateAccessToken(outcome.ScopedToken)
	require.NoError(t, err)
	assert.True(t, claims.Restricted())
}

func TestLoginMFAEnabledUntrustedDevice(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, true))
	f.trust.trusted = false

	outcome, err := f.svc.Login(context.Background(), loginReq())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeMFAVerificationRequired, outcome.Kind)
	assert.NotEmpty(t, outcome.ScopedToken)
	assert.Empty(t, outcome.AccessToken)
}

func TestLoginMFAEnabledTrustedDevice(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, true))
	f.trust.trusted = true
	f.users.roles = []models.Role{{ID: "r1", Name: "Admin", Permissions: "AddUser,ViewUser"}}

	outcome, err := f.svc.Login(context.Background(), loginReq())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFullAccess, outcome.Kind)
	require.NotNil(t, outcome.RefreshToken)
	assert.True(t, f.users.lastLoginSet)
	assert.Len(t, f.tokens.refreshTokens, 1)

	claims, err := f.svc.issuer.ValidateAccessToken(outcome.AccessToken)
	require.NoError(t, err)
	assert.False(t, claims.Restricted())
	assert.Equal(t, []string{"AddUser", "ViewUser"}, PermissionNames(claims))
}

func TestLoginReusesActiveRefreshToken(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, true))
	f.trust.trusted = true
	f.tokens.active = &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "existing", ExpiresAt: time.Now().Add(time.Hour)}

	outcome, err := f.svc.Login(context.Background(), loginReq())
	require.NoError(t, err)
	assert.Equal(t, "existing", outcome.RefreshToken.Token)
	assert.Empty(t, f.tokens.refreshTokens)
}

func TestLoginWrongPassword(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, false))

	req := loginReq()
	req.Password = "wrong"
	_, err := f.svc.Login(context.Background(), req)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
	assert.Equal(t, int64(1), f.attempts.loginFailures)
}

func TestLoginUnknownEmailSameError(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, false))

	req := loginReq()
	req.Email = "nobody@example.com"
	_, err := f.svc.Login(context.Background(), req)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestLoginLockedOut(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, false))
	f.attempts.loginFailures = 5

	_, err := f.svc.Login(context.Background(), loginReq())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestCompleteMFALoginTrustsDevice(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, true))

	outcome, err := f.svc.CompleteMFALogin(context.Background(), "u1", "123456", true, "agent", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFullAccess, outcome.Kind)
	assert.True(t, f.trust.trustCalled)
	assert.NotEmpty(t, outcome.AccessToken)
	require.NotNil(t, outcome.RefreshToken)
}

func TestCompleteMFALoginFallsBackToRecoveryCode(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, true))
	f.verifier.codeErr = appErrors.ErrInvalidMFACode
	f.verifier.recoveryErr = nil

	outcome, err := f.svc.CompleteMFALogin(context.Background(), "u1", "K7QX3-M2PWH", false, "agent", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFullAccess, outcome.Kind)
}

func TestCompleteMFALoginBothCodesInvalid(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, true))
	f.verifier.codeErr = appErrors.ErrInvalidMFACode
	f.verifier.recoveryErr = appErrors.ErrInvalidMFACode

	_, err := f.svc.CompleteMFALogin(context.Background(), "u1", "000000", false, "agent", "10.0.0.1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidMFACode))
}

func TestRefreshReusesValidToken(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, true))
	f.tokens.refreshTokens["valid"] = &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "valid", ExpiresAt: time.Now().Add(time.Hour)}

	access, refresh, err := f.svc.Refresh(context.Background(), "valid", "10.0.0.2")
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.Equal(t, "valid", refresh.Token)
	assert.Empty(t, f.tokens.rotatedFrom)
}

func TestRefreshRotatesExpiredToken(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, true))
	f.tokens.refreshTokens["expired"] = &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "expired", ExpiresAt: time.Now().Add(-time.Hour)}

	access, refresh, err := f.svc.Refresh(context.Background(), "expired", "10.0.0.2")
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEqual(t, "expired", refresh.Token)
	assert.Equal(t, "expired", f.tokens.rotatedFrom)

	old := f.tokens.refreshTokens["expired"]
	require.NotNil(t, old.ReplacedByToken)
	assert.Equal(t, refresh.Token, *old.ReplacedByToken)
}

func TestRefreshRevokedToken(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, true))
	revoked := time.Now().Add(-time.Minute)
	f.tokens.refreshTokens["revoked"] = &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "revoked", ExpiresAt: time.Now().Add(time.Hour), RevokedAt: &revoked}

	_, _, err := f.svc.Refresh(context.Background(), "revoked", "10.0.0.2")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrTokenRevoked))
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, true))
	f.tokens.refreshTokens["tok"] = &models.RefreshToken{ID: "rt1", UserID: "u1", Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}

	require.NoError(t, f.svc.Revoke(context.Background(), "tok", "10.0.0.1"))
	require.NoError(t, f.svc.Revoke(context.Background(), "tok", "10.0.0.1"))
	require.NoError(t, f.svc.Revoke(context.Background(), "never-existed", "10.0.0.1"))
}

func TestRegisterIntersectsRoles(t *testing.T) {
	requester := activeUser(t, true)
	f := newAccountFixture(t, requester)
	f.users.roles = []models.Role{
		{ID: "r1", Name: "Sales", Permissions: "ViewUser"},
		{ID: "r2", Name: "Support", Permissions: "ViewUser"},
	}

	req := models.RegisterRequest{
		FirstName: "New",
		LastName:  "Hire",
		Email:     "new@example.com",
		Roles:     []string{"Sales", "Director"},
	}
	user, err := f.svc.Register(context.Background(), requester.ID, req, "10.0.0.1", "agent")
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", user.Email)
	// Director is not held by the requester, so only Sales survives.
	assert.Equal(t, []string{"r1"}, f.users.assignedRoles)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, EmailJobType, f.queue.jobs[0].Type)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	user := activeUser(t, false)
	f := newAccountFixture(t, user)

	req := models.RegisterRequest{FirstName: "Jane", Email: user.Email}
	_, err := f.svc.Register(context.Background(), "admin", req, "", "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestForgotPasswordUnknownEmailSucceeds(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, false))

	err := f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "nobody@example.com"})
	require.NoError(t, err)
	assert.Empty(t, f.queue.jobs)
}

func TestForgotPasswordUnconfirmedEmailSilent(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, false))

	err := f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: "jane@example.com"})
	require.NoError(t, err)
	assert.Empty(t, f.queue.jobs)
}

func TestForgotAndResetPassword(t *testing.T) {
	user := activeUser(t, false)
	user.EmailConfirmed = true
	f := newAccountFixture(t, user)

	require.NoError(t, f.svc.ForgotPassword(context.Background(), models.ForgotPasswordRequest{Email: user.Email}))
	require.Len(t, f.queue.jobs, 1)
	require.Len(t, f.tokens.userTokens, 1)

	var issued *models.UserToken
	for _, ut := range f.tokens.userTokens {
		issued = ut
	}
	assert.Equal(t, models.TokenPurposePasswordReset, issued.Purpose)

	// The plain token only travels in the email, so exercise one-time
	// consumption through the repository contract directly.
	now := time.Now().UTC()
	require.NoError(t, f.tokens.ConsumeUserToken(context.Background(), user.ID, models.TokenPurposePasswordReset, issued.TokenHash, now))
	err := f.tokens.ConsumeUserToken(context.Background(), user.ID, models.TokenPurposePasswordReset, issued.TokenHash, now)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
}

func TestResetPasswordInvalidCode(t *testing.T) {
	user := activeUser(t, false)
	f := newAccountFixture(t, user)

	req := models.ResetPasswordRequest{Email: user.Email, ResetCode: "bogus", NewPassword: "brand-new-password"}
	err := f.svc.ResetPassword(context.Background(), req, "10.0.0.1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
	assert.False(t, f.tokens.revokedAll)
}

func TestConfirmEmailInvalidToken(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, false))

	err := f.svc.ConfirmEmail(context.Background(), models.ConfirmEmailRequest{UserID: "u1", Token: "bogus"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidToken))
	assert.False(t, f.users.confirmed)
}

func TestResendConfirmationAlreadyConfirmed(t *testing.T) {
	user := activeUser(t, false)
	user.EmailConfirmed = true
	f := newAccountFixture(t, user)

	require.NoError(t, f.svc.ResendConfirmationEmail(context.Background(), user.ID))
	assert.Empty(t, f.queue.jobs)
}

func TestResendConfirmationQueuesEmail(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, false))

	require.NoError(t, f.svc.ResendConfirmationEmail(context.Background(), "u1"))
	require.Len(t, f.queue.jobs, 1)
}

func TestResendConfirmationUnknownUser(t *testing.T) {
	f := newAccountFixture(t, activeUser(t, false))

	err := f.svc.ResendConfirmationEmail(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	assert.Empty(t, f.queue.jobs)
}
