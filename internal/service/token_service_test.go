package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecrm/basecrm-api/internal/models"
	"github.com/basecrm/basecrm-api/pkg/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:             "test-secret",
		Issuer:             "basecrm",
		Audience:           "basecrm-clients",
		AccessTokenExpiry:  5 * time.Minute,
		ScopedTokenExpiry:  15 * time.Minute,
		RefreshTokenExpiry: 7 * 24 * time.Hour,
	}
}

func TestNewTokenServiceRequiresSecret(t *testing.T) {
	_, err := NewTokenService(config.JWTConfig{}, nil)
	require.Error(t, err)
}

func TestIssueAndValidateAccessToken(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), nil)
	require.NoError(t, err)

	user := &models.User{ID: "u1", FirstName: "Jane", LastName: "Doe"}
	token, err := svc.IssueAccessToken(user, []models.Permission{models.PermAddUser, models.PermViewUser}, time.Now().UTC())
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "Jane Doe", claims.FullName)
	assert.False(t, claims.Restricted())
	assert.Equal(t, []string{"AddUser", "ViewUser"}, PermissionNames(claims))
}

func TestIssueScopedToken(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), nil)
	require.NoError(t, err)

	user := &models.User{ID: "u1", FirstName: "Jane"}
	token, err := svc.IssueScopedToken(user, time.Now().UTC())
	require.NoError(t, err)

	claims, err := svc.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.True(t, claims.Restricted())
	assert.Equal(t, models.ScopeMFAVerification, claims.Scope)
	assert.Empty(t, PermissionNames(claims))
}

func TestValidateAccessTokenExpired(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), nil)
	require.NoError(t, err)

	user := &models.User{ID: "u1"}
	token, err := svc.IssueAccessToken(user, nil, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)

	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateAccessTokenWrongSecret(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), nil)
	require.NoError(t, err)
	user := &models.User{ID: "u1"}
	token, err := svc.IssueAccessToken(user, nil, time.Now().UTC())
	require.NoError(t, err)

	otherCfg := testJWTConfig()
	otherCfg.Secret = "different-secret"
	other, err := NewTokenService(otherCfg, nil)
	require.NoError(t, err)

	_, err = other.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestValidateAccessTokenForeignIssuerOrAudience(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), nil)
	require.NoError(t, err)
	user := &models.User{ID: "u1"}

	foreignIssuer := testJWTConfig()
	foreignIssuer.Issuer = "evil-issuer"
	issuerSvc, err := NewTokenService(foreignIssuer, nil)
	require.NoError(t, err)
	token, err := issuerSvc.IssueAccessToken(user, nil, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)

	foreignAudience := testJWTConfig()
	foreignAudience.Audience = "other-service"
	audienceSvc, err := NewTokenService(foreignAudience, nil)
	require.NoError(t, err)
	token, err = audienceSvc.IssueAccessToken(user, nil, time.Now().UTC())
	require.NoError(t, err)
	_, err = svc.ValidateAccessToken(token)
	require.Error(t, err)
}

func TestAccessTokenHasUniqueID(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), nil)
	require.NoError(t, err)
	user := &models.User{ID: "u1"}

	first, err := svc.IssueAccessToken(user, nil, time.Now().UTC())
	require.NoError(t, err)
	second, err := svc.IssueAccessToken(user, nil, time.Now().UTC())
	require.NoError(t, err)

	firstClaims, err := svc.ValidateAccessToken(first)
	require.NoError(t, err)
	secondClaims, err := svc.ValidateAccessToken(second)
	require.NoError(t, err)
	assert.NotEmpty(t, firstClaims.ID)
	assert.NotEqual(t, firstClaims.ID, secondClaims.ID)
}

func TestNewRefreshToken(t *testing.T) {
	svc, err := NewTokenService(testJWTConfig(), nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	first, err := svc.NewRefreshToken("u1", "10.0.0.1", now)
	require.NoError(t, err)
	second, err := svc.NewRefreshToken("u1", "10.0.0.1", now)
	require.NoError(t, err)

	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, "u1", first.UserID)
	assert.Equal(t, "10.0.0.1", first.CreatedByIP)
	assert.Equal(t, now.Add(7*24*time.Hour), first.ExpiresAt)
	assert.True(t, first.Usable(now))
	// 64 bytes of entropy encode to 88 base64 characters.
	assert.Len(t, first.Token, 88)
}
