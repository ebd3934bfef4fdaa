package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecrm/basecrm-api/internal/middleware"
	"github.com/basecrm/basecrm-api/internal/models"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
)

type mfaEnrollmentMock struct {
	enabled       bool
	setup         *models.MfaSetupResponse
	setupErr      error
	recoveryCodes []string
	enableErr     error
	disableErr    error
}

func (m *mfaEnrollmentMock) Status(ctx context.Context, userID string) (bool, error) {
	return m.enabled, nil
}

func (m *mfaEnrollmentMock) GenerateSetup(ctx context.Context, userID string) (*models.MfaSetupResponse, error) {
	if m.setupErr != nil {
		return nil, m.setupErr
	}
	return m.setup, nil
}

func (m *mfaEnrollmentMock) VerifyAndEnable(ctx context.Context, userID, code string) ([]string, error) {
	if m.enableErr != nil {
		return nil, m.enableErr
	}
	return m.recoveryCodes, nil
}

func (m *mfaEnrollmentMock) Disable(ctx context.Context, userID, code string) error {
	return m.disableErr
}

func (m *mfaEnrollmentMock) RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error) {
	if m.enableErr != nil {
		return nil, m.enableErr
	}
	return m.recoveryCodes, nil
}

type mfaSessionMock struct {
	outcome     *models.LoginOutcome
	completeErr error
	trustSeen   bool
}

func (m *mfaSessionMock) CompleteMFALogin(ctx context.Context, userID, code string, trustDevice bool, userAgent, ip string) (*models.LoginOutcome, error) {
	m.trustSeen = trustDevice
	if m.completeErr != nil {
		return nil, m.completeErr
	}
	return m.outcome, nil
}

func (m *mfaSessionMock) IssueSession(ctx context.Context, userID, ip, userAgent string) (*models.LoginOutcome, error) {
	return m.outcome, nil
}

type trustedDeviceMock struct {
	devices    []models.TrustedDevice
	trusted    bool
	untrustErr error
}

func (m *trustedDeviceMock) Trust(ctx context.Context, userID, userAgent, ip string) (*models.TrustedDevice, error) {
	m.trusted = true
	return &models.TrustedDevice{ID: "dev-1", UserID: userID}, nil
}

func (m *trustedDeviceMock) ListDevices(ctx context.Context, userID string) ([]models.TrustedDevice, error) {
	return m.devices, nil
}

func (m *trustedDeviceMock) Untrust(ctx context.Context, userID, deviceID string) error {
	return m.untrustErr
}

func fullOutcome() *models.LoginOutcome {
	return &models.LoginOutcome{
		Kind:        models.OutcomeFullAccess,
		AccessToken: "full-access",
		RefreshToken: &models.RefreshToken{
			Token:     "fresh-refresh",
			ExpiresAt: time.Now().Add(24 * time.Hour),
		},
	}
}

func newMfaRouter(enroll *mfaEnrollmentMock, session *mfaSessionMock, devices *trustedDeviceMock) *gin.Engine {
	gin.SetMode(gin.TestMode)
	auth := NewAuthHandler(&sessionServiceMock{}, nil, false)
	handler := NewMfaHandler(enroll, session, devices, nil, auth)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserKey, &models.AccessClaims{UserID: "user-1", FullName: "Jane Doe"})
	})
	router.GET("/api/v1/mfa", handler.Status)
	router.POST("/api/v1/mfa/setup", handler.Setup)
	router.POST("/api/v1/mfa", handler.Enable)
	router.DELETE("/api/v1/mfa", handler.Disable)
	router.POST("/api/v1/mfa/verify", handler.Verify)
	router.POST("/api/v1/mfa/verify/trust-device", handler.VerifyAndTrustDevice)
	router.POST("/api/v1/mfa/recovery-codes", handler.RegenerateRecoveryCodes)
	router.GET("/api/v1/mfa/devices", handler.Devices)
	router.DELETE("/api/v1/mfa/devices/:id", handler.UntrustDevice)
	return router
}

func TestMfaHandlerStatus(t *testing.T) {
	router := newMfaRouter(&mfaEnrollmentMock{enabled: true}, &mfaSessionMock{}, &trustedDeviceMock{})

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/mfa", nil)
	w := perform(router, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"enabled":true`)
}

func TestMfaHandlerSetup(t *testing.T) {
	enroll := &mfaEnrollmentMock{setup: &models.MfaSetupResponse{
		QRCode:    "otpauth://totp/BaseCRM:jane%40example.com?secret=ABC",
		ManualKey: "ABCD EFGH",
	}}
	router := newMfaRouter(enroll, &mfaSessionMock{}, &trustedDeviceMock{})

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/mfa/setup", nil)
	w := perform(router, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "otpauth://totp/")
}

func TestMfaHandlerSetupAlreadyEnabled(t *testing.T) {
	enroll := &mfaEnrollmentMock{setupErr: appErrors.Clone(appErrors.ErrConflict, "multi-factor authentication is already enabled")}
	router := newMfaRouter(enroll, &mfaSessionMock{}, &trustedDeviceMock{})

	req, _ := http.NewRequest(http.MethodPost, "/api/v1/mfa/setup", nil)
	w := perform(router, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestMfaHandlerEnableReturnsRecoveryCodesAndSession(t *testing.T) {
	enroll := &mfaEnrollmentMock{recoveryCodes: []string{"AAAAA-BBBBB", "CCCCC-DDDDD"}}
	session := &mfaSessionMock{outcome: fullOutcome()}
	devices := &trustedDeviceMock{}
	router := newMfaRouter(enroll, session, devices)

	w := postJSON(t, router, "/api/v1/mfa", gin.H{"code": "123456", "trustDevice": true})
	require.Equal(t, http.StatusOK, w.Code)

	cookie := refreshCookieFrom(t, w)
	require.NotNil(t, cookie)
	assert.Equal(t, "fresh-refresh", cookie.Value)
	assert.True(t, devices.trusted)

	var envelope struct {
		Data struct {
			AccessToken   string   `json:"accessToken"`
			RecoveryCodes []string `json:"recoveryCodes"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	assert.Equal(t, "full-access", envelope.Data.AccessToken)
	assert.Len(t, envelope.Data.RecoveryCodes, 2)
}

func TestMfaHandlerEnableWrongCode(t *testing.T) {
	enroll := &mfaEnrollmentMock{enableErr: appErrors.ErrInvalidMFACode}
	router := newMfaRouter(enroll, &mfaSessionMock{}, &trustedDeviceMock{})

	w := postJSON(t, router, "/api/v1/mfa", gin.H{"code": "000000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, refreshCookieFrom(t, w))
}

func TestMfaHandlerVerifyIssuesSession(t *testing.T) {
	session := &mfaSessionMock{outcome: fullOutcome()}
	router := newMfaRouter(&mfaEnrollmentMock{}, session, &trustedDeviceMock{})

	w := postJSON(t, router, "/api/v1/mfa/verify", gin.H{"code": "123456"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, session.trustSeen)

	cookie := refreshCookieFrom(t, w)
	require.NotNil(t, cookie)
	assert.Equal(t, "fresh-refresh", cookie.Value)
	assert.Contains(t, w.Body.String(), "full-access")
}

func TestMfaHandlerVerifyTrustDeviceForcesTrust(t *testing.T) {
	session := &mfaSessionMock{outcome: fullOutcome()}
	router := newMfaRouter(&mfaEnrollmentMock{}, session, &trustedDeviceMock{})

	w := postJSON(t, router, "/api/v1/mfa/verify/trust-device", gin.H{"code": "123456"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, session.trustSeen)
}

func TestMfaHandlerVerifyWrongCode(t *testing.T) {
	session := &mfaSessionMock{completeErr: appErrors.ErrInvalidMFACode}
	router := newMfaRouter(&mfaEnrollmentMock{}, session, &trustedDeviceMock{})

	w := postJSON(t, router, "/api/v1/mfa/verify", gin.H{"code": "000000"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Nil(t, refreshCookieFrom(t, w))
}

func TestMfaHandlerDisable(t *testing.T) {
	router := newMfaRouter(&mfaEnrollmentMock{}, &mfaSessionMock{}, &trustedDeviceMock{})

	req, _ := http.NewRequest(http.MethodDelete, "/api/v1/mfa", jsonBody(t, gin.H{"code": "123456"}))
	req.Header.Set("Content-Type", "application/json")
	w := perform(router, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMfaHandlerRegenerateRecoveryCodes(t *testing.T) {
	enroll := &mfaEnrollmentMock{recoveryCodes: []string{"EEEEE-FFFFF"}}
	router := newMfaRouter(enroll, &mfaSessionMock{}, &trustedDeviceMock{})

	w := postJSON(t, router, "/api/v1/mfa/recovery-codes", gin.H{"code": "123456"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "EEEEE-FFFFF")
}

func TestMfaHandlerDevices(t *testing.T) {
	name := "Windows PC - Chrome"
	devices := &trustedDeviceMock{devices: []models.TrustedDevice{
		{ID: "dev-1", UserID: "user-1", DeviceName: &name},
	}}
	router := newMfaRouter(&mfaEnrollmentMock{}, &mfaSessionMock{}, devices)

	req, _ := http.NewRequest(http.MethodGet, "/api/v1/mfa/devices", nil)
	w := perform(router, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Windows PC - Chrome")
}

func TestMfaHandlerUntrustUnknownDevice(t *testing.T) {
	devices := &trustedDeviceMock{untrustErr: appErrors.Clone(appErrors.ErrNotFound, "device not found")}
	router := newMfaRouter(&mfaEnrollmentMock{}, &mfaSessionMock{}, devices)

	req, _ := http.NewRequest(http.MethodDelete, "/api/v1/mfa/devices/dev-9", nil)
	w := perform(router, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
