package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/basecrm/basecrm-api/internal/models"
	"github.com/basecrm/basecrm-api/internal/service"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
	"github.com/basecrm/basecrm-api/pkg/response"
)

type mfaEnrollmentService interface {
	Status(ctx context.Context, userID string) (bool, error)
	GenerateSetup(ctx context.Context, userID string) (*models.MfaSetupResponse, error)
	VerifyAndEnable(ctx context.Context, userID, code string) ([]string, error)
	Disable(ctx context.Context, userID, code string) error
	RegenerateRecoveryCodes(ctx context.Context, userID, code string) ([]string, error)
}

type mfaSessionService interface {
	CompleteMFALogin(ctx context.Context, userID, code string, trustDevice bool, userAgent, ip string) (*models.LoginOutcome, error)
	IssueSession(ctx context.Context, userID, ip, userAgent string) (*models.LoginOutcome, error)
}

type trustedDeviceService interface {
	Trust(ctx context.Context, userID, userAgent, ip string) (*models.TrustedDevice, error)
	ListDevices(ctx context.Context, userID string) ([]models.TrustedDevice, error)
	Untrust(ctx context.Context, userID, deviceID string) error
}

// MfaHandler wires the MFA enrollment, verification and device endpoints.
// All routes require a token; scoped tokens are admitted by the access gate
// so a user mid-login can finish the challenge.
type MfaHandler struct {
	mfa      mfaEnrollmentService
	accounts mfaSessionService
	devices  trustedDeviceService
	metrics  *service.MetricsService
	auth     *AuthHandler
}

// NewMfaHandler creates a new handler. The auth handler is shared so both
// emit the refresh cookie the same way.
func NewMfaHandler(mfa mfaEnrollmentService, accounts mfaSessionService, devices trustedDeviceService, metrics *service.MetricsService, auth *AuthHandler) *MfaHandler {
	return &MfaHandler{mfa: mfa, accounts: accounts, devices: devices, metrics: metrics, auth: auth}
}

// Status godoc
// @Summary MFA status
// @Description Report whether MFA is enabled for the current user
// @Tags MFA
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /mfa [get]
func (h *MfaHandler) Status(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	enabled, err := h.mfa.Status(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"enabled": enabled}, nil)
}

// Setup godoc
// @Summary Begin MFA enrollment
// @Description Generate a TOTP secret and return provisioning material
// @Tags MFA
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /mfa/setup [post]
func (h *MfaHandler) Setup(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	setup, err := h.mfa.GenerateSetup(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, setup, nil)
}

// Enable godoc
// @Summary Complete MFA enrollment
// @Description Verify the first authenticator code, enable MFA and return recovery codes plus a full session
// @Tags MFA
// @Accept json
// @Produce json
// @Param payload body models.MfaVerifyRequest true "Verification payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /mfa [post]
func (h *MfaHandler) Enable(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.MfaVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	recoveryCodes, err := h.mfa.VerifyAndEnable(c.Request.Context(), claims.UserID, req.Code)
	if err != nil {
		h.metrics.RecordMFAChallenge(false)
		response.Error(c, err)
		return
	}
	h.metrics.RecordMFAChallenge(true)

	if req.TrustDevice {
		if _, err := h.devices.Trust(c.Request.Context(), claims.UserID, c.GetHeader("User-Agent"), c.ClientIP()); err != nil {
			response.Error(c, err)
			return
		}
	}

	outcome, err := h.accounts.IssueSession(c.Request.Context(), claims.UserID, c.ClientIP(), c.GetHeader("User-Agent"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.auth.setRefreshCookie(c, outcome.RefreshToken)

	response.JSON(c, http.StatusOK, gin.H{
		"accessToken":   outcome.AccessToken,
		"recoveryCodes": recoveryCodes,
	}, nil)
}

// Disable godoc
// @Summary Disable MFA
// @Description Turn MFA off after a final code check; clears recovery codes and trusted devices
// @Tags MFA
// @Accept json
// @Produce json
// @Param payload body models.MfaVerifyRequest true "Verification payload"
// @Success 204 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /mfa [delete]
func (h *MfaHandler) Disable(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.MfaVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.mfa.Disable(c.Request.Context(), claims.UserID, req.Code); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Verify godoc
// @Summary Verify MFA code
// @Description Complete the login challenge with a TOTP or recovery code
// @Tags MFA
// @Accept json
// @Produce json
// @Param payload body models.MfaVerifyRequest true "Verification payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /mfa/verify [post]
func (h *MfaHandler) Verify(c *gin.Context) {
	h.verify(c, false)
}

// VerifyAndTrustDevice godoc
// @Summary Verify MFA code and trust device
// @Description Complete the login challenge and skip it on this device in the future
// @Tags MFA
// @Accept json
// @Produce json
// @Param payload body models.MfaVerifyRequest true "Verification payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /mfa/verify/trust-device [post]
func (h *MfaHandler) VerifyAndTrustDevice(c *gin.Context) {
	h.verify(c, true)
}

func (h *MfaHandler) verify(c *gin.Context, forceTrust bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.MfaVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	trust := forceTrust || req.TrustDevice

	outcome, err := h.accounts.CompleteMFALogin(c.Request.Context(), claims.UserID, req.Code, trust, c.GetHeader("User-Agent"), c.ClientIP())
	if err != nil {
		h.metrics.RecordMFAChallenge(false)
		response.Error(c, err)
		return
	}
	h.metrics.RecordMFAChallenge(true)

	h.auth.setRefreshCookie(c, outcome.RefreshToken)
	response.JSON(c, http.StatusOK, gin.H{"verified": true, "accessToken": outcome.AccessToken}, nil)
}

// Devices godoc
// @Summary List trusted devices
// @Tags MFA
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /mfa/devices [get]
func (h *MfaHandler) Devices(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	devices, err := h.devices.ListDevices(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, devices, nil)
}

// UntrustDevice godoc
// @Summary Remove a trusted device
// @Tags MFA
// @Produce json
// @Param id path string true "Device ID"
// @Success 204 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /mfa/devices/{id} [delete]
func (h *MfaHandler) UntrustDevice(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.devices.Untrust(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// RegenerateRecoveryCodes godoc
// @Summary Regenerate recovery codes
// @Description Replace all recovery codes after a code check; old codes stop working
// @Tags MFA
// @Accept json
// @Produce json
// @Param payload body models.MfaVerifyRequest true "Verification payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /mfa/recovery-codes [post]
func (h *MfaHandler) RegenerateRecoveryCodes(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.MfaVerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	codes, err := h.mfa.RegenerateRecoveryCodes(c.Request.Context(), claims.UserID, req.Code)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"recoveryCodes": codes}, nil)
}
