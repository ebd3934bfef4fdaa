package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/basecrm/basecrm-api/internal/models"
	"github.com/basecrm/basecrm-api/internal/service"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
	"github.com/basecrm/basecrm-api/pkg/response"
)

// RefreshCookieName is the HttpOnly cookie carrying the opaque refresh token.
const RefreshCookieName = "refreshToken"

type sessionService interface {
	Login(ctx context.Context, req models.LoginRequest) (*models.LoginOutcome, error)
	Refresh(ctx context.Context, tokenValue, ip string) (string, *models.RefreshToken, error)
	Revoke(ctx context.Context, tokenValue, ip string) error
}

// AuthHandler wires HTTP endpoints to the account service.
type AuthHandler struct {
	accounts     sessionService
	metrics      *service.MetricsService
	cookieSecure bool
}

// NewAuthHandler creates a new handler. cookieSecure should be true outside
// development so the refresh cookie only travels over TLS.
func NewAuthHandler(accounts sessionService, metrics *service.MetricsService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{accounts: accounts, metrics: metrics, cookieSecure: cookieSecure}
}

// Login godoc
// @Summary Authenticate user
// @Description Authenticate by email and password; the response indicates whether an MFA step is pending
// @Tags Authentication
// @Accept json
// @Produce json
// @Param payload body models.LoginRequest true "Login payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid login payload"))
		return
	}
	req.IP = c.ClientIP()
	req.UserAgent = c.GetHeader("User-Agent")

	outcome, err := h.accounts.Login(c.Request.Context(), req)
	if err != nil {
		h.metrics.RecordLogin(service.LoginOutcomeFailure)
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, h.loginResponse(c, outcome), nil)
}

// RefreshToken godoc
// @Summary Refresh access token
// @Description Exchange the refresh cookie for a new access token
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /refreshtoken [post]
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	cookie, err := c.Cookie(RefreshCookieName)
	if err != nil || cookie == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "refresh token missing"))
		return
	}

	access, refresh, err := h.accounts.Refresh(c.Request.Context(), cookie, c.ClientIP())
	if err != nil {
		response.Error(c, err)
		return
	}

	h.metrics.RecordTokenRefresh(refresh.Token != cookie)
	h.setRefreshCookie(c, refresh)
	response.JSON(c, http.StatusOK, gin.H{"accessToken": access}, nil)
}

// Logout godoc
// @Summary Logout current session
// @Description Revoke the refresh cookie; revoking an already revoked token still succeeds
// @Tags Authentication
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	cookie, _ := c.Cookie(RefreshCookieName)
	if err := h.accounts.Revoke(c.Request.Context(), cookie, c.ClientIP()); err != nil {
		response.Error(c, err)
		return
	}

	h.clearRefreshCookie(c)
	response.JSON(c, http.StatusOK, gin.H{"message": "logged out"}, nil)
}

func (h *AuthHandler) loginResponse(c *gin.Context, outcome *models.LoginOutcome) models.LoginResponse {
	switch outcome.Kind {
	case models.OutcomeMFASetupRequired:
		h.metrics.RecordLogin(service.LoginOutcomeMFASetup)
		return models.LoginResponse{TempToken: outcome.ScopedToken, RequireSetupMfa: true}
	case models.OutcomeMFAVerificationRequired:
		h.metrics.RecordLogin(service.LoginOutcomeMFARequired)
		return models.LoginResponse{TempToken: outcome.ScopedToken, MfaRequired: true}
	default:
		h.metrics.RecordLogin(service.LoginOutcomeSuccess)
		h.setRefreshCookie(c, outcome.RefreshToken)
		return models.LoginResponse{AccessToken: outcome.AccessToken}
	}
}

func (h *AuthHandler) setRefreshCookie(c *gin.Context, token *models.RefreshToken) {
	if token == nil {
		return
	}
	maxAge := int(time.Until(token.ExpiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(RefreshCookieName, token.Token, maxAge, "/", "", h.cookieSecure, true)
}

func (h *AuthHandler) clearRefreshCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(RefreshCookieName, "", -1, "/", "", h.cookieSecure, true)
}
