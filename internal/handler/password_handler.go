package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/basecrm/basecrm-api/internal/models"
	"github.com/basecrm/basecrm-api/internal/service"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
	"github.com/basecrm/basecrm-api/pkg/i18n"
	"github.com/basecrm/basecrm-api/pkg/response"
)

type credentialService interface {
	ForgotPassword(ctx context.Context, req models.ForgotPasswordRequest) error
	ResetPassword(ctx context.Context, req models.ResetPasswordRequest, ip string) error
	ConfirmEmail(ctx context.Context, req models.ConfirmEmailRequest) error
	ResendConfirmationEmail(ctx context.Context, userID string) error
}

// PasswordHandler wires the email-backed password reset and confirmation
// flows. Except for the resend endpoint the routes are public; the flows
// prove identity through the emailed single-use tokens.
type PasswordHandler struct {
	accounts credentialService
}

// NewPasswordHandler creates a new handler.
func NewPasswordHandler(accounts credentialService) *PasswordHandler {
	return &PasswordHandler{accounts: accounts}
}

// ForgotPassword godoc
// @Summary Request password reset
// @Description Queue a reset email; the response never reveals whether the address exists
// @Tags Account
// @Accept json
// @Produce json
// @Param payload body models.ForgotPasswordRequest true "Forgot password payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /forgotpassword [post]
func (h *PasswordHandler) ForgotPassword(c *gin.Context) {
	var req models.ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.accounts.ForgotPassword(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"message": "if the email exists, a reset link will be sent"}, nil)
}

// ResetPassword godoc
// @Summary Reset password
// @Description Set a new password using the emailed reset code
// @Tags Account
// @Accept json
// @Produce json
// @Param payload body models.ResetPasswordRequest true "Reset password payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /resetpassword [post]
func (h *PasswordHandler) ResetPassword(c *gin.Context) {
	var req models.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	if codes := service.PasswordPolicyViolations(req.NewPassword); len(codes) > 0 {
		response.ValidationErrors(c, i18n.LocalizeErrors(codes))
		return
	}

	if err := h.accounts.ResetPassword(c.Request.Context(), req, c.ClientIP()); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"message": "password has been reset"}, nil)
}

// ConfirmEmail godoc
// @Summary Confirm email address
// @Description Mark the address verified using the emailed confirmation token
// @Tags Account
// @Accept json
// @Produce json
// @Param payload body models.ConfirmEmailRequest true "Confirm email payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /confirmemail [post]
func (h *PasswordHandler) ConfirmEmail(c *gin.Context) {
	var req models.ConfirmEmailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	if err := h.accounts.ConfirmEmail(c.Request.Context(), req); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"message": "email confirmed"}, nil)
}

// ResendConfirmation godoc
// @Summary Resend confirmation email
// @Description Queue a fresh confirmation email for the given user
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Param userId query string true "User id"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /resendconfirmationemail [post]
func (h *PasswordHandler) ResendConfirmation(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "userId is required"))
		return
	}

	if err := h.accounts.ResendConfirmationEmail(c.Request.Context(), userID); err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"message": "confirmation email sent"}, nil)
}
