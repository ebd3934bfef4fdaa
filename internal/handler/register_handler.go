package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/basecrm/basecrm-api/internal/models"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
	"github.com/basecrm/basecrm-api/pkg/response"
)

type registrationService interface {
	GrantableRoles(ctx context.Context, requesterID string) ([]models.Role, error)
	Register(ctx context.Context, requesterID string, req models.RegisterRequest, ip, userAgent string) (*models.User, error)
}

// RegisterHandler exposes admin-initiated account creation. Registration
// is not self-service; the caller needs the add-user permission and can
// only grant roles they hold themselves.
type RegisterHandler struct {
	accounts registrationService
}

// NewRegisterHandler creates a new handler.
func NewRegisterHandler(accounts registrationService) *RegisterHandler {
	return &RegisterHandler{accounts: accounts}
}

// GrantableRoles godoc
// @Summary List grantable roles
// @Description Roles the caller may assign when creating a user
// @Tags Account
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope{data=[]models.Role}
// @Failure 401 {object} response.Envelope
// @Router /register [get]
func (h *RegisterHandler) GrantableRoles(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	roles, err := h.accounts.GrantableRoles(c.Request.Context(), claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, roles, nil)
}

// Register godoc
// @Summary Register a user
// @Description Create an account and queue its confirmation email
// @Tags Account
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.RegisterRequest true "Register payload"
// @Success 200 {object} response.Envelope{data=models.UserInfo}
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /register [post]
func (h *RegisterHandler) Register(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid register payload"))
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), claims.UserID, req, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, models.UserInfo{
		ID:             user.ID,
		Email:          user.Email,
		FirstName:      user.FirstName,
		LastName:       user.LastName,
		EmailConfirmed: user.EmailConfirmed,
		MFAEnabled:     user.MFAEnabled,
	}, nil)
}
