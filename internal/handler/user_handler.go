package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/basecrm/basecrm-api/internal/models"
	"github.com/basecrm/basecrm-api/internal/service"
	"github.com/basecrm/basecrm-api/pkg/response"
)

type userDirectoryService interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.UserInfo, *models.Pagination, error)
	Get(ctx context.Context, id string) (*models.User, []models.Role, error)
	Export(ctx context.Context, filter models.UserFilter, format service.ExportFormat) ([]byte, string, error)
}

// UserHandler serves the user directory: paginated listing, profile
// lookup and bulk export.
type UserHandler struct {
	users userDirectoryService
}

// NewUserHandler creates a new handler.
func NewUserHandler(users userDirectoryService) *UserHandler {
	return &UserHandler{users: users}
}

func userFilterFromQuery(c *gin.Context) models.UserFilter {
	filter := models.UserFilter{
		Search:    c.Query("search"),
		SortBy:    c.DefaultQuery("sortBy", "created_at"),
		SortOrder: c.DefaultQuery("sortOrder", "desc"),
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("pageSize", "20")); err == nil {
		filter.PageSize = size
	}
	if raw := c.Query("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filter.Active = &active
		}
	}
	return filter
}

// List godoc
// @Summary List users
// @Description Paginated user directory with search and sorting
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number"
// @Param pageSize query int false "Page size"
// @Param search query string false "Match against email or name"
// @Param active query bool false "Filter by active flag"
// @Param sortBy query string false "Sort column"
// @Param sortOrder query string false "asc or desc"
// @Success 200 {object} response.Envelope{data=[]models.UserInfo}
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /users [get]
func (h *UserHandler) List(c *gin.Context) {
	infos, pagination, err := h.users.List(c.Request.Context(), userFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, infos, pagination)
}

// Get godoc
// @Summary Get a user
// @Description Profile plus assigned roles
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	user, roles, err := h.users.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	response.JSON(c, http.StatusOK, gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"firstName":      user.FirstName,
		"lastName":       user.LastName,
		"emailConfirmed": user.EmailConfirmed,
		"mfaEnabled":     user.MFAEnabled,
		"active":         user.Active,
		"roles":          names,
	}, nil)
}

// Export godoc
// @Summary Export users
// @Description Download the filtered user directory as CSV or PDF
// @Tags Users
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /users/export [get]
func (h *UserHandler) Export(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", string(service.ExportCSV)))

	data, contentType, err := h.users.Export(c.Request.Context(), userFilterFromQuery(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}

	filename := fmt.Sprintf("users-%s.%s", time.Now().Format("20060102"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, data)
}
