package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/basecrm/basecrm-api/internal/models"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
	"github.com/basecrm/basecrm-api/pkg/export"
)

type userListRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindRolesByUserID(ctx context.Context, userID string) ([]models.Role, error)
	ListRoles(ctx context.Context) ([]models.Role, error)
}

// ExportFormat selects the rendered export type.
type ExportFormat string

const (
	ExportCSV ExportFormat = "csv"
	ExportPDF ExportFormat = "pdf"
)

// UserService serves user listings for administration screens and renders
// user exports.
type UserService struct {
	repo      userListRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewUserService constructs a UserService instance.
func NewUserService(repo userListRepository, validate *validator.Validate, logger *zap.Logger) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &UserService{repo: repo, validator: validate, logger: logger}
}

// List returns users with pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.UserInfo, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}

	infos := make([]models.UserInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, models.UserInfo{
			ID:             u.ID,
			Email:          u.Email,
			FirstName:      u.FirstName,
			LastName:       u.LastName,
			EmailConfirmed: u.EmailConfirmed,
			MFAEnabled:     u.MFAEnabled,
		})
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}

	return infos, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a single user with their roles.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, []models.Role, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
	}
	roles, err := s.repo.FindRolesByUserID(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roles")
	}
	return user, roles, nil
}

// Export renders the filtered user list as CSV or PDF.
func (s *UserService) Export(ctx context.Context, filter models.UserFilter, format ExportFormat) ([]byte, string, error) {
	// Exports ignore pagination; pull everything matching the filter.
	filter.Page = 1
	filter.PageSize = 100

	var rows [][]string
	for {
		users, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
		}
		for _, u := range users {
			rows = append(rows, []string{
				u.Email,
				u.FirstName,
				u.LastName,
				boolLabel(u.EmailConfirmed),
				boolLabel(u.MFAEnabled),
				boolLabel(u.Active),
				formatTimePtr(u.LastLogin),
			})
		}
		if len(rows) >= total || len(users) == 0 {
			break
		}
		filter.Page++
	}

	dataset := export.Dataset{
		Title:   "Users",
		Headers: []string{"Email", "First Name", "Last Name", "Email Confirmed", "MFA Enabled", "Active", "Last Login"},
		Rows:    rows,
	}

	switch format {
	case ExportCSV:
		data, err := export.CSV(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return data, "text/csv", nil
	case ExportPDF:
		data, err := export.PDF(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return data, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

func boolLabel(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04")
}
