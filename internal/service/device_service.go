package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/basecrm/basecrm-api/internal/models"
	appErrors "github.com/basecrm/basecrm-api/pkg/errors"
)

type deviceRepository interface {
	FindByFingerprint(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error)
	Upsert(ctx context.Context, device *models.TrustedDevice) error
	TouchLastUsed(ctx context.Context, id string, ts time.Time) error
	ListByUser(ctx context.Context, userID string) ([]models.TrustedDevice, error)
	Delete(ctx context.Context, userID, deviceID string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) error
}

// DeviceService manages trusted devices. A device is identified by a
// fingerprint derived from the request's user agent and client IP, so the
// same browser on the same network maps to the same record.
type DeviceService struct {
	repo   deviceRepository
	logger *zap.Logger
}

// NewDeviceService constructs a DeviceService instance.
func NewDeviceService(repo deviceRepository, logger *zap.Logger) *DeviceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DeviceService{repo: repo, logger: logger}
}

// Fingerprint derives the stable device identifier for a request.
func Fingerprint(userAgent, ip string) string {
	sum := sha256.Sum256([]byte(userAgent + ":" + ip))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// DeviceName produces a human-readable label from a user agent string.
func DeviceName(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "windows") && strings.Contains(ua, "chrome"):
		return "Windows PC - Chrome"
	case strings.Contains(ua, "windows") && strings.Contains(ua, "firefox"):
		return "Windows PC - Firefox"
	case strings.Contains(ua, "iphone"):
		return "iPhone"
	case strings.Contains(ua, "macintosh"):
		return "Mac"
	case strings.Contains(ua, "android"):
		return "Android Device"
	case strings.Contains(ua, "linux"):
		return "Linux PC"
	default:
		return "Unknown Device"
	}
}

// IsTrusted reports whether the request's device is trusted for the user,
// refreshing the device's last-used stamp when it is.
func (s *DeviceService) IsTrusted(ctx context.Context, userID, userAgent, ip string) (bool, error) {
	device, err := s.repo.FindByFingerprint(ctx, userID, Fingerprint(userAgent, ip))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up trusted device")
	}

	if err := s.repo.TouchLastUsed(ctx, device.ID, time.Now().UTC()); err != nil {
		s.logger.Warn("failed to touch trusted device", zap.Error(err))
	}
	return true, nil
}

// Trust records the request's device as trusted. Trusting an already trusted
// device is a no-op beyond refreshing its name and last-used stamp.
func (s *DeviceService) Trust(ctx context.Context, userID, userAgent, ip string) (*models.TrustedDevice, error) {
	name := DeviceName(userAgent)
	device := &models.TrustedDevice{
		UserID:            userID,
		DeviceFingerprint: Fingerprint(userAgent, ip),
		DeviceName:        &name,
	}
	if err := s.repo.Upsert(ctx, device); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to trust device")
	}
	return device, nil
}

// ListDevices returns the user's trusted devices.
func (s *DeviceService) ListDevices(ctx context.Context, userID string) ([]models.TrustedDevice, error) {
	devices, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list trusted devices")
	}
	return devices, nil
}

// Untrust removes a trusted device owned by the user.
func (s *DeviceService) Untrust(ctx context.Context, userID, deviceID string) error {
	deleted, err := s.repo.Delete(ctx, userID, deviceID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove trusted device")
	}
	if !deleted {
		return appErrors.Clone(appErrors.ErrNotFound, "trusted device not found")
	}
	return nil
}

// UntrustAll removes every trusted device for the user.
func (s *DeviceService) UntrustAll(ctx context.Context, userID string) error {
	if err := s.repo.DeleteByUser(ctx, userID); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove trusted devices")
	}
	return nil
}
