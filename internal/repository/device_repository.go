package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/basecrm/basecrm-api/internal/models"
)

// DeviceRepository provides database access for trusted devices.
type DeviceRepository struct {
	db *sqlx.DB
}

// NewDeviceRepository creates a new instance of DeviceRepository.
func NewDeviceRepository(db *sqlx.DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

const deviceColumns = `id, user_id, device_fingerprint, device_name, trusted_at, last_used_at`

// FindByFingerprint returns the trusted device record for a user and
// fingerprint pair, or sql.ErrNoRows when the device is not trusted.
func (r *DeviceRepository) FindByFingerprint(ctx context.Context, userID, fingerprint string) (*models.TrustedDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM trusted_devices WHERE user_id = $1 AND device_fingerprint = $2 LIMIT 1`
	var device models.TrustedDevice
	if err := r.db.GetContext(ctx, &device, query, userID, fingerprint); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find trusted device: %w", err)
	}
	return &device, nil
}

// Upsert records a trusted device. Re-trusting an already trusted device
// refreshes last_used_at and the device name instead of inserting a
// duplicate; the unique (user_id, device_fingerprint) index backs this.
func (r *DeviceRepository) Upsert(ctx context.Context, device *models.TrustedDevice) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if device.TrustedAt.IsZero() {
		device.TrustedAt = now
	}
	if device.LastUsedAt.IsZero() {
		device.LastUsedAt = now
	}

	const query = `INSERT INTO trusted_devices (id, user_id, device_fingerprint, device_name, trusted_at, last_used_at) VALUES (:id, :user_id, :device_fingerprint, :device_name, :trusted_at, :last_used_at) ON CONFLICT (user_id, device_fingerprint) DO UPDATE SET device_name = EXCLUDED.device_name, last_used_at = EXCLUDED.last_used_at`
	if _, err := r.db.NamedExecContext(ctx, query, device); err != nil {
		return fmt.Errorf("upsert trusted device: %w", err)
	}
	return nil
}

// TouchLastUsed updates the last_used_at stamp when a trusted device skips
// the MFA challenge.
func (r *DeviceRepository) TouchLastUsed(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE trusted_devices SET last_used_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts); err != nil {
		return fmt.Errorf("touch trusted device: %w", err)
	}
	return nil
}

// ListByUser returns the user's trusted devices, most recently used first.
func (r *DeviceRepository) ListByUser(ctx context.Context, userID string) ([]models.TrustedDevice, error) {
	query := `SELECT ` + deviceColumns + ` FROM trusted_devices WHERE user_id = $1 ORDER BY last_used_at DESC`
	var devices []models.TrustedDevice
	if err := r.db.SelectContext(ctx, &devices, query, userID); err != nil {
		return nil, fmt.Errorf("list trusted devices: %w", err)
	}
	return devices, nil
}

// Delete removes a trusted device owned by the user. The owner check is part
// of the statement so one user cannot untrust another user's device.
func (r *DeviceRepository) Delete(ctx context.Context, userID, deviceID string) (bool, error) {
	const query = `DELETE FROM trusted_devices WHERE id = $1 AND user_id = $2`
	res, err := r.db.ExecContext(ctx, query, deviceID, userID)
	if err != nil {
		return false, fmt.Errorf("delete trusted device: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete trusted device rows: %w", err)
	}
	return affected > 0, nil
}

// DeleteByUser removes all trusted devices for a user, used when MFA is
// disabled so the next login re-challenges every device.
func (r *DeviceRepository) DeleteByUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM trusted_devices WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete trusted devices: %w", err)
	}
	return nil
}
