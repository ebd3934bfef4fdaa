package models

import "time"

// TrustedDevice is a per-user record allowing MFA to be skipped on a device
// that already completed verification. At most one record exists per
// (user, fingerprint) pair; re-trusting refreshes LastUsedAt.
type TrustedDevice struct {
	ID                string    `db:"id" json:"id"`
	UserID            string    `db:"user_id" json:"user_id"`
	DeviceFingerprint string    `db:"device_fingerprint" json:"device_fingerprint"`
	DeviceName        *string   `db:"device_name" json:"device_name,omitempty"`
	TrustedAt         time.Time `db:"trusted_at" json:"trusted_at"`
	LastUsedAt        time.Time `db:"last_used_at" json:"last_used_at"`
}
