package models

import "time"

// Audit actions recorded by the authentication and account flows.
const (
	AuditActionLogin          = "auth.login"
	AuditActionLoginMFA       = "auth.login.mfa_challenge"
	AuditActionLogout         = "auth.logout"
	AuditActionTokenRefresh   = "auth.token.refresh"
	AuditActionTokenRotate    = "auth.token.rotate"
	AuditActionTokenRevoke    = "auth.token.revoke"
	AuditActionMFAEnabled     = "mfa.enabled"
	AuditActionMFADisabled    = "mfa.disabled"
	AuditActionDeviceTrusted  = "mfa.device.trusted"
	AuditActionDeviceRemoved  = "mfa.device.removed"
	AuditActionRegister       = "users.register"
	AuditActionExport         = "users.export"
	AuditActionPasswordReset  = "auth.password.reset"
	AuditActionEmailConfirmed = "auth.email.confirmed"
)

// AuditLog is an append-only record of a security-relevant event.
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	UserID     *string   `db:"user_id" json:"user_id,omitempty"`
	Action     string    `db:"action" json:"action"`
	Resource   string    `db:"resource" json:"resource"`
	ResourceID *string   `db:"resource_id" json:"resource_id,omitempty"`
	OldValues  []byte    `db:"old_values" json:"old_values,omitempty"`
	NewValues  []byte    `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string    `db:"ip_address" json:"ip_address"`
	UserAgent  string    `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}
