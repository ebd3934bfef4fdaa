package models

import (
	"strings"
	"time"
)

// Permission enumerates the fixed set of granular permissions a role may
// carry. The set is closed at compile time.
type Permission string

const (
	PermAddUser    Permission = "AddUser"
	PermEditUser   Permission = "EditUser"
	PermDeleteUser Permission = "DeleteUser"
	PermViewUser   Permission = "ViewUser"
	PermAddRole    Permission = "AddRole"
	PermEditRole   Permission = "EditRole"
	PermDeleteRole Permission = "DeleteRole"
	PermViewRole   Permission = "ViewRole"
)

// AllPermissions lists every known permission in declaration order.
var AllPermissions = []Permission{
	PermAddUser, PermEditUser, PermDeleteUser, PermViewUser,
	PermAddRole, PermEditRole, PermDeleteRole, PermViewRole,
}

// Valid reports whether p is one of the known permissions.
func (p Permission) Valid() bool {
	for _, known := range AllPermissions {
		if p == known {
			return true
		}
	}
	return false
}

// Role groups permissions under a grantable name. Permissions are stored as a
// comma-separated column and decoded through the PermissionList helpers.
type Role struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Permissions string    `db:"permissions" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// PermissionList decodes the stored permission column, dropping unknown
// entries silently.
func (r *Role) PermissionList() []Permission {
	if r.Permissions == "" {
		return nil
	}
	parts := strings.Split(r.Permissions, ",")
	perms := make([]Permission, 0, len(parts))
	for _, part := range parts {
		p := Permission(strings.TrimSpace(part))
		if p.Valid() {
			perms = append(perms, p)
		}
	}
	return perms
}

// EncodePermissions renders a permission slice into the storage format.
func EncodePermissions(perms []Permission) string {
	names := make([]string, 0, len(perms))
	for _, p := range perms {
		names = append(names, string(p))
	}
	return strings.Join(names, ",")
}

// PermissionUnion deduplicates the permissions of the given roles, preserving
// first-seen order.
func PermissionUnion(roles []Role) []Permission {
	seen := make(map[Permission]struct{})
	var union []Permission
	for _, role := range roles {
		for _, p := range role.PermissionList() {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			union = append(union, p)
		}
	}
	return union
}
