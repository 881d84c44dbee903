// Package rbac implements role management and permission aggregation for the
// platform's principals.
package rbac

import "time"

// Role is one of the built-in roles every user account carries.
type Role string

const (
	RoleAdmin    Role = "admin"    // full platform access
	RoleOperator Role = "operator" // manages VMs, networks and storage
	RoleViewer   Role = "viewer"   // read-only access
)

// Permission is a fine-grained capability, written as "<resource>:<verb>".
type Permission string

const (
	PermissionVMCreate  Permission = "vm:create"
	PermissionVMRead    Permission = "vm:read"
	PermissionVMUpdate  Permission = "vm:update"
	PermissionVMDelete  Permission = "vm:delete"
	PermissionVMStart   Permission = "vm:start"
	PermissionVMStop    Permission = "vm:stop"
	PermissionVMMigrate Permission = "vm:migrate"

	PermissionNodeCreate Permission = "node:create"
	PermissionNodeRead   Permission = "node:read"
	PermissionNodeUpdate Permission = "node:update"
	PermissionNodeDelete Permission = "node:delete"
	PermissionNodeDrain  Permission = "node:drain"

	PermissionNetworkCreate Permission = "network:create"
	PermissionNetworkRead   Permission = "network:read"
	PermissionNetworkUpdate Permission = "network:update"
	PermissionNetworkDelete Permission = "network:delete"

	PermissionStorageCreate Permission = "storage:create"
	PermissionStorageRead   Permission = "storage:read"
	PermissionStorageUpdate Permission = "storage:update"
	PermissionStorageDelete Permission = "storage:delete"

	PermissionUserCreate Permission = "user:create"
	PermissionUserRead   Permission = "user:read"
	PermissionUserUpdate Permission = "user:update"
	PermissionUserDelete Permission = "user:delete"

	PermissionSystemConfig Permission = "system:config"
	PermissionSystemAudit  Permission = "system:audit"
)

// Catalog lists every permission the platform understands. Role writes are
// validated against it; unknown permission strings are rejected outright.
var Catalog = []Permission{
	PermissionVMCreate, PermissionVMRead, PermissionVMUpdate, PermissionVMDelete,
	PermissionVMStart, PermissionVMStop, PermissionVMMigrate,
	PermissionNodeCreate, PermissionNodeRead, PermissionNodeUpdate, PermissionNodeDelete, PermissionNodeDrain,
	PermissionNetworkCreate, PermissionNetworkRead, PermissionNetworkUpdate, PermissionNetworkDelete,
	PermissionStorageCreate, PermissionStorageRead, PermissionStorageUpdate, PermissionStorageDelete,
	PermissionUserCreate, PermissionUserRead, PermissionUserUpdate, PermissionUserDelete,
	PermissionSystemConfig, PermissionSystemAudit,
}

// RolePermissions maps the built-in roles to their fixed permission sets.
var RolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionVMCreate, PermissionVMRead, PermissionVMUpdate, PermissionVMDelete,
		PermissionVMStart, PermissionVMStop, PermissionVMMigrate,
		PermissionNodeCreate, PermissionNodeRead, PermissionNodeUpdate, PermissionNodeDelete, PermissionNodeDrain,
		PermissionNetworkCreate, PermissionNetworkRead, PermissionNetworkUpdate, PermissionNetworkDelete,
		PermissionStorageCreate, PermissionStorageRead, PermissionStorageUpdate, PermissionStorageDelete,
		PermissionUserCreate, PermissionUserRead, PermissionUserUpdate, PermissionUserDelete,
		PermissionSystemConfig, PermissionSystemAudit,
	},
	RoleOperator: {
		PermissionVMCreate, PermissionVMRead, PermissionVMUpdate, PermissionVMDelete,
		PermissionVMStart, PermissionVMStop, PermissionVMMigrate,
		PermissionNodeRead, PermissionNodeDrain,
		PermissionNetworkCreate, PermissionNetworkRead, PermissionNetworkUpdate,
		PermissionStorageCreate, PermissionStorageRead, PermissionStorageUpdate,
		PermissionUserRead,
	},
	RoleViewer: {
		PermissionVMRead,
		PermissionNodeRead,
		PermissionNetworkRead,
		PermissionStorageRead,
	},
}

// BuiltinHasPermission reports whether a built-in role carries the permission.
func BuiltinHasPermission(role Role, perm Permission) bool {
	for _, p := range RolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// RoleType distinguishes built-in roles from admin-created ones.
type RoleType string

const (
	RoleTypeSystem RoleType = "system"
	RoleTypeCustom RoleType = "custom"
)

// CustomRole is an admin-managed role with an explicit permission set.
type CustomRole struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Type        RoleType     `json:"type"`
	Permissions []Permission `json:"permissions"`
	UserCount   int          `json:"user_count"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// IsSystem reports whether the role is built-in and therefore immutable.
func (r *CustomRole) IsSystem() bool {
	return r.Type == RoleTypeSystem
}

// HasPermission reports whether the role grants the permission.
func (r *CustomRole) HasPermission(perm Permission) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}
