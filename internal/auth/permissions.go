package auth

// Builtin role names. Both exist in every deployment and are protected from
// deletion and renaming.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// Core permission names, protected from deletion.
const (
	PermManageUsers       = "manage:users"
	PermManageRoles       = "manage:roles"
	PermManagePermissions = "manage:permissions"
	PermManageTickets     = "manage:tickets"
	PermReadAuditLog      = "read:audit_log"
	PermDeleteAccounts    = "delete:accounts"
)

// CorePermissions is the catalog ensured at startup.
var CorePermissions = []Permission{
	{Name: PermManageUsers, Description: "Manage user accounts and their roles"},
	{Name: PermManageRoles, Description: "Create, edit and delete custom roles"},
	{Name: PermManagePermissions, Description: "Edit role permission grants"},
	{Name: PermManageTickets, Description: "View and work any support ticket"},
	{Name: PermReadAuditLog, Description: "Read the role assignment history"},
	{Name: PermDeleteAccounts, Description: "Delete user accounts"},
}

// IsBuiltinRole reports whether name is one of the protected builtin roles.
func IsBuiltinRole(name string) bool {
	return name == RoleAdmin || name == RoleUser
}

// IsCorePermission reports whether name is in the protected core catalog.
func IsCorePermission(name string) bool {
	for _, p := range CorePermissions {
		if p.Name == name {
			return true
		}
	}
	return false
}
