package auth

// CapabilityKind selects what a guard requires from a session.
type CapabilityKind int

const (
	// CapabilityAuthenticated requires any valid session.
	CapabilityAuthenticated CapabilityKind = iota
	// CapabilityRole requires a named role in the session's snapshot.
	CapabilityRole
	// CapabilityPermission requires a named permission in the snapshot.
	CapabilityPermission
)

// Capability is a guard requirement.
type Capability struct {
	Kind CapabilityKind
	Name string
}

// Authenticated requires only a valid session.
func Authenticated() Capability {
	return Capability{Kind: CapabilityAuthenticated}
}

// RoleCapability requires the named role.
func RoleCapability(name string) Capability {
	return Capability{Kind: CapabilityRole, Name: name}
}

// PermissionCapability requires the named permission.
func PermissionCapability(name string) Capability {
	return Capability{Kind: CapabilityPermission, Name: name}
}

// Decision is the outcome of a guard check. Checks never return errors: a
// failed or missing session resolves to a deny, keeping the read path
// fail-safe and distinct from mutation failures.
type Decision int

const (
	Allow Decision = iota
	DenyUnauthenticated
	DenyForbidden
)

// Allowed reports whether the decision grants access.
func (d Decision) Allowed() bool { return d == Allow }

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case DenyUnauthenticated:
		return "unauthenticated"
	case DenyForbidden:
		return "forbidden"
	default:
		return "unknown"
	}
}

// Decide evaluates a capability against embedded session claims only; it
// never consults the directory store.
func Decide(claims *SessionClaims, capability Capability) Decision {
	if claims == nil || claims.Subject == "" {
		return DenyUnauthenticated
	}
	switch capability.Kind {
	case CapabilityAuthenticated:
		return Allow
	case CapabilityRole:
		if claims.HasRole(capability.Name) {
			return Allow
		}
		return DenyForbidden
	case CapabilityPermission:
		if claims.HasPermission(capability.Name) {
			return Allow
		}
		return DenyForbidden
	default:
		return DenyForbidden
	}
}
