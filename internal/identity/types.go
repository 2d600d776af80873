package identity

import "strings"

// Kind discriminates the closed set of identity variants. Absence of an
// identity is expressed by a nil *Identity, never by a zero Kind.
type Kind string

const (
	// KindGuest is a local "try it out" identity independent of the remote service.
	KindGuest Kind = "guest"
	// KindAuthenticated is an identity backed by a remote session and profile row.
	KindAuthenticated Kind = "authenticated"
)

// Role tags understood by the dashboard. RoleViewer is the least privileged
// value and the default whenever a profile carries no role.
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)

// Identity is the resolved notion of who is making the request.
type Identity struct {
	ID        string
	Email     string
	Kind      Kind
	Verified  bool
	CompanyID string
	Role      string
}

// IsGuest reports whether the identity is a local guest.
func (id *Identity) IsGuest() bool {
	return id != nil && id.Kind == KindGuest
}

// Session is the remote auth session as reported by the identity service.
type Session struct {
	UserID string
	Email  string
}

// Profile is the row backing an authenticated identity.
type Profile struct {
	ID            string
	Email         string
	Role          string
	CompanyID     string
	EmailVerified bool
}

// NormalizeRole lowercases a role tag and falls back to the least privileged value.
func NormalizeRole(role string) string {
	role = strings.TrimSpace(strings.ToLower(role))
	switch role {
	case RoleAdmin, RoleOperator, RoleViewer:
		return role
	default:
		return RoleViewer
	}
}
