package profiles

import "time"

// Role is the coarse category determining a user's static permission set.
type Role string

// Known roles.
const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleUser   Role = "user"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleUser:
		return true
	}
	return false
}

// Profile is the application-level row describing a user, keyed 1:1 by the
// credential-service user id. It is distinct from the raw credential
// identity.
type Profile struct {
	ID        string
	Email     string
	Username  string
	FirstName string
	LastName  string
	FullName  string
	AvatarURL string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Patch carries a partial profile update. Nil fields are left untouched.
type Patch struct {
	Username  *string
	FirstName *string
	LastName  *string
	FullName  *string
	AvatarURL *string
	Role      *Role
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Username == nil && p.FirstName == nil && p.LastName == nil &&
		p.FullName == nil && p.AvatarURL == nil && p.Role == nil
}
