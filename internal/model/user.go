package model

import "time"

// Known permission scopes. A user's scopes determine which routes they can
// reach; "admin" unlocks the system-wide management and usage endpoints.
const (
	ScopeAdmin = "admin"
	ScopeUser  = "user"
	ScopeGuest = "guest"
)

// Scopes returns the full set of assignable scopes.
func Scopes() []string {
	return []string{ScopeAdmin, ScopeUser, ScopeGuest}
}

// User represents a gateway account. Passwords are stored as bcrypt hashes.
// Users referenced by usage history are deactivated rather than deleted.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	Email        string    `json:"email" db:"email"`
	FullName     string    `json:"fullname" db:"fullname"`
	PasswordHash string    `json:"-" db:"password_hash"` // bcrypt hash, never expose
	IsActive     bool      `json:"active" db:"is_active"`
	Scopes       StringSet `json:"scopes" db:"scopes"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// HasScope reports whether the user carries the given scope.
func (u *User) HasScope(scope string) bool {
	for _, s := range u.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Role derives the coarse role label exposed to clients from the scope list.
func (u *User) Role() string {
	switch {
	case u.HasScope(ScopeAdmin):
		return ScopeAdmin
	case u.HasScope(ScopeUser):
		return ScopeUser
	default:
		return ScopeGuest
	}
}
