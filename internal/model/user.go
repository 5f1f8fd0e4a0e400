package model

import "time"

// Role constants for tenant membership.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Tenant is an organizational boundary partitioning skills, users, and analytics.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Domain    string    `json:"domain,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a tenant member.
type User struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAdmin reports whether the user administers their tenant.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Session is the principal carried by a verified web session token.
type Session struct {
	UserID   string
	TenantID string
	Email    string
	Role     string
}

// IsAdmin reports whether the session belongs to a tenant admin.
func (s *Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}
