package auth

import "time"

type Role string

const (
	RoleOwner      Role = "owner"
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleTechnician:
		return true
	default:
		return false
	}
}

// CanRunRenewals reports whether the role may trigger a renewal pass.
func (r Role) CanRunRenewals() bool {
	return r == RoleOwner || r == RoleAdmin
}

// User is a staff account of a tenant.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	TenantID     string
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Claims is the identity carried by a verified token.
type Claims struct {
	UserID   string
	TenantID string
	Role     Role
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	TenantID string `json:"tenant_id"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     Role   `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
