package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the available staff roles.
type UserRole string

const (
	RoleAdmin     UserRole = "ADMIN"
	RoleSecretary UserRole = "SECRETARY"
)

// User represents a staff account stored in the users table.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Role         UserRole   `db:"role" json:"role"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// JWTClaims are the access token claims identifying the acting user.
type JWTClaims struct {
	UserID string   `json:"uid"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
	jwt.RegisteredClaims
}

// RequestMeta carries transport-level caller information supplied by the
// HTTP layer for audit purposes.
type RequestMeta struct {
	ActorID   *string
	IP        string
	UserAgent string
}
