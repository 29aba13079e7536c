package auth

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleClient Role = "client"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

// User is the domain representation of an authenticated user.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID             string
	Email          string
	FullName       string
	PasswordHash   string
	Role           Role
	ReferredBy     *string
	CommissionRate decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RegisterRequest contains user registration data supplied by callers.
// ReferrerID is carried by referral links.
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	Role       Role   `json:"role"`
	ReferrerID string `json:"referrer_id"`
}

// LoginRequest contains user login credentials. Credential is either the
// account password or a one-time quote token.
type LoginRequest struct {
	Email      string `json:"email"`
	Credential string `json:"password"`
}

// Actor identifies who is performing an operation.
type Actor struct {
	UserID string
	Role   Role
}

// IsStaff reports whether the actor may perform staff-only operations.
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff || a.Role == RoleAdmin
}

// Owns reports whether the actor is the given owner or staff.
func (a Actor) Owns(ownerID string) bool {
	return a.IsStaff() || (a.UserID != "" && a.UserID == ownerID)
}
