package model

import (
	"fmt"
	"regexp"
	"time"
)

// Role is the RBAC role of an API principal.
type Role string

const (
	RoleSuperuser Role = "superuser"
	RoleAdmin     Role = "admin"
	RoleOperator  Role = "operator"
	RoleReader    Role = "reader"
)

// RoleRank returns the numeric rank of a role (higher = more privileges).
func RoleRank(r Role) int {
	switch r {
	case RoleSuperuser:
		return 4
	case RoleAdmin:
		return 3
	case RoleOperator:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole Role) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// Principal is an authenticated API caller.
type Principal struct {
	Email      string    `json:"email"`
	CompanyID  string    `json:"company_id"`
	Role       Role      `json:"role"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+$`)

// ValidateEmail performs a shallow syntax check on a principal email.
func ValidateEmail(email string) error {
	if len(email) > 254 || !emailPattern.MatchString(email) {
		return fmt.Errorf("invalid email %q", email)
	}
	return nil
}
