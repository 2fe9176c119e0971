package domain

import "time"

// UserRole separates customers from support staff.
type UserRole string

const (
	UserRoleCustomer UserRole = "customer"
	UserRoleAgent    UserRole = "agent"
	UserRoleAdmin    UserRole = "admin"
)

// UserProfile is the domain model for anyone who signs in: customers who
// file tickets and agents who work them.
type UserProfile struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity is the authenticated caller passed explicitly into every core
// operation. The core trusts it and does not re-authenticate.
type Identity struct {
	UserID string
	Role   UserRole
}

// IsAgent reports whether the identity may work the agent queue.
func (id Identity) IsAgent() bool {
	return id.Role == UserRoleAgent || id.Role == UserRoleAdmin
}

// IsAdmin reports whether the identity holds administrative rights.
func (id Identity) IsAdmin() bool {
	return id.Role == UserRoleAdmin
}
