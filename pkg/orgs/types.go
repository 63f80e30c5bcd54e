// Package orgs manages organizations (companies, schools, communities)
// and their memberships. Membership is what org-scoped access policies
// key off: a policy granted to an org only applies to its members.
package orgs

import (
	"encoding/json"
	"errors"
	"time"
)

// OrgType categorizes an organization.
type OrgType string

const (
	OrgTypeCompany   OrgType = "company"
	OrgTypeSchool    OrgType = "school"
	OrgTypeCommunity OrgType = "community"
	OrgTypeOther     OrgType = "other"
)

// Valid reports whether the org type is one of the known values.
func (t OrgType) Valid() bool {
	switch t {
	case OrgTypeCompany, OrgTypeSchool, OrgTypeCommunity, OrgTypeOther:
		return true
	}
	return false
}

// Role is a member's role within an organization.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin
}

// Organization is a company, school or community that users belong to.
// The (name, type) pair is unique so repeated creation calls converge
// on one record.
type Organization struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Type      OrgType         `json:"type"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Member links a user to an organization with a role.
type Member struct {
	OrgID    string    `json:"org_id"`
	UserID   string    `json:"user_id"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

var (
	// ErrNotFound is returned when an organization or membership does
	// not exist
	ErrNotFound = errors.New("organization not found")

	// ErrValidation is returned when org or membership input is
	// malformed
	ErrValidation = errors.New("invalid organization input")
)

// IsNotFound checks if the error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is or wraps ErrValidation
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
