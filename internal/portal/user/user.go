// Package user defines the authenticated portal identity.
package user

import (
	"encoding/json"
	"strings"

	apperrors "github.com/t-vanderwolk/RegistryTaylor-sub000/internal/errors"
)

var (
	// ErrEmptyID indicates a missing user ID.
	ErrEmptyID = apperrors.New(apperrors.CodeInvalidInput, "user id is required")
)

// Role identifies which portal a user belongs to.
type Role int

const (
	// RoleUnspecified represents an unknown or missing role.
	RoleUnspecified Role = iota
	// RoleMember is a concierge client planning with the business.
	RoleMember
	// RoleMentor is a vetted mentor offering guidance to members.
	RoleMentor
	// RoleAdmin is an operator of the portal.
	RoleAdmin
)

// User represents the last known authenticated identity.
//
// The record is replaced wholesale on every successful revalidation and
// cleared on sign-out; nothing in the client mutates it field by field.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  Role   `json:"role"`
	Name  string `json:"name,omitempty"`
}

// Normalize trims identity fields and validates the ID.
func Normalize(u User) (User, error) {
	u.ID = strings.TrimSpace(u.ID)
	if u.ID == "" {
		return User{}, ErrEmptyID
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	u.Name = strings.TrimSpace(u.Name)
	return u, nil
}

// RoleLabel returns the string label for a role.
func RoleLabel(role Role) string {
	switch role {
	case RoleMember:
		return "member"
	case RoleMentor:
		return "mentor"
	case RoleAdmin:
		return "admin"
	default:
		return "unspecified"
	}
}

// RoleFromLabel converts a role label to a Role value.
func RoleFromLabel(label string) Role {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "member":
		return RoleMember
	case "mentor":
		return RoleMentor
	case "admin":
		return RoleAdmin
	default:
		return RoleUnspecified
	}
}

// MarshalJSON encodes the role as its string label.
func (r Role) MarshalJSON() ([]byte, error) {
	return json.Marshal(RoleLabel(r))
}

// UnmarshalJSON decodes a role from its string label. Unknown labels decode
// to RoleUnspecified rather than erroring so stale payloads fail closed.
func (r *Role) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err != nil {
		return err
	}
	*r = RoleFromLabel(label)
	return nil
}
