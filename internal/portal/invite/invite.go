// Package invite turns a single-use invitation code into a role-bound
// account.
package invite

import (
	"strings"
	"time"

	apperrors "github.com/t-vanderwolk/RegistryTaylor-sub000/internal/errors"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/user"
)

var (
	// ErrEmptyCode indicates a missing invite code.
	ErrEmptyCode = apperrors.New(apperrors.CodeInvalidInput, "invite code is required")
)

// Invite is a read-only view of a single-use invitation.
//
// The client never mutates an invite; consumption happens server-side,
// exactly once, at redemption time.
type Invite struct {
	Code          string            `json:"code"`
	Role          user.Role         `json:"role"`
	AssignedEmail string            `json:"assigned_email,omitempty"`
	ExpiresAt     time.Time         `json:"expires_at,omitzero"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NormalizeCode trims and uppercases a user-entered code before any lookup.
func NormalizeCode(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return "", ErrEmptyCode
	}
	return code, nil
}

// Expired reports whether the invite has an expiry in the past.
func (i Invite) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// EmailPinned reports whether the invite fixes the account email.
func (i Invite) EmailPinned() bool {
	return strings.TrimSpace(i.AssignedEmail) != ""
}
