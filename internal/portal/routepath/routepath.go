// Package routepath stores canonical portal paths and role ownership rules.
package routepath

import (
	"strings"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/user"
)

const (
	Root         = "/"
	Login        = "/login"
	MemberRoot   = "/portal"
	MentorRoot   = "/mentor"
	AdminRoot    = "/admin"
	MemberPrefix = MemberRoot + "/"
	MentorPrefix = MentorRoot + "/"
	AdminPrefix  = AdminRoot + "/"
)

// PortalRoot resolves the canonical portal root for a role. Unknown roles
// resolve to the site root.
func PortalRoot(role user.Role) string {
	switch role {
	case user.RoleMember:
		return MemberRoot
	case user.RoleMentor:
		return MentorRoot
	case user.RoleAdmin:
		return AdminRoot
	default:
		return Root
	}
}

// IsProtected reports whether a path lives inside any portal subtree and
// therefore requires an authenticated session.
func IsProtected(path string) bool {
	return inSubtree(path, MemberRoot) || inSubtree(path, MentorRoot) || inSubtree(path, AdminRoot)
}

// OwnsPath reports whether the given role owns the portal subtree containing
// path. Public paths are owned by every role.
func OwnsPath(role user.Role, path string) bool {
	if !IsProtected(path) {
		return true
	}
	return inSubtree(path, PortalRoot(role))
}

func inSubtree(path, root string) bool {
	if root == Root {
		return false
	}
	return path == root || strings.HasPrefix(path, root+"/")
}
