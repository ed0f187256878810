package invite

import (
	"strconv"
	"strings"
	"time"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/user"
)

// Well-known profile field names shared with the backend contract.
const (
	FieldName         = "name"
	FieldEmail        = "email"
	FieldDueDate      = "due_date"
	FieldPackage      = "package"
	FieldSpecialty    = "specialty"
	FieldBio          = "bio"
	FieldAvailability = "availability"
	FieldCapacity     = "capacity"
)

const minPasswordLength = 8

// commonFields apply to every role; roleFields shape the rest of the form.
var (
	commonFields = []string{FieldName, FieldEmail}

	roleFields = map[user.Role][]string{
		user.RoleMember: {FieldDueDate, FieldPackage},
		user.RoleMentor: {FieldSpecialty, FieldBio, FieldAvailability, FieldCapacity},
		user.RoleAdmin:  {},
	}
)

// AllowedFields returns the profile fields applicable to a role. Draft
// values outside this set are dropped when the form reinitializes.
func AllowedFields(role user.Role) []string {
	fields := append([]string{}, commonFields...)
	return append(fields, roleFields[role]...)
}

// ValidateProfile checks role-specific required fields and the credentials
// before any network call. It returns one message per offending field; an
// empty map means the profile is submittable.
func ValidateProfile(role user.Role, fields map[string]string, password string) map[string]string {
	problems := map[string]string{}

	require := func(name, message string) {
		if strings.TrimSpace(fields[name]) == "" {
			problems[name] = message
		}
	}

	require(FieldName, "Name is required")
	require(FieldEmail, "Email is required")
	if email := strings.TrimSpace(fields[FieldEmail]); email != "" && !strings.Contains(email, "@") {
		problems[FieldEmail] = "Email must be a valid address"
	}

	if len(password) < minPasswordLength {
		problems["password"] = "Password must be at least 8 characters"
	}

	switch role {
	case user.RoleMember:
		require(FieldDueDate, "Due date is required")
		if due := strings.TrimSpace(fields[FieldDueDate]); due != "" {
			if _, err := time.Parse("2006-01-02", due); err != nil {
				problems[FieldDueDate] = "Due date must use the YYYY-MM-DD format"
			}
		}
		require(FieldPackage, "Please choose a package")
	case user.RoleMentor:
		require(FieldSpecialty, "Specialty is required")
		require(FieldBio, "Bio is required")
		require(FieldAvailability, "Availability is required")
		require(FieldCapacity, "Client capacity is required")
		if raw := strings.TrimSpace(fields[FieldCapacity]); raw != "" {
			capacity, err := strconv.Atoi(raw)
			if err != nil || capacity <= 0 {
				problems[FieldCapacity] = "Client capacity must be a positive number"
			}
		}
	}

	return problems
}
