package errors

import (
	goerrors "errors"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/errors/i18n"
)

// UserMessage resolves the localized user-facing message for an error.
//
// Non-domain errors render the generic fallback so internal details never
// leak to the user interface.
func UserMessage(err error, locale string) string {
	catalog := i18n.GetCatalog(locale)

	var domainErr *Error
	if goerrors.As(err, &domainErr) {
		return catalog.Message(string(domainErr.Code), domainErr.Metadata)
	}
	return catalog.Message(string(CodeUnknown), nil)
}
