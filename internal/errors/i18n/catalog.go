// Package i18n translates portal error codes into user-facing messages.
package i18n

import (
	"strings"
	"text/template"

	"golang.org/x/text/language"
)

// Code mirrors the error code string form used for catalog lookups.
type Code = string

// Catalog holds the user-facing messages for one locale.
type Catalog struct {
	locale   string
	messages map[Code]string
}

// fallbackMessage is used when a code has no catalog entry.
const fallbackMessage = "Something went wrong. Please try again."

var (
	catalogs = map[string]*Catalog{
		"en-US": enUSCatalog,
	}

	supportedTags = []language.Tag{
		language.AmericanEnglish, // en-US, first entry is the fallback
	}

	matcher = language.NewMatcher(supportedTags)
)

// GetCatalog returns the catalog best matching the requested locale.
// Unknown or malformed locales fall back to en-US.
func GetCatalog(locale string) *Catalog {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		return enUSCatalog
	}
	_, index, _ := matcher.Match(tag)
	matched := supportedTags[index].String()
	if catalog, ok := catalogs[matched]; ok {
		return catalog
	}
	return enUSCatalog
}

// Locale returns the catalog locale identifier.
func (c *Catalog) Locale() string {
	return c.locale
}

// Message renders the user-facing message for a code, applying metadata to
// templated entries. Codes without an entry render the generic fallback.
func (c *Catalog) Message(code Code, metadata map[string]string) string {
	raw, ok := c.messages[code]
	if !ok {
		return fallbackMessage
	}
	if !strings.Contains(raw, "{{") {
		return raw
	}

	tmpl, err := template.New(code).Parse(raw)
	if err != nil {
		return raw
	}
	var builder strings.Builder
	if err := tmpl.Execute(&builder, metadata); err != nil {
		return raw
	}
	return builder.String()
}
