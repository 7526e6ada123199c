package validation

import "strings"

// SafeTags are the only elements SanitizeHTML keeps.
var SafeTags = []string{"b", "i", "em", "strong", "p", "br", "ul", "ol", "li"}

// HTMLSanitizer neutralises markup in untrusted text.
type HTMLSanitizer interface {
	// StripAll returns input with no active markup left.
	StripAll(input string) string

	// AllowSafe keeps SafeTags without attributes and neutralises the rest.
	AllowSafe(input string) string
}

// htmlEscaper escapes & first so existing entities are not left ambiguous.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// EscapeSanitizer is the fallback sanitizer: it escapes every markup
// character instead of parsing HTML, so no tag survives either mode.
type EscapeSanitizer struct{}

// StripAll implements HTMLSanitizer.
func (EscapeSanitizer) StripAll(input string) string {
	return htmlEscaper.Replace(input)
}

// AllowSafe implements HTMLSanitizer.
func (EscapeSanitizer) AllowSafe(input string) string {
	return htmlEscaper.Replace(input)
}

var _ HTMLSanitizer = EscapeSanitizer{}
