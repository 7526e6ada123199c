// Package htmlpolicy implements validation.HTMLSanitizer with bluemonday
// allow-list policies.
package htmlpolicy

import (
	"github.com/microcosm-cc/bluemonday"

	"github.com/pharmalink/pharmagate/internal/domain/validation"
)

// Sanitizer parses markup and keeps only allow-listed elements.
// bluemonday policies are safe for concurrent use once built.
type Sanitizer struct {
	strict *bluemonday.Policy
	safe   *bluemonday.Policy
}

// New builds the strip-all and safe-tag policies.
func New() *Sanitizer {
	safe := bluemonday.NewPolicy()
	safe.AllowElements(validation.SafeTags...)

	return &Sanitizer{
		strict: bluemonday.StrictPolicy(),
		safe:   safe,
	}
}

// StripAll implements validation.HTMLSanitizer.
func (s *Sanitizer) StripAll(input string) string {
	return s.strict.Sanitize(input)
}

// AllowSafe implements validation.HTMLSanitizer.
func (s *Sanitizer) AllowSafe(input string) string {
	return s.safe.Sanitize(input)
}

// Compile-time interface verification.
var _ validation.HTMLSanitizer = (*Sanitizer)(nil)
