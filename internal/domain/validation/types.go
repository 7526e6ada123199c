// Package validation checks and sanitizes untrusted input: emails,
// passwords, free text, phone numbers, uploads and JSON payloads.
// Threat detection is driven by a versioned signature document.
package validation

// Strength grades a password.
type Strength string

const (
	StrengthWeak   Strength = "weak"
	StrengthMedium Strength = "medium"
	StrengthStrong Strength = "strong"
)

// Result is the outcome of validating one input.
type Result struct {
	IsValid bool `json:"isValid"`

	// Sanitized is the normalised form of the input. Empty for files.
	Sanitized string `json:"sanitized,omitempty"`

	Errors []string `json:"errors"`
}

func newResult(sanitized string, errs []string) Result {
	if errs == nil {
		errs = []string{}
	}
	return Result{IsValid: len(errs) == 0, Sanitized: sanitized, Errors: errs}
}

// PasswordResult is the outcome of ValidatePassword.
type PasswordResult struct {
	IsValid    bool     `json:"isValid"`
	Strength   Strength `json:"strength"`
	Complexity int      `json:"complexity"`
	Errors     []string `json:"errors"`
}

// JSONResult is the outcome of ValidateJSON. Parsed is nil when the
// document could not be decoded.
type JSONResult struct {
	IsValid bool     `json:"isValid"`
	Parsed  any      `json:"parsed,omitempty"`
	Errors  []string `json:"errors"`
}

// FileInfo describes an uploaded file.
type FileInfo struct {
	Name        string
	ContentType string
	Size        int64
}

// PhonePolicy describes the accepted national numbering plan.
type PhonePolicy struct {
	// CountryCode is prepended to national numbers, without "+".
	CountryCode string

	// NationalLength is the digit count of a number without country code.
	NationalLength int

	// Pattern matches the digits, with or without the country code.
	Pattern string

	// Message is the error reported for non-matching numbers.
	Message string
}

// CameroonPhonePolicy accepts fixed (2...) and mobile (6...) numbers.
var CameroonPhonePolicy = PhonePolicy{
	CountryCode:    "237",
	NationalLength: 9,
	Pattern:        `^(237)?[26][0-9]{8}$`,
	Message:        "Invalid Cameroon phone number format",
}
