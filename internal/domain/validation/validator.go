package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxEmailLength is the longest accepted address.
	MaxEmailLength = 254

	// MinPasswordLength is the shortest accepted password.
	MinPasswordLength = 8

	// DefaultMaxTextLength applies when ValidateText gets no limit.
	DefaultMaxTextLength = 1000

	// DefaultMaxJSONDepth applies when ValidateJSON gets no limit.
	DefaultMaxJSONDepth = 10
)

var (
	emailPattern       = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	specialCharPattern = regexp.MustCompile(`[!@#$%^&*()_+\-=\[\]{};':"\\|,.<>/?]`)
	weakPasswordParts  = regexp.MustCompile(`(?i)123456|password|qwerty|admin`)
	nonDigit           = regexp.MustCompile(`\D`)
)

// Validator checks untrusted input. It is stateless after construction
// and safe for concurrent use.
type Validator struct {
	scanner *Scanner
	html    HTMLSanitizer
	phone   PhonePolicy
	phoneRe *regexp.Regexp
}

// Option configures a Validator.
type Option func(*Validator)

// WithScanner replaces the embedded signature set.
func WithScanner(s *Scanner) Option {
	return func(v *Validator) {
		v.scanner = s
	}
}

// WithHTMLSanitizer replaces the escaping sanitizer.
func WithHTMLSanitizer(h HTMLSanitizer) Option {
	return func(v *Validator) {
		v.html = h
	}
}

// WithPhonePolicy replaces the Cameroon numbering plan.
func WithPhonePolicy(p PhonePolicy) Option {
	return func(v *Validator) {
		v.phone = p
	}
}

// NewValidator creates a Validator. It fails only when a phone policy
// pattern does not compile.
func NewValidator(opts ...Option) (*Validator, error) {
	v := &Validator{
		html:  EscapeSanitizer{},
		phone: CameroonPhonePolicy,
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.scanner == nil {
		v.scanner = DefaultScanner()
	}
	re, err := regexp.Compile(v.phone.Pattern)
	if err != nil {
		return nil, fmt.Errorf("phone pattern: %w", err)
	}
	v.phoneRe = re
	return v, nil
}

// Scanner returns the signature scanner in use.
func (v *Validator) Scanner() *Scanner { return v.scanner }

// ValidateEmail lowercases and trims email, then checks format, injection
// signatures and length.
func (v *Validator) ValidateEmail(email string) Result {
	var errs []string
	sanitized := strings.ToLower(strings.TrimSpace(email))

	if !emailPattern.MatchString(sanitized) {
		errs = append(errs, "Invalid email format")
	}
	if v.scanner.Matches(FamilySQLInjection, sanitized) {
		errs = append(errs, "Email contains suspicious characters")
	}
	if len(sanitized) > MaxEmailLength {
		errs = append(errs, "Email too long")
	}
	return newResult(sanitized, errs)
}

// ValidatePassword checks length, character classes and weak patterns.
func (v *Validator) ValidatePassword(password string) PasswordResult {
	var errs []string
	length := utf8.RuneCountInString(password)

	if length < MinPasswordLength {
		errs = append(errs, fmt.Sprintf("Password must be at least %d characters long", MinPasswordLength))
	}

	complexity := passwordComplexity(password)
	if complexity < 3 {
		errs = append(errs, "Password must contain at least 3 of: uppercase, lowercase, numbers, special characters")
	}

	strength := StrengthWeak
	switch {
	case length >= 12 && complexity >= 3:
		strength = StrengthStrong
	case length >= MinPasswordLength && complexity >= 2:
		strength = StrengthMedium
	}

	if hasRepeatedRun(password, 3) {
		errs = append(errs, "Password cannot contain repeated characters")
	}
	if weakPasswordParts.MatchString(password) {
		errs = append(errs, "Password cannot contain common patterns")
	}

	if errs == nil {
		errs = []string{}
	}
	return PasswordResult{
		IsValid:    len(errs) == 0,
		Strength:   strength,
		Complexity: complexity,
		Errors:     errs,
	}
}

// passwordComplexity counts the character classes present.
func passwordComplexity(password string) int {
	var upper, lower, digit bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	score := 0
	for _, ok := range []bool{upper, lower, digit, specialCharPattern.MatchString(password)} {
		if ok {
			score++
		}
	}
	return score
}

// hasRepeatedRun reports a run of n or more identical runes.
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for i, r := range []rune(s) {
		if i > 0 && r == prev {
			run++
		} else {
			run = 1
		}
		if run >= n {
			return true
		}
		prev = r
	}
	return false
}

// ValidateText trims and truncates input to maxLength runes, strips
// markup and then rejects injection signatures in what remains.
// A non-positive maxLength means DefaultMaxTextLength.
func (v *Validator) ValidateText(input string, maxLength int) Result {
	if maxLength <= 0 {
		maxLength = DefaultMaxTextLength
	}
	var errs []string
	text := strings.TrimSpace(input)

	if utf8.RuneCountInString(text) > maxLength {
		errs = append(errs, fmt.Sprintf("Text too long (max %d characters)", maxLength))
		text = string([]rune(text)[:maxLength])
	}
	text = v.html.StripAll(text)

	if v.scanner.Matches(FamilySQLInjection, text) {
		errs = append(errs, "Text contains suspicious patterns")
	}
	if v.scanner.Matches(FamilyCommandInjection, text) {
		errs = append(errs, "Text contains potentially dangerous commands")
	}
	return newResult(text, errs)
}

// ValidatePhone normalises phone to "+<country code><number>".
func (v *Validator) ValidatePhone(phone string) Result {
	var errs []string
	digits := nonDigit.ReplaceAllString(phone, "")

	valid := v.phoneRe.MatchString(digits)
	if !valid {
		errs = append(errs, v.phone.Message)
	}
	if valid && len(digits) == v.phone.NationalLength {
		digits = v.phone.CountryCode + digits
	}
	return newResult("+"+digits, errs)
}

// ValidateFile checks an upload's content type, size and name.
func (v *Validator) ValidateFile(file FileInfo, allowedTypes []string, maxSize int64) Result {
	var errs []string

	if !slices.Contains(allowedTypes, file.ContentType) {
		errs = append(errs, "File type not allowed. Allowed types: "+strings.Join(allowedTypes, ", "))
	}
	if file.Size > maxSize {
		mb := (maxSize + 512*1024) / (1024 * 1024)
		errs = append(errs, fmt.Sprintf("File too large. Maximum size: %dMB", mb))
	}
	if v.scanner.Matches(FamilyPathTraversal, file.Name) {
		errs = append(errs, "Invalid file name")
	}
	return newResult("", errs)
}

// ValidateJSON parses data, bounds its nesting depth and scans every key
// and string value for SQL injection and XSS signatures. Values are
// scanned one by one: the serialized document always carries quotes,
// which the SQL meta-character signature matches.
// A non-positive maxDepth means DefaultMaxJSONDepth.
func (v *Validator) ValidateJSON(data []byte, maxDepth int) JSONResult {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxJSONDepth
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return JSONResult{IsValid: false, Errors: []string{"Invalid JSON format"}}
	}

	errs := []string{}
	if jsonDepth(parsed, 0) > maxDepth {
		errs = append(errs, "JSON structure too deep")
	}
	if v.jsonSuspicious(parsed) {
		errs = append(errs, "JSON contains suspicious content")
	}
	return JSONResult{IsValid: len(errs) == 0, Parsed: parsed, Errors: errs}
}

// jsonDepth counts container levels that hold at least one value.
func jsonDepth(value any, depth int) int {
	deepest := depth
	switch t := value.(type) {
	case map[string]any:
		for _, child := range t {
			deepest = max(deepest, jsonDepth(child, depth+1))
		}
	case []any:
		for _, child := range t {
			deepest = max(deepest, jsonDepth(child, depth+1))
		}
	}
	return deepest
}

func (v *Validator) jsonSuspicious(value any) bool {
	switch t := value.(type) {
	case string:
		return v.scanner.Matches(FamilySQLInjection, t) || v.scanner.Matches(FamilyXSS, t)
	case map[string]any:
		for key, child := range t {
			if v.jsonSuspicious(key) || v.jsonSuspicious(child) {
				return true
			}
		}
	case []any:
		for _, child := range t {
			if v.jsonSuspicious(child) {
				return true
			}
		}
	}
	return false
}

// SanitizeHTML keeps only SafeTags, without attributes.
func (v *Validator) SanitizeHTML(html string) string {
	return v.html.AllowSafe(html)
}

// IsSuspiciousUserAgent reports a missing or automated-client user agent.
func (v *Validator) IsSuspiciousUserAgent(userAgent string) bool {
	if strings.TrimFunc(userAgent, unicode.IsSpace) == "" {
		return true
	}
	return v.scanner.Matches(FamilySuspiciousUserAgent, userAgent)
}

// ContainsSQLInjection reports a match of the SQL injection family.
func (v *Validator) ContainsSQLInjection(input string) bool {
	return v.scanner.Matches(FamilySQLInjection, input)
}

// ContainsXSS reports a match of the XSS family.
func (v *Validator) ContainsXSS(input string) bool {
	return v.scanner.Matches(FamilyXSS, input)
}

// ContainsPathTraversal reports a match of the path traversal family.
func (v *Validator) ContainsPathTraversal(input string) bool {
	return v.scanner.Matches(FamilyPathTraversal, input)
}

// ContainsCommandInjection reports a match of the command injection family.
func (v *Validator) ContainsCommandInjection(input string) bool {
	return v.scanner.Matches(FamilyCommandInjection, input)
}
