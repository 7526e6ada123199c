package validation

import (
	"strings"
	"testing"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() error: %v", err)
	}
	return v
}

func containsError(errs []string, want string) bool {
	for _, e := range errs {
		if e == want {
			return true
		}
	}
	return false
}

func TestValidateEmail(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name      string
		input     string
		valid     bool
		sanitized string
		wantErr   string
	}{
		{"plain", "user@example.com", true, "user@example.com", ""},
		{"normalised", "  User@Example.COM ", true, "user@example.com", ""},
		{"missing at", "user.example.com", false, "user.example.com", "Invalid email format"},
		{"sql quote", "a' OR '1'='1@example.com", false, "a' or '1'='1@example.com", "Email contains suspicious characters"},
		{"too long", strings.Repeat("a", 250) + "@ex.com", false, "", "Email too long"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.ValidateEmail(tt.input)
			if got.IsValid != tt.valid {
				t.Errorf("IsValid = %v, want %v (errors %v)", got.IsValid, tt.valid, got.Errors)
			}
			if tt.sanitized != "" && got.Sanitized != tt.sanitized {
				t.Errorf("Sanitized = %q, want %q", got.Sanitized, tt.sanitized)
			}
			if tt.wantErr != "" && !containsError(got.Errors, tt.wantErr) {
				t.Errorf("Errors = %v, want %q", got.Errors, tt.wantErr)
			}
			if got.IsValid && len(got.Errors) != 0 {
				t.Errorf("valid result carries errors %v", got.Errors)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	v := newTestValidator(t)

	t.Run("accepted", func(t *testing.T) {
		got := v.ValidatePassword("Tr0ub4dor&3")
		if !got.IsValid {
			t.Fatalf("expected valid, errors %v", got.Errors)
		}
		if got.Complexity != 4 {
			t.Errorf("Complexity = %d, want 4", got.Complexity)
		}
		if got.Strength != StrengthMedium {
			t.Errorf("Strength = %q, want medium", got.Strength)
		}
	})

	t.Run("strong", func(t *testing.T) {
		got := v.ValidatePassword("Correct-Horse-9")
		if !got.IsValid || got.Strength != StrengthStrong {
			t.Errorf("got %+v, want valid strong", got)
		}
	})

	t.Run("repeated and simple", func(t *testing.T) {
		got := v.ValidatePassword("aaaaaaaa")
		if got.IsValid {
			t.Fatal("expected invalid")
		}
		if len(got.Errors) < 2 {
			t.Errorf("expected at least 2 errors, got %v", got.Errors)
		}
		if !containsError(got.Errors, "Password cannot contain repeated characters") {
			t.Errorf("missing repeated-character error in %v", got.Errors)
		}
		if got.Strength != StrengthWeak {
			t.Errorf("Strength = %q, want weak", got.Strength)
		}
	})

	t.Run("common pattern", func(t *testing.T) {
		got := v.ValidatePassword("MyPassword#2024")
		if !containsError(got.Errors, "Password cannot contain common patterns") {
			t.Errorf("Errors = %v, want common-pattern error", got.Errors)
		}
	})

	t.Run("too short", func(t *testing.T) {
		got := v.ValidatePassword("Ab1!")
		if !containsError(got.Errors, "Password must be at least 8 characters long") {
			t.Errorf("Errors = %v, want length error", got.Errors)
		}
	})
}

func TestHasRepeatedRun(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"aab", false},
		{"aaab", true},
		{"abcabc", false},
		{"x111y", true},
		{"", false},
	}
	for _, tt := range tests {
		if got := hasRepeatedRun(tt.in, 3); got != tt.want {
			t.Errorf("hasRepeatedRun(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidateText(t *testing.T) {
	v := newTestValidator(t)

	t.Run("benign", func(t *testing.T) {
		got := v.ValidateText("  Need paracetamol delivered today  ", 0)
		if !got.IsValid {
			t.Fatalf("expected valid, errors %v", got.Errors)
		}
		if got.Sanitized != "Need paracetamol delivered today" {
			t.Errorf("Sanitized = %q", got.Sanitized)
		}
	})

	t.Run("markup escaped", func(t *testing.T) {
		got := v.ValidateText("<b>hello</b>", 100)
		if strings.Contains(got.Sanitized, "<") {
			t.Errorf("Sanitized = %q still contains markup", got.Sanitized)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		got := v.ValidateText(strings.Repeat("é", 20), 10)
		if !containsError(got.Errors, "Text too long (max 10 characters)") {
			t.Errorf("Errors = %v, want length error", got.Errors)
		}
		if got.Sanitized != strings.Repeat("é", 10) {
			t.Errorf("Sanitized = %q, want 10 runes", got.Sanitized)
		}
	})

	t.Run("sql", func(t *testing.T) {
		got := v.ValidateText("1 UNION SELECT password FROM users", 0)
		if !containsError(got.Errors, "Text contains suspicious patterns") {
			t.Errorf("Errors = %v, want sql error", got.Errors)
		}
	})

	t.Run("command", func(t *testing.T) {
		got := v.ValidateText("hello && whoami", 0)
		if !containsError(got.Errors, "Text contains potentially dangerous commands") {
			t.Errorf("Errors = %v, want command error", got.Errors)
		}
	})

	t.Run("scans sanitized text", func(t *testing.T) {
		stripped, err := NewValidator(WithHTMLSanitizer(fixedSanitizer("Need paracetamol")))
		if err != nil {
			t.Fatal(err)
		}
		got := stripped.ValidateText("'; DROP TABLE orders --", 0)
		if !got.IsValid || got.Sanitized != "Need paracetamol" {
			t.Errorf("got %+v, want the sanitizer output to be what is scanned", got)
		}
	})
}

// fixedSanitizer returns the same text for any input.
type fixedSanitizer string

func (f fixedSanitizer) StripAll(string) string  { return string(f) }
func (f fixedSanitizer) AllowSafe(string) string { return string(f) }

func TestValidatePhone(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		input     string
		valid     bool
		sanitized string
	}{
		{"6 77 12 34 56", true, "+237677123456"},
		{"+237 677-123-456", true, "+237677123456"},
		{"222123456", true, "+237222123456"},
		{"577123456", false, "+577123456"},
		{"12345", false, "+12345"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := v.ValidatePhone(tt.input)
			if got.IsValid != tt.valid {
				t.Errorf("IsValid = %v, want %v", got.IsValid, tt.valid)
			}
			if got.Sanitized != tt.sanitized {
				t.Errorf("Sanitized = %q, want %q", got.Sanitized, tt.sanitized)
			}
		})
	}
}

func TestValidatePhone_CustomPolicy(t *testing.T) {
	v, err := NewValidator(WithPhonePolicy(PhonePolicy{
		CountryCode:    "33",
		NationalLength: 9,
		Pattern:        `^(33)?[67][0-9]{8}$`,
		Message:        "Invalid French mobile number",
	}))
	if err != nil {
		t.Fatalf("NewValidator() error: %v", err)
	}
	got := v.ValidatePhone("06 12 34 56 78")
	if got.IsValid {
		t.Errorf("leading zero should not match, got %+v", got)
	}
	got = v.ValidatePhone("612345678")
	if !got.IsValid || got.Sanitized != "+33612345678" {
		t.Errorf("got %+v, want +33612345678", got)
	}

	if _, err := NewValidator(WithPhonePolicy(PhonePolicy{Pattern: "("})); err == nil {
		t.Error("invalid phone pattern should fail")
	}
}

func TestValidateFile(t *testing.T) {
	v := newTestValidator(t)
	allowed := []string{"image/jpeg", "application/pdf"}

	got := v.ValidateFile(FileInfo{Name: "rx.pdf", ContentType: "application/pdf", Size: 1024}, allowed, 5<<20)
	if !got.IsValid {
		t.Errorf("expected valid, errors %v", got.Errors)
	}

	got = v.ValidateFile(FileInfo{Name: "../../etc/passwd", ContentType: "text/plain", Size: 6 << 20}, allowed, 5<<20)
	want := []string{
		"File type not allowed. Allowed types: image/jpeg, application/pdf",
		"File too large. Maximum size: 5MB",
		"Invalid file name",
	}
	for _, w := range want {
		if !containsError(got.Errors, w) {
			t.Errorf("Errors = %v, missing %q", got.Errors, w)
		}
	}
}

func TestValidateJSON(t *testing.T) {
	v := newTestValidator(t)

	t.Run("valid", func(t *testing.T) {
		got := v.ValidateJSON([]byte(`{"name":"Amoxicillin","qty":2,"tags":["antibiotic"]}`), 0)
		if !got.IsValid {
			t.Fatalf("expected valid, errors %v", got.Errors)
		}
		m, ok := got.Parsed.(map[string]any)
		if !ok || m["name"] != "Amoxicillin" {
			t.Errorf("Parsed = %#v", got.Parsed)
		}
	})

	t.Run("malformed", func(t *testing.T) {
		got := v.ValidateJSON([]byte(`{"name":`), 0)
		if got.IsValid || got.Parsed != nil || !containsError(got.Errors, "Invalid JSON format") {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("too deep", func(t *testing.T) {
		doc := strings.Repeat(`{"a":`, 4) + "1" + strings.Repeat("}", 4)
		got := v.ValidateJSON([]byte(doc), 3)
		if !containsError(got.Errors, "JSON structure too deep") {
			t.Errorf("Errors = %v, want depth error", got.Errors)
		}
		if got := v.ValidateJSON([]byte(doc), 4); !got.IsValid {
			t.Errorf("depth 4 should be accepted at max 4, errors %v", got.Errors)
		}
	})

	t.Run("suspicious value", func(t *testing.T) {
		got := v.ValidateJSON([]byte(`{"note":"<script>alert(1)</script>"}`), 0)
		if !containsError(got.Errors, "JSON contains suspicious content") {
			t.Errorf("Errors = %v, want suspicious content", got.Errors)
		}
	})

	t.Run("quoted values are not suspicious", func(t *testing.T) {
		got := v.ValidateJSON([]byte(`{"email":"patient@pharmalink.cm","items":[{"sku":"AMX-500"}]}`), 0)
		if !got.IsValid {
			t.Errorf("Errors = %v, want a plain document accepted", got.Errors)
		}
	})

	t.Run("suspicious nested value", func(t *testing.T) {
		got := v.ValidateJSON([]byte(`{"items":[{"note":"<img src=x onerror=alert(1)>"}]}`), 0)
		if !containsError(got.Errors, "JSON contains suspicious content") {
			t.Errorf("Errors = %v, want suspicious content", got.Errors)
		}
	})

	t.Run("suspicious key", func(t *testing.T) {
		got := v.ValidateJSON([]byte(`{"x; DROP TABLE users":1}`), 0)
		if got.IsValid {
			t.Error("expected suspicious key to be rejected")
		}
	})
}

func TestJSONDepth(t *testing.T) {
	tests := []struct {
		doc  any
		want int
	}{
		{1.0, 0},
		{map[string]any{}, 0},
		{map[string]any{"a": 1.0}, 1},
		{[]any{[]any{1.0}}, 2},
	}
	for _, tt := range tests {
		if got := jsonDepth(tt.doc, 0); got != tt.want {
			t.Errorf("jsonDepth(%v) = %d, want %d", tt.doc, got, tt.want)
		}
	}
}

func TestIsSuspiciousUserAgent(t *testing.T) {
	v := newTestValidator(t)

	suspicious := []string{"", "   ", "curl/8.4.0", "python-requests/2.31", "Go-http-client/1.1", "Googlebot/2.1", "PostmanRuntime/7.36"}
	for _, ua := range suspicious {
		if !v.IsSuspiciousUserAgent(ua) {
			t.Errorf("IsSuspiciousUserAgent(%q) = false, want true", ua)
		}
	}

	browser := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	if v.IsSuspiciousUserAgent(browser) {
		t.Errorf("browser user agent flagged")
	}
}

func TestSanitizeHTML_EscapeFallback(t *testing.T) {
	v := newTestValidator(t)
	got := v.SanitizeHTML(`<b onclick="x()">hi</b> & 'bye'/`)
	want := "&lt;b onclick=&quot;x()&quot;&gt;hi&lt;&#x2F;b&gt; &amp; &#x27;bye&#x27;&#x2F;"
	if got != want {
		t.Errorf("SanitizeHTML() = %q, want %q", got, want)
	}
}

func TestContainsHelpers(t *testing.T) {
	v := newTestValidator(t)

	if !v.ContainsPathTraversal("..%2fetc") {
		t.Error("encoded traversal not detected")
	}
	if !v.ContainsXSS(`<img src=x onerror=alert(1)>`) {
		t.Error("img XSS not detected")
	}
	if !v.ContainsSQLInjection("1 OR 1=1") {
		t.Error("tautology not detected")
	}
	if !v.ContainsCommandInjection("$(reboot)") {
		t.Error("subshell not detected")
	}
	if v.ContainsPathTraversal("prescription-2024.pdf") {
		t.Error("plain file name flagged")
	}
}
