package validation

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Family groups signatures that detect the same class of attack.
type Family string

const (
	FamilySQLInjection        Family = "sql_injection"
	FamilyXSS                 Family = "xss"
	FamilyPathTraversal       Family = "path_traversal"
	FamilyCommandInjection    Family = "command_injection"
	FamilySuspiciousUserAgent Family = "suspicious_user_agent"
)

// requiredFamilies must all be present in a signature document.
var requiredFamilies = []Family{
	FamilySQLInjection,
	FamilyXSS,
	FamilyPathTraversal,
	FamilyCommandInjection,
	FamilySuspiciousUserAgent,
}

//go:embed signatures.yaml
var defaultSignatures []byte

// signatureDocument is the YAML layout of a signature file.
type signatureDocument struct {
	Version  int                         `yaml:"version"`
	Families map[Family][]signatureEntry `yaml:"families"`
}

type signatureEntry struct {
	Name    string `yaml:"name"`
	Pattern string `yaml:"pattern"`
}

// compiledSignature holds a pre-compiled pattern with its metadata.
type compiledSignature struct {
	name   string
	family Family
	re     *regexp.Regexp
}

// Finding is one signature match.
type Finding struct {
	Family    Family
	Signature string
	// Match is the matched text, truncated to 100 bytes.
	Match string
}

// Scanner matches input against compiled signature families.
// It is immutable after construction and safe for concurrent use.
type Scanner struct {
	version  int
	families map[Family][]compiledSignature
}

var (
	defaultScanner     *Scanner
	defaultScannerOnce sync.Once
)

// DefaultScanner returns the scanner built from the embedded signatures.
func DefaultScanner() *Scanner {
	defaultScannerOnce.Do(func() {
		s, err := ParseSignatures(defaultSignatures)
		if err != nil {
			panic(fmt.Sprintf("embedded signatures are invalid: %v", err))
		}
		defaultScanner = s
	})
	return defaultScanner
}

// LoadSignatures reads and compiles a signature file.
func LoadSignatures(path string) (*Scanner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signatures: %w", err)
	}
	return ParseSignatures(data)
}

// ParseSignatures compiles a YAML signature document.
func ParseSignatures(data []byte) (*Scanner, error) {
	var doc signatureDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse signatures: %w", err)
	}
	if doc.Version < 1 {
		return nil, fmt.Errorf("signatures: unsupported version %d", doc.Version)
	}

	s := &Scanner{
		version:  doc.Version,
		families: make(map[Family][]compiledSignature, len(doc.Families)),
	}
	for _, f := range requiredFamilies {
		if len(doc.Families[f]) == 0 {
			return nil, fmt.Errorf("signatures: family %q is empty", f)
		}
	}
	for family, entries := range doc.Families {
		for _, e := range entries {
			re, err := regexp.Compile(e.Pattern)
			if err != nil {
				return nil, fmt.Errorf("signatures: %s/%s: %w", family, e.Name, err)
			}
			s.families[family] = append(s.families[family], compiledSignature{
				name:   e.Name,
				family: family,
				re:     re,
			})
		}
	}
	return s, nil
}

// Version returns the signature document version.
func (s *Scanner) Version() int { return s.version }

// Matches reports whether any signature of family matches input.
func (s *Scanner) Matches(family Family, input string) bool {
	for _, sig := range s.families[family] {
		if sig.re.MatchString(input) {
			return true
		}
	}
	return false
}

// Scan returns every match of every family in input.
func (s *Scanner) Scan(input string) []Finding {
	var findings []Finding
	for _, family := range requiredFamilies {
		findings = append(findings, s.scanFamily(family, input)...)
	}
	return findings
}

func (s *Scanner) scanFamily(family Family, input string) []Finding {
	var findings []Finding
	for _, sig := range s.families[family] {
		loc := sig.re.FindStringIndex(input)
		if loc == nil {
			continue
		}
		match := input[loc[0]:loc[1]]
		if len(match) > 100 {
			match = match[:100]
		}
		findings = append(findings, Finding{
			Family:    family,
			Signature: sig.name,
			Match:     match,
		})
	}
	return findings
}
