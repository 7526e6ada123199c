package ratelimit

import "strings"

// Rule maps a class of requests to a tier.
type Rule struct {
	Tier Tier

	// Prefix matches when the path starts with it.
	Prefix string

	// Segments matches when any path segment equals one of them.
	Segments []string

	// Methods restricts the rule to these HTTP methods. Empty matches all.
	Methods []string
}

func (r Rule) matches(path, method string) bool {
	if len(r.Methods) > 0 && !containsFold(r.Methods, method) {
		return false
	}
	if r.Prefix != "" && !strings.HasPrefix(path, r.Prefix) {
		return false
	}
	if len(r.Segments) > 0 && !hasSegment(path, r.Segments) {
		return false
	}
	return r.Prefix != "" || len(r.Segments) > 0
}

// Classifier picks the tier of a request. Rules are evaluated in order and
// the first match wins.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier from ordered rules.
func NewClassifier(rules ...Rule) *Classifier {
	return &Classifier{rules: rules}
}

// DefaultClassifier returns the standard ordering: auth routes, then
// sensitive segments, then the API catch-all.
func DefaultClassifier() *Classifier {
	return NewClassifier(
		Rule{Tier: TierAuth, Prefix: "/api/auth/"},
		Rule{Tier: TierStrict, Segments: []string{
			"admin", "payment", "payments", "prescription", "prescriptions",
		}},
		Rule{Tier: TierAPI, Prefix: "/api/"},
	)
}

// Classify returns the tier for path and method, or TierNone.
func (c *Classifier) Classify(path, method string) Tier {
	for _, r := range c.rules {
		if r.matches(path, method) {
			return r.Tier
		}
	}
	return TierNone
}

func hasSegment(path string, segments []string) bool {
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		for _, s := range segments {
			if part == s {
				return true
			}
		}
	}
	return false
}

func containsFold(values []string, v string) bool {
	for _, s := range values {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
