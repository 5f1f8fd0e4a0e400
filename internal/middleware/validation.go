package middleware

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation limits.
const (
	// MaxSlugLength is the maximum length for a skill slug.
	MaxSlugLength = 100

	// MaxDomainLength is the longest hostname accepted by the domain check.
	MaxDomainLength = 253

	// MaxSearchQueryLength bounds the q parameter before trimming.
	MaxSearchQueryLength = 1000
)

// Validation errors.
var (
	ErrSkillRefEmpty   = errors.New("skill reference is empty")
	ErrSkillRefTooLong = errors.New("skill reference exceeds maximum length")
	ErrSkillRefInvalid = errors.New("skill reference contains invalid characters")
	ErrDomainInvalid   = errors.New("domain is invalid")
	ErrQueryTooLong    = errors.New("search query exceeds maximum length")
	ErrQueryEncoding   = errors.New("search query is not valid UTF-8")
)

// validSkillRefPattern matches slugs and ULIDs.
// Allowed: a-z, A-Z, 0-9, hyphen, underscore
var validSkillRefPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var domainLabelPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidateSkillRef validates a slug or skill id taken from a URL path.
func ValidateSkillRef(ref string) error {
	if ref == "" {
		return ErrSkillRefEmpty
	}
	if len(ref) > MaxSlugLength {
		return ErrSkillRefTooLong
	}
	if !validSkillRefPattern.MatchString(ref) {
		return ErrSkillRefInvalid
	}
	return nil
}

// NormalizeDomain lower-cases a hostname, strips one trailing dot and any
// port, and checks it is a syntactically valid multi-label name.
func NormalizeDomain(domain string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(domain))
	if i := strings.LastIndexByte(d, ':'); i >= 0 && !strings.Contains(d[i:], "]") {
		d = d[:i]
	}
	d = strings.TrimSuffix(d, ".")

	if d == "" || len(d) > MaxDomainLength {
		return "", ErrDomainInvalid
	}
	labels := strings.Split(d, ".")
	if len(labels) < 2 && d != "localhost" {
		return "", ErrDomainInvalid
	}
	for _, l := range labels {
		if !domainLabelPattern.MatchString(l) {
			return "", ErrDomainInvalid
		}
	}
	return d, nil
}

// ValidateSearchQuery rejects oversized queries and invalid UTF-8, which
// PostgreSQL refuses as text.
func ValidateSearchQuery(q string) error {
	if len(q) > MaxSearchQueryLength {
		return ErrQueryTooLong
	}
	if !utf8.ValidString(q) || strings.ContainsRune(q, 0) {
		return ErrQueryEncoding
	}
	return nil
}
