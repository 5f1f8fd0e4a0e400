package middleware

import (
	"strings"
	"testing"
)

func TestValidateSkillRef(t *testing.T) {
	tests := []struct {
		name    string
		ref     string
		wantErr error
	}{
		{
			name:    "slug",
			ref:     "weekly-report-writer",
			wantErr: nil,
		},
		{
			name:    "ulid",
			ref:     "01HV6Z3W8K2Q9M4N5P6R7S8T9V",
			wantErr: nil,
		},
		{
			name:    "with underscore",
			ref:     "my_skill",
			wantErr: nil,
		},
		{
			name:    "empty",
			ref:     "",
			wantErr: ErrSkillRefEmpty,
		},
		{
			name:    "too long",
			ref:     strings.Repeat("a", MaxSlugLength+1),
			wantErr: ErrSkillRefTooLong,
		},
		{
			name:    "path traversal",
			ref:     "../etc",
			wantErr: ErrSkillRefInvalid,
		},
		{
			name:    "space",
			ref:     "my skill",
			wantErr: ErrSkillRefInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSkillRef(tt.ref)
			if err != tt.wantErr {
				t.Errorf("ValidateSkillRef(%q) = %v, want %v", tt.ref, err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		want    string
		wantErr bool
	}{
		{"plain", "acme.example.com", "acme.example.com", false},
		{"upper case and dot", "Acme.Example.COM.", "acme.example.com", false},
		{"with port", "acme.example.com:443", "acme.example.com", false},
		{"localhost", "localhost", "localhost", false},
		{"single label", "intranet", "", true},
		{"empty", "  ", "", true},
		{"bad label", "-bad.example.com", "", true},
		{"underscore", "a_b.example.com", "", true},
		{"empty label", "a..example.com", "", true},
		{"too long", strings.Repeat("a.", 130) + "com", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeDomain(tt.domain)
			if tt.wantErr {
				if err == nil {
					t.Errorf("NormalizeDomain(%q) = %q, want error", tt.domain, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeDomain(%q) error: %v", tt.domain, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeDomain(%q) = %q, want %q", tt.domain, got, tt.want)
			}
		})
	}
}

func TestValidateSearchQuery(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  error
	}{
		{"ascii", "deploy", nil},
		{"multibyte", "déploiement 日本", nil},
		{"too long", strings.Repeat("q", MaxSearchQueryLength+1), ErrQueryTooLong},
		{"split rune", strings.Repeat("a", 199) + "\xc3", ErrQueryEncoding},
		{"invalid byte", "deploy\xff", ErrQueryEncoding},
		{"nul byte", "deploy\x00", ErrQueryEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateSearchQuery(tt.query); err != tt.want {
				t.Errorf("ValidateSearchQuery(%q) = %v, want %v", tt.query, err, tt.want)
			}
		})
	}
}
