package cli

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/everyskill/relay/internal/middleware"
	"github.com/everyskill/relay/internal/model"
)

var (
	errNoFrontMatter   = errors.New("SKILL.md must start with a --- front matter block")
	errOpenFrontMatter = errors.New("front matter block is not closed")
)

// SkillFile is a parsed SKILL.md document.
type SkillFile struct {
	Name        string `yaml:"name"`
	Slug        string `yaml:"slug"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	PriceCents  int64  `yaml:"price_cents"`
	Content     string `yaml:"-"`
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// ParseSkillFile splits the YAML front matter from the markdown body and
// fills in defaults. The body becomes the skill content.
func ParseSkillFile(data []byte) (*SkillFile, error) {
	data = bytes.TrimPrefix(data, []byte("\ufeff"))
	text := strings.ReplaceAll(string(data), "\r\n", "\n")

	if !strings.HasPrefix(text, "---\n") {
		return nil, errNoFrontMatter
	}
	block := "\n" + text[len("---\n"):]
	end := strings.Index(block, "\n---")
	if end < 0 {
		return nil, errOpenFrontMatter
	}
	header := block[:end]
	body := block[end+len("\n---"):]

	var sf SkillFile
	if err := yaml.Unmarshal([]byte(header), &sf); err != nil {
		return nil, fmt.Errorf("parse front matter: %w", err)
	}
	sf.Content = strings.TrimSpace(body)

	sf.Name = strings.TrimSpace(sf.Name)
	if sf.Name == "" {
		return nil, errors.New("front matter: name is required")
	}
	if sf.Slug == "" {
		sf.Slug = Slugify(sf.Name)
	}
	if err := middleware.ValidateSkillRef(sf.Slug); err != nil {
		return nil, fmt.Errorf("front matter: slug %q: %w", sf.Slug, err)
	}
	if sf.Category == "" {
		sf.Category = model.CategoryPrompt
	}
	if !slices.Contains(model.ValidCategories, sf.Category) {
		return nil, fmt.Errorf("front matter: unknown category %q", sf.Category)
	}
	if sf.PriceCents < 0 {
		return nil, errors.New("front matter: price_cents must not be negative")
	}
	if sf.Content == "" {
		return nil, errors.New("skill body is empty")
	}
	return &sf, nil
}

// ContentHash is the hex sha256 of the content, as stored on skills.
func (sf *SkillFile) ContentHash() string {
	sum := sha256.Sum256([]byte(sf.Content))
	return hex.EncodeToString(sum[:])
}

// Slugify lower-cases s and joins its alphanumeric runs with hyphens.
func Slugify(s string) string {
	slug := strings.Trim(nonSlugChars.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > middleware.MaxSlugLength {
		slug = strings.TrimRight(slug[:middleware.MaxSlugLength], "-")
	}
	return slug
}
