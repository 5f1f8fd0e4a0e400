package service

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/everyskill/relay/internal/model"
)

// maxEmbedText caps the text sent to the embedding model for one skill.
const maxEmbedText = 8000

// Create inserts a skill and embeds it. Embedding is best effort.
func (s *SkillService) Create(ctx context.Context, sk *model.Skill) error {
	if err := s.store.CreateSkill(ctx, sk); err != nil {
		return err
	}
	s.EmbedSkill(ctx, sk)
	return nil
}

// EmbedSkill computes and stores the search embedding of sk. It reports
// whether a vector was stored; failures are logged.
func (s *SkillService) EmbedSkill(ctx context.Context, sk *model.Skill) bool {
	if s.embedder == nil {
		return false
	}
	vec := s.embedder.EmbedOrNil(ctx, skillEmbeddingText(sk))
	if vec == nil {
		s.logger.Warn("skill left without embedding", "skill_id", sk.ID)
		return false
	}
	if err := s.store.UpdateSkillEmbedding(ctx, sk.ID, vec); err != nil {
		s.logger.Warn("store skill embedding failed", "skill_id", sk.ID, "error", err)
		return false
	}
	sk.Embedding = vec
	return true
}

// BackfillEmbeddings embeds up to limit published skills of the tenant that
// have no vector yet and returns how many were stored.
func (s *SkillService) BackfillEmbeddings(ctx context.Context, tenantID string, limit int) (int, error) {
	if s.embedder == nil {
		return 0, nil
	}
	skills, err := s.store.ListUnembeddedSkills(ctx, tenantID, limit)
	if err != nil {
		return 0, fmt.Errorf("list unembedded skills: %w", err)
	}
	var stored int
	for _, sk := range skills {
		if err := ctx.Err(); err != nil {
			return stored, err
		}
		if s.EmbedSkill(ctx, sk) {
			stored++
		}
	}
	return stored, nil
}

func skillEmbeddingText(sk *model.Skill) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{sk.Name, sk.Description, sk.Content} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return truncateUTF8(strings.Join(parts, "\n\n"), maxEmbedText)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
