package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/everyskill/relay/internal/model"
)

// MergeResult reports a completed merge.
type MergeResult struct {
	SourceID    string `json:"sourceId"`
	TargetID    string `json:"targetId"`
	MovedEvents int64  `json:"movedEvents"`
}

// Decide applies an admin review action to a skill. The status change and
// the decision record are written in one transaction.
func (s *SkillService) Decide(ctx context.Context, sess *model.Session, skillID string, action model.ReviewAction, notes string) (*model.ReviewDecision, error) {
	if !sess.IsAdmin() {
		return nil, ErrForbidden
	}
	target, ok := action.TargetStatus()
	if !ok {
		return nil, ErrInvalidAction
	}

	var (
		decision *model.ReviewDecision
		skill    *model.Skill
	)
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		var err error
		skill, err = s.lockLive(ctx, sess.TenantID, skillID)
		if err != nil {
			return err
		}
		if !model.CanTransition(skill.Status, target) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, skill.Status, target)
		}
		if err := s.store.SetSkillStatus(ctx, skill.ID, target); err != nil {
			return err
		}

		decision = &model.ReviewDecision{
			ID:         ulid.Make().String(),
			TenantID:   sess.TenantID,
			SkillID:    skill.ID,
			ReviewerID: sess.UserID,
			Action:     action,
			FromStatus: skill.Status,
			ToStatus:   target,
			Notes:      strings.TrimSpace(notes),
			CreatedAt:  s.now().UTC(),
		}
		if err := s.store.InsertReviewDecision(ctx, decision); err != nil {
			return err
		}
		return s.publish(ctx, sess.TenantID, model.EventSkillReviewed, model.SkillEventData{
			SkillID: skill.ID,
			Slug:    skill.Slug,
			ActorID: sess.UserID,
			Status:  string(target),
			Action:  string(action),
		})
	})
	if err != nil {
		return nil, err
	}

	s.evict(ctx, skill)
	if target == model.SkillStatusPublished {
		s.EmbedSkill(ctx, skill)
	}
	s.metrics.IncSkillReviewed(string(action))
	s.logger.Info("skill reviewed",
		"tenant_id", sess.TenantID,
		"skill_id", skill.ID,
		"action", action,
		"from", decision.FromStatus,
		"to", decision.ToStatus,
	)
	return decision, nil
}

// Merge folds source into target: usage events and reviews move over (the
// target's review wins for users who reviewed both), counters are combined
// and source is marked merged and deleted.
func (s *SkillService) Merge(ctx context.Context, sess *model.Session, sourceID, targetID string) (*MergeResult, error) {
	if !sess.IsAdmin() {
		return nil, ErrForbidden
	}
	if sourceID == "" || targetID == "" || sourceID == targetID {
		return nil, ErrInvalidMerge
	}

	result := &MergeResult{SourceID: sourceID, TargetID: targetID}
	var source, target *model.Skill
	err := s.tx.Do(ctx, func(ctx context.Context) error {
		// Lock in id order so concurrent merges of the same pair cannot deadlock.
		first, second := sourceID, targetID
		if second < first {
			first, second = second, first
		}
		a, err := s.lockLive(ctx, sess.TenantID, first)
		if err != nil {
			return err
		}
		b, err := s.lockLive(ctx, sess.TenantID, second)
		if err != nil {
			return err
		}
		source, target = a, b
		if a.ID != sourceID {
			source, target = b, a
		}

		moved, err := s.store.MoveUsageEvents(ctx, source.ID, target.ID)
		if err != nil {
			return err
		}
		result.MovedEvents = moved

		if err := s.store.MoveReviews(ctx, source.ID, target.ID); err != nil {
			return err
		}
		if err := s.store.AbsorbSkillCounters(ctx, source.ID, target.ID); err != nil {
			return err
		}
		if err := s.store.RecomputeRating(ctx, target.ID); err != nil {
			return err
		}
		if err := s.store.MarkMerged(ctx, source.ID, target.ID, s.now().UTC()); err != nil {
			return err
		}
		if err := s.store.RebuildDailyStats(ctx, source.ID, target.ID); err != nil {
			return err
		}
		return s.publish(ctx, sess.TenantID, model.EventSkillMerged, model.SkillEventData{
			SkillID:  source.ID,
			Slug:     source.Slug,
			ActorID:  sess.UserID,
			TargetID: target.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.evict(ctx, source, target)
	s.metrics.IncSkillMerged()
	s.logger.Info("skills merged",
		"tenant_id", sess.TenantID,
		"source_id", source.ID,
		"target_id", target.ID,
		"moved_events", result.MovedEvents,
	)
	return result, nil
}
