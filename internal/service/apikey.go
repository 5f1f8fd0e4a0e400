package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/repository"
)

// MinValidateDuration pads key validation so timing does not reveal
// which check failed.
const MinValidateDuration = 200 * time.Millisecond

// APIKeyStore is the API key persistence used by APIKeyService.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByID(ctx context.Context, tenantID, id string) (*model.APIKey, error)
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID, userID string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, id string, at time.Time) error
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
	GetUser(ctx context.Context, tenantID, id string) (*model.User, error)
}

// AuthCache caches resolved API key principals.
type AuthCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error
	InvalidateKey(ctx context.Context, keyID string) error
}

// APIKeyService authenticates and manages API keys.
type APIKeyService struct {
	store  APIKeyStore
	cache  AuthCache
	logger *slog.Logger
	now    func() time.Time
	sleep  func(time.Duration)
	env    string
}

// NewAPIKeyService creates a new APIKeyService. cache may be nil.
func NewAPIKeyService(store APIKeyStore, cache AuthCache, logger *slog.Logger, production bool) *APIKeyService {
	env := auth.EnvTest
	if production {
		env = auth.EnvLive
	}
	return &APIKeyService{
		store:  store,
		cache:  cache,
		logger: logger.With("component", "service.apikey"),
		now:    time.Now,
		sleep:  time.Sleep,
		env:    env,
	}
}

// Authenticate resolves a plaintext key to its principal. Revoked, expired
// and unknown keys all yield ErrInvalidAPIKey.
func (s *APIKeyService) Authenticate(ctx context.Context, key string) (*model.AuthContext, error) {
	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		return nil, ErrInvalidAPIKey
	}

	now := s.now()
	cacheKey := auth.QuickHash(key)
	if s.cache != nil {
		if cached, _ := s.cache.GetAuthContext(ctx, cacheKey); cached != nil {
			if cached.ExpiresAt.IsZero() || now.Before(cached.ExpiresAt) {
				return cached, nil
			}
		}
	}

	candidates, err := s.store.GetAPIKeysByPrefix(ctx, parsed.Prefix)
	if err != nil {
		return nil, fmt.Errorf("lookup key prefix: %w", err)
	}

	// Several keys may share a prefix.
	var matched *model.APIKey
	for _, k := range candidates {
		ok, err := auth.VerifySecret(key, k.KeyHash)
		if err == nil && ok {
			matched = k
			break
		}
	}
	if matched == nil || !matched.Usable(now) {
		return nil, ErrInvalidAPIKey
	}

	principal := &model.AuthContext{
		KeyID:         matched.ID,
		KeyPrefix:     matched.KeyPrefix,
		TenantID:      matched.TenantID,
		UserID:        matched.UserID,
		Scopes:        matched.Scopes,
		RateLimitTier: matched.RateLimitTier,
	}
	if matched.ExpiresAt != nil {
		principal.ExpiresAt = *matched.ExpiresAt
	}

	if s.cache != nil {
		if err := s.cache.SetAuthContext(ctx, cacheKey, principal); err != nil {
			s.logger.Warn("auth cache write failed", "key_id", matched.ID, "error", err)
		}
	}
	s.touch(ctx, matched.ID)
	return principal, nil
}

func (s *APIKeyService) touch(ctx context.Context, keyID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
		defer cancel()
		if err := s.store.UpdateAPIKeyLastUsed(ctx, keyID); err != nil {
			s.logger.Warn("last used update failed", "key_id", keyID, "error", err)
		}
	}()
}

// Validate answers the key validation route. It always takes at least
// MinValidateDuration.
func (s *APIKeyService) Validate(ctx context.Context, key string) model.KeyValidationResponse {
	start := s.now()
	defer func() {
		if elapsed := s.now().Sub(start); elapsed < MinValidateDuration {
			s.sleep(MinValidateDuration - elapsed)
		}
	}()

	principal, err := s.Authenticate(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrInvalidAPIKey) {
			s.logger.Error("key validation failed", "error", err)
		}
		return model.KeyValidationResponse{Valid: false}
	}
	return model.KeyValidationResponse{
		Valid:    true,
		KeyID:    principal.KeyID,
		UserID:   principal.UserID,
		TenantID: principal.TenantID,
		Scopes:   principal.Scopes,
	}
}

// CreateKeyInput describes a new key.
type CreateKeyInput struct {
	TenantID      string
	UserID        string
	Name          string
	Scopes        []string
	ExpiresInDays int
	RateLimitTier string
}

// Create issues a key. The plaintext is returned once and never stored.
func (s *APIKeyService) Create(ctx context.Context, in CreateKeyInput) (*model.APIKeyCreateResponse, error) {
	scopes := in.Scopes
	if len(scopes) == 0 {
		scopes = []string{model.ScopeRead}
	}
	for _, sc := range scopes {
		if !slices.Contains(model.ValidScopes, sc) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidScope, sc)
		}
	}

	if _, err := s.store.GetUser(ctx, in.TenantID, in.UserID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	tier := in.RateLimitTier
	if _, ok := model.TierConfigs[tier]; !ok {
		tier = model.TierFree
	}

	now := s.now().UTC()
	var expiresAt *time.Time
	if in.ExpiresInDays > 0 {
		t := now.AddDate(0, 0, in.ExpiresInDays)
		expiresAt = &t
	}
	return s.issue(ctx, &model.APIKey{
		TenantID:      in.TenantID,
		UserID:        in.UserID,
		Name:          in.Name,
		Scopes:        scopes,
		RateLimitTier: tier,
		ExpiresAt:     expiresAt,
		CreatedAt:     now,
	})
}

func (s *APIKeyService) issue(ctx context.Context, key *model.APIKey) (*model.APIKeyCreateResponse, error) {
	generated, err := auth.GenerateAPIKey(s.env)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	key.ID = ulid.Make().String()
	key.KeyHash = generated.Hash
	key.KeyPrefix = generated.Prefix

	if err := s.store.CreateAPIKey(ctx, key); err != nil {
		return nil, fmt.Errorf("store key: %w", err)
	}

	s.logger.Info("API key created",
		"tenant_id", key.TenantID,
		"key_id", key.ID,
		"key_prefix", key.KeyPrefix,
		"user_id", key.UserID,
	)
	return &model.APIKeyCreateResponse{
		ID:            key.ID,
		Key:           generated.Plaintext,
		Name:          key.Name,
		KeyPrefix:     key.KeyPrefix,
		Scopes:        key.Scopes,
		RateLimitTier: key.RateLimitTier,
		ExpiresAt:     key.ExpiresAt,
		CreatedAt:     key.CreatedAt,
	}, nil
}

// List returns a tenant's keys, optionally only those of userID.
func (s *APIKeyService) List(ctx context.Context, tenantID, userID string) ([]model.APIKeyResponse, error) {
	keys, err := s.store.ListAPIKeys(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	out := make([]model.APIKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.ToResponse())
	}
	return out, nil
}

// ownedKey loads a live key. A non-empty ownerID restricts it to that user;
// foreign keys look missing.
func (s *APIKeyService) ownedKey(ctx context.Context, tenantID, keyID, ownerID string) (*model.APIKey, error) {
	key, err := s.store.GetAPIKeyByID(ctx, tenantID, keyID)
	if err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			return nil, ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("get key: %w", err)
	}
	if key.IsRevoked() || (ownerID != "" && key.UserID != ownerID) {
		return nil, ErrAPIKeyNotFound
	}
	return key, nil
}

// Revoke revokes a key and evicts its cached principals.
func (s *APIKeyService) Revoke(ctx context.Context, tenantID, keyID, ownerID string) error {
	key, err := s.ownedKey(ctx, tenantID, keyID, ownerID)
	if err != nil {
		return err
	}
	if err := s.store.RevokeAPIKey(ctx, tenantID, key.ID, s.now().UTC()); err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			return ErrAPIKeyNotFound
		}
		return fmt.Errorf("revoke key: %w", err)
	}
	s.evict(ctx, key.ID)

	s.logger.Info("API key revoked", "tenant_id", tenantID, "key_id", key.ID)
	return nil
}

// Rotate issues a replacement with the same settings, then revokes the old key.
func (s *APIKeyService) Rotate(ctx context.Context, tenantID, keyID, ownerID string) (*model.APIKeyRotateResponse, error) {
	old, err := s.ownedKey(ctx, tenantID, keyID, ownerID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	created, err := s.issue(ctx, &model.APIKey{
		TenantID:      old.TenantID,
		UserID:        old.UserID,
		Name:          old.Name,
		Scopes:        old.Scopes,
		RateLimitTier: old.RateLimitTier,
		ExpiresAt:     old.ExpiresAt,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.RevokeAPIKey(ctx, tenantID, old.ID, now); err != nil {
		return nil, fmt.Errorf("revoke rotated key: %w", err)
	}
	s.evict(ctx, old.ID)

	return &model.APIKeyRotateResponse{
		OldKeyID:        old.ID,
		OldKeyRevokedAt: now,
		NewKey:          *created,
	}, nil
}

func (s *APIKeyService) evict(ctx context.Context, keyID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateKey(ctx, keyID); err != nil {
		s.logger.Warn("auth cache eviction failed", "key_id", keyID, "error", err)
	}
}
