package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/everyskill/relay/internal/model"
)

// UpsertGmailToken stores the user's Gmail grant, replacing any previous one.
// A reconnect keeps the original connected_at.
func (r *Repository) UpsertGmailToken(ctx context.Context, t *model.GmailToken) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO gmail_tokens (user_id, tenant_id, email, access_token, refresh_token, expiry, scopes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			access_token = EXCLUDED.access_token,
			refresh_token = CASE WHEN EXCLUDED.refresh_token = '' THEN gmail_tokens.refresh_token
			                     ELSE EXCLUDED.refresh_token END,
			expiry = EXCLUDED.expiry,
			scopes = EXCLUDED.scopes,
			updated_at = now()
		RETURNING connected_at, updated_at
	`,
		t.UserID, t.TenantID, t.Email, t.AccessToken, t.RefreshToken, nullableTime(t.Expiry), t.Scopes,
	).Scan(&t.ConnectedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert gmail token: %w", err)
	}
	return nil
}

// GetGmailToken returns the stored grant of a user, or ErrNotFound.
func (r *Repository) GetGmailToken(ctx context.Context, tenantID, userID string) (*model.GmailToken, error) {
	var (
		t      model.GmailToken
		expiry *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, tenant_id, email, access_token, refresh_token, expiry, scopes,
		       connected_at, updated_at
		FROM gmail_tokens
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID).Scan(
		&t.UserID, &t.TenantID, &t.Email, &t.AccessToken, &t.RefreshToken, &expiry, &t.Scopes,
		&t.ConnectedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get gmail token: %w", err)
	}
	if expiry != nil {
		t.Expiry = *expiry
	}
	return &t, nil
}

// DeleteGmailToken removes a user's grant. Deleting a missing grant is not
// an error.
func (r *Repository) DeleteGmailToken(ctx context.Context, tenantID, userID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM gmail_tokens WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete gmail token: %w", err)
	}
	return nil
}
