package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/repository"
)

const (
	gmailReadonlyScope = "https://www.googleapis.com/auth/gmail.readonly"
	gmailStateTTL      = 10 * time.Minute
	googleRevokeURL    = "https://oauth2.googleapis.com/revoke"
	gmailProfileURL    = "https://gmail.googleapis.com/gmail/v1/users/me/profile"
)

// GmailTokenStore persists sealed Gmail grants.
type GmailTokenStore interface {
	UpsertGmailToken(ctx context.Context, t *model.GmailToken) error
	GetGmailToken(ctx context.Context, tenantID, userID string) (*model.GmailToken, error)
	DeleteGmailToken(ctx context.Context, tenantID, userID string) error
}

// TokenSealer encrypts tokens at rest.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// GmailConfig configures the Gmail OAuth client.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string // public web URL; the callback lives under it
	StateSecret  string

	// Overridable for tests.
	Endpoint   oauth2.Endpoint
	RevokeURL  string
	ProfileURL string
	HTTPClient *http.Client
}

// GmailService connects and disconnects users' Gmail accounts.
type GmailService struct {
	oauth      *oauth2.Config
	store      GmailTokenStore
	sealer     TokenSealer
	secret     string
	baseURL    string
	revokeURL  string
	profileURL string
	client     *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewGmailService creates a GmailService.
func NewGmailService(cfg GmailConfig, store GmailTokenStore, sealer TokenSealer, logger *slog.Logger) *GmailService {
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}
	revokeURL := cfg.RevokeURL
	if revokeURL == "" {
		revokeURL = googleRevokeURL
	}
	profileURL := cfg.ProfileURL
	if profileURL == "" {
		profileURL = gmailProfileURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	return &GmailService{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  baseURL + "/api/gmail/callback",
			Scopes:       []string{gmailReadonlyScope},
		},
		store:      store,
		sealer:     sealer,
		secret:     cfg.StateSecret,
		baseURL:    baseURL,
		revokeURL:  revokeURL,
		profileURL: profileURL,
		client:     client,
		logger:     logger.With("component", "service.gmail"),
		now:        time.Now,
	}
}

// ConnectURL returns the Google consent URL for the session's user.
func (g *GmailService) ConnectURL(sess *model.Session) (string, error) {
	state, err := auth.SignState(g.secret, sess.UserID, gmailStateTTL, g.now())
	if err != nil {
		return "", err
	}
	return g.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce), nil
}

// SettingsURL is where the browser lands after a completed connect.
func (g *GmailService) SettingsURL() string {
	return g.baseURL + "/settings?gmail=connected"
}

// Callback verifies state, exchanges the code and stores the sealed grant.
func (g *GmailService) Callback(ctx context.Context, sess *model.Session, code, state string) error {
	subject, err := auth.VerifyState(g.secret, state, g.now())
	if err != nil || subject != sess.UserID {
		return ErrInvalidState
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	token, err := g.oauth.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("exchange code: %w", err)
	}

	access, err := g.sealer.Seal(token.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}
	var refresh string
	if token.RefreshToken != "" {
		if refresh, err = g.sealer.Seal(token.RefreshToken); err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	}

	record := &model.GmailToken{
		UserID:       sess.UserID,
		TenantID:     sess.TenantID,
		Email:        g.profileEmail(ctx, token),
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       token.Expiry,
		Scopes:       g.oauth.Scopes,
	}
	if err := g.store.UpsertGmailToken(ctx, record); err != nil {
		return fmt.Errorf("store token: %w", err)
	}

	g.logger.Info("gmail connected", "tenant_id", sess.TenantID, "user_id", sess.UserID)
	return nil
}

// profileEmail asks Gmail which address was connected. Best effort.
func (g *GmailService) profileEmail(ctx context.Context, token *oauth2.Token) string {
	client := g.oauth.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.profileURL, nil)
	if err != nil {
		return ""
	}
	resp, err := client.Do(req)
	if err != nil {
		g.logger.Warn("gmail profile lookup failed", "error", err)
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		g.logger.Warn("gmail profile lookup failed", "status", resp.StatusCode)
		return ""
	}

	var profile struct {
		EmailAddress string `json:"emailAddress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return ""
	}
	return profile.EmailAddress
}

// Disconnect deletes the stored grant and asks Google to revoke it.
// A failed revocation is logged only.
func (g *GmailService) Disconnect(ctx context.Context, sess *model.Session) error {
	stored, err := g.store.GetGmailToken(ctx, sess.TenantID, sess.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load token: %w", err)
	}

	if err := g.store.DeleteGmailToken(ctx, sess.TenantID, sess.UserID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}

	sealed := stored.RefreshToken
	if sealed == "" {
		sealed = stored.AccessToken
	}
	if err := g.revoke(ctx, sealed); err != nil {
		g.logger.Warn("gmail revoke failed", "user_id", sess.UserID, "error", err)
	}

	g.logger.Info("gmail disconnected", "tenant_id", sess.TenantID, "user_id", sess.UserID)
	return nil
}

func (g *GmailService) revoke(ctx context.Context, sealed string) error {
	token, err := g.sealer.Open(sealed)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke returned %d", resp.StatusCode)
	}
	return nil
}

// Status reports whether the session's user has a stored grant.
func (g *GmailService) Status(ctx context.Context, sess *model.Session) (*model.GmailStatus, error) {
	stored, err := g.store.GetGmailToken(ctx, sess.TenantID, sess.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.GmailStatus{Connected: false}, nil
		}
		return nil, fmt.Errorf("load token: %w", err)
	}
	connectedAt := stored.ConnectedAt
	return &model.GmailStatus{
		Connected:   true,
		Email:       stored.Email,
		ConnectedAt: &connectedAt,
	}, nil
}
