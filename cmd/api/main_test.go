package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/config"
	"github.com/everyskill/relay/internal/handler"
	"github.com/everyskill/relay/internal/metrics"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/ratelimit"
)

const testSecret = "test-secret"

type rejectAllKeys struct{}

func (rejectAllKeys) Authenticate(context.Context, string) (*model.AuthContext, error) {
	return nil, errors.New("invalid key")
}

func newTestApp(t *testing.T, mutate func(*config.Config)) *app {
	t.Helper()

	cfg := &config.Config{
		AppEnv:                "development",
		AuthSecret:            testSecret,
		RootDomain:            "relay.test",
		RateLimitIPEnabled:    true,
		RateLimitIPRequests:   2,
		RateLimitIPWindow:     time.Minute,
		RateLimitSearchPerMin: 5,
		MaxRequestBodySize:    1 << 20,
	}
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := &app{
		cfg:           cfg,
		logger:        logger,
		recorder:      metrics.NewInMemory(),
		ipLimiter:     ratelimit.New(cfg.RateLimitIPRequests, cfg.RateLimitIPWindow),
		searchLimiter: ratelimit.New(cfg.RateLimitSearchPerMin, time.Minute),
	}
	a.router = a.routes(routeDeps{
		health:  handler.NewHealthHandler(handler.HealthDeps{}),
		public:  handler.NewPublicHandler(nil, cfg.RootDomain, "mk-123", logger),
		metrics: handler.NewMetricsHandler(a.recorder),
		keys:    handler.NewAPIKeyHandler(logger, nil),
		gmail:   handler.NewGmailHandler(nil, logger),
		skills:  handler.NewSkillHandler(nil, logger),
		admin:   handler.NewAdminHandler(nil, "test", logger),
		cron:    handler.NewCronHandler(nil, nil, logger),
		v1:      handler.NewV1Handler(nil, nil, logger),
		keyAuth: rejectAllKeys{},
	})
	return a
}

func sessionToken(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.IssueSession(testSecret, model.Session{
		UserID:   "u1",
		TenantID: "t1",
		Role:     role,
	}, time.Hour)
	require.NoError(t, err)
	return token
}

func TestRoutes(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)
	member := sessionToken(t, model.RoleMember)
	admin := sessionToken(t, model.RoleAdmin)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"liveness", http.MethodGet, "/api/health", "", http.StatusOK},
		{"readiness without deps", http.MethodGet, "/api/health/ready", "", http.StatusOK},
		{"public config", http.MethodGet, "/api/public-config", "", http.StatusOK},
		{"subdomain of root", http.MethodGet, "/api/check-domain?domain=acme.relay.test", "", http.StatusOK},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK},
		{"skill without session", http.MethodGet, "/api/skills/weekly-report", "", http.StatusUnauthorized},
		{"search without session", http.MethodGet, "/api/search?q=x", "", http.StatusUnauthorized},
		{"admin as member", http.MethodGet, "/api/admin/stats", member, http.StatusForbidden},
		{"admin stats", http.MethodGet, "/api/admin/stats", admin, http.StatusOK},
		{"gmail not configured", http.MethodGet, "/api/gmail/status", member, http.StatusServiceUnavailable},
		{"webhooks not mounted without sealer", http.MethodGet, "/api/admin/webhooks", admin, http.StatusNotFound},
		{"cron disabled", http.MethodPost, "/api/cron/integrity-check", "", http.StatusNotFound},
		{"v1 without key", http.MethodGet, "/api/v1/skills", "", http.StatusUnauthorized},
		{"v1 with bad key", http.MethodGet, "/api/v1/skills", "rk_test_abcdef_00000000000000000000000000000000", http.StatusUnauthorized},
		{"unknown route", http.MethodGet, "/api/nope", "", http.StatusNotFound},
		{"wrong method", http.MethodPut, "/api/health", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			a.router.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestRoutes_CronRequiresSecret(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, func(cfg *config.Config) { cfg.CronSecret = "cron-secret" })

	req := httptest.NewRequest(http.MethodGet, "/api/cron/community-detection", nil)
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/cron/community-detection", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRoutes_ValidateKeyIsIPLimited(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, nil)

	var codes []int
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/validate-key", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "203.0.113.7:5000"
		rec := httptest.NewRecorder()
		a.router.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	// The empty body fails validation before the key service is reached.
	assert.Equal(t, []int{http.StatusUnprocessableEntity, http.StatusUnprocessableEntity, http.StatusTooManyRequests}, codes)
}

func TestRedactURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"postgres://relay:hunter2@db:5432/relay", "postgres://relay@db:5432/relay"},
		{"redis://:hunter2@cache:6379/0", "redis://redacted@cache:6379/0"},
		{"redis://cache:6379", "redis://cache:6379"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, redactURL(tt.in), tt.in)
	}
}

func TestSanitizeError(t *testing.T) {
	t.Parallel()

	dsn := "postgres://relay:hunter2@db:5432/relay"
	err := errors.New("dial " + dsn + " failed: password=hunter2 rejected")

	got := sanitizeError(err, dsn)
	assert.NotContains(t, got, "hunter2")
	assert.Contains(t, got, "postgres://relay@db:5432/relay")
	assert.Contains(t, got, "password=redacted")
	assert.Empty(t, sanitizeError(nil))
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, parseLogLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("verbose"))
}
