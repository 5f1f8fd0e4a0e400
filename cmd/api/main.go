// Package main is the entrypoint for the Relay API server.
package main

import (
	"context"
	"log/slog"
	"net/netip"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/cache"
	"github.com/everyskill/relay/internal/config"
	"github.com/everyskill/relay/internal/cron"
	"github.com/everyskill/relay/internal/embedding"
	"github.com/everyskill/relay/internal/handler"
	"github.com/everyskill/relay/internal/integrity"
	"github.com/everyskill/relay/internal/metrics"
	"github.com/everyskill/relay/internal/middleware"
	"github.com/everyskill/relay/internal/ratelimit"
	"github.com/everyskill/relay/internal/repository"
	"github.com/everyskill/relay/internal/server"
	"github.com/everyskill/relay/internal/service"
	"github.com/everyskill/relay/internal/usage"
	"github.com/everyskill/relay/internal/webhook"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateAPI(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	defer repo.Close()
	logger.Info("connected to database")

	cacheClient, err := cache.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer cacheClient.Close()
	logger.Info("connected to Redis")

	var sealer *auth.Sealer
	if cfg.TokenEncryptionKey != "" {
		sealer, err = auth.NewSealer(cfg.TokenEncryptionKey)
		if err != nil {
			logger.Error("invalid TOKEN_ENCRYPTION_KEY", "error", err)
			os.Exit(1)
		}
	}

	app, err := buildApp(cfg, repo, cacheClient, sealer, logger)
	if err != nil {
		logger.Error("failed to build app", "error", err)
		os.Exit(1)
	}

	srv := server.New(app.router, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)
	app.startBackground(ctx, srv)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL(),
		"env", cfg.AppEnv,
		"version", version,
		"cron_enabled", cfg.CronEnabled(),
		"gmail_enabled", cfg.GmailEnabled(),
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// app holds the wired components of the API process.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	router        *chi.Mux
	recorder      *metrics.InMemoryRecorder
	cache         *cache.Cache
	usageRepo     *repository.UsageRepository
	webhookRepo   *webhook.Repository
	sealer        *auth.Sealer
	ipLimiter     *ratelimit.SlidingWindow
	searchLimiter *ratelimit.SlidingWindow
	proxies       []netip.Prefix
}

func buildApp(cfg *config.Config, repo *repository.Repository, cacheClient *cache.Cache, sealer *auth.Sealer, logger *slog.Logger) (*app, error) {
	proxies, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:           cfg,
		logger:        logger,
		recorder:      metrics.NewInMemory(),
		cache:         cacheClient,
		usageRepo:     repository.NewUsageRepository(repo),
		webhookRepo:   webhook.NewRepository(repo.DB()),
		sealer:        sealer,
		ipLimiter:     ratelimit.New(cfg.RateLimitIPRequests, cfg.RateLimitIPWindow),
		searchLimiter: ratelimit.New(cfg.RateLimitSearchPerMin, time.Minute),
		proxies:       proxies,
	}

	publisher := usage.NewPublisher(cacheClient.Client(), logger, a.recorder)
	embedder := embedding.NewClient(cfg.OllamaURL, cfg.OllamaModel, embedding.Options{RPS: cfg.OllamaRPS}, logger)
	checker := integrity.NewChecker(repo, logger)

	skills := service.NewSkillService(service.SkillDeps{
		Store:    repo,
		Usage:    a.usageRepo,
		Tx:       repo.TxManager(),
		Cache:    cacheClient,
		Events:   webhook.NewPublisher(a.webhookRepo, logger),
		Tracker:  publisher,
		Embedder: embedder,
		Metrics:  a.recorder,
		Logger:   logger,
	})
	keys := service.NewAPIKeyService(repo, cacheClient, logger, cfg.IsProduction())

	var gmail handler.GmailConnector
	if cfg.GmailEnabled() && sealer != nil {
		gmail = service.NewGmailService(service.GmailConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			BaseURL:      cfg.BaseURL(),
			StateSecret:  cfg.AuthSecret,
		}, repo, sealer, logger)
	}

	var webhooks handler.WebhookEndpoints
	if sealer != nil {
		webhooks = webhook.NewEndpoints(a.webhookRepo, sealer, webhook.ValidationOptions{
			AllowInsecure: cfg.IsDevelopment(),
		}, logger)
	} else {
		logger.Warn("TOKEN_ENCRYPTION_KEY not set, webhook management disabled")
	}

	var jobs handler.CronJobs
	if cfg.CronEnabled() {
		ring, err := cron.NewRing(cfg.CronInstanceID, cfg.CronInstances)
		if err != nil {
			return nil, err
		}
		jobs = cron.NewRunner(repo, repo, a.usageRepo, checker, ring, logger)
	}

	health := handler.HealthDeps{DB: repo, Cache: cacheClient, Webhooks: a.webhookRepo}
	if cfg.OllamaURL != "" {
		health.Ollama = embedder
	}

	a.router = a.routes(routeDeps{
		health:   handler.NewHealthHandler(health),
		public:   handler.NewPublicHandler(repo, cfg.RootDomain, cfg.MarkerIOProject, logger),
		metrics:  handler.NewMetricsHandler(a.recorder),
		keys:     handler.NewAPIKeyHandler(logger, keys),
		gmail:    handler.NewGmailHandler(gmail, logger),
		skills:   handler.NewSkillHandler(skills, logger),
		admin:    handler.NewAdminHandler(skills, version, logger),
		cron:     handler.NewCronHandler(jobs, checker, logger),
		webhooks: webhooks,
		v1:       handler.NewV1Handler(skills, publisher, logger),
		keyAuth:  keys,
	})
	return a, nil
}

// startBackground launches the workers and registers their shutdown.
func (a *app) startBackground(ctx context.Context, srv *server.Server) {
	srv.Go("ratelimit-sweeper", func(ctx context.Context) error {
		go a.searchLimiter.Run(ctx, a.cfg.RateLimitSweepInterval)
		a.ipLimiter.Run(ctx, a.cfg.RateLimitSweepInterval)
		return nil
	})

	if a.cfg.UsageWorkerEnabled {
		worker := usage.NewWorker(a.cache.Client(), a.usageRepo, a.logger, usage.NewConsumerID(), a.recorder)
		go func() {
			if err := worker.Run(ctx); err != nil && err != context.Canceled {
				a.logger.Error("usage worker exited", "error", err)
			}
		}()
		srv.OnShutdown("usage-worker", worker.Shutdown)
	}

	if a.cfg.WebhookWorkerEnabled && a.sealer != nil {
		worker := webhook.NewWorker(a.webhookRepo, a.sealer, a.logger, a.recorder)
		srv.Go("webhook-worker", worker.Run)
	}
}

type routeDeps struct {
	health   *handler.HealthHandler
	public   *handler.PublicHandler
	metrics  *handler.MetricsHandler
	keys     *handler.APIKeyHandler
	gmail    *handler.GmailHandler
	skills   *handler.SkillHandler
	admin    *handler.AdminHandler
	cron     *handler.CronHandler
	webhooks handler.WebhookEndpoints
	v1       *handler.V1Handler
	keyAuth  middleware.KeyAuthenticator
}

// routes configures the chi router with all routes and middleware.
func (a *app) routes(d routeDeps) *chi.Mux {
	cfg, logger := a.cfg, a.logger
	h := handler.New()
	r := chi.NewRouter()

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.GetCORSAllowedOrigins()

	r.Use(middleware.RealIP(a.proxies))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment()}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	rateLimitCfg := middleware.RateLimitConfig{
		Logger:      logger,
		Metrics:     a.recorder,
		APIEnabled:  cfg.RateLimitAPIEnabled,
		APILimiter:  a.cache,
		IPEnabled:   cfg.RateLimitIPEnabled,
		UserEnabled: cfg.RateLimitUserEnabled,
	}
	session := middleware.Session(middleware.SessionConfig{Logger: logger, Secret: cfg.AuthSecret})

	r.Get("/metrics", d.metrics.Metrics)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", d.health.Healthz)
		r.Get("/health/ready", d.health.Readyz)
		r.Get("/check-domain", d.public.CheckDomain)
		r.Get("/public-config", d.public.PublicConfig)

		r.With(middleware.RateLimitIP(rateLimitCfg, a.ipLimiter)).
			Post("/auth/validate-key", d.keys.ValidateKey)

		if cfg.CronEnabled() {
			r.Route("/cron", func(r chi.Router) {
				r.Use(middleware.CronAuth(cfg.CronSecret, logger))
				r.Get("/community-detection", d.cron.CommunityDetection)
				r.Post("/community-detection", d.cron.CommunityDetection)
				r.Get("/integrity-check", d.cron.IntegrityCheck)
				r.Post("/integrity-check", d.cron.IntegrityCheck)
			})
		}

		// Machine clients authenticate with API keys.
		r.Route("/v1", func(r chi.Router) {
			r.Use(middleware.Auth(middleware.AuthConfig{Logger: logger, Authenticator: d.keyAuth}))
			r.Use(middleware.RateLimitAPI(rateLimitCfg))
			r.With(middleware.RequireWrite()).Post("/usage", d.v1.LogUsage)
			r.With(middleware.RequireRead()).Get("/skills", d.v1.ListSkills)
			r.With(middleware.RequireRead()).Get("/skills/{ref}", d.v1.GetSkill)
		})

		// Browser routes carry a session token.
		r.Group(func(r chi.Router) {
			r.Use(session)

			r.Route("/gmail", func(r chi.Router) {
				r.Get("/connect", d.gmail.Connect)
				r.Get("/callback", d.gmail.Callback)
				r.Post("/disconnect", d.gmail.Disconnect)
				r.Get("/status", d.gmail.Status)
			})

			r.With(middleware.RateLimitUser(rateLimitCfg, a.searchLimiter)).Get("/search", d.skills.Search)
			r.Get("/analytics/export", d.skills.Export)

			r.Route("/skills", func(r chi.Router) {
				r.Get("/topology", d.skills.Topology)
				r.Get("/{ref}", d.skills.Detail)
				r.Delete("/{ref}", d.skills.Delete)
				r.Post("/{ref}/reviews", d.skills.Review)
				r.Post("/{ref}/view", d.skills.View)
			})

			r.Route("/me/api-keys", func(r chi.Router) {
				r.Get("/", d.keys.MeList)
				r.Post("/", d.keys.MeCreate)
				r.Delete("/{id}", d.keys.MeRevoke)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireTenantAdmin)

				r.Get("/stats", d.admin.Stats)
				r.Get("/integrity", d.cron.TenantIntegrity)

				r.Route("/api-keys", func(r chi.Router) {
					r.Get("/", d.keys.AdminList)
					r.Post("/", d.keys.AdminCreate)
					r.Delete("/{id}", d.keys.AdminRevoke)
					r.Post("/{id}/rotate", d.keys.AdminRotate)
				})

				r.Route("/skills", func(r chi.Router) {
					r.Post("/merge", d.admin.MergeSkills)
					r.Post("/{ref}/review", d.admin.ReviewSkill)
				})

				if d.webhooks != nil {
					wh := handler.NewWebhookHandler(d.webhooks, logger)
					r.Route("/webhooks", func(r chi.Router) {
						r.Get("/", wh.List)
						r.Post("/", wh.Create)
						r.Delete("/{id}", wh.Delete)
					})
				}
			})
		})
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", "relay-api")
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
