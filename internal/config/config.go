// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Storage
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL    string `env:"REDIS_URL"`

	// Public base URL of the web app. AUTH_URL wins over the legacy NEXTAUTH_URL.
	AuthURL     string `env:"AUTH_URL"`
	NextAuthURL string `env:"NEXTAUTH_URL" envDefault:"http://localhost:3000"`
	RootDomain  string `env:"ROOT_DOMAIN" envDefault:"localhost"`

	// Sessions are issued by the web app and verified here.
	AuthSecret string `env:"AUTH_SECRET"`

	// Gmail OAuth client and at-rest token key (64 hex chars).
	GoogleClientID     string `env:"AUTH_GOOGLE_ID"`
	GoogleClientSecret string `env:"AUTH_GOOGLE_SECRET"`
	TokenEncryptionKey string `env:"TOKEN_ENCRYPTION_KEY"`

	// Cron routes are disabled when the secret is empty. With CRON_INSTANCES
	// set, each instance runs only its share of tenants and the scheduler
	// must trigger every instance.
	CronSecret     string   `env:"CRON_SECRET"`
	CronInstanceID string   `env:"CRON_INSTANCE_ID" envDefault:"relay-0"`
	CronInstances  []string `env:"CRON_INSTANCES" envSeparator:","`

	MarkerIOProject string `env:"NEXT_PUBLIC_MARKER_IO_PROJECT"`

	// Embeddings
	OllamaURL   string  `env:"OLLAMA_URL" envDefault:"http://localhost:11434"`
	OllamaModel string  `env:"OLLAMA_MODEL" envDefault:"nomic-embed-text"`
	OllamaRPS   float64 `env:"OLLAMA_RPS" envDefault:"5"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Rate limiting
	RateLimitAPIEnabled    bool          `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitIPEnabled     bool          `env:"RATE_LIMIT_IP_ENABLED" envDefault:"true"`
	RateLimitUserEnabled   bool          `env:"RATE_LIMIT_USER_ENABLED" envDefault:"true"`
	RateLimitIPRequests    int           `env:"RATE_LIMIT_IP_REQUESTS" envDefault:"10"`
	RateLimitIPWindow      time.Duration `env:"RATE_LIMIT_IP_WINDOW" envDefault:"1m"`
	RateLimitSearchPerMin  int           `env:"RATE_LIMIT_SEARCH_PER_MIN" envDefault:"30"`
	RateLimitSweepInterval time.Duration `env:"RATE_LIMIT_SWEEP_INTERVAL" envDefault:"1h"`

	// Background workers
	UsageWorkerEnabled   bool `env:"USAGE_WORKER_ENABLED" envDefault:"true"`
	WebhookWorkerEnabled bool `env:"WEBHOOK_WORKER_ENABLED" envDefault:"true"`

	// Identity of the stdio MCP server. The key wins when both are set.
	RelayAPIKey   string `env:"RELAY_API_KEY"`
	RelayUserID   string `env:"RELAY_USER_ID"`
	RelayTenantID string `env:"RELAY_TENANT_ID"`

	// Reverse proxies whose X-Forwarded-For is believed, as CIDRs or bare
	// IPs. Empty trusts no one and uses the peer address.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	// Comma-separated list of allowed origins
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:""`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// BaseURL returns the public web URL without a trailing slash.
func (c *Config) BaseURL() string {
	u := c.AuthURL
	if u == "" {
		u = c.NextAuthURL
	}
	return strings.TrimRight(u, "/")
}

// CronEnabled reports whether the cron routes should be mounted.
func (c *Config) CronEnabled() bool {
	return c.CronSecret != ""
}

// GmailEnabled reports whether the Gmail OAuth routes can work.
func (c *Config) GmailEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.TokenEncryptionKey != ""
}

// GetCORSAllowedOrigins parses the comma-separated origins string into a slice.
func (c *Config) GetCORSAllowedOrigins() []string {
	if c.CORSAllowedOrigins == "" {
		return nil
	}

	origins := strings.Split(c.CORSAllowedOrigins, ",")
	result := make([]string, 0, len(origins))
	for _, origin := range origins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// TrustedProxyPrefixes parses TrustedProxies. A bare IP becomes a single
// address prefix.
func (c *Config) TrustedProxyPrefixes() ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, raw := range c.TrustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
			}
			out = append(out, p.Masked())
			continue
		}
		ip, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		ip = ip.Unmap()
		out = append(out, netip.PrefixFrom(ip, ip.BitLen()))
	}
	return out, nil
}

// ValidateAPI checks the settings only the HTTP server needs.
func (c *Config) ValidateAPI() error {
	var missing []string
	if c.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}
	if c.AuthSecret == "" {
		missing = append(missing, "AUTH_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required variables: %s", strings.Join(missing, ", "))
	}
	if c.CronEnabled() && len(c.CronInstances) > 0 && !slices.Contains(c.CronInstances, c.CronInstanceID) {
		return fmt.Errorf("CRON_INSTANCE_ID %q is not listed in CRON_INSTANCES %v", c.CronInstanceID, c.CronInstances)
	}
	if _, err := c.TrustedProxyPrefixes(); err != nil {
		return err
	}
	return nil
}

// ValidateMCP checks that the MCP server has an identity to act as.
func (c *Config) ValidateMCP() error {
	if c.RelayAPIKey != "" {
		return nil
	}
	if c.RelayUserID == "" || c.RelayTenantID == "" {
		return errors.New("either RELAY_API_KEY or both RELAY_USER_ID and RELAY_TENANT_ID must be set")
	}
	return nil
}

// Load reads an optional .env file outside production, then parses the
// environment. Returns an error if required variables are missing.
func Load() (*Config, error) {
	if os.Getenv("APP_ENV") != "production" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
