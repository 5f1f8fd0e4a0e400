package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Profile holds defaults for relayctl commands.
type Profile struct {
	DatabaseURL string `toml:"database_url"`
	AuthSecret  string `toml:"auth_secret"`
	TenantID    string `toml:"tenant_id"`
	// Environment selects the key prefix: "live" or "test".
	Environment string `toml:"environment"`
	// OllamaURL enables skill embeddings on import when set.
	OllamaURL   string `toml:"ollama_url"`
	OllamaModel string `toml:"ollama_model"`
}

// DefaultProfilePath returns ~/.config/relay/relayctl.toml.
func DefaultProfilePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "relay", "relayctl.toml")
}

// LoadProfile reads the profile at path. A missing file yields an empty
// profile. Environment variables override file values.
func LoadProfile(path string) (Profile, error) {
	var p Profile
	if path != "" {
		if _, err := toml.DecodeFile(path, &p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Profile{}, fmt.Errorf("read profile %s: %w", path, err)
		}
	}

	overrideFromEnv(&p.DatabaseURL, "DATABASE_URL")
	overrideFromEnv(&p.AuthSecret, "AUTH_SECRET")
	overrideFromEnv(&p.TenantID, "RELAY_TENANT_ID")
	overrideFromEnv(&p.Environment, "RELAY_KEY_ENV")
	overrideFromEnv(&p.OllamaURL, "OLLAMA_URL")
	overrideFromEnv(&p.OllamaModel, "OLLAMA_MODEL")

	if p.OllamaModel == "" {
		p.OllamaModel = "nomic-embed-text"
	}
	if p.Environment == "" {
		p.Environment = "test"
	}
	if p.Environment != "live" && p.Environment != "test" {
		return Profile{}, fmt.Errorf("environment must be live or test, got %q", p.Environment)
	}
	return p, nil
}

func overrideFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
