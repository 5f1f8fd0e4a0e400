// Package cli implements the relayctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/everyskill/relay/internal/embedding"
	"github.com/everyskill/relay/internal/repository"
	"github.com/everyskill/relay/internal/service"
)

type rootOptions struct {
	profilePath string
	databaseURL string
	tenantID    string
	jsonOutput  bool
	verbose     bool

	profile Profile
	logger  *slog.Logger
}

// NewRootCmd builds the relayctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "relayctl",
		Short: "Relay operator CLI",
		Long: `relayctl performs operator tasks against a Relay database:
issuing API keys, minting session tokens, importing skills, running
integrity checks and applying migrations.

Defaults are read from ~/.config/relay/relayctl.toml.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			profile, err := LoadProfile(opts.profilePath)
			if err != nil {
				return err
			}
			if opts.databaseURL != "" {
				profile.DatabaseURL = opts.databaseURL
			}
			if opts.tenantID != "" {
				profile.TenantID = opts.tenantID
			}
			opts.profile = profile

			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			opts.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.profilePath, "profile", DefaultProfilePath(), "Path to the relayctl profile")
	root.PersistentFlags().StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection string")
	root.PersistentFlags().StringVar(&opts.tenantID, "tenant", "", "Tenant id")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Print JSON output")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newKeysCmd(opts),
		newSessionCmd(opts),
		newSkillsCmd(opts),
		newIntegrityCmd(opts),
		newMigrateCmd(opts),
	)
	return root
}

// Execute runs relayctl with os.Args.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *rootOptions) openRepo(ctx context.Context) (*repository.Repository, error) {
	if o.profile.DatabaseURL == "" {
		return nil, errors.New("database url is required (--database-url, DATABASE_URL or profile)")
	}
	repo, err := repository.New(ctx, o.profile.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return repo, nil
}

// skillService builds a SkillService over repo. Without an Ollama URL in
// the profile, skills are stored without embeddings.
func (o *rootOptions) skillService(repo *repository.Repository) *service.SkillService {
	deps := service.SkillDeps{
		Store:  repo,
		Usage:  repository.NewUsageRepository(repo),
		Tx:     repo.TxManager(),
		Logger: o.logger,
	}
	if o.profile.OllamaURL != "" {
		deps.Embedder = embedding.NewClient(o.profile.OllamaURL, o.profile.OllamaModel, embedding.Options{RPS: 2}, o.logger)
	}
	return service.NewSkillService(deps)
}

func (o *rootOptions) requireTenant() (string, error) {
	if o.profile.TenantID == "" {
		return "", errors.New("tenant is required (--tenant, RELAY_TENANT_ID or profile)")
	}
	return o.profile.TenantID, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
