package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/service"
)

type keysCreateOptions struct {
	email         string
	name          string
	role          string
	scopes        string
	tier          string
	expiresInDays int
}

func newKeysCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newKeysCreateCmd(root))
	return cmd
}

func newKeysCreateCmd(root *rootOptions) *cobra.Command {
	opts := &keysCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key, creating the owning user if needed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeysCreate(cmd, root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.email, "email", "", "Email of the key owner")
	cmd.Flags().StringVar(&opts.name, "name", "bootstrap", "Key name")
	cmd.Flags().StringVar(&opts.role, "role", model.RoleMember, "Role for a newly created owner (member or admin)")
	cmd.Flags().StringVar(&opts.scopes, "scopes", model.ScopeRead, "Comma-separated scopes (read,write,admin)")
	cmd.Flags().StringVar(&opts.tier, "tier", model.TierFree, "Rate limit tier")
	cmd.Flags().IntVar(&opts.expiresInDays, "expires-in-days", 0, "Expiry in days (0 never expires)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func runKeysCreate(cmd *cobra.Command, root *rootOptions, opts *keysCreateOptions) error {
	tenantID, err := root.requireTenant()
	if err != nil {
		return err
	}
	scopes, err := parseScopes(opts.scopes)
	if err != nil {
		return err
	}
	if opts.role != model.RoleMember && opts.role != model.RoleAdmin {
		return fmt.Errorf("invalid role: %s", opts.role)
	}

	ctx := cmd.Context()
	repo, err := root.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	user, err := repo.GetOrCreateUser(ctx, &model.User{
		TenantID: tenantID,
		Email:    strings.ToLower(strings.TrimSpace(opts.email)),
		Role:     opts.role,
	})
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	keys := service.NewAPIKeyService(repo, nil, root.logger, root.profile.Environment == "live")
	created, err := keys.Create(ctx, service.CreateKeyInput{
		TenantID:      tenantID,
		UserID:        user.ID,
		Name:          opts.name,
		Scopes:        scopes,
		ExpiresInDays: opts.expiresInDays,
		RateLimitTier: opts.tier,
	})
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	out := cmd.OutOrStdout()
	if root.jsonOutput {
		return writeJSON(out, struct {
			UserID string `json:"user_id"`
			*model.APIKeyCreateResponse
		}{user.ID, created})
	}
	_, err = fmt.Fprintln(out, created.Key)
	return err
}

// parseScopes splits a comma-separated scope list. Empty input means read.
func parseScopes(input string) ([]string, error) {
	var scopes []string
	for _, part := range strings.Split(input, ",") {
		scope := strings.TrimSpace(part)
		if scope == "" {
			continue
		}
		if !slices.Contains(model.ValidScopes, scope) {
			return nil, fmt.Errorf("invalid scope: %s", scope)
		}
		if !slices.Contains(scopes, scope) {
			scopes = append(scopes, scope)
		}
	}
	if len(scopes) == 0 {
		scopes = []string{model.ScopeRead}
	}
	return scopes, nil
}
