package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/model"
)

type sessionMintOptions struct {
	userID string
	email  string
	role   string
	ttl    time.Duration
}

func newSessionCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Work with web session tokens",
	}

	opts := &sessionMintOptions{}
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Sign a session token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := mintSession(root, opts)
			if err != nil {
				return err
			}
			if root.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]string{"token": token})
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	mint.Flags().StringVar(&opts.userID, "user", "", "User id (token subject)")
	mint.Flags().StringVar(&opts.email, "email", "", "User email")
	mint.Flags().StringVar(&opts.role, "role", model.RoleMember, "Role (member or admin)")
	mint.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "Token lifetime")
	_ = mint.MarkFlagRequired("user")

	cmd.AddCommand(mint)
	return cmd
}

func mintSession(root *rootOptions, opts *sessionMintOptions) (string, error) {
	if root.profile.AuthSecret == "" {
		return "", errors.New("auth secret is required (AUTH_SECRET or profile)")
	}
	tenantID, err := root.requireTenant()
	if err != nil {
		return "", err
	}
	if opts.role != model.RoleMember && opts.role != model.RoleAdmin {
		return "", fmt.Errorf("invalid role: %s", opts.role)
	}
	if opts.ttl <= 0 {
		return "", errors.New("ttl must be positive")
	}

	return auth.IssueSession(root.profile.AuthSecret, model.Session{
		UserID:   opts.userID,
		TenantID: tenantID,
		Email:    opts.email,
		Role:     opts.role,
	}, opts.ttl)
}
