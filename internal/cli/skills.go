package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/repository"
)

type skillsImportOptions struct {
	authorEmail string
	status      string
}

func newSkillsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Manage skills",
	}

	opts := &skillsImportOptions{}
	importCmd := &cobra.Command{
		Use:   "import <SKILL.md>...",
		Short: "Import skills from SKILL.md files with YAML front matter",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSkillsImport(cmd, root, opts, args)
		},
	}
	importCmd.Flags().StringVar(&opts.authorEmail, "author-email", "", "Email of the author (created as a member if missing)")
	importCmd.Flags().StringVar(&opts.status, "status", string(model.SkillStatusPendingReview), "Initial status (draft, pending_review or published)")
	_ = importCmd.MarkFlagRequired("author-email")

	var embedLimit int
	var embedAll bool
	embedCmd := &cobra.Command{
		Use:   "embed",
		Short: "Compute search embeddings for published skills that have none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSkillsEmbed(cmd, root, embedLimit, embedAll)
		},
	}
	embedCmd.Flags().IntVar(&embedLimit, "limit", 100, "Maximum skills to embed per tenant")
	embedCmd.Flags().BoolVar(&embedAll, "all", false, "Embed skills of every tenant")

	cmd.AddCommand(importCmd, embedCmd)
	return cmd
}

type embedResult struct {
	TenantID string `json:"tenantId"`
	Embedded int    `json:"embedded"`
}

func runSkillsEmbed(cmd *cobra.Command, root *rootOptions, limit int, all bool) error {
	if root.profile.OllamaURL == "" {
		return errors.New("ollama url is required (OLLAMA_URL or profile ollama_url)")
	}
	var tenants []string
	if !all {
		tenantID, err := root.requireTenant()
		if err != nil {
			return err
		}
		tenants = []string{tenantID}
	}

	ctx := cmd.Context()
	repo, err := root.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	if all {
		if tenants, err = repo.ListTenantIDs(ctx); err != nil {
			return fmt.Errorf("list tenants: %w", err)
		}
	}

	svc := root.skillService(repo)
	results := make([]embedResult, 0, len(tenants))
	for _, tenantID := range tenants {
		n, err := svc.BackfillEmbeddings(ctx, tenantID, limit)
		if err != nil {
			return fmt.Errorf("tenant %s: %w", tenantID, err)
		}
		results = append(results, embedResult{TenantID: tenantID, Embedded: n})
	}

	out := cmd.OutOrStdout()
	if root.jsonOutput {
		return writeJSON(out, results)
	}
	for _, r := range results {
		fmt.Fprintf(out, "tenant %s: %d skills embedded\n", r.TenantID, r.Embedded)
	}
	return nil
}

type importResult struct {
	File  string `json:"file"`
	ID    string `json:"id,omitempty"`
	Slug  string `json:"slug,omitempty"`
	Error string `json:"error,omitempty"`
}

func runSkillsImport(cmd *cobra.Command, root *rootOptions, opts *skillsImportOptions, files []string) error {
	tenantID, err := root.requireTenant()
	if err != nil {
		return err
	}
	status := model.SkillStatus(opts.status)
	switch status {
	case model.SkillStatusDraft, model.SkillStatusPendingReview, model.SkillStatusPublished:
	default:
		return fmt.Errorf("invalid status: %s", opts.status)
	}

	parsed := make([]*SkillFile, len(files))
	for i, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if parsed[i], err = ParseSkillFile(data); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	ctx := cmd.Context()
	repo, err := root.openRepo(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	author, err := repo.GetOrCreateUser(ctx, &model.User{
		TenantID: tenantID,
		Email:    strings.ToLower(strings.TrimSpace(opts.authorEmail)),
	})
	if err != nil {
		return fmt.Errorf("ensure author: %w", err)
	}

	svc := root.skillService(repo)
	results := make([]importResult, 0, len(files))
	var failed int
	for i, sf := range parsed {
		skill := &model.Skill{
			ID:          ulid.Make().String(),
			TenantID:    tenantID,
			AuthorID:    author.ID,
			Slug:        sf.Slug,
			Name:        sf.Name,
			Description: sf.Description,
			Category:    sf.Category,
			Content:     sf.Content,
			ContentHash: sf.ContentHash(),
			Status:      status,
			PriceCents:  sf.PriceCents,
		}
		res := importResult{File: files[i], Slug: sf.Slug}
		if err := svc.Create(ctx, skill); err != nil {
			failed++
			if errors.Is(err, repository.ErrSlugExists) {
				res.Error = "slug already exists"
			} else {
				res.Error = err.Error()
			}
		} else {
			res.ID = skill.ID
		}
		results = append(results, res)
	}

	out := cmd.OutOrStdout()
	if root.jsonOutput {
		if err := writeJSON(out, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Error != "" {
				fmt.Fprintf(out, "FAIL %s (%s): %s\n", r.File, r.Slug, r.Error)
				continue
			}
			fmt.Fprintf(out, "ok   %s -> %s (%s)\n", r.File, r.Slug, r.ID)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d skills failed to import", failed, len(results))
	}
	return nil
}
