// Package mcpserver exposes Relay skills to MCP clients.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/service"
	"github.com/everyskill/relay/internal/usage"
)

const (
	toolConfirmInstall = "confirm_install"
	toolLogSkillUsage  = "log_skill_usage"
	promptUseSkill     = "use_skill"
)

// SkillResolver finds a published skill by slug or id.
type SkillResolver interface {
	Lookup(ctx context.Context, tenantID, ref string) (*model.Skill, error)
}

// Deps are the collaborators of Server.
type Deps struct {
	Identity Identity
	Skills   SkillResolver
	Tracker  usage.Tracker
	Logger   *slog.Logger
	Version  string
}

// Server serves the Relay tools and prompts over an MCP transport.
type Server struct {
	id      Identity
	skills  SkillResolver
	tracker usage.Tracker
	logger  *slog.Logger
	now     func() time.Time
	mcp     *mcp.Server
}

type confirmInstallInput struct {
	SkillID  string `json:"skillId" jsonschema:"id of the installed skill"`
	Platform string `json:"platform,omitempty" jsonschema:"client the skill was installed into"`
}

type logSkillUsageInput struct {
	SkillID string `json:"skillId" jsonschema:"id of the skill that was used"`
	Action  string `json:"action,omitempty" jsonschema:"short label for what the skill was used for"`
	Details string `json:"details,omitempty" jsonschema:"free-form notes about the run"`
}

// New builds a Server and registers its tools and prompts.
func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Version == "" {
		d.Version = "dev"
	}

	s := &Server{
		id:      d.Identity,
		skills:  d.Skills,
		tracker: d.Tracker,
		logger:  d.Logger.With("component", "mcpserver"),
		now:     time.Now,
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: "relay", Version: d.Version}, nil)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        toolConfirmInstall,
		Description: "Confirm that a Relay skill was installed so it counts toward its install total.",
	}, s.confirmInstall)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        toolLogSkillUsage,
		Description: "Record that a Relay skill was used.",
	}, s.logSkillUsage)
	srv.AddPrompt(&mcp.Prompt{
		Name:        promptUseSkill,
		Description: "Load a Relay skill's content into the conversation.",
		Arguments: []*mcp.PromptArgument{
			{Name: "skill", Description: "Skill slug or id", Required: true},
		},
	}, s.useSkill)

	s.mcp = srv
	return s
}

// Run serves the session on t until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.mcp.Run(ctx, t)
}

func (s *Server) confirmInstall(ctx context.Context, _ *mcp.CallToolRequest, in confirmInstallInput) (*mcp.CallToolResult, any, error) {
	skillID := strings.TrimSpace(in.SkillID)
	if skillID == "" {
		return toolError("skillId is required"), nil, nil
	}

	s.track(skillID, model.UsageInstall, map[string]string{"platform": in.Platform})

	msg := fmt.Sprintf("Installation of skill %s confirmed.", skillID)
	if in.Platform != "" {
		msg = fmt.Sprintf("Installation of skill %s on %s confirmed.", skillID, in.Platform)
	}
	return toolText(msg), nil, nil
}

func (s *Server) logSkillUsage(ctx context.Context, _ *mcp.CallToolRequest, in logSkillUsageInput) (*mcp.CallToolResult, any, error) {
	skillID := strings.TrimSpace(in.SkillID)
	if skillID == "" {
		return toolError("skillId is required"), nil, nil
	}

	s.track(skillID, model.UsageUse, map[string]string{
		"action":  in.Action,
		"details": in.Details,
	})
	return toolText(fmt.Sprintf("Usage of skill %s logged.", skillID)), nil, nil
}

func (s *Server) useSkill(ctx context.Context, req *mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	var ref string
	if req != nil && req.Params != nil {
		ref = strings.TrimSpace(req.Params.Arguments["skill"])
	}
	if ref == "" {
		return promptText("Relay skill", "No skill was given. Ask for a skill slug or id and try again."), nil
	}

	skill, err := s.skills.Lookup(ctx, s.id.TenantID, ref)
	if errors.Is(err, service.ErrSkillNotFound) {
		return promptText("Relay skill", fmt.Sprintf("No published skill matches %q.", ref)), nil
	}
	if err != nil {
		s.logger.Warn("skill lookup failed", "ref", ref, "error", err)
		return promptText("Relay skill", fmt.Sprintf("Skill %q could not be loaded right now.", ref)), nil
	}

	return promptText(skill.Name, skill.Content), nil
}

// track hands the event to the tracker. Empty metadata values are dropped.
func (s *Server) track(skillID string, action model.UsageAction, meta map[string]string) {
	if s.tracker == nil {
		return
	}

	for k, v := range meta {
		if v == "" {
			delete(meta, k)
		}
	}
	var raw json.RawMessage
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err == nil {
			raw = b
		}
	}

	event := usage.NewEventPayload(s.id.TenantID, skillID, s.id.UserID, action, model.SourceMCP, raw, s.now())
	if err := usage.ValidateEventPayload(event); err != nil {
		s.logger.Warn("dropping invalid usage event", "skill_id", skillID, "error", err)
		return
	}
	s.tracker.Track(event)
}

func toolText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func toolError(text string) *mcp.CallToolResult {
	res := toolText(text)
	res.IsError = true
	return res
}

func promptText(description, text string) *mcp.GetPromptResult {
	return &mcp.GetPromptResult{
		Description: description,
		Messages: []*mcp.PromptMessage{
			{Role: "user", Content: &mcp.TextContent{Text: text}},
		},
	}
}
