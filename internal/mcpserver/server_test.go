package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/service"
	"github.com/everyskill/relay/internal/usage"
)

type recordingTracker struct {
	mu     sync.Mutex
	events []usage.EventPayload
}

func (r *recordingTracker) Track(event usage.EventPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingTracker) recorded() []usage.EventPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]usage.EventPayload(nil), r.events...)
}

type stubResolver struct {
	skills map[string]*model.Skill
	err    error
}

func (s stubResolver) Lookup(_ context.Context, tenantID, ref string) (*model.Skill, error) {
	if s.err != nil {
		return nil, s.err
	}
	skill, ok := s.skills[ref]
	if !ok || skill.TenantID != tenantID {
		return nil, service.ErrSkillNotFound
	}
	return skill, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestServer(resolver SkillResolver, tracker usage.Tracker) *Server {
	s := New(Deps{
		Identity: Identity{TenantID: "t1", UserID: "u1"},
		Skills:   resolver,
		Tracker:  tracker,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Version:  "test",
	})
	s.now = func() time.Time { return fixedNow }
	return s
}

func connect(t *testing.T, s *Server) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := s.mcp.Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ss.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func TestServer_ListTools(t *testing.T) {
	t.Parallel()

	cs := connect(t, newTestServer(stubResolver{}, &recordingTracker{}))
	res, err := cs.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"confirm_install", "log_skill_usage"}, names)
}

func TestServer_ConfirmInstall(t *testing.T) {
	t.Parallel()

	tracker := &recordingTracker{}
	cs := connect(t, newTestServer(stubResolver{}, tracker))

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "confirm_install",
		Arguments: map[string]any{"skillId": "sk_1", "platform": "claude-desktop"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, "Installation of skill sk_1 on claude-desktop confirmed.", resultText(t, res))

	events := tracker.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, "t1", events[0].TenantID)
	assert.Equal(t, "u1", events[0].UserID)
	assert.Equal(t, "sk_1", events[0].SkillID)
	assert.Equal(t, string(model.UsageInstall), events[0].Action)
	assert.Equal(t, model.SourceMCP, events[0].Source)
	assert.Equal(t, fixedNow.UnixMilli(), events[0].OccurredAt)
	assert.JSONEq(t, `{"platform":"claude-desktop"}`, string(events[0].Metadata))
}

func TestServer_ConfirmInstall_BlankSkill(t *testing.T) {
	t.Parallel()

	tracker := &recordingTracker{}
	cs := connect(t, newTestServer(stubResolver{}, tracker))

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "confirm_install",
		Arguments: map[string]any{"skillId": "  "},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, tracker.recorded())
}

func TestServer_LogSkillUsage(t *testing.T) {
	t.Parallel()

	tracker := &recordingTracker{}
	cs := connect(t, newTestServer(stubResolver{}, tracker))

	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "log_skill_usage",
		Arguments: map[string]any{"skillId": "sk_2", "action": "drafted reply"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Usage of skill sk_2 logged.", resultText(t, res))

	events := tracker.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, string(model.UsageUse), events[0].Action)

	var meta map[string]string
	require.NoError(t, json.Unmarshal(events[0].Metadata, &meta))
	assert.Equal(t, map[string]string{"action": "drafted reply"}, meta)
}

func TestServer_UseSkill(t *testing.T) {
	t.Parallel()

	resolver := stubResolver{skills: map[string]*model.Skill{
		"weekly-report": {ID: "sk_3", TenantID: "t1", Slug: "weekly-report", Name: "Weekly report", Content: "Summarise the week."},
		"other-tenant":  {ID: "sk_4", TenantID: "t2", Slug: "other-tenant", Name: "Hidden", Content: "secret"},
	}}

	tests := []struct {
		name    string
		resolve SkillResolver
		skill   string
		want    string
	}{
		{"found", resolver, "weekly-report", "Summarise the week."},
		{"missing", resolver, "nope", `No published skill matches "nope".`},
		{"other tenant", resolver, "other-tenant", `No published skill matches "other-tenant".`},
		{"blank", resolver, "", "No skill was given. Ask for a skill slug or id and try again."},
		{"lookup error", stubResolver{err: errors.New("db down")}, "weekly-report", `Skill "weekly-report" could not be loaded right now.`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cs := connect(t, newTestServer(tt.resolve, &recordingTracker{}))
			res, err := cs.GetPrompt(context.Background(), &mcp.GetPromptParams{
				Name:      "use_skill",
				Arguments: map[string]string{"skill": tt.skill},
			})
			require.NoError(t, err)
			require.Len(t, res.Messages, 1)
			assert.Equal(t, mcp.Role("user"), res.Messages[0].Role)
			text, ok := res.Messages[0].Content.(*mcp.TextContent)
			require.True(t, ok)
			assert.Equal(t, tt.want, text.Text)
		})
	}
}
