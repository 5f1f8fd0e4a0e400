package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/service"
)

type mockSkills struct {
	mock.Mock
}

func (m *mockSkills) Delete(ctx context.Context, sess *model.Session, skillID string) error {
	return m.Called(sess.UserID, skillID).Error(0)
}

func (m *mockSkills) Review(ctx context.Context, sess *model.Session, skillID string, rating int, comment string) (*model.SkillReview, error) {
	args := m.Called(skillID, rating, comment)
	rv, _ := args.Get(0).(*model.SkillReview)
	return rv, args.Error(1)
}

func (m *mockSkills) RecordView(ctx context.Context, sess *model.Session, skillID string) {
	m.Called(skillID)
}

func (m *mockSkills) Search(ctx context.Context, tenantID, userID string, in service.SearchInput) ([]model.SkillSummary, error) {
	args := m.Called(tenantID, userID, in)
	res, _ := args.Get(0).([]model.SkillSummary)
	return res, args.Error(1)
}

func (m *mockSkills) Detail(ctx context.Context, sess *model.Session, slug, userAgent string) (*model.SkillDetail, error) {
	args := m.Called(slug, userAgent)
	d, _ := args.Get(0).(*model.SkillDetail)
	return d, args.Error(1)
}

func (m *mockSkills) Topology(ctx context.Context, tenantID string, minWeight int) (*model.Topology, error) {
	args := m.Called(tenantID, minWeight)
	topo, _ := args.Get(0).(*model.Topology)
	return topo, args.Error(1)
}

func (m *mockSkills) ExportCSV(ctx context.Context, sess *model.Session, from, to time.Time, skillID string, w io.Writer) error {
	args := m.Called(from, to, skillID)
	if err := args.Error(0); err != nil {
		return err
	}
	_, err := io.WriteString(w, "date,skill_id\n2026-03-01,s1\n")
	return err
}

func TestSkillHandler_Delete(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "deleted", wantCode: http.StatusNoContent},
		{name: "not owner", err: service.ErrForbidden, wantCode: http.StatusForbidden},
		{name: "missing", err: service.ErrSkillNotFound, wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			skills := &mockSkills{}
			skills.On("Delete", "u-member", "s1").Return(tt.err)
			h := NewSkillHandler(skills, discardLogger())

			rec := httptest.NewRecorder()
			h.Delete(rec, newRequest(http.MethodDelete, "/api/skills/s1", "", memberSession, skillRefParam, "s1"))

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestSkillHandler_Review(t *testing.T) {
	t.Run("stored", func(t *testing.T) {
		skills := &mockSkills{}
		skills.On("Review", "s1", 4, "solid").Return(&model.SkillReview{SkillID: "s1", Rating: 4}, nil)
		h := NewSkillHandler(skills, discardLogger())

		rec := httptest.NewRecorder()
		h.Review(rec, newRequest(http.MethodPost, "/api/skills/s1/reviews", `{"rating":4,"comment":"solid"}`,
			memberSession, skillRefParam, "s1"))

		assert.Equal(t, http.StatusOK, rec.Code)
		skills.AssertExpectations(t)
	})

	t.Run("rating out of range", func(t *testing.T) {
		skills := &mockSkills{}
		h := NewSkillHandler(skills, discardLogger())

		rec := httptest.NewRecorder()
		h.Review(rec, newRequest(http.MethodPost, "/api/skills/s1/reviews", `{"rating":6}`,
			memberSession, skillRefParam, "s1"))

		require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, decodeError(t, rec).Fields, "rating")
		skills.AssertNotCalled(t, "Review", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("own skill", func(t *testing.T) {
		skills := &mockSkills{}
		skills.On("Review", "s1", 5, "").Return(nil, service.ErrSelfReview)
		h := NewSkillHandler(skills, discardLogger())

		rec := httptest.NewRecorder()
		h.Review(rec, newRequest(http.MethodPost, "/api/skills/s1/reviews", `{"rating":5}`,
			memberSession, skillRefParam, "s1"))

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestSkillHandler_ViewAlwaysNoContent(t *testing.T) {
	skills := &mockSkills{}
	skills.On("RecordView", "missing").Return()
	h := NewSkillHandler(skills, discardLogger())

	rec := httptest.NewRecorder()
	h.View(rec, newRequest(http.MethodPost, "/api/skills/missing/view", "", memberSession, skillRefParam, "missing"))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	skills.AssertExpectations(t)
}

func TestSkillHandler_Search(t *testing.T) {
	t.Run("passes filters", func(t *testing.T) {
		skills := &mockSkills{}
		skills.On("Search", "t1", "u-member", service.SearchInput{Query: "deploy", Category: "agent", Limit: 5}).
			Return([]model.SkillSummary{{ID: "s1", Name: "Deploy"}}, nil)
		h := NewSkillHandler(skills, discardLogger())

		rec := httptest.NewRecorder()
		h.Search(rec, newRequest(http.MethodGet, "/api/search?q=deploy&category=agent&limit=5", "", memberSession))

		require.Equal(t, http.StatusOK, rec.Code)
		var body searchResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "deploy", body.Query)
		assert.Len(t, body.Results, 1)
	})

	t.Run("empty results encode as array", func(t *testing.T) {
		skills := &mockSkills{}
		skills.On("Search", "t1", "u-member", service.SearchInput{}).Return(nil, nil)
		h := NewSkillHandler(skills, discardLogger())

		rec := httptest.NewRecorder()
		h.Search(rec, newRequest(http.MethodGet, "/api/search", "", memberSession))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"query":"","results":[]}`, rec.Body.String())
	})

	for _, target := range []string{
		"/api/search?limit=abc",
		"/api/search?limit=-1",
		"/api/search?category=plugin",
		"/api/search?q=deploy%C3",
		"/api/search?q=%FFdeploy",
	} {
		t.Run("rejects "+target, func(t *testing.T) {
			h := NewSkillHandler(&mockSkills{}, discardLogger())
			rec := httptest.NewRecorder()
			h.Search(rec, newRequest(http.MethodGet, target, "", memberSession))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestSkillHandler_Detail(t *testing.T) {
	skills := &mockSkills{}
	skills.On("Detail", "deploy-helper", "Mozilla/5.0 (Macintosh)").Return(&model.SkillDetail{
		SkillSummary: model.SkillSummary{ID: "s1", Slug: "deploy-helper", Price: "Free"},
		Install:      model.InstallHint{OS: "macos"},
	}, nil)
	skills.On("Detail", "gone", mock.Anything).Return(nil, service.ErrSkillNotFound)
	h := NewSkillHandler(skills, discardLogger())

	req := newRequest(http.MethodGet, "/api/skills/deploy-helper", "", memberSession, skillRefParam, "deploy-helper")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh)")
	rec := httptest.NewRecorder()
	h.Detail(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body model.SkillDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "Free", body.Price)
	assert.Equal(t, "macos", body.Install.OS)

	rec = httptest.NewRecorder()
	h.Detail(rec, newRequest(http.MethodGet, "/api/skills/gone", "", memberSession, skillRefParam, "gone"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSkillHandler_Topology(t *testing.T) {
	skills := &mockSkills{}
	skills.On("Topology", "t1", 1).Return(&model.Topology{}, nil)
	skills.On("Topology", "t1", 3).Return(&model.Topology{}, nil)
	h := NewSkillHandler(skills, discardLogger())

	rec := httptest.NewRecorder()
	h.Topology(rec, newRequest(http.MethodGet, "/api/skills/topology", "", memberSession))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Topology(rec, newRequest(http.MethodGet, "/api/skills/topology?min_weight=3", "", memberSession))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Topology(rec, newRequest(http.MethodGet, "/api/skills/topology?min_weight=0", "", memberSession))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	skills.AssertExpectations(t)
}

func TestSkillHandler_Export(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)

	t.Run("csv attachment", func(t *testing.T) {
		skills := &mockSkills{}
		skills.On("ExportCSV", from, to, "s1").Return(nil)
		h := NewSkillHandler(skills, discardLogger())

		rec := httptest.NewRecorder()
		h.Export(rec, newRequest(http.MethodGet, "/api/analytics/export?from=2026-03-01&to=2026-03-14&skill_id=s1", "", memberSession))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment;")
		assert.Contains(t, rec.Body.String(), "2026-03-01,s1")
	})

	t.Run("bad date", func(t *testing.T) {
		h := NewSkillHandler(&mockSkills{}, discardLogger())
		rec := httptest.NewRecorder()
		h.Export(rec, newRequest(http.MethodGet, "/api/analytics/export?from=03/01/2026", "", memberSession))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("range rejected by service", func(t *testing.T) {
		skills := &mockSkills{}
		skills.On("ExportCSV", to, from, "").Return(service.ErrInvalidDateRange)
		h := NewSkillHandler(skills, discardLogger())

		rec := httptest.NewRecorder()
		h.Export(rec, newRequest(http.MethodGet, "/api/analytics/export?from=2026-03-14&to=2026-03-01", "", memberSession))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "INVALID_DATE_RANGE", decodeError(t, rec).Code)
	})
}
