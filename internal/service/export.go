package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/everyskill/relay/internal/model"
)

const (
	defaultExportDays = 30
	maxExportDays     = 366
)

var exportHeader = []string{"date", "skill_id", "skill_name", "uses", "installs", "views", "unique_users"}

// ExportRange resolves the export window. Zero values default to the last
// 30 days ending today (UTC).
func ExportRange(from, to, now time.Time) (time.Time, time.Time, error) {
	if to.IsZero() {
		to = now.UTC()
	}
	to = to.UTC().Truncate(24 * time.Hour)
	if from.IsZero() {
		from = to.AddDate(0, 0, -defaultExportDays)
	}
	from = from.UTC().Truncate(24 * time.Hour)

	if from.After(to) || to.Sub(from) > maxExportDays*24*time.Hour {
		return time.Time{}, time.Time{}, ErrInvalidDateRange
	}
	return from, to, nil
}

// ExportCSV writes the daily usage of the caller's visible skills as CSV.
// Admins export the whole tenant; members only the skills they authored.
func (s *SkillService) ExportCSV(ctx context.Context, sess *model.Session, from, to time.Time, skillID string, w io.Writer) error {
	from, to, err := ExportRange(from, to, s.now())
	if err != nil {
		return err
	}

	filter := model.ExportFilter{
		TenantID: sess.TenantID,
		SkillID:  skillID,
		From:     from,
		To:       to,
	}
	if !sess.IsAdmin() {
		filter.AuthorID = sess.UserID
	}

	rows, err := s.usage.ExportDailyStats(ctx, filter)
	if err != nil {
		return fmt.Errorf("export stats: %w", err)
	}
	return writeStatsCSV(w, rows)
}

func writeStatsCSV(w io.Writer, rows []*model.SkillDailyStats) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Date.UTC().Format(time.DateOnly),
			r.SkillID,
			csvSafe(r.SkillName),
			strconv.FormatInt(r.Uses, 10),
			strconv.FormatInt(r.Installs, 10),
			strconv.FormatInt(r.Views, 10),
			strconv.FormatInt(r.UniqueUsers, 10),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// csvSafe prefixes cells that spreadsheets would evaluate as formulas.
func csvSafe(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}
