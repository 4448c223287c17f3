package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mssola/useragent"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/smallbiznis/storefront/internal/clock"
	"github.com/smallbiznis/storefront/internal/visit/domain"
)

const maxRange = 366 * 24 * time.Hour

type Params struct {
	fx.In

	GenID *snowflake.Node
	Clock clock.Clock
}

type repo struct {
	genID *snowflake.Node
	clock clock.Clock
}

func New(p Params) domain.Repository {
	return &repo{genID: p.GenID, clock: p.Clock}
}

func (r *repo) Record(ctx context.Context, db *gorm.DB, v *domain.Visit) error {
	v.IP = strings.TrimSpace(v.IP)
	v.Path = strings.TrimSpace(v.Path)
	if v.IP == "" || v.Path == "" {
		return domain.ErrInvalidVisit
	}
	if v.ID == 0 {
		v.ID = r.genID.Generate()
	}
	if v.VisitedAt.IsZero() {
		v.VisitedAt = r.clock.Now()
	}
	v.VisitedAt = v.VisitedAt.UTC()
	return db.WithContext(ctx).Create(v).Error
}

func checkRange(from, to time.Time) error {
	if !to.After(from) || to.Sub(from) > maxRange {
		return domain.ErrInvalidRange
	}
	return nil
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DailyStats returns one bucket per UTC day touched by [from, to), including
// days without visits.
func (r *repo) DailyStats(ctx context.Context, db *gorm.DB, from, to time.Time) ([]domain.DayStat, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}

	var rows []struct {
		VisitedAt time.Time
		IP        string
	}
	err := db.WithContext(ctx).Raw(
		`SELECT visited_at, ip FROM visits WHERE visited_at >= ? AND visited_at < ?`,
		from.UTC(), to.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	first := day(from)
	var stats []domain.DayStat
	index := map[time.Time]int{}
	for d := first; d.Before(to); d = d.AddDate(0, 0, 1) {
		index[d] = len(stats)
		stats = append(stats, domain.DayStat{Day: d})
	}

	seen := make(map[time.Time]map[string]struct{}, len(stats))
	for _, row := range rows {
		d := day(row.VisitedAt)
		i, ok := index[d]
		if !ok {
			continue
		}
		stats[i].Visits++
		ips := seen[d]
		if ips == nil {
			ips = map[string]struct{}{}
			seen[d] = ips
		}
		if _, dup := ips[row.IP]; !dup {
			ips[row.IP] = struct{}{}
			stats[i].UniqueVisitors++
		}
	}
	return stats, nil
}

type agent struct {
	browser string
	system  string
	device  domain.DeviceClass
}

func parseAgent(raw string) agent {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return agent{browser: "unknown", system: "unknown", device: domain.DeviceUnknown}
	}

	ua := useragent.New(raw)
	name, _ := ua.Browser()
	a := agent{browser: name, system: ua.OSInfo().Name, device: domain.DeviceDesktop}
	switch {
	case ua.Bot():
		a.device = domain.DeviceBot
	case ua.Mobile():
		a.device = domain.DeviceMobile
	}
	if a.browser == "" {
		a.browser = "unknown"
	}
	if a.system == "" {
		a.system = "unknown"
	}
	return a
}

func (r *repo) AgentBreakdown(ctx context.Context, db *gorm.DB, from, to time.Time) (domain.AgentBreakdown, error) {
	out := domain.AgentBreakdown{
		Browsers: map[string]int64{},
		Systems:  map[string]int64{},
		Devices:  map[domain.DeviceClass]int64{},
	}
	if err := checkRange(from, to); err != nil {
		return out, err
	}

	var rows []struct {
		UserAgent string
		Total     int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT user_agent, COUNT(*) AS total
		 FROM visits
		 WHERE visited_at >= ? AND visited_at < ?
		 GROUP BY user_agent`,
		from.UTC(), to.UTC(),
	).Scan(&rows).Error
	if err != nil {
		return out, err
	}

	for _, row := range rows {
		a := parseAgent(row.UserAgent)
		out.Browsers[a.browser] += row.Total
		out.Systems[a.system] += row.Total
		out.Devices[a.device] += row.Total
	}
	return out, nil
}

func (r *repo) TopPaths(ctx context.Context, db *gorm.DB, from, to time.Time, limit int) ([]domain.PathStat, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	var stats []domain.PathStat
	err := db.WithContext(ctx).Raw(
		`SELECT path, COUNT(*) AS visits
		 FROM visits
		 WHERE visited_at >= ? AND visited_at < ?
		 GROUP BY path
		 ORDER BY visits DESC, path ASC
		 LIMIT ?`,
		from.UTC(), to.UTC(), limit,
	).Scan(&stats).Error
	if err != nil {
		return nil, err
	}
	return stats, nil
}
