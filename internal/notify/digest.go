package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/zulandar/switchyard/internal/models"
)

// DigestReport summarizes handoff cases over a period.
type DigestReport struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Open        int
	Assigned    int
	Resolved    int // resolved within the period
	Oldest      *models.HandoffCase
	Tenants     []TenantDigest
}

// TenantDigest counts waiting cases for one tenant.
type TenantDigest struct {
	TenantID string
	Waiting  int
}

// BuildDigest reports case activity for the 24 hours before now. It
// returns nil when there is nothing to report.
func BuildDigest(ctx context.Context, db *gorm.DB, now time.Time) (*Notice, error) {
	report, err := buildDigestReport(ctx, db, now.Add(-24*time.Hour), now)
	if err != nil {
		return nil, fmt.Errorf("notify: digest: %w", err)
	}
	if report.Open == 0 && report.Assigned == 0 && report.Resolved == 0 {
		return nil, nil
	}
	n := Digest(report)
	return &n, nil
}

func buildDigestReport(ctx context.Context, db *gorm.DB, since, until time.Time) (*DigestReport, error) {
	report := &DigestReport{PeriodStart: since, PeriodEnd: until}
	db = db.WithContext(ctx)

	var active []models.HandoffCase
	if err := db.Where("status IN ?", []string{models.CaseOpen, models.CaseAssigned}).
		Order("created_at ASC").Find(&active).Error; err != nil {
		return nil, err
	}
	perTenant := map[string]int{}
	for i := range active {
		c := active[i]
		switch c.Status {
		case models.CaseOpen:
			report.Open++
		case models.CaseAssigned:
			report.Assigned++
		}
		perTenant[c.TenantID]++
		if report.Oldest == nil {
			report.Oldest = &c
		}
	}

	var resolved int64
	if err := db.Model(&models.HandoffCase{}).
		Where("status = ? AND resolved_at >= ? AND resolved_at < ?", models.CaseResolved, since, until).
		Count(&resolved).Error; err != nil {
		return nil, err
	}
	report.Resolved = int(resolved)

	for tenant, n := range perTenant {
		if tenant == "" {
			tenant = "(none)"
		}
		report.Tenants = append(report.Tenants, TenantDigest{TenantID: tenant, Waiting: n})
	}
	sort.Slice(report.Tenants, func(i, j int) bool {
		return report.Tenants[i].TenantID < report.Tenants[j].TenantID
	})
	return report, nil
}
