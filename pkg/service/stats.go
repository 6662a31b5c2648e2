package service

import (
	"time"

	"github.com/m-mizutani/iocdb/pkg/adaptor"
)

// Stats is a point-in-time summary of the catalog.
type Stats struct {
	TotalIndicators int64     `json:"total_indicators"`
	AddedToday      int64     `json:"added_today"`
	AddedLast7Days  int64     `json:"added_last_7_days"`
	EnabledSources  int64     `json:"enabled_sources"`
	Sightings24h    int64     `json:"sightings_24h"`
	GeneratedAt     time.Time `json:"generated_at"`
}

type StatsService struct {
	repo adaptor.Repository
}

func NewStatsService(repo adaptor.Repository) *StatsService {
	return &StatsService{
		repo: repo,
	}
}

// Get computes the summary. "Today" is the UTC calendar day, while the 7-day
// and 24-hour windows are rolling.
func (x *StatsService) Get() (*Stats, error) {
	now := time.Now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	stats := &Stats{
		GeneratedAt: now,
	}

	var err error
	if stats.TotalIndicators, err = x.repo.CountIndicators(); err != nil {
		return nil, err
	}
	if stats.AddedToday, err = x.repo.CountIndicatorsCreatedSince(midnight); err != nil {
		return nil, err
	}
	if stats.AddedLast7Days, err = x.repo.CountIndicatorsCreatedSince(now.AddDate(0, 0, -7)); err != nil {
		return nil, err
	}
	if stats.EnabledSources, err = x.repo.CountEnabledSources(); err != nil {
		return nil, err
	}
	if stats.Sightings24h, err = x.repo.CountSightingsSince(now.Add(-24 * time.Hour)); err != nil {
		return nil, err
	}

	return stats, nil
}
