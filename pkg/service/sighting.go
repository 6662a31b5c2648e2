package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/metrics"
)

// SightingService appends observation events to the audit trail. Records are
// immutable once written; there is no update or delete path short of the
// owning indicator being removed.
type SightingService struct {
	repo adaptor.Repository
}

func NewSightingService(repo adaptor.Repository) *SightingService {
	return &SightingService{
		repo: repo,
	}
}

// RecordInput describes one observation of an already-known indicator. A zero
// ObservedAt means "now".
type RecordInput struct {
	IndicatorID string
	Source      string
	Context     json.RawMessage
	ObservedAt  time.Time
}

// Record appends the sighting and advances the indicator's last_seen when the
// observation is newer than the stored value, so out-of-order ingestion keeps
// last_seen monotonic. Existence of the indicator is enforced atomically by
// the repository, so a concurrent delete cannot leave an orphaned row.
func (x *SightingService) Record(input *RecordInput) (*iocdb.Sighting, error) {
	observedAt := input.ObservedAt
	if observedAt.IsZero() {
		observedAt = time.Now().UTC()
	}

	s := &iocdb.Sighting{
		ID:          uuid.New().String(),
		IndicatorID: input.IndicatorID,
		Source:      input.Source,
		Context:     input.Context,
		ObservedAt:  observedAt,
		CreatedAt:   time.Now().UTC(),
	}
	if err := x.repo.CreateSighting(s); err != nil {
		return nil, err
	}

	if err := x.repo.TouchIndicator(input.IndicatorID, observedAt); err != nil {
		return nil, err
	}

	metrics.SightingsRecorded.Inc()
	return s, nil
}

func (x *SightingService) Get(id string) (*iocdb.Sighting, error) {
	return x.repo.GetSighting(id)
}

// List returns the sightings of one indicator, newest first.
func (x *SightingService) List(indicatorID string) ([]*iocdb.Sighting, error) {
	return x.repo.ListSightings(indicatorID)
}

func (x *SightingService) Count(indicatorID string) (int64, error) {
	return x.repo.CountSightings(indicatorID)
}
