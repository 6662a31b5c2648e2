package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

// EnrichmentCacheService owns enrichment records and their freshness. One
// record exists per (indicator, type, provider); a refresh overwrites it in
// place and a failed refresh leaves the stale record available for display.
type EnrichmentCacheService struct {
	repo adaptor.Repository
}

func NewEnrichmentCacheService(repo adaptor.Repository) *EnrichmentCacheService {
	return &EnrichmentCacheService{
		repo: repo,
	}
}

// Put upserts the record for the (indicatorID, enrichmentType, provider)
// key. A ttl of zero means the result never expires.
func (x *EnrichmentCacheService) Put(indicatorID string, enrichmentType iocdb.EnrichmentType, provider string, payload interface{}, ttl time.Duration) (*iocdb.Enrichment, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "marshal enrichment payload").
			With("indicator_id", indicatorID).
			With("provider", provider)
	}

	now := time.Now().UTC()
	e := &iocdb.Enrichment{
		ID:          uuid.New().String(),
		IndicatorID: indicatorID,
		Type:        enrichmentType,
		Provider:    provider,
		Data:        data,
		FetchedAt:   now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		e.ExpiresAt = &expires
	}

	if err := x.repo.PutEnrichment(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (x *EnrichmentCacheService) Get(id string) (*iocdb.Enrichment, error) {
	return x.repo.GetEnrichment(id)
}

// ListFor returns all enrichments of one indicator, fresh and stale alike.
func (x *EnrichmentCacheService) ListFor(indicatorID string) ([]*iocdb.Enrichment, error) {
	return x.repo.ListEnrichments(indicatorID)
}

func (x *EnrichmentCacheService) IsStale(e *iocdb.Enrichment) bool {
	return e.IsStale(time.Now().UTC())
}
