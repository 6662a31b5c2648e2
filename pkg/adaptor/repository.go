package adaptor

import (
	"time"

	"github.com/m-mizutani/iocdb"
)

// Repository is the persistence capability of the indicator catalog. All
// uniqueness invariants are enforced here: (ioc_type, value) for indicators,
// (indicator_id, enrichment_type, provider) for enrichments and name for
// sources. Violations surface as errors with KindConflict so that callers
// can fall back to the merge path instead of erroring.
type Repository interface {
	CreateIndicator(ind *iocdb.Indicator) error
	// UpdateIndicator writes ind only when its Revision still matches the
	// stored row (optimistic locking), then bumps the revision. A lost race
	// yields KindConflict.
	UpdateIndicator(ind *iocdb.Indicator) error
	GetIndicator(id string) (*iocdb.Indicator, error)
	GetIndicatorByKey(iocType iocdb.IOCType, value string) (*iocdb.Indicator, error)
	// DeleteIndicator removes the indicator and cascades to its enrichments
	// and sightings in one transaction.
	DeleteIndicator(id string) error
	ListIndicators(filter *IndicatorFilter) ([]*iocdb.Indicator, int64, error)
	// TouchIndicator advances last_seen to seenAt if it is newer.
	TouchIndicator(id string, seenAt time.Time) error
	DeleteExpiredIndicators(now time.Time) (int64, error)

	// PutEnrichment upserts by the unique enrichment key. On overwrite the
	// stored record keeps its original ID, which is written back to e.
	PutEnrichment(e *iocdb.Enrichment) error
	GetEnrichment(id string) (*iocdb.Enrichment, error)
	ListEnrichments(indicatorID string) ([]*iocdb.Enrichment, error)

	CreateSighting(s *iocdb.Sighting) error
	GetSighting(id string) (*iocdb.Sighting, error)
	ListSightings(indicatorID string) ([]*iocdb.Sighting, error)
	CountSightings(indicatorID string) (int64, error)
	CountSightingsSince(since time.Time) (int64, error)

	// PutSource upserts by unique source name, keeping the stored ID.
	PutSource(src *iocdb.IOCSource) error
	GetSource(id string) (*iocdb.IOCSource, error)
	ListSources(enabledOnly bool) ([]*iocdb.IOCSource, error)

	CountIndicators() (int64, error)
	CountIndicatorsCreatedSince(since time.Time) (int64, error)
	CountEnabledSources() (int64, error)
}

// IndicatorFilter narrows ListIndicators. Zero values mean "any". Results
// are ordered by last_seen descending with the ID as tiebreak, so paging is
// stable for a static dataset.
type IndicatorFilter struct {
	Type     iocdb.IOCType
	Severity iocdb.Severity
	Tag      string
	Query    string
	Offset   int
	Limit    int
}

type RepositoryFactory func(dsn string) (Repository, error)
