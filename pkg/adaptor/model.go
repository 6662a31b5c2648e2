package adaptor

import (
	"encoding/json"
	"time"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

type indicatorModel struct {
	ID          string `gorm:"primaryKey;column:id"`
	IOCType     string `gorm:"column:ioc_type;uniqueIndex:idx_indicator_key;not null"`
	Value       string `gorm:"column:value;uniqueIndex:idx_indicator_key;not null"`
	Severity    string `gorm:"column:severity;index"`
	Confidence  int    `gorm:"column:confidence"`
	ThreatScore int    `gorm:"column:threat_score"`
	TLP         string `gorm:"column:tlp"`
	FirstSeen   time.Time
	LastSeen    time.Time `gorm:"index"`
	Expiration  *time.Time
	Tags        string `gorm:"column:tags"`       // JSON-encoded string array
	SourceIDs   string `gorm:"column:source_ids"` // JSON-encoded string array
	Revision    int64  `gorm:"column:revision"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (indicatorModel) TableName() string { return "indicators" }

func newIndicatorModel(ind *iocdb.Indicator) (*indicatorModel, error) {
	tags, err := json.Marshal(ind.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "marshal indicator tags").With("id", ind.ID)
	}
	sources, err := json.Marshal(ind.SourceIDs)
	if err != nil {
		return nil, errors.Wrap(err, "marshal indicator source IDs").With("id", ind.ID)
	}

	return &indicatorModel{
		ID:          ind.ID,
		IOCType:     string(ind.Type),
		Value:       ind.Value,
		Severity:    string(ind.Severity),
		Confidence:  ind.Confidence,
		ThreatScore: ind.ThreatScore,
		TLP:         string(ind.TLP),
		FirstSeen:   ind.FirstSeen,
		LastSeen:    ind.LastSeen,
		Expiration:  ind.Expiration,
		Tags:        string(tags),
		SourceIDs:   string(sources),
		Revision:    ind.Revision,
		CreatedAt:   ind.CreatedAt,
		UpdatedAt:   ind.UpdatedAt,
	}, nil
}

func (x *indicatorModel) inflate() (*iocdb.Indicator, error) {
	var tags, sources []string
	if err := json.Unmarshal([]byte(x.Tags), &tags); err != nil {
		return nil, errors.Wrap(err, "unmarshal indicator tags").With("id", x.ID)
	}
	if err := json.Unmarshal([]byte(x.SourceIDs), &sources); err != nil {
		return nil, errors.Wrap(err, "unmarshal indicator source IDs").With("id", x.ID)
	}

	return &iocdb.Indicator{
		ID:          x.ID,
		Type:        iocdb.IOCType(x.IOCType),
		Value:       x.Value,
		Severity:    iocdb.Severity(x.Severity),
		Confidence:  x.Confidence,
		ThreatScore: x.ThreatScore,
		TLP:         iocdb.TLP(x.TLP),
		FirstSeen:   x.FirstSeen,
		LastSeen:    x.LastSeen,
		Expiration:  x.Expiration,
		Tags:        tags,
		SourceIDs:   sources,
		Revision:    x.Revision,
		CreatedAt:   x.CreatedAt,
		UpdatedAt:   x.UpdatedAt,
	}, nil
}

type enrichmentModel struct {
	ID             string `gorm:"primaryKey;column:id"`
	IndicatorID    string `gorm:"column:indicator_id;uniqueIndex:idx_enrichment_key;index;not null"`
	EnrichmentType string `gorm:"column:enrichment_type;uniqueIndex:idx_enrichment_key;not null"`
	Provider       string `gorm:"column:provider;uniqueIndex:idx_enrichment_key;not null"`
	Data           string `gorm:"column:data"`
	FetchedAt      time.Time
	ExpiresAt      *time.Time
}

func (enrichmentModel) TableName() string { return "enrichments" }

func newEnrichmentModel(e *iocdb.Enrichment) *enrichmentModel {
	return &enrichmentModel{
		ID:             e.ID,
		IndicatorID:    e.IndicatorID,
		EnrichmentType: string(e.Type),
		Provider:       e.Provider,
		Data:           string(e.Data),
		FetchedAt:      e.FetchedAt,
		ExpiresAt:      e.ExpiresAt,
	}
}

func (x *enrichmentModel) inflate() *iocdb.Enrichment {
	return &iocdb.Enrichment{
		ID:          x.ID,
		IndicatorID: x.IndicatorID,
		Type:        iocdb.EnrichmentType(x.EnrichmentType),
		Provider:    x.Provider,
		Data:        json.RawMessage(x.Data),
		FetchedAt:   x.FetchedAt,
		ExpiresAt:   x.ExpiresAt,
	}
}

type sightingModel struct {
	ID          string    `gorm:"primaryKey;column:id"`
	IndicatorID string    `gorm:"column:indicator_id;index;not null"`
	Source      string    `gorm:"column:source"`
	Context     string    `gorm:"column:context"`
	ObservedAt  time.Time `gorm:"index"`
	CreatedAt   time.Time
}

func (sightingModel) TableName() string { return "sightings" }

func newSightingModel(s *iocdb.Sighting) *sightingModel {
	return &sightingModel{
		ID:          s.ID,
		IndicatorID: s.IndicatorID,
		Source:      s.Source,
		Context:     string(s.Context),
		ObservedAt:  s.ObservedAt,
		CreatedAt:   s.CreatedAt,
	}
}

func (x *sightingModel) inflate() *iocdb.Sighting {
	return &iocdb.Sighting{
		ID:          x.ID,
		IndicatorID: x.IndicatorID,
		Source:      x.Source,
		Context:     json.RawMessage(x.Context),
		ObservedAt:  x.ObservedAt,
		CreatedAt:   x.CreatedAt,
	}
}

type sourceModel struct {
	ID               string `gorm:"primaryKey;column:id"`
	Name             string `gorm:"column:name;uniqueIndex;not null"`
	Kind             string `gorm:"column:kind"`
	URL              string `gorm:"column:url"`
	RequiresAPIKey   bool   `gorm:"column:api_key_required"`
	ReliabilityScore int    `gorm:"column:reliability_score"`
	Enabled          bool   `gorm:"column:enabled"`
	LastFetch        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (sourceModel) TableName() string { return "ioc_sources" }

func newSourceModel(src *iocdb.IOCSource) *sourceModel {
	return &sourceModel{
		ID:               src.ID,
		Name:             src.Name,
		Kind:             string(src.Kind),
		URL:              src.URL,
		RequiresAPIKey:   src.RequiresAPIKey,
		ReliabilityScore: src.ReliabilityScore,
		Enabled:          src.Enabled,
		LastFetch:        src.LastFetch,
		CreatedAt:        src.CreatedAt,
		UpdatedAt:        src.UpdatedAt,
	}
}

func (x *sourceModel) inflate() *iocdb.IOCSource {
	return &iocdb.IOCSource{
		ID:               x.ID,
		Name:             x.Name,
		Kind:             iocdb.SourceKind(x.Kind),
		URL:              x.URL,
		RequiresAPIKey:   x.RequiresAPIKey,
		ReliabilityScore: x.ReliabilityScore,
		Enabled:          x.Enabled,
		LastFetch:        x.LastFetch,
		CreatedAt:        x.CreatedAt,
		UpdatedAt:        x.UpdatedAt,
	}
}
