package service

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/scylladb/go-set/strset"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/classifier"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/metrics"
)

// Documented defaults for a first observation without explicit values.
const (
	defaultConfidence  = 50
	defaultThreatScore = 50
	defaultTLP         = iocdb.TLPAmber
)

// maxUpsertAttempts bounds the conflict-retry loop. Each retry re-reads the
// row and re-runs the merge, so losing a race never loses a contribution.
const maxUpsertAttempts = 5

type IndicatorService struct {
	repo adaptor.Repository
}

func NewIndicatorService(repo adaptor.Repository) *IndicatorService {
	return &IndicatorService{
		repo: repo,
	}
}

// UpsertInput carries one observation of a value. Pointer fields distinguish
// "not supplied" from zero: confidence and threat_score are only overwritten
// when the caller explicitly provides them.
type UpsertInput struct {
	Value          string
	Type           iocdb.IOCType
	Severity       iocdb.Severity
	Confidence     *int
	ThreatScore    *int
	TLP            iocdb.TLP
	Tags           []string
	SourceID       string
	ExpirationDays *int
}

// Upsert creates or merges the indicator for input's (type, value) key and
// reports whether a new row was created. The merge is commutative and
// idempotent for tags and sources, and severity is only ever raised, so
// concurrent upserts converge regardless of interleaving. Unique-key and
// optimistic-lock races are recovered internally by re-running the merge.
func (x *IndicatorService) Upsert(input *UpsertInput) (*iocdb.Indicator, bool, error) {
	iocType := input.Type
	if iocType == "" {
		detected, err := classifier.Classify(input.Value)
		if err != nil {
			return nil, false, err
		}
		iocType = detected
	}
	value := classifier.Normalize(input.Value, iocType)

	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		existing, err := x.repo.GetIndicatorByKey(iocType, value)
		if err != nil && !errors.IsNotFound(err) {
			return nil, false, err
		}

		now := time.Now().UTC()

		if existing == nil {
			ind := x.buildIndicator(input, iocType, value, now)
			if err := x.repo.CreateIndicator(ind); err != nil {
				if errors.IsConflict(err) {
					metrics.UpsertConflictRetries.Inc()
					continue
				}
				return nil, false, err
			}
			metrics.IndicatorUpserts.WithLabelValues("created").Inc()
			return ind, true, nil
		}

		merged := mergeIndicator(existing, input, now)
		if err := x.repo.UpdateIndicator(merged); err != nil {
			if errors.IsConflict(err) {
				metrics.UpsertConflictRetries.Inc()
				continue
			}
			return nil, false, err
		}
		metrics.IndicatorUpserts.WithLabelValues("updated").Inc()
		return merged, false, nil
	}

	return nil, false, errors.New("upsert did not converge").
		Kind(errors.KindUnavailable).
		With("type", iocType).
		With("value", value).
		With("attempts", maxUpsertAttempts)
}

func (x *IndicatorService) buildIndicator(input *UpsertInput, iocType iocdb.IOCType, value string, now time.Time) *iocdb.Indicator {
	severity := iocdb.SeverityUnknown
	if input.Severity.IsValid() && input.Severity != "" {
		severity = input.Severity
	}
	confidence := defaultConfidence
	if input.Confidence != nil {
		confidence = *input.Confidence
	}
	threatScore := defaultThreatScore
	if input.ThreatScore != nil {
		threatScore = *input.ThreatScore
	}
	tlp := defaultTLP
	if input.TLP != "" {
		tlp = input.TLP
	}

	tags := strset.New(input.Tags...).List()
	sort.Strings(tags)
	var sourceIDs []string
	if input.SourceID != "" {
		sourceIDs = []string{input.SourceID}
	} else {
		sourceIDs = []string{}
	}

	ind := &iocdb.Indicator{
		ID:          uuid.New().String(),
		Type:        iocType,
		Value:       value,
		Severity:    severity,
		Confidence:  confidence,
		ThreatScore: threatScore,
		TLP:         tlp,
		FirstSeen:   now,
		LastSeen:    now,
		Tags:        tags,
		SourceIDs:   sourceIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if input.ExpirationDays != nil {
		exp := now.AddDate(0, 0, *input.ExpirationDays)
		ind.Expiration = &exp
	}
	return ind
}

// mergeIndicator folds one observation into the stored indicator. Severity
// is raised but never lowered, so a low-confidence re-observation can not
// mask a confirmed high-severity finding.
func mergeIndicator(existing *iocdb.Indicator, input *UpsertInput, now time.Time) *iocdb.Indicator {
	merged := *existing
	merged.LastSeen = now
	merged.UpdatedAt = now

	if input.Severity.IsValid() && input.Severity.Rank() > existing.Severity.Rank() {
		merged.Severity = input.Severity
	}
	if input.Confidence != nil {
		merged.Confidence = *input.Confidence
	}
	if input.ThreatScore != nil {
		merged.ThreatScore = *input.ThreatScore
	}
	if input.TLP != "" {
		merged.TLP = input.TLP
	}
	if input.ExpirationDays != nil {
		exp := now.AddDate(0, 0, *input.ExpirationDays)
		merged.Expiration = &exp
	}

	tags := strset.New(existing.Tags...)
	tags.Add(input.Tags...)
	merged.Tags = tags.List()
	sort.Strings(merged.Tags)

	sources := strset.New(existing.SourceIDs...)
	if input.SourceID != "" {
		sources.Add(input.SourceID)
	}
	merged.SourceIDs = sources.List()
	sort.Strings(merged.SourceIDs)

	return &merged
}

func (x *IndicatorService) Get(id string) (*iocdb.Indicator, error) {
	return x.repo.GetIndicator(id)
}

// Lookup classifies value and fetches the indicator stored under the
// resulting (type, value) key.
func (x *IndicatorService) Lookup(value string) (*iocdb.Indicator, error) {
	iocType, err := classifier.Classify(value)
	if err != nil {
		return nil, err
	}
	return x.repo.GetIndicatorByKey(iocType, classifier.Normalize(value, iocType))
}

// Delete removes the indicator and cascades to its enrichments and
// sightings.
func (x *IndicatorService) Delete(id string) error {
	return x.repo.DeleteIndicator(id)
}

func (x *IndicatorService) List(filter *adaptor.IndicatorFilter) ([]*iocdb.Indicator, int64, error) {
	return x.repo.ListIndicators(filter)
}

// PruneExpired removes indicators whose expiration has passed, cascading to
// their enrichments and sightings.
func (x *IndicatorService) PruneExpired() (int64, error) {
	return x.repo.DeleteExpiredIndicators(time.Now().UTC())
}
