package service

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/logging"
	"github.com/m-mizutani/iocdb/pkg/metrics"
	"github.com/m-mizutani/iocdb/pkg/provider"
)

const defaultProviderTimeout = 30 * time.Second

type ProviderStatus string

const (
	StatusSucceeded ProviderStatus = "succeeded"
	StatusFailed    ProviderStatus = "failed"
	StatusSkipped   ProviderStatus = "skipped"
)

type ProviderResult struct {
	Provider       string               `json:"provider"`
	EnrichmentType iocdb.EnrichmentType `json:"enrichment_type"`
	Status         ProviderStatus       `json:"status"`
	EnrichmentID   string               `json:"enrichment_id,omitempty"`
	Error          string               `json:"error,omitempty"`
}

// RunReport is the outcome of one enrichment fan-out. A run as a whole only
// fails when the indicator does not exist; everything else is recorded per
// provider.
type RunReport struct {
	IndicatorID string            `json:"indicator_id"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Results     []*ProviderResult `json:"results"`
}

func (x *RunReport) Count(status ProviderStatus) int {
	var n int
	for _, r := range x.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

// OrchestratorService fans one indicator out to all applicable providers
// concurrently and writes successful results through the enrichment cache.
type OrchestratorService struct {
	repo    adaptor.Repository
	cache   *EnrichmentCacheService
	timeout time.Duration
}

func NewOrchestratorService(repo adaptor.Repository, cache *EnrichmentCacheService, timeout time.Duration) *OrchestratorService {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	return &OrchestratorService{
		repo:    repo,
		cache:   cache,
		timeout: timeout,
	}
}

// Enrich resolves the indicator and dispatches one attempt per applicable
// provider in parallel. Provider calls run under their own timeout detached
// from ctx: a caller that abandons the report does not cancel in-flight
// fetches, and their results are still persisted.
func (x *OrchestratorService) Enrich(ctx context.Context, indicatorID string, providers []provider.Provider) (*RunReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "enrichment run canceled before start").
			With("indicator_id", indicatorID)
	}

	ind, err := x.repo.GetIndicator(indicatorID)
	if err != nil {
		return nil, err
	}

	report := &RunReport{
		IndicatorID: indicatorID,
		StartedAt:   time.Now().UTC(),
		Results:     make([]*ProviderResult, len(providers)),
	}

	var wg sync.WaitGroup
	for i, p := range providers {
		if !p.AppliesTo(ind.Type) {
			report.Results[i] = &ProviderResult{
				Provider:       p.Name(),
				EnrichmentType: p.EnrichmentType(),
				Status:         StatusSkipped,
			}
			metrics.EnrichmentResults.WithLabelValues(p.Name(), string(StatusSkipped)).Inc()
			continue
		}

		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			report.Results[i] = x.runProvider(ind, p)
		}(i, p)
	}
	wg.Wait()

	report.FinishedAt = time.Now().UTC()

	var runErrs error
	for _, r := range report.Results {
		if r.Status == StatusFailed {
			runErrs = multierror.Append(runErrs, errors.New(r.Error).With("provider", r.Provider))
		}
	}
	ev := logging.Logger.Info()
	if runErrs != nil {
		ev = logging.Logger.Warn().AnErr("provider_errors", runErrs)
	}
	ev.Str("indicator_id", indicatorID).
		Int("succeeded", report.Count(StatusSucceeded)).
		Int("failed", report.Count(StatusFailed)).
		Int("skipped", report.Count(StatusSkipped)).
		Msg("Enrichment run finished")

	return report, nil
}

func (x *OrchestratorService) runProvider(ind *iocdb.Indicator, p provider.Provider) *ProviderResult {
	result := &ProviderResult{
		Provider:       p.Name(),
		EnrichmentType: p.EnrichmentType(),
	}

	pctx, cancel := context.WithTimeout(context.Background(), x.timeout)
	defer cancel()

	started := time.Now()
	payload, err := p.Fetch(pctx, ind.Value, ind.Type)
	metrics.EnrichmentLatency.WithLabelValues(p.Name()).Observe(time.Since(started).Seconds())

	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		metrics.EnrichmentResults.WithLabelValues(p.Name(), string(StatusFailed)).Inc()
		logging.Logger.Warn().
			Str("provider", p.Name()).
			Str("indicator_id", ind.ID).
			Err(err).
			Msg("Enrichment provider failed")
		return result
	}

	e, err := x.cache.Put(ind.ID, p.EnrichmentType(), p.Name(), payload, p.TTL())
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		metrics.EnrichmentResults.WithLabelValues(p.Name(), string(StatusFailed)).Inc()
		return result
	}

	result.Status = StatusSucceeded
	result.EnrichmentID = e.ID
	metrics.EnrichmentResults.WithLabelValues(p.Name(), string(StatusSucceeded)).Inc()
	return result
}
