package service

import (
	"net/http"
	"time"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/logging"
)

// CollectorService pulls remote feeds registered as sources and loads them
// through the importer. A source qualifies when it is an enabled feed with a
// URL; everything else is skipped.
type CollectorService struct {
	httpClient adaptor.HTTPClient
	importer   *ImportService
	sources    *SourceService
}

func NewCollectorService(httpClient adaptor.HTTPClient, importer *ImportService, sources *SourceService) *CollectorService {
	return &CollectorService{
		httpClient: httpClient,
		importer:   importer,
		sources:    sources,
	}
}

// FetchResult reports one feed refresh. Either Summary or Error is set.
type FetchResult struct {
	SourceID string         `json:"source_id"`
	Name     string         `json:"name"`
	Summary  *ImportSummary `json:"summary,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Refresh fetches one source by ID. Non-feed sources and feeds without a URL
// are rejected rather than silently skipped.
func (x *CollectorService) Refresh(sourceID string) (*FetchResult, error) {
	src, err := x.sources.Get(sourceID)
	if err != nil {
		return nil, err
	}
	if src.Kind != iocdb.SourceFeed || src.URL == "" {
		return nil, errors.New("source is not a fetchable feed").
			Kind(errors.KindInvalidValue).
			With("id", src.ID).
			With("kind", src.Kind)
	}
	return x.fetch(src)
}

// RefreshAll fetches every enabled feed source with a URL. A failing feed is
// reported in its result instead of aborting the sweep.
func (x *CollectorService) RefreshAll() ([]*FetchResult, error) {
	sources, err := x.sources.List(true)
	if err != nil {
		return nil, err
	}

	var results []*FetchResult
	for _, src := range sources {
		if src.Kind != iocdb.SourceFeed || src.URL == "" {
			continue
		}

		result, err := x.fetch(src)
		if err != nil {
			logging.Logger.Warn().Err(err).
				Str("source_id", src.ID).
				Str("name", src.Name).
				Msg("Feed refresh failed")
			result = &FetchResult{SourceID: src.ID, Name: src.Name, Error: err.Error()}
		}
		results = append(results, result)
	}
	return results, nil
}

func (x *CollectorService) fetch(src *iocdb.IOCSource) (*FetchResult, error) {
	req, err := http.NewRequest("GET", src.URL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Fail to create new feed HTTP request").With("url", src.URL)
	}

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "Fail to send feed HTTP request").
			Kind(errors.KindProvider).With("url", src.URL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.New("Unexpected status code from feed").
			Kind(errors.KindProvider).
			With("code", resp.StatusCode).
			With("url", src.URL)
	}

	summary, err := x.importer.ImportReader(resp.Body, src.ID)
	if err != nil {
		return nil, err
	}
	if err := x.sources.MarkFetched(src.ID, time.Now().UTC()); err != nil {
		return nil, err
	}

	logging.Logger.Info().
		Str("source_id", src.ID).
		Str("name", src.Name).
		Int("lines", summary.Lines).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("failed", summary.Failed).
		Msg("Refreshed feed")
	return &FetchResult{SourceID: src.ID, Name: src.Name, Summary: summary}, nil
}
