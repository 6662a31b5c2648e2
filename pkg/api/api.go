package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/arguments"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/logging"
	"github.com/m-mizutani/iocdb/pkg/provider"
	"github.com/m-mizutani/iocdb/pkg/service"
)

// Server exposes the catalog over HTTP. It is a thin collaborator: all
// invariants live in the services, the handlers only translate wire formats
// and error kinds.
type Server struct {
	indicators  *service.IndicatorService
	cache       *service.EnrichmentCacheService
	orchestra   *service.OrchestratorService
	sightings   *service.SightingService
	sources     *service.SourceService
	stats       *service.StatsService
	importer    *service.ImportService
	collector   *service.CollectorService
	alert       *service.AlertService
	events      *service.EventService
	providerSet []provider.Provider
	router      *mux.Router

	enrichTopicARN string
}

func New(args *arguments.Arguments) (*Server, error) {
	indicators, err := args.IndicatorService()
	if err != nil {
		return nil, err
	}
	cache, err := args.EnrichmentCacheService()
	if err != nil {
		return nil, err
	}
	orchestra, err := args.OrchestratorService()
	if err != nil {
		return nil, err
	}
	sightings, err := args.SightingService()
	if err != nil {
		return nil, err
	}
	sources, err := args.SourceService()
	if err != nil {
		return nil, err
	}
	stats, err := args.StatsService()
	if err != nil {
		return nil, err
	}
	importer, err := args.ImportService()
	if err != nil {
		return nil, err
	}
	collector, err := args.CollectorService()
	if err != nil {
		return nil, err
	}
	providers, err := args.Providers()
	if err != nil {
		return nil, err
	}

	x := &Server{
		indicators:  indicators,
		cache:       cache,
		orchestra:   orchestra,
		sightings:   sightings,
		sources:     sources,
		stats:       stats,
		importer:    importer,
		collector:   collector,
		alert:       args.AlertService(),
		events:      args.EventService(),
		providerSet: providers,
		router:      mux.NewRouter(),

		enrichTopicARN: args.EnrichTopicARN,
	}
	x.routes()
	return x, nil
}

func (x *Server) routes() {
	v1 := x.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/indicators", x.handleUpsert).Methods(http.MethodPost)
	v1.HandleFunc("/indicators", x.handleList).Methods(http.MethodGet)
	v1.HandleFunc("/indicators/{id}", x.handleGet).Methods(http.MethodGet)
	v1.HandleFunc("/indicators/{id}", x.handleDelete).Methods(http.MethodDelete)
	v1.HandleFunc("/indicators/{id}/enrich", x.handleEnrich).Methods(http.MethodPost)
	v1.HandleFunc("/indicators/{id}/enrichments", x.handleListEnrichments).Methods(http.MethodGet)
	v1.HandleFunc("/indicators/{id}/sightings", x.handleRecordSighting).Methods(http.MethodPost)
	v1.HandleFunc("/indicators/{id}/sightings", x.handleListSightings).Methods(http.MethodGet)
	v1.HandleFunc("/lookup", x.handleLookup).Methods(http.MethodGet)
	v1.HandleFunc("/sources", x.handlePutSource).Methods(http.MethodPost)
	v1.HandleFunc("/sources", x.handleListSources).Methods(http.MethodGet)
	v1.HandleFunc("/sources/{id}/refresh", x.handleRefreshSource).Methods(http.MethodPost)
	v1.HandleFunc("/feeds/refresh", x.handleRefreshFeeds).Methods(http.MethodPost)
	v1.HandleFunc("/stats", x.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/import", x.handleImport).Methods(http.MethodPost)

	x.router.HandleFunc("/health", x.handleHealth).Methods(http.MethodGet)
	x.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (x *Server) Router() http.Handler { return x.router }

func (x *Server) ListenAndServe(addr string) error {
	logging.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
	return http.ListenAndServe(addr, x.router)
}

// -----------------------
// Wire helpers

func respondJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			logging.Logger.Warn().Err(err).Msg("Failed to encode response")
		}
	}
}

func respondError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.IsInvalidValue(err):
		code = http.StatusBadRequest
	case errors.IsNotFound(err):
		code = http.StatusNotFound
	case errors.IsUnavailable(err):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		logging.Logger.Error().Err(err).Msg("Request failed")
		errors.EmitSentry(err)
	}
	respondJSON(w, code, map[string]string{"error": err.Error()})
}

// -----------------------
// Indicators

type upsertRequest struct {
	Value          string         `json:"value"`
	Type           iocdb.IOCType  `json:"type,omitempty"`
	Severity       iocdb.Severity `json:"severity,omitempty"`
	Confidence     *int           `json:"confidence,omitempty"`
	ThreatScore    *int           `json:"threat_score,omitempty"`
	TLP            iocdb.TLP      `json:"tlp,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	SourceID       string         `json:"source_id,omitempty"`
	ExpirationDays *int           `json:"expiration_days,omitempty"`
}

type upsertResponse struct {
	Indicator *iocdb.Indicator `json:"indicator"`
	Created   bool             `json:"created"`
}

func (x *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.Wrap(err, "decode request body").Kind(errors.KindInvalidValue))
		return
	}

	ind, created, err := x.indicators.Upsert(&service.UpsertInput{
		Value:          req.Value,
		Type:           req.Type,
		Severity:       req.Severity,
		Confidence:     req.Confidence,
		ThreatScore:    req.ThreatScore,
		TLP:            req.TLP,
		Tags:           req.Tags,
		SourceID:       req.SourceID,
		ExpirationDays: req.ExpirationDays,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	x.notifyUpsert(ind)

	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	respondJSON(w, code, &upsertResponse{Indicator: ind, Created: created})
}

// notifyUpsert fans out the post-upsert side effects: queueing the enrichment
// fan-out and alerting on severe indicators. The indicator is already
// persisted, so failures here are logged instead of failing the request.
func (x *Server) notifyUpsert(ind *iocdb.Indicator) {
	if x.enrichTopicARN != "" {
		if err := x.events.PublishEnrichmentRequests(x.enrichTopicARN, []string{ind.ID}); err != nil {
			logging.Logger.Error().Err(err).
				Str("indicator_id", ind.ID).
				Msg("Failed to publish enrichment request")
			errors.EmitSentry(err)
		}
	}

	if x.alert.Enabled() && x.alert.ShouldAlert(ind) {
		if err := x.alert.EmitToSlack(ind); err != nil {
			logging.Logger.Error().Err(err).
				Str("indicator_id", ind.ID).
				Msg("Failed to emit Slack alert")
			errors.EmitSentry(err)
		}
	}
}

type listResponse struct {
	Indicators []*iocdb.Indicator `json:"indicators"`
	Total      int64              `json:"total"`
}

func (x *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := &adaptor.IndicatorFilter{
		Type:     iocdb.IOCType(q.Get("type")),
		Severity: iocdb.Severity(q.Get("severity")),
		Tag:      q.Get("tag"),
		Query:    q.Get("q"),
	}
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	indicators, total, err := x.indicators.List(filter)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &listResponse{Indicators: indicators, Total: total})
}

func (x *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	ind, err := x.indicators.Get(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ind)
}

func (x *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := x.indicators.Delete(mux.Vars(r)["id"]); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusNoContent, nil)
}

func (x *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	value := r.URL.Query().Get("value")
	if value == "" {
		respondError(w, errors.New("value query parameter is required").Kind(errors.KindInvalidValue))
		return
	}
	ind, err := x.indicators.Lookup(value)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, ind)
}

// -----------------------
// Enrichment

func (x *Server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	report, err := x.orchestra.Enrich(r.Context(), mux.Vars(r)["id"], x.providerSet)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

type enrichmentView struct {
	*iocdb.Enrichment
	Stale bool `json:"stale"`
}

func (x *Server) handleListEnrichments(w http.ResponseWriter, r *http.Request) {
	enrichments, err := x.cache.ListFor(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]*enrichmentView, 0, len(enrichments))
	for _, e := range enrichments {
		views = append(views, &enrichmentView{Enrichment: e, Stale: x.cache.IsStale(e)})
	}
	respondJSON(w, http.StatusOK, views)
}

// -----------------------
// Sightings

type sightingRequest struct {
	Source     string          `json:"source"`
	Context    json.RawMessage `json:"context,omitempty"`
	ObservedAt string          `json:"observed_at,omitempty"`
}

func (x *Server) handleRecordSighting(w http.ResponseWriter, r *http.Request) {
	var req sightingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, errors.Wrap(err, "decode request body").Kind(errors.KindInvalidValue))
		return
	}

	input := &service.RecordInput{
		IndicatorID: mux.Vars(r)["id"],
		Source:      req.Source,
		Context:     req.Context,
	}
	if req.ObservedAt != "" {
		observedAt, err := parseRFC3339(req.ObservedAt)
		if err != nil {
			respondError(w, err)
			return
		}
		input.ObservedAt = observedAt
	}

	s, err := x.sightings.Record(input)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s)
}

func (x *Server) handleListSightings(w http.ResponseWriter, r *http.Request) {
	sightings, err := x.sightings.List(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sightings)
}

func parseRFC3339(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.Wrap(err, "parse observed_at").
			Kind(errors.KindInvalidValue).
			With("value", value)
	}
	return t, nil
}

// -----------------------
// Sources, stats, import

func (x *Server) handlePutSource(w http.ResponseWriter, r *http.Request) {
	var src iocdb.IOCSource
	if err := json.NewDecoder(r.Body).Decode(&src); err != nil {
		respondError(w, errors.Wrap(err, "decode request body").Kind(errors.KindInvalidValue))
		return
	}
	if err := x.sources.Put(&src); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, &src)
}

func (x *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	enabledOnly := r.URL.Query().Get("enabled") == "true"
	sources, err := x.sources.List(enabledOnly)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sources)
}

func (x *Server) handleRefreshSource(w http.ResponseWriter, r *http.Request) {
	result, err := x.collector.Refresh(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (x *Server) handleRefreshFeeds(w http.ResponseWriter, r *http.Request) {
	results, err := x.collector.RefreshAll()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

func (x *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (x *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := x.stats.Get()
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// handleImport streams the request body as JSONL or bare-line records. The
// source_id query parameter attributes the batch.
func (x *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	summary, err := x.importer.ImportReader(r.Body, r.URL.Query().Get("source_id"))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}
