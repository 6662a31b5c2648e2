package mock

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

// Repository is an in-memory adaptor.Repository. It reproduces the
// uniqueness and optimistic-locking behavior of the SQLite implementation so
// the same service tests run against both.
type Repository struct {
	mutex sync.Mutex

	indicators   map[string]*iocdb.Indicator
	indicatorKey map[string]string // "type/value" -> id
	enrichments  map[string]*iocdb.Enrichment
	enrichKey    map[string]string // "iid/type/provider" -> id
	sightings    map[string]*iocdb.Sighting
	sources      map[string]*iocdb.IOCSource
	sourceName   map[string]string // name -> id
}

// NewRepository is constructor of mock.Repository
func NewRepository() adaptor.Repository {
	return &Repository{
		indicators:   make(map[string]*iocdb.Indicator),
		indicatorKey: make(map[string]string),
		enrichments:  make(map[string]*iocdb.Enrichment),
		enrichKey:    make(map[string]string),
		sightings:    make(map[string]*iocdb.Sighting),
		sources:      make(map[string]*iocdb.IOCSource),
		sourceName:   make(map[string]string),
	}
}

func indicatorKeyOf(iocType iocdb.IOCType, value string) string {
	return fmt.Sprintf("%s/%s", iocType, value)
}

func enrichKeyOf(e *iocdb.Enrichment) string {
	return fmt.Sprintf("%s/%s/%s", e.IndicatorID, e.Type, e.Provider)
}

func copyIndicator(ind *iocdb.Indicator) *iocdb.Indicator {
	c := *ind
	c.Tags = append([]string{}, ind.Tags...)
	c.SourceIDs = append([]string{}, ind.SourceIDs...)
	if ind.Expiration != nil {
		t := *ind.Expiration
		c.Expiration = &t
	}
	return &c
}

func copyEnrichment(e *iocdb.Enrichment) *iocdb.Enrichment {
	c := *e
	c.Data = append([]byte{}, e.Data...)
	if e.ExpiresAt != nil {
		t := *e.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func copySighting(s *iocdb.Sighting) *iocdb.Sighting {
	c := *s
	c.Context = append([]byte{}, s.Context...)
	return &c
}

func copySource(src *iocdb.IOCSource) *iocdb.IOCSource {
	c := *src
	if src.LastFetch != nil {
		t := *src.LastFetch
		c.LastFetch = &t
	}
	return &c
}

func (x *Repository) CreateIndicator(ind *iocdb.Indicator) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	key := indicatorKeyOf(ind.Type, ind.Value)
	if _, ok := x.indicatorKey[key]; ok {
		return errors.New("indicator already exists").
			Kind(errors.KindConflict).With("key", key)
	}

	x.indicators[ind.ID] = copyIndicator(ind)
	x.indicatorKey[key] = ind.ID
	return nil
}

func (x *Repository) UpdateIndicator(ind *iocdb.Indicator) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	stored, ok := x.indicators[ind.ID]
	if !ok {
		return errors.New("indicator not found").
			Kind(errors.KindNotFound).With("id", ind.ID)
	}
	if stored.Revision != ind.Revision {
		return errors.New("indicator was modified concurrently").
			Kind(errors.KindConflict).
			With("id", ind.ID).
			With("revision", ind.Revision)
	}

	ind.Revision++
	c := copyIndicator(ind)
	c.Type = stored.Type
	c.Value = stored.Value
	c.FirstSeen = stored.FirstSeen
	c.CreatedAt = stored.CreatedAt
	x.indicators[ind.ID] = c
	return nil
}

func (x *Repository) GetIndicator(id string) (*iocdb.Indicator, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	ind, ok := x.indicators[id]
	if !ok {
		return nil, errors.New("indicator not found").
			Kind(errors.KindNotFound).With("id", id)
	}
	return copyIndicator(ind), nil
}

func (x *Repository) GetIndicatorByKey(iocType iocdb.IOCType, value string) (*iocdb.Indicator, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	id, ok := x.indicatorKey[indicatorKeyOf(iocType, value)]
	if !ok {
		return nil, errors.New("indicator not found").
			Kind(errors.KindNotFound).
			With("type", iocType).With("value", value)
	}
	return copyIndicator(x.indicators[id]), nil
}

func (x *Repository) DeleteIndicator(id string) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	ind, ok := x.indicators[id]
	if !ok {
		return errors.New("indicator not found").
			Kind(errors.KindNotFound).With("id", id)
	}

	delete(x.indicators, id)
	delete(x.indicatorKey, indicatorKeyOf(ind.Type, ind.Value))
	for eid, e := range x.enrichments {
		if e.IndicatorID == id {
			delete(x.enrichments, eid)
			delete(x.enrichKey, enrichKeyOf(e))
		}
	}
	for sid, s := range x.sightings {
		if s.IndicatorID == id {
			delete(x.sightings, sid)
		}
	}
	return nil
}

func (x *Repository) ListIndicators(filter *adaptor.IndicatorFilter) ([]*iocdb.Indicator, int64, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	if filter == nil {
		filter = &adaptor.IndicatorFilter{}
	}

	var matched []*iocdb.Indicator
	for _, ind := range x.indicators {
		if filter.Type != "" && ind.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && ind.Severity != filter.Severity {
			continue
		}
		if filter.Tag != "" && !containsString(ind.Tags, filter.Tag) {
			continue
		}
		if filter.Query != "" && !strings.Contains(ind.Value, filter.Query) {
			continue
		}
		matched = append(matched, copyIndicator(ind))
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastSeen.Equal(matched[j].LastSeen) {
			return matched[i].LastSeen.After(matched[j].LastSeen)
		}
		return matched[i].ID < matched[j].ID
	})

	total := int64(len(matched))
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if filter.Offset >= len(matched) {
		return nil, total, nil
	}
	end := filter.Offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[filter.Offset:end], total, nil
}

func (x *Repository) TouchIndicator(id string, seenAt time.Time) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	ind, ok := x.indicators[id]
	if !ok {
		return errors.New("indicator not found").
			Kind(errors.KindNotFound).With("id", id)
	}
	if ind.LastSeen.Before(seenAt) {
		ind.LastSeen = seenAt
		ind.UpdatedAt = seenAt
	}
	return nil
}

func (x *Repository) DeleteExpiredIndicators(now time.Time) (int64, error) {
	x.mutex.Lock()
	var expired []string
	for id, ind := range x.indicators {
		if ind.Expired(now) {
			expired = append(expired, id)
		}
	}
	x.mutex.Unlock()

	for _, id := range expired {
		if err := x.DeleteIndicator(id); err != nil {
			return 0, err
		}
	}
	return int64(len(expired)), nil
}

func (x *Repository) PutEnrichment(e *iocdb.Enrichment) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	key := enrichKeyOf(e)
	if existingID, ok := x.enrichKey[key]; ok {
		e.ID = existingID
	}
	x.enrichments[e.ID] = copyEnrichment(e)
	x.enrichKey[key] = e.ID
	return nil
}

func (x *Repository) GetEnrichment(id string) (*iocdb.Enrichment, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	e, ok := x.enrichments[id]
	if !ok {
		return nil, errors.New("enrichment not found").
			Kind(errors.KindNotFound).With("id", id)
	}
	return copyEnrichment(e), nil
}

func (x *Repository) ListEnrichments(indicatorID string) ([]*iocdb.Enrichment, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	var results []*iocdb.Enrichment
	for _, e := range x.enrichments {
		if e.IndicatorID == indicatorID {
			results = append(results, copyEnrichment(e))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].FetchedAt.After(results[j].FetchedAt)
	})
	return results, nil
}

func (x *Repository) CreateSighting(s *iocdb.Sighting) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	if _, ok := x.indicators[s.IndicatorID]; !ok {
		return errors.New("indicator not found").
			Kind(errors.KindNotFound).With("id", s.IndicatorID)
	}

	x.sightings[s.ID] = copySighting(s)
	return nil
}

func (x *Repository) GetSighting(id string) (*iocdb.Sighting, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	s, ok := x.sightings[id]
	if !ok {
		return nil, errors.New("sighting not found").
			Kind(errors.KindNotFound).With("id", id)
	}
	return copySighting(s), nil
}

func (x *Repository) ListSightings(indicatorID string) ([]*iocdb.Sighting, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	var results []*iocdb.Sighting
	for _, s := range x.sightings {
		if s.IndicatorID == indicatorID {
			results = append(results, copySighting(s))
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].ObservedAt.After(results[j].ObservedAt)
	})
	return results, nil
}

func (x *Repository) CountSightings(indicatorID string) (int64, error) {
	sightings, err := x.ListSightings(indicatorID)
	if err != nil {
		return 0, err
	}
	return int64(len(sightings)), nil
}

func (x *Repository) CountSightingsSince(since time.Time) (int64, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	var n int64
	for _, s := range x.sightings {
		if !s.ObservedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (x *Repository) PutSource(src *iocdb.IOCSource) error {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	if existingID, ok := x.sourceName[src.Name]; ok {
		src.ID = existingID
		src.CreatedAt = x.sources[existingID].CreatedAt
	}
	x.sources[src.ID] = copySource(src)
	x.sourceName[src.Name] = src.ID
	return nil
}

func (x *Repository) GetSource(id string) (*iocdb.IOCSource, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	src, ok := x.sources[id]
	if !ok {
		return nil, errors.New("source not found").
			Kind(errors.KindNotFound).With("id", id)
	}
	return copySource(src), nil
}

func (x *Repository) ListSources(enabledOnly bool) ([]*iocdb.IOCSource, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	var results []*iocdb.IOCSource
	for _, src := range x.sources {
		if enabledOnly && !src.Enabled {
			continue
		}
		results = append(results, copySource(src))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Name < results[j].Name
	})
	return results, nil
}

func (x *Repository) CountIndicators() (int64, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	return int64(len(x.indicators)), nil
}

func (x *Repository) CountIndicatorsCreatedSince(since time.Time) (int64, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	var n int64
	for _, ind := range x.indicators {
		if !ind.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (x *Repository) CountEnabledSources() (int64, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	var n int64
	for _, src := range x.sources {
		if src.Enabled {
			n++
		}
	}
	return n, nil
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
