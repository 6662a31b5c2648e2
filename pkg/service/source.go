package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

// SourceService manages feed and manual-entry origins. Sources are read far
// more often than they change, so lookups go through an in-memory cache that
// is invalidated on every write.
type SourceService struct {
	repo adaptor.Repository

	mutex sync.Mutex
	cache map[string]*iocdb.IOCSource
}

func NewSourceService(repo adaptor.Repository) *SourceService {
	return &SourceService{
		repo: repo,
	}
}

// Put registers or updates the source keyed by its unique name. The stored ID
// survives an update.
func (x *SourceService) Put(src *iocdb.IOCSource) error {
	if src.Name == "" {
		return errors.New("source name is required").Kind(errors.KindInvalidValue)
	}

	now := time.Now().UTC()
	if src.ID == "" {
		src.ID = uuid.New().String()
		src.CreatedAt = now
	}
	src.UpdatedAt = now

	if err := x.repo.PutSource(src); err != nil {
		return err
	}
	x.invalidate()
	return nil
}

func (x *SourceService) Get(id string) (*iocdb.IOCSource, error) {
	x.mutex.Lock()
	defer x.mutex.Unlock()

	if x.cache == nil {
		sources, err := x.repo.ListSources(false)
		if err != nil {
			return nil, err
		}
		x.cache = make(map[string]*iocdb.IOCSource, len(sources))
		for _, src := range sources {
			x.cache[src.ID] = src
		}
	}

	src, ok := x.cache[id]
	if !ok {
		return nil, errors.New("source not found").
			Kind(errors.KindNotFound).
			With("id", id)
	}
	return src, nil
}

func (x *SourceService) List(enabledOnly bool) ([]*iocdb.IOCSource, error) {
	return x.repo.ListSources(enabledOnly)
}

// Disable retires the source without removing it, preserving indicator
// provenance.
func (x *SourceService) Disable(id string) error {
	src, err := x.Get(id)
	if err != nil {
		return err
	}
	src.Enabled = false
	return x.Put(src)
}

// MarkFetched records a completed fetch of a feed source.
func (x *SourceService) MarkFetched(id string, at time.Time) error {
	src, err := x.Get(id)
	if err != nil {
		return err
	}
	src.LastFetch = &at
	return x.Put(src)
}

func (x *SourceService) invalidate() {
	x.mutex.Lock()
	defer x.mutex.Unlock()
	x.cache = nil
}
