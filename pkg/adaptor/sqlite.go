package adaptor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/logging"
)

// SQLiteRepository implements Repository on a SQLite database file. The
// write path relies on SQLite's transactional guarantees plus the unique
// indexes declared on the models; races surface as KindConflict.
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository opens (or creates) the database at dbPath and migrates
// the schema. Pass ":memory:" for an ephemeral store.
func NewSQLiteRepository(dbPath string) (Repository, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		TranslateError: true,
		Logger:         logAdapter{},
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database").
			Kind(errors.KindUnavailable).
			With("path", dbPath)
	}

	models := []interface{}{
		&indicatorModel{},
		&enrichmentModel{},
		&sightingModel{},
		&sourceModel{},
	}
	for _, m := range models {
		if err := db.AutoMigrate(m); err != nil {
			return nil, errors.Wrap(err, "migrate schema").Kind(errors.KindUnavailable)
		}
	}

	return &SQLiteRepository{db: db}, nil
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(interface{ Unwrap() error }); ok && e.Unwrap() == gorm.ErrDuplicatedKey {
		return true
	}
	return err == gorm.ErrDuplicatedKey ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func wrapDB(err error, msg string) *errors.Error {
	kind := errors.KindUnavailable
	if isDuplicate(err) {
		kind = errors.KindConflict
	}
	return errors.Wrap(err, msg).Kind(kind)
}

func (x *SQLiteRepository) CreateIndicator(ind *iocdb.Indicator) error {
	m, err := newIndicatorModel(ind)
	if err != nil {
		return err
	}
	if result := x.db.Create(m); result.Error != nil {
		return wrapDB(result.Error, "create indicator").
			With("type", ind.Type).With("value", ind.Value)
	}
	return nil
}

func (x *SQLiteRepository) UpdateIndicator(ind *iocdb.Indicator) error {
	m, err := newIndicatorModel(ind)
	if err != nil {
		return err
	}

	result := x.db.Model(&indicatorModel{}).
		Where("id = ? AND revision = ?", ind.ID, ind.Revision).
		Updates(map[string]interface{}{
			"severity":     m.Severity,
			"confidence":   m.Confidence,
			"threat_score": m.ThreatScore,
			"tlp":          m.TLP,
			"last_seen":    m.LastSeen,
			"expiration":   m.Expiration,
			"tags":         m.Tags,
			"source_ids":   m.SourceIDs,
			"updated_at":   m.UpdatedAt,
			"revision":     ind.Revision + 1,
		})
	if result.Error != nil {
		return wrapDB(result.Error, "update indicator").With("id", ind.ID)
	}
	if result.RowsAffected == 0 {
		if _, err := x.GetIndicator(ind.ID); err != nil {
			return err
		}
		return errors.New("indicator was modified concurrently").
			Kind(errors.KindConflict).
			With("id", ind.ID).
			With("revision", ind.Revision)
	}

	ind.Revision++
	return nil
}

func (x *SQLiteRepository) GetIndicator(id string) (*iocdb.Indicator, error) {
	var m indicatorModel
	if result := x.db.Where("id = ?", id).First(&m); result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.New("indicator not found").
				Kind(errors.KindNotFound).With("id", id)
		}
		return nil, wrapDB(result.Error, "get indicator").With("id", id)
	}
	return m.inflate()
}

func (x *SQLiteRepository) GetIndicatorByKey(iocType iocdb.IOCType, value string) (*iocdb.Indicator, error) {
	var m indicatorModel
	result := x.db.Where("ioc_type = ? AND value = ?", string(iocType), value).First(&m)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.New("indicator not found").
				Kind(errors.KindNotFound).
				With("type", iocType).With("value", value)
		}
		return nil, wrapDB(result.Error, "get indicator by key")
	}
	return m.inflate()
}

func (x *SQLiteRepository) DeleteIndicator(id string) error {
	return x.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id = ?", id).Delete(&indicatorModel{})
		if result.Error != nil {
			return wrapDB(result.Error, "delete indicator").With("id", id)
		}
		if result.RowsAffected == 0 {
			return errors.New("indicator not found").
				Kind(errors.KindNotFound).With("id", id)
		}

		if err := tx.Where("indicator_id = ?", id).Delete(&enrichmentModel{}).Error; err != nil {
			return wrapDB(err, "cascade delete enrichments").With("id", id)
		}
		if err := tx.Where("indicator_id = ?", id).Delete(&sightingModel{}).Error; err != nil {
			return wrapDB(err, "cascade delete sightings").With("id", id)
		}
		return nil
	})
}

func (x *SQLiteRepository) ListIndicators(filter *IndicatorFilter) ([]*iocdb.Indicator, int64, error) {
	if filter == nil {
		filter = &IndicatorFilter{}
	}

	q := x.db.Model(&indicatorModel{})
	if filter.Type != "" {
		q = q.Where("ioc_type = ?", string(filter.Type))
	}
	if filter.Severity != "" {
		q = q.Where("severity = ?", string(filter.Severity))
	}
	if filter.Tag != "" {
		// tags are stored as a JSON array of strings
		q = q.Where("tags LIKE ?", fmt.Sprintf(`%%"%s"%%`, filter.Tag))
	}
	if filter.Query != "" {
		q = q.Where("value LIKE ?", "%"+filter.Query+"%")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, wrapDB(err, "count indicators")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var models []indicatorModel
	err := q.Order("last_seen DESC, id ASC").
		Offset(filter.Offset).
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, 0, wrapDB(err, "list indicators")
	}

	indicators := make([]*iocdb.Indicator, len(models))
	for i := range models {
		ind, err := models[i].inflate()
		if err != nil {
			return nil, 0, err
		}
		indicators[i] = ind
	}
	return indicators, total, nil
}

func (x *SQLiteRepository) TouchIndicator(id string, seenAt time.Time) error {
	result := x.db.Model(&indicatorModel{}).
		Where("id = ? AND last_seen < ?", id, seenAt).
		Updates(map[string]interface{}{
			"last_seen":  seenAt,
			"updated_at": seenAt,
		})
	if result.Error != nil {
		return wrapDB(result.Error, "touch indicator").With("id", id)
	}
	if result.RowsAffected == 0 {
		// either missing or already newer; only the former is an error
		if _, err := x.GetIndicator(id); err != nil {
			return err
		}
	}
	return nil
}

func (x *SQLiteRepository) DeleteExpiredIndicators(now time.Time) (int64, error) {
	var deleted int64
	err := x.db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&indicatorModel{}).
			Where("expiration IS NOT NULL AND expiration < ?", now).
			Pluck("id", &ids).Error
		if err != nil {
			return wrapDB(err, "find expired indicators")
		}
		if len(ids) == 0 {
			return nil
		}

		if err := tx.Where("indicator_id IN ?", ids).Delete(&enrichmentModel{}).Error; err != nil {
			return wrapDB(err, "cascade delete expired enrichments")
		}
		if err := tx.Where("indicator_id IN ?", ids).Delete(&sightingModel{}).Error; err != nil {
			return wrapDB(err, "cascade delete expired sightings")
		}
		result := tx.Where("id IN ?", ids).Delete(&indicatorModel{})
		if result.Error != nil {
			return wrapDB(result.Error, "delete expired indicators")
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}

func (x *SQLiteRepository) PutEnrichment(e *iocdb.Enrichment) error {
	put := func() error {
		return x.db.Transaction(func(tx *gorm.DB) error {
			var existing enrichmentModel
			result := tx.
				Where("indicator_id = ? AND enrichment_type = ? AND provider = ?",
					e.IndicatorID, string(e.Type), e.Provider).
				First(&existing)

			if result.Error == nil {
				e.ID = existing.ID
				m := newEnrichmentModel(e)
				return tx.Model(&enrichmentModel{}).
					Where("id = ?", existing.ID).
					Updates(map[string]interface{}{
						"data":       m.Data,
						"fetched_at": m.FetchedAt,
						"expires_at": m.ExpiresAt,
					}).Error
			}
			if result.Error != gorm.ErrRecordNotFound {
				return result.Error
			}
			return tx.Create(newEnrichmentModel(e)).Error
		})
	}

	err := put()
	if isDuplicate(err) {
		// lost the insert race; the overwrite path wins now
		err = put()
	}
	if err != nil {
		return wrapDB(err, "put enrichment").
			With("indicator_id", e.IndicatorID).
			With("type", e.Type).
			With("provider", e.Provider)
	}
	return nil
}

func (x *SQLiteRepository) GetEnrichment(id string) (*iocdb.Enrichment, error) {
	var m enrichmentModel
	if result := x.db.Where("id = ?", id).First(&m); result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.New("enrichment not found").
				Kind(errors.KindNotFound).With("id", id)
		}
		return nil, wrapDB(result.Error, "get enrichment").With("id", id)
	}
	return m.inflate(), nil
}

func (x *SQLiteRepository) ListEnrichments(indicatorID string) ([]*iocdb.Enrichment, error) {
	var models []enrichmentModel
	err := x.db.Where("indicator_id = ?", indicatorID).
		Order("fetched_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, wrapDB(err, "list enrichments").With("indicator_id", indicatorID)
	}

	enrichments := make([]*iocdb.Enrichment, len(models))
	for i := range models {
		enrichments[i] = models[i].inflate()
	}
	return enrichments, nil
}

func (x *SQLiteRepository) CreateSighting(s *iocdb.Sighting) error {
	// the owning indicator is verified in the same transaction so a
	// concurrent delete cannot orphan the sighting row
	return x.db.Transaction(func(tx *gorm.DB) error {
		var n int64
		err := tx.Model(&indicatorModel{}).
			Where("id = ?", s.IndicatorID).
			Count(&n).Error
		if err != nil {
			return wrapDB(err, "check sighting indicator").
				With("indicator_id", s.IndicatorID)
		}
		if n == 0 {
			return errors.New("indicator not found").
				Kind(errors.KindNotFound).With("id", s.IndicatorID)
		}

		if err := tx.Create(newSightingModel(s)).Error; err != nil {
			return wrapDB(err, "create sighting").
				With("indicator_id", s.IndicatorID)
		}
		return nil
	})
}

func (x *SQLiteRepository) GetSighting(id string) (*iocdb.Sighting, error) {
	var m sightingModel
	if result := x.db.Where("id = ?", id).First(&m); result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.New("sighting not found").
				Kind(errors.KindNotFound).With("id", id)
		}
		return nil, wrapDB(result.Error, "get sighting").With("id", id)
	}
	return m.inflate(), nil
}

func (x *SQLiteRepository) ListSightings(indicatorID string) ([]*iocdb.Sighting, error) {
	var models []sightingModel
	err := x.db.Where("indicator_id = ?", indicatorID).
		Order("observed_at DESC").
		Find(&models).Error
	if err != nil {
		return nil, wrapDB(err, "list sightings").With("indicator_id", indicatorID)
	}

	sightings := make([]*iocdb.Sighting, len(models))
	for i := range models {
		sightings[i] = models[i].inflate()
	}
	return sightings, nil
}

func (x *SQLiteRepository) CountSightings(indicatorID string) (int64, error) {
	var n int64
	err := x.db.Model(&sightingModel{}).
		Where("indicator_id = ?", indicatorID).
		Count(&n).Error
	if err != nil {
		return 0, wrapDB(err, "count sightings").With("indicator_id", indicatorID)
	}
	return n, nil
}

func (x *SQLiteRepository) CountSightingsSince(since time.Time) (int64, error) {
	var n int64
	err := x.db.Model(&sightingModel{}).
		Where("observed_at >= ?", since).
		Count(&n).Error
	if err != nil {
		return 0, wrapDB(err, "count recent sightings")
	}
	return n, nil
}

func (x *SQLiteRepository) PutSource(src *iocdb.IOCSource) error {
	return x.db.Transaction(func(tx *gorm.DB) error {
		var existing sourceModel
		result := tx.Where("name = ?", src.Name).First(&existing)

		if result.Error == nil {
			src.ID = existing.ID
			src.CreatedAt = existing.CreatedAt
			m := newSourceModel(src)
			err := tx.Model(&sourceModel{}).
				Where("id = ?", existing.ID).
				Updates(map[string]interface{}{
					"kind":              m.Kind,
					"url":               m.URL,
					"api_key_required":  m.RequiresAPIKey,
					"reliability_score": m.ReliabilityScore,
					"enabled":           m.Enabled,
					"last_fetch":        m.LastFetch,
					"updated_at":        m.UpdatedAt,
				}).Error
			if err != nil {
				return wrapDB(err, "update source").With("name", src.Name)
			}
			return nil
		}
		if result.Error != gorm.ErrRecordNotFound {
			return wrapDB(result.Error, "lookup source").With("name", src.Name)
		}

		if err := tx.Create(newSourceModel(src)).Error; err != nil {
			return wrapDB(err, "create source").With("name", src.Name)
		}
		return nil
	})
}

func (x *SQLiteRepository) GetSource(id string) (*iocdb.IOCSource, error) {
	var m sourceModel
	if result := x.db.Where("id = ?", id).First(&m); result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, errors.New("source not found").
				Kind(errors.KindNotFound).With("id", id)
		}
		return nil, wrapDB(result.Error, "get source").With("id", id)
	}
	return m.inflate(), nil
}

func (x *SQLiteRepository) ListSources(enabledOnly bool) ([]*iocdb.IOCSource, error) {
	q := x.db.Model(&sourceModel{}).Order("name ASC")
	if enabledOnly {
		q = q.Where("enabled = ?", true)
	}

	var models []sourceModel
	if err := q.Find(&models).Error; err != nil {
		return nil, wrapDB(err, "list sources")
	}

	sources := make([]*iocdb.IOCSource, len(models))
	for i := range models {
		sources[i] = models[i].inflate()
	}
	return sources, nil
}

func (x *SQLiteRepository) CountIndicators() (int64, error) {
	var n int64
	if err := x.db.Model(&indicatorModel{}).Count(&n).Error; err != nil {
		return 0, wrapDB(err, "count indicators")
	}
	return n, nil
}

func (x *SQLiteRepository) CountIndicatorsCreatedSince(since time.Time) (int64, error) {
	var n int64
	err := x.db.Model(&indicatorModel{}).
		Where("created_at >= ?", since).
		Count(&n).Error
	if err != nil {
		return 0, wrapDB(err, "count recent indicators")
	}
	return n, nil
}

func (x *SQLiteRepository) CountEnabledSources() (int64, error) {
	var n int64
	err := x.db.Model(&sourceModel{}).
		Where("enabled = ?", true).
		Count(&n).Error
	if err != nil {
		return 0, wrapDB(err, "count enabled sources")
	}
	return n, nil
}

// logAdapter routes gorm warnings and errors to the process logger.
type logAdapter struct{}

func (logAdapter) LogMode(gormlogger.LogLevel) gormlogger.Interface { return logAdapter{} }

func (logAdapter) Info(_ context.Context, format string, v ...interface{}) {}

func (logAdapter) Warn(_ context.Context, format string, v ...interface{}) {
	logging.Logger.Warn().Msgf("gorm: "+format, v...)
}

func (logAdapter) Error(_ context.Context, format string, v ...interface{}) {
	logging.Logger.Error().Msgf("gorm: "+format, v...)
}

func (logAdapter) Trace(_ context.Context, _ time.Time, _ func() (string, int64), _ error) {}
