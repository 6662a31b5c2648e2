package service_test

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/mock"
	"github.com/m-mizutani/iocdb/pkg/service"
)

func TestIndicatorServiceMock(t *testing.T) {
	testIndicatorService(t, func(t *testing.T) adaptor.Repository {
		return mock.NewRepository()
	})
}

func TestIndicatorServiceSQLite(t *testing.T) {
	testIndicatorService(t, func(t *testing.T) adaptor.Repository {
		repo, err := adaptor.NewSQLiteRepository(filepath.Join(t.TempDir(), "iocdb.sqlite"))
		require.NoError(t, err)
		return repo
	})
}

func intPtr(v int) *int { return &v }

func testIndicatorService(t *testing.T, newRepo func(t *testing.T) adaptor.Repository) {
	t.Run("CreateThenMerge", func(t *testing.T) {
		svc := service.NewIndicatorService(newRepo(t))

		ind, created, err := svc.Upsert(&service.UpsertInput{
			Value:    "8.8.8.8",
			Severity: iocdb.SeverityLow,
			Tags:     []string{"scanner"},
			SourceID: "feed-a",
		})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, iocdb.TypeIPAddr, ind.Type)
		assert.Equal(t, "8.8.8.8", ind.Value)
		assert.Equal(t, iocdb.SeverityLow, ind.Severity)
		assert.Equal(t, 50, ind.Confidence)
		assert.Equal(t, iocdb.TLPAmber, ind.TLP)
		assert.Equal(t, []string{"scanner"}, ind.Tags)
		assert.Equal(t, []string{"feed-a"}, ind.SourceIDs)

		merged, created, err := svc.Upsert(&service.UpsertInput{
			Value:    "8.8.8.8",
			Severity: iocdb.SeverityHigh,
			Tags:     []string{"c2", "scanner"},
			SourceID: "feed-b",
		})
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, ind.ID, merged.ID)
		assert.Equal(t, iocdb.SeverityHigh, merged.Severity)
		assert.Equal(t, []string{"c2", "scanner"}, merged.Tags)
		assert.Equal(t, []string{"feed-a", "feed-b"}, merged.SourceIDs)
		assert.Equal(t, ind.FirstSeen.Unix(), merged.FirstSeen.Unix())
		assert.False(t, merged.LastSeen.Before(ind.LastSeen))
	})

	t.Run("SeverityNeverLowered", func(t *testing.T) {
		svc := service.NewIndicatorService(newRepo(t))

		_, _, err := svc.Upsert(&service.UpsertInput{
			Value:    "evil.example.com",
			Severity: iocdb.SeverityCritical,
		})
		require.NoError(t, err)

		merged, _, err := svc.Upsert(&service.UpsertInput{
			Value:    "evil.example.com",
			Severity: iocdb.SeverityLow,
		})
		require.NoError(t, err)
		assert.Equal(t, iocdb.SeverityCritical, merged.Severity)
	})

	t.Run("ScoresRetainedUnlessSupplied", func(t *testing.T) {
		svc := service.NewIndicatorService(newRepo(t))

		_, _, err := svc.Upsert(&service.UpsertInput{
			Value:       "evil.example.com",
			Confidence:  intPtr(90),
			ThreatScore: intPtr(75),
		})
		require.NoError(t, err)

		merged, _, err := svc.Upsert(&service.UpsertInput{Value: "evil.example.com"})
		require.NoError(t, err)
		assert.Equal(t, 90, merged.Confidence)
		assert.Equal(t, 75, merged.ThreatScore)

		merged, _, err = svc.Upsert(&service.UpsertInput{
			Value:      "evil.example.com",
			Confidence: intPtr(10),
		})
		require.NoError(t, err)
		assert.Equal(t, 10, merged.Confidence)
		assert.Equal(t, 75, merged.ThreatScore)
	})

	t.Run("NormalizedLookup", func(t *testing.T) {
		svc := service.NewIndicatorService(newRepo(t))

		created, _, err := svc.Upsert(&service.UpsertInput{Value: "EVIL.Example.COM"})
		require.NoError(t, err)
		assert.Equal(t, "evil.example.com", created.Value)

		found, err := svc.Lookup("Evil.EXAMPLE.com")
		require.NoError(t, err)
		assert.Equal(t, created.ID, found.ID)
	})

	t.Run("CVEScenario", func(t *testing.T) {
		svc := service.NewIndicatorService(newRepo(t))

		ind, created, err := svc.Upsert(&service.UpsertInput{Value: "cve-2024-1234"})
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, iocdb.TypeCVE, ind.Type)
		assert.Equal(t, "CVE-2024-1234", ind.Value)

		found, err := svc.Lookup("CVE-2024-1234")
		require.NoError(t, err)
		assert.Equal(t, ind.ID, found.ID)
	})

	t.Run("RejectsUnclassifiable", func(t *testing.T) {
		svc := service.NewIndicatorService(newRepo(t))

		_, _, err := svc.Upsert(&service.UpsertInput{Value: "not an indicator"})
		require.Error(t, err)
		assert.True(t, errors.IsInvalidValue(err))
	})

	t.Run("ConcurrentUpsertsConverge", func(t *testing.T) {
		repo := newRepo(t)
		svc := service.NewIndicatorService(repo)

		tags := []string{"alpha", "bravo", "charlie", "delta", "echo"}

		var wg sync.WaitGroup
		errCh := make(chan error, len(tags))
		for _, tag := range tags {
			wg.Add(1)
			go func(tag string) {
				defer wg.Done()
				_, _, err := svc.Upsert(&service.UpsertInput{
					Value:    "198.51.100.7",
					Tags:     []string{tag},
					SourceID: "src-" + tag,
				})
				errCh <- err
			}(tag)
		}
		wg.Wait()
		close(errCh)
		for err := range errCh {
			require.NoError(t, err)
		}

		indicators, total, err := repo.ListIndicators(&adaptor.IndicatorFilter{Query: "198.51.100.7"})
		require.NoError(t, err)
		require.Equal(t, int64(1), total)

		final := indicators[0]
		for _, tag := range tags {
			assert.Contains(t, final.Tags, tag)
			assert.Contains(t, final.SourceIDs, "src-"+tag)
		}
	})

	t.Run("ListFilters", func(t *testing.T) {
		svc := service.NewIndicatorService(newRepo(t))

		_, _, err := svc.Upsert(&service.UpsertInput{Value: "10.0.0.1", Severity: iocdb.SeverityHigh, Tags: []string{"c2"}})
		require.NoError(t, err)
		_, _, err = svc.Upsert(&service.UpsertInput{Value: "10.0.0.2", Severity: iocdb.SeverityLow})
		require.NoError(t, err)
		_, _, err = svc.Upsert(&service.UpsertInput{Value: "evil.example.com", Severity: iocdb.SeverityHigh})
		require.NoError(t, err)

		byType, total, err := svc.List(&adaptor.IndicatorFilter{Type: iocdb.TypeIPAddr})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, byType, 2)

		bySeverity, total, err := svc.List(&adaptor.IndicatorFilter{Severity: iocdb.SeverityHigh})
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		assert.Len(t, bySeverity, 2)

		byTag, total, err := svc.List(&adaptor.IndicatorFilter{Tag: "c2"})
		require.NoError(t, err)
		require.Equal(t, int64(1), total)
		assert.Equal(t, "10.0.0.1", byTag[0].Value)

		paged, total, err := svc.List(&adaptor.IndicatorFilter{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		assert.Len(t, paged, 2)
	})

	t.Run("DeleteCascades", func(t *testing.T) {
		repo := newRepo(t)
		svc := service.NewIndicatorService(repo)
		cache := service.NewEnrichmentCacheService(repo)
		sightings := service.NewSightingService(repo)

		ind, _, err := svc.Upsert(&service.UpsertInput{Value: "8.8.8.8"})
		require.NoError(t, err)

		e, err := cache.Put(ind.ID, iocdb.EnrichDNS, "dns", &iocdb.DNSData{}, time.Hour)
		require.NoError(t, err)
		s, err := sightings.Record(&service.RecordInput{IndicatorID: ind.ID, Source: "sensor-1"})
		require.NoError(t, err)

		require.NoError(t, svc.Delete(ind.ID))

		_, err = svc.Get(ind.ID)
		assert.True(t, errors.IsNotFound(err))
		_, err = cache.Get(e.ID)
		assert.True(t, errors.IsNotFound(err))
		_, err = sightings.Get(s.ID)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("PruneExpired", func(t *testing.T) {
		svc := service.NewIndicatorService(newRepo(t))

		_, _, err := svc.Upsert(&service.UpsertInput{Value: "10.9.9.9", ExpirationDays: intPtr(-1)})
		require.NoError(t, err)
		keep, _, err := svc.Upsert(&service.UpsertInput{Value: "10.9.9.10", ExpirationDays: intPtr(30)})
		require.NoError(t, err)

		pruned, err := svc.PruneExpired()
		require.NoError(t, err)
		assert.Equal(t, int64(1), pruned)

		_, err = svc.Lookup("10.9.9.9")
		assert.True(t, errors.IsNotFound(err))
		_, err = svc.Get(keep.ID)
		assert.NoError(t, err)
	})
}
