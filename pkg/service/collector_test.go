package service_test

import (
	"io/ioutil"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/mock"
	"github.com/m-mizutani/iocdb/pkg/service"
)

func newTestCollector(httpClient *mock.HTTPClient) (*service.CollectorService, *service.IndicatorService, *service.SourceService) {
	store := mock.NewRepository()
	indicators := service.NewIndicatorService(store)
	sources := service.NewSourceService(store)
	importer := service.NewImportService(nil, indicators)
	return service.NewCollectorService(httpClient, importer, sources), indicators, sources
}

func TestCollectorRefresh(t *testing.T) {
	httpClient := &mock.HTTPClient{
		RespCode: http.StatusOK,
		RespBody: ioutil.NopCloser(strings.NewReader("8.8.8.8\nevil.example.com\n")),
	}
	collector, indicators, sources := newTestCollector(httpClient)

	src := &iocdb.IOCSource{
		Name:    "urlhaus",
		Kind:    iocdb.SourceFeed,
		URL:     "https://urlhaus.abuse.ch/downloads/text_online/",
		Enabled: true,
	}
	require.NoError(t, sources.Put(src))

	result, err := collector.Refresh(src.ID)
	require.NoError(t, err)
	require.NotNil(t, result.Summary)
	assert.Equal(t, 2, result.Summary.Created)
	assert.Empty(t, result.Error)

	require.Len(t, httpClient.Requests, 1)
	assert.Equal(t, src.URL, httpClient.Requests[0].URL.String())

	ind, err := indicators.Lookup("8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, []string{src.ID}, ind.SourceIDs)

	got, err := sources.Get(src.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastFetch)
}

func TestCollectorRefreshRejectsManualSource(t *testing.T) {
	collector, _, sources := newTestCollector(&mock.HTTPClient{RespCode: http.StatusOK})

	src := &iocdb.IOCSource{Name: "analyst", Kind: iocdb.SourceManual, Enabled: true}
	require.NoError(t, sources.Put(src))

	_, err := collector.Refresh(src.ID)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidValue(err))
}

func TestCollectorRefreshUnknownSource(t *testing.T) {
	collector, _, _ := newTestCollector(&mock.HTTPClient{RespCode: http.StatusOK})

	_, err := collector.Refresh("no-such-source")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestCollectorRefreshAll(t *testing.T) {
	httpClient := &mock.HTTPClient{
		RespCode: http.StatusOK,
		RespBody: ioutil.NopCloser(strings.NewReader("203.0.113.7\n")),
	}
	collector, _, sources := newTestCollector(httpClient)

	feed := &iocdb.IOCSource{
		Name:    "feodo",
		Kind:    iocdb.SourceFeed,
		URL:     "https://feodotracker.abuse.ch/downloads/ipblocklist.txt",
		Enabled: true,
	}
	require.NoError(t, sources.Put(feed))
	// manual and disabled sources are not swept
	require.NoError(t, sources.Put(&iocdb.IOCSource{Name: "analyst", Kind: iocdb.SourceManual, Enabled: true}))
	require.NoError(t, sources.Put(&iocdb.IOCSource{
		Name: "retired",
		Kind: iocdb.SourceFeed,
		URL:  "https://feeds.example.com/retired.txt",
	}))

	results, err := collector.RefreshAll()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, feed.ID, results[0].SourceID)
	require.NotNil(t, results[0].Summary)
	assert.Equal(t, 1, results[0].Summary.Created)
	require.Len(t, httpClient.Requests, 1)
}

func TestCollectorRefreshAllReportsFailedFeed(t *testing.T) {
	httpClient := &mock.HTTPClient{RespCode: http.StatusBadGateway}
	collector, _, sources := newTestCollector(httpClient)

	feed := &iocdb.IOCSource{
		Name:    "urlhaus",
		Kind:    iocdb.SourceFeed,
		URL:     "https://urlhaus.abuse.ch/downloads/text_online/",
		Enabled: true,
	}
	require.NoError(t, sources.Put(feed))

	results, err := collector.RefreshAll()
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.NotEmpty(t, results[0].Error)
	assert.Nil(t, results[0].Summary)

	got, err := sources.Get(feed.ID)
	require.NoError(t, err)
	assert.Nil(t, got.LastFetch)
}
