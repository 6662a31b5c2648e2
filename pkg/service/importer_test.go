package service_test

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/mock"
	"github.com/m-mizutani/iocdb/pkg/service"
)

func TestImportReader(t *testing.T) {
	repo := mock.NewRepository()
	indicators := service.NewIndicatorService(repo)
	importer := service.NewImportService(nil, indicators)

	input := strings.Join([]string{
		"# feed dump 2026-09-01",
		"8.8.8.8",
		"",
		`{"value":"evil.example.com","severity":"high","tags":["c2"]}`,
		"8.8.8.8",
		"not an indicator at all",
	}, "\n")

	summary, err := importer.ImportReader(strings.NewReader(input), "feed-a")
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Lines)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Failed)
	assert.Error(t, summary.Err())

	ind, err := indicators.Lookup("evil.example.com")
	require.NoError(t, err)
	assert.Equal(t, iocdb.SeverityHigh, ind.Severity)
	assert.Equal(t, []string{"c2"}, ind.Tags)
	assert.Equal(t, []string{"feed-a"}, ind.SourceIDs)
}

func TestImportDerivesSeverityFromScore(t *testing.T) {
	repo := mock.NewRepository()
	indicators := service.NewIndicatorService(repo)
	importer := service.NewImportService(nil, indicators)

	line := `{"value":"10.1.2.3","threat_score":85}`
	summary, err := importer.ImportReader(strings.NewReader(line), "feed-a")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Created)

	ind, err := indicators.Lookup("10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, iocdb.SeverityCritical, ind.Severity)
	assert.Equal(t, 85, ind.ThreatScore)
}

func TestImportReaderMalformedJSON(t *testing.T) {
	repo := mock.NewRepository()
	importer := service.NewImportService(nil, service.NewIndicatorService(repo))

	summary, err := importer.ImportReader(strings.NewReader(`{"value":`), "feed-a")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Created)
}

func TestImportS3Object(t *testing.T) {
	repo := mock.NewRepository()
	indicators := service.NewIndicatorService(repo)
	newS3, s3Client := mock.NewS3Mock()
	importer := service.NewImportService(newS3, indicators)

	s3Client.Objects["ioc-feeds/dump.jsonl"] = []byte("8.8.8.8\nevil.example.com\n")

	summary, err := importer.ImportS3Object("ap-northeast-1", "ioc-feeds", "dump.jsonl", "feed-s3")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, "ap-northeast-1", s3Client.Region)

	_, err = indicators.Lookup("8.8.8.8")
	assert.NoError(t, err)
}

func TestImportS3ObjectGzip(t *testing.T) {
	repo := mock.NewRepository()
	indicators := service.NewIndicatorService(repo)
	newS3, s3Client := mock.NewS3Mock()
	importer := service.NewImportService(newS3, indicators)

	buf := &bytes.Buffer{}
	wr := gzip.NewWriter(buf)
	_, err := wr.Write([]byte("8.8.8.8\n"))
	require.NoError(t, err)
	require.NoError(t, wr.Close())
	s3Client.Objects["ioc-feeds/dump.jsonl.gz"] = buf.Bytes()

	summary, err := importer.ImportS3Object("ap-northeast-1", "ioc-feeds", "dump.jsonl.gz", "feed-s3")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Created)
}

func TestImportS3ObjectMissing(t *testing.T) {
	repo := mock.NewRepository()
	newS3, _ := mock.NewS3Mock()
	importer := service.NewImportService(newS3, service.NewIndicatorService(repo))

	_, err := importer.ImportS3Object("ap-northeast-1", "ioc-feeds", "nope.jsonl", "feed-s3")
	require.Error(t, err)
}
