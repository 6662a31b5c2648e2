package provider_test

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/mock"
	"github.com/m-mizutani/iocdb/pkg/provider"
)

func respBody(body string) *mock.HTTPClient {
	return &mock.HTTPClient{
		RespCode: http.StatusOK,
		RespBody: ioutil.NopCloser(bytes.NewReader([]byte(body))),
	}
}

func TestAbuseIPDBFetch(t *testing.T) {
	httpClient := respBody(`{"data":{"abuseConfidenceScore":87,"totalReports":42,"countryCode":"CN","isp":"Example ISP"}}`)
	p := provider.NewAbuseIPDB("test-key", httpClient)

	assert.True(t, p.AppliesTo(iocdb.TypeIPAddr))
	assert.False(t, p.AppliesTo(iocdb.TypeDomain))

	payload, err := p.Fetch(context.Background(), "198.51.100.1", iocdb.TypeIPAddr)
	require.NoError(t, err)

	data, ok := payload.(*iocdb.ReputationData)
	require.True(t, ok)
	assert.Equal(t, 87, data.Score)
	assert.Equal(t, 42, data.TotalReports)
	assert.Equal(t, "CN", data.CountryCode)

	require.Len(t, httpClient.Requests, 1)
	req := httpClient.Requests[0]
	assert.Equal(t, "api.abuseipdb.com", req.URL.Host)
	assert.Equal(t, "198.51.100.1", req.URL.Query().Get("ipAddress"))
	assert.Equal(t, "test-key", req.Header.Get("Key"))
}

func TestAbuseIPDBAPIError(t *testing.T) {
	httpClient := &mock.HTTPClient{RespCode: http.StatusTooManyRequests}
	p := provider.NewAbuseIPDB("test-key", httpClient)

	_, err := p.Fetch(context.Background(), "198.51.100.1", iocdb.TypeIPAddr)
	require.Error(t, err)
	assert.True(t, errors.IsProvider(err))
}

func TestVirusTotalFetch(t *testing.T) {
	httpClient := respBody(`{"data":{"attributes":{"last_analysis_stats":{"malicious":12,"suspicious":3,"harmless":60},"reputation":-20,"country":"RU","as_owner":"Example AS","tags":["malware"]}}}`)
	p := provider.NewVirusTotal("test-key", httpClient)

	payload, err := p.Fetch(context.Background(), "evil.example.com", iocdb.TypeDomain)
	require.NoError(t, err)

	data, ok := payload.(*iocdb.ReputationData)
	require.True(t, ok)
	assert.Equal(t, -20, data.Score)
	assert.Equal(t, 12, data.Malicious)
	assert.Equal(t, []string{"malware"}, data.Categories)

	require.Len(t, httpClient.Requests, 1)
	req := httpClient.Requests[0]
	assert.Equal(t, "/api/v3/domains/evil.example.com", req.URL.Path)
	assert.Equal(t, "test-key", req.Header.Get("x-apikey"))
}

func TestVirusTotalURLObjectPath(t *testing.T) {
	httpClient := respBody(`{"data":{"attributes":{}}}`)
	p := provider.NewVirusTotal("test-key", httpClient)

	_, err := p.Fetch(context.Background(), "https://evil.example.com/x", iocdb.TypeURL)
	require.NoError(t, err)

	require.Len(t, httpClient.Requests, 1)
	// URL objects are addressed by unpadded URL-safe base64
	assert.Equal(t,
		"/api/v3/urls/aHR0cHM6Ly9ldmlsLmV4YW1wbGUuY29tL3g",
		httpClient.Requests[0].URL.Path)
}

func TestVirusTotalUnknownObject(t *testing.T) {
	httpClient := &mock.HTTPClient{RespCode: http.StatusNotFound}
	p := provider.NewVirusTotal("test-key", httpClient)

	payload, err := p.Fetch(context.Background(), "d41d8cd98f00b204e9800998ecf8427e", iocdb.TypeHash)
	require.NoError(t, err)

	data, ok := payload.(*iocdb.ReputationData)
	require.True(t, ok)
	assert.Equal(t, 0, data.Score)
}

func TestProviderApplicability(t *testing.T) {
	dns := provider.NewDNS()
	assert.True(t, dns.AppliesTo(iocdb.TypeIPAddr))
	assert.True(t, dns.AppliesTo(iocdb.TypeDomain))
	assert.False(t, dns.AppliesTo(iocdb.TypeHash))

	whois := provider.NewWhois(0)
	assert.True(t, whois.AppliesTo(iocdb.TypeDomain))
	assert.False(t, whois.AppliesTo(iocdb.TypeURL))

	vt := provider.NewVirusTotal("k", nil)
	assert.True(t, vt.AppliesTo(iocdb.TypeHash))
	assert.True(t, vt.AppliesTo(iocdb.TypeURL))
	assert.False(t, vt.AppliesTo(iocdb.TypeCVE))
}
