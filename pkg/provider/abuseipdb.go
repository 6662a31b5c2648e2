package provider

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/url"
	"time"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

const abuseIPDBEndpoint = "https://api.abuseipdb.com/api/v2/check"

// AbuseIPDB checks IP reputation against the AbuseIPDB API.
type AbuseIPDB struct {
	apiKey     string
	httpClient adaptor.HTTPClient
}

func NewAbuseIPDB(apiKey string, httpClient adaptor.HTTPClient) *AbuseIPDB {
	return &AbuseIPDB{
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (x *AbuseIPDB) Name() string                         { return "abuseipdb" }
func (x *AbuseIPDB) EnrichmentType() iocdb.EnrichmentType { return iocdb.EnrichReputation }
func (x *AbuseIPDB) TTL() time.Duration                   { return 12 * time.Hour }

func (x *AbuseIPDB) AppliesTo(iocType iocdb.IOCType) bool {
	return iocType == iocdb.TypeIPAddr
}

type abuseIPDBResponse struct {
	Data struct {
		AbuseConfidenceScore int      `json:"abuseConfidenceScore"`
		TotalReports         int      `json:"totalReports"`
		CountryCode          string   `json:"countryCode"`
		UsageType            string   `json:"usageType"`
		ISP                  string   `json:"isp"`
		Hostnames            []string `json:"hostnames"`
	} `json:"data"`
}

func (x *AbuseIPDB) Fetch(ctx context.Context, value string, _ iocdb.IOCType) (interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, abuseIPDBEndpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create AbuseIPDB request").Kind(errors.KindProvider)
	}

	q := url.Values{}
	q.Add("ipAddress", value)
	q.Add("maxAgeInDays", "90")
	req.URL.RawQuery = q.Encode()
	req.Header.Add("Key", x.apiKey)
	req.Header.Add("Accept", "application/json")

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "AbuseIPDB request failed").
			Kind(errors.KindProvider).With("ip", value)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := ioutil.ReadAll(resp.Body)
		return nil, errors.New("AbuseIPDB API error").
			Kind(errors.KindProvider).
			With("code", resp.StatusCode).
			With("body", string(raw))
	}

	var body abuseIPDBResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode AbuseIPDB response").
			Kind(errors.KindProvider).With("ip", value)
	}

	return &iocdb.ReputationData{
		Score:        body.Data.AbuseConfidenceScore,
		TotalReports: body.Data.TotalReports,
		CountryCode:  body.Data.CountryCode,
		ISP:          body.Data.ISP,
	}, nil
}
