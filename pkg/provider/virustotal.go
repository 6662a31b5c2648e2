package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

const virusTotalEndpoint = "https://www.virustotal.com/api/v3"

// VirusTotal checks IPs, domains, URLs and hashes against the VirusTotal v3
// API. An unknown object (HTTP 404) is a valid result, not a failure.
type VirusTotal struct {
	apiKey     string
	httpClient adaptor.HTTPClient
}

func NewVirusTotal(apiKey string, httpClient adaptor.HTTPClient) *VirusTotal {
	return &VirusTotal{
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

func (x *VirusTotal) Name() string                         { return "virustotal" }
func (x *VirusTotal) EnrichmentType() iocdb.EnrichmentType { return iocdb.EnrichReputation }
func (x *VirusTotal) TTL() time.Duration                   { return 12 * time.Hour }

func (x *VirusTotal) AppliesTo(iocType iocdb.IOCType) bool {
	switch iocType {
	case iocdb.TypeIPAddr, iocdb.TypeDomain, iocdb.TypeURL, iocdb.TypeHash:
		return true
	}
	return false
}

func objectPath(value string, iocType iocdb.IOCType) string {
	switch iocType {
	case iocdb.TypeIPAddr:
		return "/ip_addresses/" + value
	case iocdb.TypeDomain:
		return "/domains/" + value
	case iocdb.TypeHash:
		return "/files/" + value
	default:
		// URL objects are addressed by unpadded URL-safe base64 of the URL
		return "/urls/" + base64.RawURLEncoding.EncodeToString([]byte(value))
	}
}

type virusTotalResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Harmless   int `json:"harmless"`
				Undetected int `json:"undetected"`
			} `json:"last_analysis_stats"`
			Reputation int      `json:"reputation"`
			Tags       []string `json:"tags"`
			Country    string   `json:"country"`
			ASOwner    string   `json:"as_owner"`
		} `json:"attributes"`
	} `json:"data"`
}

func (x *VirusTotal) Fetch(ctx context.Context, value string, iocType iocdb.IOCType) (interface{}, error) {
	apiURL := fmt.Sprintf("%s%s", virusTotalEndpoint, objectPath(value, iocType))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "create VirusTotal request").Kind(errors.KindProvider)
	}
	req.Header.Add("x-apikey", x.apiKey)

	resp, err := x.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "VirusTotal request failed").
			Kind(errors.KindProvider).With("value", value)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &iocdb.ReputationData{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := ioutil.ReadAll(resp.Body)
		return nil, errors.New("VirusTotal API error").
			Kind(errors.KindProvider).
			With("code", resp.StatusCode).
			With("body", string(raw))
	}

	var body virusTotalResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, errors.Wrap(err, "decode VirusTotal response").
			Kind(errors.KindProvider).With("value", value)
	}

	attrs := body.Data.Attributes
	return &iocdb.ReputationData{
		Score:       attrs.Reputation,
		Malicious:   attrs.LastAnalysisStats.Malicious,
		Suspicious:  attrs.LastAnalysisStats.Suspicious,
		Harmless:    attrs.LastAnalysisStats.Harmless,
		CountryCode: attrs.Country,
		ISP:         attrs.ASOwner,
		Categories:  attrs.Tags,
	}, nil
}
