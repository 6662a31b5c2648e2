package iocdb

import (
	"encoding/json"
	"time"
)

type EnrichmentType string

const (
	EnrichGeoIP      EnrichmentType = "geoip"
	EnrichDNS        EnrichmentType = "dns"
	EnrichWhois      EnrichmentType = "whois"
	EnrichReputation EnrichmentType = "reputation"
)

// Enrichment is one provider's contribution of context for one indicator.
// (IndicatorID, Type, Provider) is unique; a refresh overwrites in place.
type Enrichment struct {
	ID          string          `json:"id"`
	IndicatorID string          `json:"indicator_id"`
	Type        EnrichmentType  `json:"enrichment_type"`
	Provider    string          `json:"provider"`
	Data        json.RawMessage `json:"data"`
	FetchedAt   time.Time       `json:"fetched_at"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

// IsStale reports whether the record has outlived its TTL. A record without
// ExpiresAt never goes stale.
func (x *Enrichment) IsStale(now time.Time) bool {
	return x.ExpiresAt != nil && !now.Before(*x.ExpiresAt)
}

type GeoIPData struct {
	CountryCode string  `json:"country_code,omitempty"`
	CountryName string  `json:"country_name,omitempty"`
	City        string  `json:"city,omitempty"`
	Region      string  `json:"region,omitempty"`
	Latitude    float64 `json:"latitude,omitempty"`
	Longitude   float64 `json:"longitude,omitempty"`
	ASN         uint    `json:"asn,omitempty"`
	ASOrg       string  `json:"as_org,omitempty"`
}

type DNSData struct {
	ARecords    []string `json:"a_records,omitempty"`
	AAAARecords []string `json:"aaaa_records,omitempty"`
	MXRecords   []string `json:"mx_records,omitempty"`
	TXTRecords  []string `json:"txt_records,omitempty"`
	NSRecords   []string `json:"ns_records,omitempty"`
	PTRRecords  []string `json:"ptr_records,omitempty"`
}

// WhoisData carries the parsed registration fields plus the raw registry
// response. IP registry answers do not parse as domain records, so Raw is the
// only field those lookups fill.
type WhoisData struct {
	Raw            string     `json:"raw,omitempty"`
	Registrar      string     `json:"registrar,omitempty"`
	Registrant     string     `json:"registrant,omitempty"`
	RegistrantOrg  string     `json:"registrant_org,omitempty"`
	CreatedDate    *time.Time `json:"created_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty"`
	UpdatedDate    *time.Time `json:"updated_date,omitempty"`
	NameServers    []string   `json:"name_servers,omitempty"`
	Status         []string   `json:"status,omitempty"`
}

type ReputationData struct {
	Score        int      `json:"score"`
	TotalReports int      `json:"total_reports,omitempty"`
	Malicious    int      `json:"malicious,omitempty"`
	Suspicious   int      `json:"suspicious,omitempty"`
	Harmless     int      `json:"harmless,omitempty"`
	CountryCode  string   `json:"country_code,omitempty"`
	ISP          string   `json:"isp,omitempty"`
	Categories   []string `json:"categories,omitempty"`
}
