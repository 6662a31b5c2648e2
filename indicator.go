package iocdb

import "time"

type IOCType string

const (
	TypeIPAddr IOCType = "ip"
	TypeDomain IOCType = "domain"
	TypeURL    IOCType = "url"
	TypeHash   IOCType = "hash"
	TypeEmail  IOCType = "email"
	TypeCVE    IOCType = "cve"
)

type Severity string

const (
	SeverityUnknown  Severity = "unknown"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityUnknown:  0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the ordering of severity for merge decisions. Unknown is lowest.
func (x Severity) Rank() int {
	return severityRank[x]
}

func (x Severity) IsValid() bool {
	_, ok := severityRank[x]
	return ok
}

// SeverityFromScore maps a 0-100 threat score to a severity band.
func SeverityFromScore(score int) Severity {
	switch {
	case score < 0 || score > 100:
		return SeverityUnknown
	case score <= 20:
		return SeverityLow
	case score <= 50:
		return SeverityMedium
	case score <= 80:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

type TLP string

const (
	TLPWhite TLP = "white"
	TLPGreen TLP = "green"
	TLPAmber TLP = "amber"
	TLPRed   TLP = "red"
)

// Indicator is the canonical IOC record. (Type, Value) is unique across the
// catalog and Value is always stored in normalized form.
type Indicator struct {
	ID          string     `json:"id"`
	Type        IOCType    `json:"ioc_type"`
	Value       string     `json:"value"`
	Severity    Severity   `json:"severity"`
	Confidence  int        `json:"confidence"`
	ThreatScore int        `json:"threat_score"`
	TLP         TLP        `json:"tlp"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastSeen    time.Time  `json:"last_seen"`
	Expiration  *time.Time `json:"expiration,omitempty"`
	Tags        []string   `json:"tags"`
	SourceIDs   []string   `json:"source_ids"`

	// Revision is bumped on every write and backs optimistic concurrency
	// control in the repository. Not part of the API surface.
	Revision  int64     `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (x *Indicator) Expired(now time.Time) bool {
	return x.Expiration != nil && x.Expiration.Before(now)
}
