package iocdb

import "time"

type SourceKind string

const (
	SourceInternal SourceKind = "internal"
	SourceFeed     SourceKind = "feed"
	SourceManual   SourceKind = "manual"
)

// IOCSource is a feed or manual-entry origin. Sources are reference data and
// are never hard-deleted; indicators keep their IDs historically, so a
// retired source is disabled instead.
type IOCSource struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Kind             SourceKind `json:"kind"`
	URL              string     `json:"url,omitempty"`
	RequiresAPIKey   bool       `json:"api_key_required"`
	ReliabilityScore int        `json:"reliability_score"`
	Enabled          bool       `json:"enabled"`
	LastFetch        *time.Time `json:"last_fetch,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
