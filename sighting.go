package iocdb

import (
	"encoding/json"
	"time"
)

// Sighting is an immutable observation of an existing indicator. Repeated
// sightings from the same source are all retained; this is an audit trail,
// not a deduplicated set.
type Sighting struct {
	ID          string          `json:"id"`
	IndicatorID string          `json:"indicator_id"`
	Source      string          `json:"source"`
	Context     json.RawMessage `json:"context,omitempty"`
	ObservedAt  time.Time       `json:"observed_at"`
	CreatedAt   time.Time       `json:"created_at"`
}
