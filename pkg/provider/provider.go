// Package provider holds enrichment provider adapters. Each adapter exposes
// the same capability surface: applicability by IOC type, a bounded fetch and
// a declared TTL for caching its results.
package provider

import (
	"context"
	"time"

	"github.com/m-mizutani/iocdb"
)

type Provider interface {
	Name() string
	EnrichmentType() iocdb.EnrichmentType
	AppliesTo(iocType iocdb.IOCType) bool
	// Fetch returns a JSON-serializable payload. Failures are provider
	// errors; they never abort sibling providers in a run.
	Fetch(ctx context.Context, value string, iocType iocdb.IOCType) (interface{}, error)
	TTL() time.Duration
}
