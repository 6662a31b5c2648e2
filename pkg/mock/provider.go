package mock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/iocdb"
)

// Provider is a configurable enrichment provider double.
type Provider struct {
	ProviderName string
	Type         iocdb.EnrichmentType
	Applicable   []iocdb.IOCType
	Payload      interface{}
	Err          error
	Delay        time.Duration
	ResultTTL    time.Duration

	calls int64
}

func (x *Provider) Name() string                         { return x.ProviderName }
func (x *Provider) EnrichmentType() iocdb.EnrichmentType { return x.Type }
func (x *Provider) TTL() time.Duration                   { return x.ResultTTL }

func (x *Provider) AppliesTo(iocType iocdb.IOCType) bool {
	for _, t := range x.Applicable {
		if t == iocType {
			return true
		}
	}
	return false
}

func (x *Provider) Fetch(ctx context.Context, _ string, _ iocdb.IOCType) (interface{}, error) {
	atomic.AddInt64(&x.calls, 1)

	if x.Delay > 0 {
		select {
		case <-time.After(x.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if x.Err != nil {
		return nil, x.Err
	}
	return x.Payload, nil
}

func (x *Provider) Calls() int64 {
	return atomic.LoadInt64(&x.calls)
}
