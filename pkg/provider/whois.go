package provider

import (
	"context"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

// Whois queries registration data for domains and IPs. The raw registry
// response is always kept; domain responses are additionally parsed into
// structured fields.
type Whois struct {
	query func(value string) (string, error)
}

func NewWhois(timeout time.Duration) *Whois {
	client := whois.NewClient()
	client.SetTimeout(timeout)
	return &Whois{query: func(value string) (string, error) {
		return client.Whois(value)
	}}
}

func (x *Whois) Name() string                         { return "whois" }
func (x *Whois) EnrichmentType() iocdb.EnrichmentType { return iocdb.EnrichWhois }
func (x *Whois) TTL() time.Duration                   { return 168 * time.Hour }

func (x *Whois) AppliesTo(iocType iocdb.IOCType) bool {
	return iocType == iocdb.TypeDomain || iocType == iocdb.TypeIPAddr
}

func (x *Whois) Fetch(_ context.Context, value string, iocType iocdb.IOCType) (interface{}, error) {
	raw, err := x.query(value)
	if err != nil {
		return nil, errors.Wrap(err, "whois query").
			Kind(errors.KindProvider).With("value", value)
	}

	if iocType == iocdb.TypeIPAddr {
		// registry responses for IPs are not parseable as domain records
		return &iocdb.WhoisData{Raw: raw}, nil
	}

	parsed, err := whoisparser.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse whois response").
			Kind(errors.KindProvider).With("value", value)
	}

	data := &iocdb.WhoisData{Raw: raw}
	if parsed.Registrar != nil {
		data.Registrar = parsed.Registrar.Name
	}
	if parsed.Registrant != nil {
		data.Registrant = parsed.Registrant.Name
		data.RegistrantOrg = parsed.Registrant.Organization
	}
	if parsed.Domain != nil {
		data.NameServers = parsed.Domain.NameServers
		data.Status = parsed.Domain.Status
		data.CreatedDate = parsed.Domain.CreatedDateInTime
		data.ExpirationDate = parsed.Domain.ExpirationDateInTime
		data.UpdatedDate = parsed.Domain.UpdatedDateInTime
	}

	return data, nil
}
