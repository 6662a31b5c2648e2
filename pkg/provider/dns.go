package provider

import (
	"context"
	"net"
	"time"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

// DNS resolves record sets for domains and PTR records for IPs. Individual
// record lookups are best-effort: a missing record type is not a failure,
// only a resolver that can answer nothing at all is.
type DNS struct {
	resolver *net.Resolver
}

func NewDNS() *DNS {
	return &DNS{resolver: net.DefaultResolver}
}

func (x *DNS) Name() string                         { return "dns" }
func (x *DNS) EnrichmentType() iocdb.EnrichmentType { return iocdb.EnrichDNS }
func (x *DNS) TTL() time.Duration                   { return 24 * time.Hour }

func (x *DNS) AppliesTo(iocType iocdb.IOCType) bool {
	return iocType == iocdb.TypeDomain || iocType == iocdb.TypeIPAddr
}

func (x *DNS) Fetch(ctx context.Context, value string, iocType iocdb.IOCType) (interface{}, error) {
	if iocType == iocdb.TypeIPAddr {
		names, err := x.resolver.LookupAddr(ctx, value)
		if err != nil {
			if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
				return &iocdb.DNSData{}, nil
			}
			return nil, errors.Wrap(err, "reverse DNS lookup").
				Kind(errors.KindProvider).With("ip", value)
		}
		return &iocdb.DNSData{PTRRecords: names}, nil
	}

	var data iocdb.DNSData

	if addrs, err := x.resolver.LookupIPAddr(ctx, value); err == nil {
		for _, addr := range addrs {
			if v4 := addr.IP.To4(); v4 != nil {
				data.ARecords = append(data.ARecords, v4.String())
			} else {
				data.AAAARecords = append(data.AAAARecords, addr.IP.String())
			}
		}
	} else if ctx.Err() != nil {
		return nil, errors.Wrap(ctx.Err(), "DNS lookup canceled").
			Kind(errors.KindProvider).With("domain", value)
	}

	if mxs, err := x.resolver.LookupMX(ctx, value); err == nil {
		for _, mx := range mxs {
			data.MXRecords = append(data.MXRecords, mx.Host)
		}
	}
	if txts, err := x.resolver.LookupTXT(ctx, value); err == nil {
		data.TXTRecords = txts
	}
	if nss, err := x.resolver.LookupNS(ctx, value); err == nil {
		for _, ns := range nss {
			data.NSRecords = append(data.NSRecords, ns.Host)
		}
	}

	return &data, nil
}
