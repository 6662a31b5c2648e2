package provider

import (
	"context"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

// GeoIP looks up IP addresses in local MaxMind databases. Either reader may
// be absent; the provider returns what the available databases know.
type GeoIP struct {
	city *geoip2.Reader
	asn  *geoip2.Reader
}

func NewGeoIP(cityDBPath, asnDBPath string) (*GeoIP, error) {
	x := &GeoIP{}

	if cityDBPath != "" {
		reader, err := geoip2.Open(cityDBPath)
		if err != nil {
			return nil, errors.Wrap(err, "open GeoIP city database").With("path", cityDBPath)
		}
		x.city = reader
	}
	if asnDBPath != "" {
		reader, err := geoip2.Open(asnDBPath)
		if err != nil {
			return nil, errors.Wrap(err, "open GeoIP ASN database").With("path", asnDBPath)
		}
		x.asn = reader
	}

	return x, nil
}

func (x *GeoIP) Close() error {
	if x.city != nil {
		if err := x.city.Close(); err != nil {
			return err
		}
	}
	if x.asn != nil {
		return x.asn.Close()
	}
	return nil
}

func (x *GeoIP) Name() string                         { return "maxmind" }
func (x *GeoIP) EnrichmentType() iocdb.EnrichmentType { return iocdb.EnrichGeoIP }
func (x *GeoIP) TTL() time.Duration                   { return 168 * time.Hour }

func (x *GeoIP) AppliesTo(iocType iocdb.IOCType) bool {
	return iocType == iocdb.TypeIPAddr
}

func (x *GeoIP) Fetch(_ context.Context, value string, _ iocdb.IOCType) (interface{}, error) {
	ip := net.ParseIP(value)
	if ip == nil {
		return nil, errors.New("not an IP address").
			Kind(errors.KindProvider).With("value", value)
	}

	var data iocdb.GeoIPData

	if x.city != nil {
		record, err := x.city.City(ip)
		if err != nil {
			return nil, errors.Wrap(err, "GeoIP city lookup").
				Kind(errors.KindProvider).With("ip", value)
		}
		data.CountryCode = record.Country.IsoCode
		data.CountryName = record.Country.Names["en"]
		data.City = record.City.Names["en"]
		if len(record.Subdivisions) > 0 {
			data.Region = record.Subdivisions[0].Names["en"]
		}
		data.Latitude = record.Location.Latitude
		data.Longitude = record.Location.Longitude
	}

	if x.asn != nil {
		record, err := x.asn.ASN(ip)
		if err != nil {
			return nil, errors.Wrap(err, "GeoIP ASN lookup").
				Kind(errors.KindProvider).With("ip", value)
		}
		data.ASN = record.AutonomousSystemNumber
		data.ASOrg = record.AutonomousSystemOrganization
	}

	return &data, nil
}
