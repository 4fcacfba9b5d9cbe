package geolocation

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// GeoIPProvider looks addresses up in a local GeoLite2/GeoIP2 City database.
type GeoIPProvider struct {
	reader   *geoip2.Reader
	language string
}

func OpenGeoIP(path string) (*GeoIPProvider, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %q: %w", path, err)
	}
	return &GeoIPProvider{reader: reader, language: "en"}, nil
}

func (p *GeoIPProvider) Lookup(_ context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, fmt.Errorf("%w: %q", ErrInvalidAddress, ip)
	}

	record, err := p.reader.City(parsed)
	if err != nil {
		return Location{}, err
	}

	var loc Location
	if name := record.Country.Names[p.language]; name != "" {
		loc.Country = &name
	}
	if name := record.City.Names[p.language]; name != "" {
		loc.City = &name
	}
	return loc, nil
}

func (p *GeoIPProvider) Close() error {
	return p.reader.Close()
}
