// Package geo implements the spherical geometry needed by the spatial join:
// WKT point extraction, great circle distances and bounding regions around a
// point on the WGS84 sphere approximation.
package geo

import (
	"strings"

	"github.com/golang/geo/s2"
	"github.com/pkg/errors"
	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// deliberate approximations of WGS84, keep these in sync with the distances
// the tests expect
const (
	EarthRadiusMeters   = 6378000.0
	CircumferenceMeters = 40075000.0
)

// Point is a geographic position in degrees, cartesian WGS84 lon/lat.
type Point struct {
	Lon float64
	Lat float64
}

// BetweenQuotes returns everything between the first two double quotes. If the
// string does not contain two quotes, the string is returned as a whole.
// RDF literals carry their lexical form quoted, possibly followed by a
// datatype suffix that must not reach the WKT parser.
func BetweenQuotes(extractFrom string) string {
	pos1 := strings.Index(extractFrom, "\"")
	if pos1 < 0 {
		return extractFrom
	}
	pos2 := strings.Index(extractFrom[pos1+1:], "\"")
	if pos2 < 0 {
		return extractFrom
	}
	return extractFrom[pos1+1 : pos1+1+pos2]
}

// ParsePoint parses a WKT literal of the form "POINT(lon lat)".
func ParsePoint(wktLiteral string) (Point, error) {
	g, err := wkt.Unmarshal(strings.TrimSpace(BetweenQuotes(wktLiteral)))
	if err != nil {
		return Point{}, errors.Wrapf(err, "cannot parse %q as a WKT point", wktLiteral)
	}
	pt, ok := g.(*geom.Point)
	if !ok {
		return Point{}, errors.Errorf("%q is not a WKT point but a %T", wktLiteral, g)
	}
	return Point{Lon: pt.X(), Lat: pt.Y()}, nil
}

// Distance returns the great circle distance between two points in kilometers.
func Distance(p1, p2 Point) float64 {
	ll1 := s2.LatLngFromDegrees(p1.Lat, p1.Lon)
	ll2 := s2.LatLngFromDegrees(p2.Lat, p2.Lon)
	return ll1.Distance(ll2).Radians() * EarthRadiusMeters / 1000
}

// DistanceMeters returns the great circle distance between two points in whole
// meters. Truncation, not rounding: downstream results must be deterministic.
func DistanceMeters(p1, p2 Point) int64 {
	return int64(Distance(p1, p2) * 1000)
}
