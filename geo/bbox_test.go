package geo

import (
	"math"
	"testing"
)

// destination returns the point at the given distance and bearing from start,
// on the same sphere the distance function uses.
func destination(start Point, bearingDeg, distMeters float64) Point {
	delta := distMeters / EarthRadiusMeters
	theta := bearingDeg * math.Pi / 180
	lat1 := start.Lat * math.Pi / 180
	lon1 := start.Lon * math.Pi / 180

	lat2 := math.Asin(math.Sin(lat1)*math.Cos(delta) + math.Cos(lat1)*math.Sin(delta)*math.Cos(theta))
	lon2 := lon1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(lat1),
		math.Cos(delta)-math.Sin(lat1)*math.Sin(lat2))

	return Point{Lon: lon2 * 180 / math.Pi, Lat: lat2 * 180 / math.Pi}
}

// every point within the radius has to be covered by at least one box
func TestBoundingBoxesAreASuperset(t *testing.T) {
	centers := []Point{
		{Lon: 0, Lat: 0},
		{Lon: 7.83505, Lat: 48.01267},
		{Lon: -74.04454, Lat: 40.68925},
		{Lon: 179.9, Lat: 0},
		{Lon: -179.9, Lat: 12.3},
		{Lon: 13.0, Lat: 88.5},
		{Lon: -140.0, Lat: -88.5},
		{Lon: 60.0, Lat: -33.3},
	}
	radii := []int64{0, 1, 10, 5000, 500000, 1000000, 10000000}

	for _, center := range centers {
		for _, radius := range radii {
			boxes := BoundingBoxes(center, radius)
			if len(boxes) == 0 || len(boxes) > 2 {
				t.Fatalf("center %+v radius %d produced %d boxes", center, radius, len(boxes))
			}
			if !CoveredBy(boxes, center) {
				t.Errorf("center %+v not covered by its own boxes (radius %d)", center, radius)
			}
			// sample the circle at several bearings and fractions of the radius
			for bearing := 0.0; bearing < 360; bearing += 15 {
				for _, frac := range []float64{0.1, 0.5, 0.9, 1.0} {
					p := destination(center, bearing, float64(radius)*frac)
					if DistanceMeters(center, p) > radius {
						// numerically just outside, not part of the invariant
						continue
					}
					if !CoveredBy(boxes, p) {
						t.Errorf("center %+v radius %d: point %+v at bearing %.0f frac %.1f not covered by %+v",
							center, radius, p, bearing, frac, boxes)
					}
				}
			}
		}
	}
}

func TestBoundingBoxPoleSnapsToFullLongitude(t *testing.T) {
	for _, c := range []Point{
		{Lon: 20.0, Lat: 89.99},
		{Lon: -120.0, Lat: -89.99},
	} {
		boxes := BoundingBoxes(c, 50000)
		if len(boxes) != 1 {
			t.Fatalf("pole region of %+v produced %d boxes", c, len(boxes))
		}
		b := boxes[0]
		if b.MinLon != -180 || b.MaxLon != 180 {
			t.Fatalf("pole region of %+v does not span full longitude: %+v", c, b)
		}
		if b.MaxLat > 90 || b.MinLat < -90 {
			t.Fatalf("pole region of %+v has latitude out of range: %+v", c, b)
		}
	}
}

func TestBoundingBoxAntimeridianSplits(t *testing.T) {
	boxes := BoundingBoxes(Point{Lon: 179.9, Lat: 0}, 50000)
	if len(boxes) != 2 {
		t.Fatalf("antimeridian region produced %d boxes: %+v", len(boxes), boxes)
	}
	for _, b := range boxes {
		if b.MinLon < -180 || b.MaxLon > 180 {
			t.Fatalf("box %+v exceeds the longitude range", b)
		}
	}
	if !CoveredBy(boxes, Point{Lon: -179.95, Lat: 0}) {
		t.Fatal("a point just across the antimeridian is not covered")
	}
	if !CoveredBy(boxes, Point{Lon: 179.95, Lat: 0}) {
		t.Fatal("a point just before the antimeridian is not covered")
	}
	if CoveredBy(boxes, Point{Lon: 170.0, Lat: 0}) {
		t.Fatal("a point far outside the region is covered")
	}

	// symmetric case on the other side
	boxes = BoundingBoxes(Point{Lon: -179.9, Lat: 0}, 50000)
	if len(boxes) != 2 {
		t.Fatalf("westward antimeridian region produced %d boxes", len(boxes))
	}
	if !CoveredBy(boxes, Point{Lon: 179.95, Lat: 0}) {
		t.Fatal("a point just across the antimeridian is not covered")
	}
}

func TestCoveredByNormalizesLongitude(t *testing.T) {
	boxes := BoundingBoxes(Point{Lon: 10, Lat: 10}, 100000)
	inRange := Point{Lon: 10.1, Lat: 10.1}
	wrapped := Point{Lon: 10.1 + 360, Lat: 10.1}
	doubleWrapped := Point{Lon: 10.1 - 720, Lat: 10.1}
	if !CoveredBy(boxes, inRange) {
		t.Fatal("point in range not covered")
	}
	if CoveredBy(boxes, wrapped) != CoveredBy(boxes, inRange) {
		t.Fatal("normalizing +360 changed the answer")
	}
	if CoveredBy(boxes, doubleWrapped) != CoveredBy(boxes, inRange) {
		t.Fatal("normalizing -720 changed the answer")
	}
	// latitude clamping
	if !CoveredBy([]Rect{{MinLon: -180, MinLat: 89, MaxLon: 180, MaxLat: 90}}, Point{Lon: 0, Lat: 95}) {
		t.Fatal("latitude above 90 should clamp into the pole box")
	}
}

func TestBoundingBoxTinyRadiusStillHasExtent(t *testing.T) {
	// radius 0 is inflated to 10m so that integer-rounded distances of 0
	// still match coincident points
	boxes := BoundingBoxes(Point{Lon: 10, Lat: 10}, 0)
	if len(boxes) != 1 {
		t.Fatalf("got %d boxes", len(boxes))
	}
	b := boxes[0]
	if b.MaxLon <= b.MinLon || b.MaxLat <= b.MinLat {
		t.Fatalf("box %+v has no extent", b)
	}
}
