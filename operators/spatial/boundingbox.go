package spatial

import (
	"context"

	"github.com/dhconnelly/rtreego"

	"geo-sparql-go/geo"
)

// r-tree tuning: two dimensions (lon/lat), quadratic split with a node
// capacity of 16
const (
	rtreeDims      = 2
	rtreeMinBranch = 8
	rtreeMaxBranch = 16
)

// entries are points, but the r-tree indexes rectangles; pointExtent gives
// each entry a tiny but positive extent
const pointExtent = 1e-10

// boundingBoxJoin builds an r-tree on the smaller input and probes it with a
// spherical bounding region around every point of the other input. The region
// is a proven superset of the true geodesic neighborhood, so every candidate
// is re-verified with the exact distance before it is emitted.
type boundingBoxJoin struct{}

type rtreeEntry struct {
	bounds *rtreego.Rect
	row    int
}

func (e *rtreeEntry) Bounds() *rtreego.Rect { return e.bounds }

func queryRect(b geo.Rect) (*rtreego.Rect, error) {
	width := b.MaxLon - b.MinLon
	height := b.MaxLat - b.MinLat
	if width < pointExtent {
		width = pointExtent
	}
	if height < pointExtent {
		height = pointExtent
	}
	return rtreego.NewRect(rtreego.Point{b.MinLon, b.MinLat}, []float64{width, height})
}

func (boundingBoxJoin) join(ctx context.Context, in *execInput) ([]joinPair, []int64, error) {
	// index the smaller side, probe with the other one
	smallerPoints := in.leftPoints
	otherPoints := in.rightPoints
	leftSmaller := true
	if len(in.leftPoints) > len(in.rightPoints) {
		smallerPoints = in.rightPoints
		otherPoints = in.leftPoints
		leftSmaller = false
	}

	rt := rtreego.NewTree(rtreeDims, rtreeMinBranch, rtreeMaxBranch)
	for i, p := range smallerPoints {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rt.Insert(&rtreeEntry{
			bounds: rtreego.Point{p.Lon, p.Lat}.ToRect(pointExtent),
			row:    i,
		})
	}

	var pairs []joinPair
	var dists []int64
	for j, p := range otherPoints {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		boxes := geo.BoundingBoxes(p, in.maxDist)
		var candidates []int
		var seen map[int]struct{}
		if len(boxes) > 1 {
			// the rectangles of a wrapped region share no interior, but a
			// candidate sitting exactly on the antimeridian could show up in
			// both queries; each (l, r) pair may be emitted at most once
			seen = make(map[int]struct{})
		}
		for _, b := range boxes {
			qr, err := queryRect(b)
			if err != nil {
				return nil, nil, err
			}
			for _, hit := range rt.SearchIntersect(qr) {
				row := hit.(*rtreeEntry).row
				if seen != nil {
					if _, dup := seen[row]; dup {
						continue
					}
					seen[row] = struct{}{}
				}
				candidates = append(candidates, row)
			}
		}
		for _, i := range candidates {
			rowLeft, rowRight := i, j
			if !leftSmaller {
				rowLeft, rowRight = j, i
			}
			dist := geo.DistanceMeters(in.leftPoints[rowLeft], in.rightPoints[rowRight])
			if dist <= in.maxDist {
				pairs = append(pairs, joinPair{leftRow: rowLeft, rightRow: rowRight})
				dists = append(dists, dist)
			}
		}
	}
	return pairs, dists, nil
}
