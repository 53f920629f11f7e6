package spatial

import (
	"context"

	"geo-sparql-go/geo"
)

// baselineJoin is the O(n*m) reference algorithm: a full cross product
// filtered on the exact great circle distance.
type baselineJoin struct{}

func (baselineJoin) join(ctx context.Context, in *execInput) ([]joinPair, []int64, error) {
	var pairs []joinPair
	var dists []int64
	for rowLeft := range in.leftPoints {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		for rowRight := range in.rightPoints {
			dist := geo.DistanceMeters(in.leftPoints[rowLeft], in.rightPoints[rowRight])
			if dist <= in.maxDist {
				pairs = append(pairs, joinPair{leftRow: rowLeft, rightRow: rowRight})
				dists = append(dists, dist)
			}
		}
	}
	return pairs, dists, nil
}
