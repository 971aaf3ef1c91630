package resolver

import "github.com/bumpti/hydration-cli/internal/geo"

// kdPoint is one indexed coordinate in the spatial index.
type kdPoint struct {
	lon, lat float64
	idx      int
}

// kdNode is a 2-d tree node splitting on lon/lat alternately.
type kdNode struct {
	p    kdPoint
	axis int // 0: lon, 1: lat
	l, r *kdNode
}

// newKDTree builds a balanced tree by median split. The input slice is
// reordered in place.
func newKDTree(pts []kdPoint) *kdNode {
	return buildKD(pts, 0)
}

func buildKD(pts []kdPoint, depth int) *kdNode {
	if len(pts) == 0 {
		return nil
	}
	axis := depth % 2
	mid := len(pts) / 2
	selectNth(pts, mid, axis)
	node := &kdNode{p: pts[mid], axis: axis}
	node.l = buildKD(pts[:mid], depth+1)
	node.r = buildKD(pts[mid+1:], depth+1)
	return node
}

// selectNth partially sorts so pts[n] holds the nth element along axis.
func selectNth(pts []kdPoint, n, axis int) {
	lo, hi := 0, len(pts)-1
	for lo < hi {
		p := partition(pts, lo, hi, (lo+hi)/2, axis)
		switch {
		case p == n:
			return
		case n < p:
			hi = p - 1
		default:
			lo = p + 1
		}
	}
}

func partition(pts []kdPoint, lo, hi, pivot, axis int) int {
	pv := pts[pivot]
	pts[pivot], pts[hi] = pts[hi], pts[pivot]
	i := lo
	for j := lo; j < hi; j++ {
		if axisVal(pts[j], axis) < axisVal(pv, axis) {
			pts[i], pts[j] = pts[j], pts[i]
			i++
		}
	}
	pts[i], pts[hi] = pts[hi], pts[i]
	return i
}

func axisVal(p kdPoint, axis int) float64 {
	if axis == 0 {
		return p.lon
	}
	return p.lat
}

// withinRadius returns the indices of all points within radiusM metres of
// (lon, lat), including the query point itself when indexed.
func (n *kdNode) withinRadius(lon, lat, radiusM float64) []int {
	if n == nil {
		return nil
	}
	var out []int

	// Degree pruning margin: a degree of longitude shrinks with latitude,
	// so widen the slab accordingly.
	latMargin := radiusM / geo.MetersPerDeg
	lonMargin := latMargin / geo.CosLat(lat)

	var dfs func(node *kdNode)
	dfs = func(node *kdNode) {
		if node == nil {
			return
		}
		if geo.HaversineM(lat, lon, node.p.lat, node.p.lon) <= radiusM {
			out = append(out, node.p.idx)
		}

		var key, split, margin float64
		if node.axis == 0 {
			key, split, margin = lon, node.p.lon, lonMargin
		} else {
			key, split, margin = lat, node.p.lat, latMargin
		}

		if key-margin <= split {
			dfs(node.l)
		}
		if key+margin >= split {
			dfs(node.r)
		}
	}
	dfs(n)
	return out
}
