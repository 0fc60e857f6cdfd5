package internal

import (
	"fmt"
	"math"
	"sort"
)

// matchCandidate is one sampled point of the PoseCorrector's translation
// grid search, before the best one is chosen as the accepted correction.
type matchCandidate struct {
	dx, dy float64
	score  float64 // dissimilarity; lower is better
}

// uncertaintyCircle is a 2-D disc around a match candidate, radius
// equal to its dissimilarity score — a confident
// (low-score) candidate gets a small, tight circle; a weak one gets a
// wide, loose circle, the same representation used for sensor-position
// uncertainty, adapted here to match-candidate alignment uncertainty.
type uncertaintyCircle struct {
	x, y, radius float64
}

func (c uncertaintyCircle) intersects(o uncertaintyCircle) bool {
	dx, dy := c.x-o.x, c.y-o.y
	d := math.Hypot(dx, dy)
	return d <= c.radius+o.radius
}

// candidateCircles converts the top-N lowest-score candidates (N capped by
// len(candidates)) into uncertainty circles. A score at or below zero is
// floored at 1e-9 so a perfect (score == 0) match still gets a positive
// radius.
func candidateCircles(candidates []matchCandidate, n int) []uncertaintyCircle {
	sorted := make([]matchCandidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].score < sorted[j].score })

	if n > len(sorted) {
		n = len(sorted)
	}

	circles := make([]uncertaintyCircle, n)
	for i := 0; i < n; i++ {
		score := sorted[i].score
		if score <= 0 {
			score = 1e-9
		}
		circles[i] = uncertaintyCircle{x: sorted[i].dx, y: sorted[i].dy, radius: score}
	}
	return circles
}

// vec2 is a bare 2-D point, used only by the circle-fusion algorithm
// below.
type vec2 struct{ x, y float64 }

func dist2D(a, b vec2) float64 { return math.Hypot(a.x-b.x, a.y-b.y) }

// intersectTwoCircles finds the intersection points of two circles.
func intersectTwoCircles(c1 vec2, r1 float64, c2 vec2, r2 float64) (int, vec2, vec2) {
	const epsilon = 1e-9
	d := dist2D(c1, c2)

	if d > r1+r2+epsilon || d < math.Abs(r1-r2)-epsilon || (d < epsilon && math.Abs(r1-r2) > epsilon) {
		return 0, vec2{}, vec2{}
	}

	a := (r1*r1 - r2*r2 + d*d) / (2 * d)
	h := math.Sqrt(math.Max(0, r1*r1-a*a))

	midX := c1.x + a*(c2.x-c1.x)/d
	midY := c1.y + a*(c2.y-c1.y)/d

	p1 := vec2{x: midX + h*(c2.y-c1.y)/d, y: midY - h*(c2.x-c1.x)/d}
	p2 := vec2{x: midX - h*(c2.y-c1.y)/d, y: midY + h*(c2.x-c1.x)/d}

	if h < epsilon {
		return 1, p1, vec2{}
	}
	return 2, p1, p2
}

func isInsideAll(p vec2, centers []vec2, radii []float64) bool {
	const epsilon = 1e-9
	for i, c := range centers {
		if dist2D(p, c) > radii[i]+epsilon {
			return false
		}
	}
	return true
}

// allCirclesIntersectAtPoint returns (true, point) if some point lies
// within every one of the given circles.
func allCirclesIntersectAtPoint(centers []vec2, radii []float64) (bool, vec2) {
	n := len(centers)
	if n == 0 {
		return false, vec2{}
	}
	if n == 1 {
		return true, centers[0]
	}

	var candidates []vec2
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			count, p1, p2 := intersectTwoCircles(centers[i], radii[i], centers[j], radii[j])
			if count >= 1 && isInsideAll(p1, centers, radii) {
				candidates = append(candidates, p1)
			}
			if count == 2 && isInsideAll(p2, centers, radii) {
				candidates = append(candidates, p2)
			}
		}
	}

	if len(candidates) > 0 {
		unique := dedupeVec2(candidates)
		if len(unique) == 1 {
			return true, unique[0]
		}
		centroid := centroidOf(unique)
		if isInsideAll(centroid, centers, radii) {
			return true, centroid
		}
		return true, unique[0]
	}

	// No boundary intersections: fall back to the smallest circle whose
	// center already lies inside every other circle.
	var bestIdx = -1
	for i := 0; i < n; i++ {
		if !isInsideAll(centers[i], centers, radii) {
			continue
		}
		if bestIdx == -1 || radii[i] < radii[bestIdx] {
			bestIdx = i
		}
	}
	if bestIdx != -1 {
		return true, centers[bestIdx]
	}

	centroid := centroidOf(centers)
	if isInsideAll(centroid, centers, radii) {
		return true, centroid
	}
	return false, vec2{}
}

func dedupeVec2(points []vec2) []vec2 {
	seen := make(map[string]bool, len(points))
	var out []vec2
	for _, p := range points {
		key := fmt.Sprintf("%.9f,%.9f", p.x, p.y)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

func centroidOf(points []vec2) vec2 {
	var c vec2
	for _, p := range points {
		c.x += p.x
		c.y += p.y
	}
	n := float64(len(points))
	return vec2{x: c.x / n, y: c.y / n}
}

// fuseCandidateCircles bisects over [1, 10] (to a 1e-4 tolerance) for the
// smallest expansion factor alpha such that every uncertainty circle,
// expanded by alpha, shares a common point, and returns that point together
// with alpha as the resulting confidence radius, generalized from "fuse
// multiple sensor position estimates" to "fuse multiple match-grid
// candidates into a confidence estimate". A single circle returns its own
// radius and center instead of a factor. If no factor up to 10 yields a
// common point, it returns 10 and the zero point.
func fuseCandidateCircles(circles []uncertaintyCircle) (alpha float64, center vec2) {
	if len(circles) == 0 {
		return 0, vec2{}
	}
	if len(circles) == 1 {
		return circles[0].radius, vec2{x: circles[0].x, y: circles[0].y}
	}

	centers := make([]vec2, len(circles))
	radii := make([]float64, len(circles))
	for i, c := range circles {
		centers[i] = vec2{x: c.x, y: c.y}
		radii[i] = c.radius
	}

	lo, hi := 1.0, 10.0
	var fused vec2
	for hi-lo > 1e-4 {
		mid := 0.5 * (lo + hi)
		expanded := make([]float64, len(radii))
		for i := range radii {
			expanded[i] = mid * radii[i]
		}
		ok, p := allCirclesIntersectAtPoint(centers, expanded)
		if ok {
			hi = mid
			fused = p
		} else {
			lo = mid
		}
	}
	return hi, fused
}

// matchConfidence summarizes how tightly the top candidates of a match
// grid search agree with one another: a small radius means the search
// landed on a sharp, unambiguous minimum; a large radius means several
// offsets scored comparably and the accepted correction is less certain.
type matchConfidence struct {
	dx, dy, radius float64
}

// computeMatchConfidence is called once MatchMaps has already decided to
// accept a correction — it never influences that accept/reject decision
// or the grid search's tie-break rule, it only annotates the result.
func computeMatchConfidence(candidates []matchCandidate, topN int) matchConfidence {
	circles := candidateCircles(candidates, topN)
	alpha, center := fuseCandidateCircles(circles)
	return matchConfidence{dx: center.x, dy: center.y, radius: alpha}
}
