package internal

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// matchConfidenceTopN bounds how many of the grid search's best-scoring
// candidates feed the post-hoc confidence estimate.
const matchConfidenceTopN = 5

// PoseCorrector owns the global map and the scan-to-map (really
// map-to-map) correction pass: gating on traversed distance and local
// terrain relief, a translation+yaw grid search against the global map,
// and a Procrustes sub-pixel refinement of the winning offset.
type PoseCorrector struct {
	mu sync.Mutex

	global *GlobalMap

	haveLastMatch bool
	lastMatchPose Pose

	traversedDistanceThreshold float64

	minSlopeThreshold           float64
	slopeSumThresholdMultiplier float64

	matchAcceptanceThreshold float64
	matchTranslationRange    float64
	matchYawRange            float64
	matchYawStep             float64

	haveConfidence bool
	lastConfidence matchConfidence
}

// NewPoseCorrector constructs an unconfigured corrector; Configure must be
// called before CreateGlobalMap/MatchMaps are useful.
func NewPoseCorrector() *PoseCorrector {
	return &PoseCorrector{}
}

// Configure validates and stores the gating thresholds and the grid search
// parameters.
func (c *PoseCorrector) Configure(
	traversedDistanceThreshold float64,
	minSlopeThreshold, slopeSumThresholdMultiplier float64,
	matchAcceptanceThreshold, matchTranslationRange float64,
	matchYawRange, matchYawStep float64,
) error {
	if traversedDistanceThreshold <= 0 {
		return newConfigError("traversedDistanceThreshold", traversedDistanceThreshold, "must be > 0")
	}
	if minSlopeThreshold < 0 {
		return newConfigError("minSlopeThreshold", minSlopeThreshold, "must be >= 0")
	}
	if slopeSumThresholdMultiplier < 0 || slopeSumThresholdMultiplier > 1 {
		return newConfigError("slopeSumThresholdMultiplier", slopeSumThresholdMultiplier, "must be in [0, 1]")
	}
	if matchAcceptanceThreshold <= 0 {
		return newConfigError("matchAcceptanceThreshold", matchAcceptanceThreshold, "must be > 0")
	}
	if matchTranslationRange <= 0 {
		return newConfigError("matchTranslationRange", matchTranslationRange, "must be > 0")
	}
	if matchYawRange < 0 {
		return newConfigError("matchYawRange", matchYawRange, "must be >= 0")
	}
	if matchYawRange > 0 && matchYawStep <= 0 {
		return newConfigError("matchYawStep", matchYawStep, "must be > 0 when matchYawRange > 0")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.traversedDistanceThreshold = traversedDistanceThreshold
	c.minSlopeThreshold = minSlopeThreshold
	c.slopeSumThresholdMultiplier = slopeSumThresholdMultiplier
	c.matchAcceptanceThreshold = matchAcceptanceThreshold
	c.matchTranslationRange = matchTranslationRange
	c.matchYawRange = matchYawRange
	c.matchYawStep = matchYawStep
	c.haveLastMatch = false
	return nil
}

// CreateGlobalMap (re)builds the global map from a prebuilt cloud. It is
// idempotent: each call discards the previous map.
func (c *PoseCorrector) CreateGlobalMap(cloud Cloud, cloudPose Pose, length, resolution float64) error {
	g, err := NewGlobalMap(cloud, cloudPose, length, resolution)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.global = g
	c.mu.Unlock()
	return nil
}

// MatchConfidence is the read-only diagnostic companion to a MatchMaps
// result: it never influences the accept/reject decision or tie-break rule,
// only annotates an accepted correction with how tightly the grid search's
// best candidates agreed.
type MatchConfidence struct {
	DX, DY, Radius float64
}

// LastMatchConfidence returns the confidence computed by the most recent
// accepted MatchMaps call, or the zero value if none has been accepted yet.
func (c *PoseCorrector) LastMatchConfidence() (MatchConfidence, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveConfidence {
		return MatchConfidence{}, false
	}
	return MatchConfidence{DX: c.lastConfidence.dx, DY: c.lastConfidence.dy, Radius: c.lastConfidence.radius}, true
}

// HasGlobalMap reports whether CreateGlobalMap has succeeded at least once.
func (c *PoseCorrector) HasGlobalMap() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global != nil
}

// GlobalMap returns the current global map, or nil if none has been
// created yet.
func (c *PoseCorrector) GlobalMap() *GlobalMap {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.global
}

// DistanceCriterionFulfilled reports whether the robot has traveled more
// than traversedDistanceThreshold since the last time this gate fired. The
// very first call only records currentPose as the baseline and returns
// false, since zero distance has been traversed against it.
func (c *PoseCorrector) DistanceCriterionFulfilled(currentPose Pose) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.haveLastMatch {
		c.lastMatchPose = currentPose
		c.haveLastMatch = true
		return false
	}
	if PlanarDistance(currentPose, c.lastMatchPose) > c.traversedDistanceThreshold {
		c.lastMatchPose = currentPose
		return true
	}
	return false
}

// FeatureCriterionFulfilled reports whether localMap carries enough terrain
// relief to make map matching meaningful: the fraction of cells whose local
// slope magnitude exceeds minSlopeThreshold must exceed
// slopeSumThresholdMultiplier. A flat or sparsely-fused map fails this
// gate, avoiding spurious matches against featureless ground.
func (c *PoseCorrector) FeatureCriterionFulfilled(localMap *LocalMap) bool {
	mean, valid, params := localMap.Grid()
	size := params.Size
	res := params.Resolution

	c.mu.Lock()
	minSlope := c.minSlopeThreshold
	multiplier := c.slopeSumThresholdMultiplier
	c.mu.Unlock()

	indicators := make([]float64, 0, size*size)
	for row := 0; row < size; row++ {
		for col := 0; col < size; col++ {
			if !valid[row][col] {
				indicators = append(indicators, 0)
				continue
			}
			var dzdx, dzdy float64
			if row+1 < size && valid[row+1][col] {
				dzdx = (mean[row+1][col] - mean[row][col]) / res
			}
			if col+1 < size && valid[row][col+1] {
				dzdy = (mean[row][col+1] - mean[row][col]) / res
			}
			slope := math.Hypot(dzdx, dzdy)
			if slope > minSlope {
				indicators = append(indicators, 1)
			} else {
				indicators = append(indicators, 0)
			}
		}
	}

	return floats.Sum(indicators) > multiplier*float64(size*size)
}

// matchOffset rotates (cx, cy) about currentPose's position by dyaw, then
// translates by (dx, dy) — the candidate placement of a local cell under
// one grid-search hypothesis.
func matchOffset(currentPose Pose, cx, cy, dx, dy, dyaw float64) (x, y float64) {
	cosY, sinY := math.Cos(dyaw), math.Sin(dyaw)
	ox, oy := cx-currentPose.Position.X, cy-currentPose.Position.Y
	x = currentPose.Position.X + cosY*ox - sinY*oy + dx
	y = currentPose.Position.Y + sinY*ox + cosY*oy + dy
	return
}

// scoreOffset is the grid search's dissimilarity metric: mean absolute
// elevation difference over every local cell that overlaps a valid global
// cell under the (dx, dy, dyaw) hypothesis. +Inf and n=0 if nothing
// overlaps.
func scoreOffset(cells []MapCell, global *GlobalMap, currentPose Pose, dx, dy, dyaw float64) (score float64, n int) {
	var sum float64
	for _, cell := range cells {
		x, y := matchOffset(currentPose, cell.X, cell.Y, dx, dy, dyaw)
		gz, ok := global.At(x, y)
		if !ok {
			continue
		}
		sum += math.Abs(cell.MeanZ - gz)
		n++
	}
	if n == 0 {
		return math.Inf(1), 0
	}
	return sum / float64(n), n
}

// MatchMaps runs the gated correction pass: a coarse (dx, dy, dyaw) grid
// search against the global map, a Procrustes sub-pixel refinement of the
// winner, and a confidence estimate over the runner-up candidates. It
// returns the correction delta pose, a diagnostic confidence, and whether
// the match was accepted (score below matchAcceptanceThreshold). Ties in
// the coarse search are broken by whichever offset the deterministic
// iteration order (innermost dy, then dx, then dyaw, each ascending) visits
// first — the strict less-than comparison below never replaces an
// equally-scoring incumbent.
func (c *PoseCorrector) MatchMaps(localMap *LocalMap, currentPose Pose) (Pose, matchConfidence, bool) {
	c.mu.Lock()
	global := c.global
	translationRange := c.matchTranslationRange
	yawRange := c.matchYawRange
	yawStep := c.matchYawStep
	acceptanceThreshold := c.matchAcceptanceThreshold
	c.mu.Unlock()

	if global == nil {
		return Pose{}, matchConfidence{}, false
	}

	cells := localMap.Snapshot()
	if len(cells) == 0 {
		return Pose{}, matchConfidence{}, false
	}

	res := global.Parameters().Resolution
	steps := int(math.Round(translationRange / res))
	if steps < 1 {
		steps = 1
	}
	yawSteps := 0
	if yawStep > 0 {
		yawSteps = int(math.Round(yawRange / yawStep))
	}

	bestScore := math.Inf(1)
	var bestDx, bestDy, bestDyaw float64
	found := false

	for yi := -yawSteps; yi <= yawSteps; yi++ {
		dyaw := float64(yi) * yawStep
		for ix := -steps; ix <= steps; ix++ {
			dx := float64(ix) * res
			for iy := -steps; iy <= steps; iy++ {
				dy := float64(iy) * res
				score, n := scoreOffset(cells, global, currentPose, dx, dy, dyaw)
				if n == 0 {
					continue
				}
				if score < bestScore {
					bestScore = score
					bestDx, bestDy, bestDyaw = dx, dy, dyaw
					found = true
				}
			}
		}
	}

	if !found || bestScore >= acceptanceThreshold {
		return Pose{}, matchConfidence{}, false
	}

	candidates := make([]matchCandidate, 0, (2*steps+1)*(2*steps+1))
	for ix := -steps; ix <= steps; ix++ {
		dx := float64(ix) * res
		for iy := -steps; iy <= steps; iy++ {
			dy := float64(iy) * res
			score, n := scoreOffset(cells, global, currentPose, dx, dy, bestDyaw)
			if n == 0 {
				continue
			}
			candidates = append(candidates, matchCandidate{dx: dx, dy: dy, score: score})
		}
	}
	confidence := computeMatchConfidence(candidates, matchConfidenceTopN)
	c.mu.Lock()
	c.lastConfidence = confidence
	c.haveConfidence = true
	c.mu.Unlock()

	if rdx, rdy, rdyaw, ok := procrustesRefine(cells, global, currentPose, bestDx, bestDy, bestDyaw); ok {
		bestDx = clampRefinement(bestDx, rdx, res/2)
		bestDy = clampRefinement(bestDy, rdy, res/2)
		if yawStep > 0 {
			bestDyaw = clampRefinement(bestDyaw, rdyaw, yawStep/2)
		}
	}

	correction := Pose{Position: Vec3{X: bestDx, Y: bestDy}, Yaw: WrapYaw(bestDyaw)}
	return correction, confidence, true
}

// clampRefinement returns refined if it lies within +/-limit of coarse,
// otherwise coarse unchanged — the refinement pass may only nudge the grid
// search's winner, never relocate it to a different cell.
func clampRefinement(coarse, refined, limit float64) float64 {
	if math.Abs(refined-coarse) > limit {
		return coarse
	}
	return refined
}

// procrustesRefine fits a small 2-D rigid transform (rotation + translation,
// no scaling) mapping the local cells — already placed by the coarse
// (dx, dy, dyaw) offset — onto their corresponding global map cell centers,
// via SVD, generalized from "point cloud to point cloud" registration to
// "offset local cells to global cells". Returns ok=false if fewer than 3
// correspondences were found, since a 2-D rigid fit is underdetermined
// below that.
func procrustesRefine(cells []MapCell, global *GlobalMap, currentPose Pose, dx, dy, dyaw float64) (refinedDx, refinedDy, refinedDyaw float64, ok bool) {
	var src, tgt []vec2
	for _, cell := range cells {
		x, y := matchOffset(currentPose, cell.X, cell.Y, dx, dy, dyaw)
		_, cx, cy, found := global.Nearest(x, y)
		if !found {
			continue
		}
		src = append(src, vec2{x: x, y: y})
		tgt = append(tgt, vec2{x: cx, y: cy})
	}
	if len(src) < 3 {
		return 0, 0, 0, false
	}

	srcCentroid, tgtCentroid := centroidOf(src), centroidOf(tgt)

	var h00, h01, h10, h11 float64
	for i := range src {
		sx, sy := src[i].x-srcCentroid.x, src[i].y-srcCentroid.y
		tx, ty := tgt[i].x-tgtCentroid.x, tgt[i].y-tgtCentroid.y
		h00 += sx * tx
		h01 += sx * ty
		h10 += sy * tx
		h11 += sy * ty
	}

	h := mat.NewDense(2, 2, []float64{h00, h01, h10, h11})
	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return 0, 0, 0, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&v, u.T())
	if mat.Det(&r) < 0 {
		v.Set(0, 1, -v.At(0, 1))
		v.Set(1, 1, -v.At(1, 1))
		r.Mul(&v, u.T())
	}

	deltaYaw := math.Atan2(r.At(1, 0), r.At(0, 0))
	rotatedCentroidX := r.At(0, 0)*srcCentroid.x + r.At(0, 1)*srcCentroid.y
	rotatedCentroidY := r.At(1, 0)*srcCentroid.x + r.At(1, 1)*srcCentroid.y
	deltaX := tgtCentroid.x - rotatedCentroidX
	deltaY := tgtCentroid.y - rotatedCentroidY

	// Express the refinement as an additional delta on top of the coarse
	// (dx, dy, dyaw), not a replacement.
	return dx + deltaX, dy + deltaY, WrapYaw(dyaw + deltaYaw), true
}
