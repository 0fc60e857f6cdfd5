package internal

import (
	"math"
	"math/rand"
	"sync"

	"github.com/kyroy/kdtree"
	"gonum.org/v1/gonum/stat/distuv"
)

// Sigmas3 bundles the three per-axis sigmas used for particle
// initialization and prediction noise.
type Sigmas3 struct {
	X, Y, Yaw float64
}

// ParticleFilter maintains a weighted sample of planar (x, y, yaw)
// hypotheses. All particle reads/writes hold particlesMu; this mutex
// never spans a call into PoseEstimator's pose mutex or LocalMap's mutex.
type ParticleFilter struct {
	particlesMu sync.Mutex

	particles []Particle
	rng       *rand.Rand

	initSigmas    Sigmas3
	predictSigmas Sigmas3

	weightsUpdated bool
}

// NewParticleFilter constructs an unconfigured filter. seed fixes the RNG
// stream so Initialize is reproducible; pass a value derived from real
// entropy in production and a fixed constant in tests.
func NewParticleFilter(seed uint64) *ParticleFilter {
	return &ParticleFilter{
		rng: rand.New(rand.NewSource(int64(seed))),
	}
}

// Configure resizes and default-constructs the particle population.
func (f *ParticleFilter) Configure(numParticles int, initSigmas, predictSigmas Sigmas3) error {
	if numParticles <= 0 {
		return newConfigError("numParticles", numParticles, "must be > 0")
	}

	f.particlesMu.Lock()
	defer f.particlesMu.Unlock()
	f.initSigmas = initSigmas
	f.predictSigmas = predictSigmas
	f.particles = make([]Particle, numParticles)
	f.weightsUpdated = false
	return nil
}

// sampleGaussian draws one sample from N(mean, sigma^2). sigma == 0 returns
// mean exactly (distuv.Normal treats Sigma 0 as degenerate in the same
// way).
func (f *ParticleFilter) sampleGaussian(mean, sigma float64) float64 {
	if sigma <= 0 {
		return mean
	}
	n := distuv.Normal{Mu: mean, Sigma: sigma, Src: f.rng}
	return n.Rand()
}

// Initialize draws every particle from independent Gaussians around
// (x0, y0, yaw0) with the configured initial sigmas.
func (f *ParticleFilter) Initialize(x0, y0, yaw0 float64) {
	f.particlesMu.Lock()
	defer f.particlesMu.Unlock()

	for i := range f.particles {
		f.particles[i] = Particle{
			X:      f.sampleGaussian(x0, f.initSigmas.X),
			Y:      f.sampleGaussian(y0, f.initSigmas.Y),
			Yaw:    WrapYaw(f.sampleGaussian(yaw0, f.initSigmas.Yaw)),
			Weight: 0,
		}
	}
}

// Predict adds (deltaX, deltaY, deltaYaw) to every particle. Process noise
// with the configured predictSigmas is injected only on the first Predict
// call following an Update, so that purely-motion predictions do not
// repeatedly inflate variance. noiseScale multiplies the configured
// sigmas for this call only, letting PoseEstimator apply dt-aware scaling
// without this package needing to know about wall-clock time.
func (f *ParticleFilter) Predict(deltaX, deltaY, deltaYaw float64, noiseScale float64) {
	f.particlesMu.Lock()
	defer f.particlesMu.Unlock()

	var sigmaX, sigmaY, sigmaYaw float64
	if f.weightsUpdated {
		f.weightsUpdated = false
		sigmaX = f.predictSigmas.X * noiseScale
		sigmaY = f.predictSigmas.Y * noiseScale
		sigmaYaw = f.predictSigmas.Yaw * noiseScale
	}

	for i := range f.particles {
		p := &f.particles[i]
		p.X = f.sampleGaussian(p.X+deltaX, sigmaX)
		p.Y = f.sampleGaussian(p.Y+deltaY, sigmaY)
		p.Yaw = WrapYaw(f.sampleGaussian(WrapYaw(p.Yaw+deltaYaw), sigmaYaw))
	}
}

// kdCloudPoint adapts a CloudPoint to kdtree.Point for the cloudFitness
// nearest-neighbour search below.
type kdCloudPoint struct {
	CloudPoint
}

func (p kdCloudPoint) Dimensions() int { return 3 }

func (p kdCloudPoint) Dimension(i int) float64 {
	switch i {
	case 0:
		return p.X
	case 1:
		return p.Y
	default:
		return p.Z
	}
}

func (p kdCloudPoint) Distance(q kdtree.Point) float64 {
	o := q.(kdCloudPoint)
	dx, dy, dz := p.X-o.X, p.Y-o.Y, p.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

func toKDPoints(c Cloud) []kdtree.Point {
	out := make([]kdtree.Point, len(c))
	for i, p := range c {
		out[i] = kdCloudPoint{p}
	}
	return out
}

// cloudFitness scores how well b overlays a: for every point of a, the
// squared distance to its nearest neighbour in b, averaged (lower is
// better alignment; 0 is identical overlap). An empty b returns +Inf
// (worst possible score).
func cloudFitness(a, b Cloud) float64 {
	if len(b) == 0 || len(a) == 0 {
		return math.Inf(1)
	}

	tree := kdtree.New(toKDPoints(b))
	var sum float64
	for _, p := range a {
		nearest := tree.KNN(kdCloudPoint{p}, 1)
		if len(nearest) == 0 {
			return math.Inf(1)
		}
		q := nearest[0].(kdCloudPoint)
		dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
		sum += dx*dx + dy*dy + dz*dz
	}
	return sum / float64(len(a))
}

// deltaPoseFromParticle returns the rigid transform that moves mapCloud
// (expressed relative to lastPose) to the particle's planar hypothesis,
// preserving z, roll and pitch from lastPose.
func deltaPoseFromParticle(particle Particle, lastPose Pose) Pose {
	return Pose{
		Position: Vec3{
			X: particle.X - lastPose.Position.X,
			Y: particle.Y - lastPose.Position.Y,
			Z: 0,
		},
		Yaw: WrapYaw(particle.Yaw - lastPose.Yaw),
	}
}

// Update scores every particle against rawCloud by transforming mapCloud
// to each particle's hypothesis and measuring cloud fitness, then sets
// weight = 1/max(score, smallest positive float), itself floored at the
// smallest positive float so an empty rawCloud (infinite score) still
// yields a positive, resamplable weight rather than zero. A no-op if
// mapCloud is empty. Sets weightsUpdated once scoring completes.
func (f *ParticleFilter) Update(lastPose Pose, rawCloud, mapCloud Cloud) {
	if len(mapCloud) == 0 {
		return
	}

	f.particlesMu.Lock()
	particlesCopy := make([]Particle, len(f.particles))
	copy(particlesCopy, f.particles)
	f.particlesMu.Unlock()

	for i := range particlesCopy {
		delta := deltaPoseFromParticle(particlesCopy[i], lastPose)
		transformed := Transform(mapCloud, delta)
		score := cloudFitness(rawCloud, transformed)
		if score <= 0 {
			score = math.SmallestNonzeroFloat64
		}
		weight := 1 / score
		if weight <= 0 {
			weight = math.SmallestNonzeroFloat64
		}
		particlesCopy[i].Weight = weight
	}

	f.particlesMu.Lock()
	for i := range f.particles {
		f.particles[i].Weight = particlesCopy[i].Weight
	}
	f.weightsUpdated = true
	f.particlesMu.Unlock()
}

// Resample draws numParticles new particles with replacement, proportional
// to current weight, and replaces the population.
func (f *ParticleFilter) Resample() {
	f.particlesMu.Lock()
	defer f.particlesMu.Unlock()

	n := len(f.particles)
	if n == 0 {
		return
	}

	cumulative := make([]float64, n)
	total := 0.0
	for i, p := range f.particles {
		total += p.Weight
		cumulative[i] = total
	}
	if total <= 0 {
		return
	}

	next := make([]Particle, n)
	for i := 0; i < n; i++ {
		target := f.rng.Float64() * total
		idx := searchCumulative(cumulative, target)
		next[i] = f.particles[idx]
	}
	f.particles = next
}

// searchCumulative returns the smallest index i such that cumulative[i] >=
// target, equivalent to std::discrete_distribution's draw.
func searchCumulative(cumulative []float64, target float64) int {
	lo, hi := 0, len(cumulative)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if cumulative[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Estimate returns the (x, y, yaw) of the single highest-weight particle,
// breaking ties by lowest index. Weighted-mean is deliberately not
// implemented here: yaw is circular and the posterior may be multi-modal
// at symmetry points, so argmax selects the locally consistent hypothesis
// — do not "improve" this to a weighted mean.
func (f *ParticleFilter) Estimate() (x, y, yaw float64) {
	f.particlesMu.Lock()
	defer f.particlesMu.Unlock()
	best := f.bestParticleLocked()
	return best.X, best.Y, best.Yaw
}

func (f *ParticleFilter) bestParticleLocked() Particle {
	best := f.particles[0]
	for _, p := range f.particles[1:] {
		if p.Weight > best.Weight {
			best = p
		}
	}
	return best
}

// YawSpread returns the population variance of the particles' yaw values,
// used by PoseEstimator.FuseImuOrientation as the prior spread in the 1-D
// Gaussian fusion of particle-filter yaw against IMU yaw.
func (f *ParticleFilter) YawSpread() float64 {
	f.particlesMu.Lock()
	defer f.particlesMu.Unlock()

	n := len(f.particles)
	if n == 0 {
		return 0
	}
	var mean float64
	for _, p := range f.particles {
		mean += p.Yaw
	}
	mean /= float64(n)

	var variance float64
	for _, p := range f.particles {
		d := p.Yaw - mean
		variance += d * d
	}
	return variance / float64(n)
}

// Count returns the current particle population size.
func (f *ParticleFilter) Count() int {
	f.particlesMu.Lock()
	defer f.particlesMu.Unlock()
	return len(f.particles)
}

// ParticlesArray returns a (numParticles x 4) table of (x, y, yaw, weight).
func (f *ParticleFilter) ParticlesArray() [][4]float64 {
	f.particlesMu.Lock()
	defer f.particlesMu.Unlock()

	out := make([][4]float64, len(f.particles))
	for i, p := range f.particles {
		out[i] = [4]float64{p.X, p.Y, p.Yaw, p.Weight}
	}
	return out
}
