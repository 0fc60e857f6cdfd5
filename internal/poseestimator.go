package internal

import (
	"math"
	"sync"
	"time"
)

// PoseEstimator owns the authoritative 6-DoF pose and bridges the
// odometry/IMU/cloud inputs into the ParticleFilter. All reads/writes of
// the pose hold poseMu; particles are protected separately by the
// filter's own mutex, and the ordering rule is pose-before-particles,
// never the reverse.
type PoseEstimator struct {
	poseMu sync.Mutex
	pose   Pose

	filter            *ParticleFilter
	resampleFrequency int
	resampleCounter   int

	calib ImuCalibration

	imuYawVariance float64

	lastPredict     time.Time
	havePredictTime bool
}

// NewPoseEstimator wraps filter. The filter must already exist (it owns
// its own RNG, seeded independently for test determinism).
func NewPoseEstimator(filter *ParticleFilter) *PoseEstimator {
	return &PoseEstimator{
		filter: filter,
		calib:  NewImuCalibration(),
	}
}

// Configure validates and stores resampleFrequency and the IMU yaw fusion
// variance, and configures the underlying particle filter.
func (e *PoseEstimator) Configure(numParticles, resampleFrequency int, initSigmas, predictSigmas Sigmas3, imuYawVariance float64) error {
	if resampleFrequency <= 0 {
		return newConfigError("resampleFrequency", resampleFrequency, "must be > 0")
	}
	if imuYawVariance <= 0 {
		return newConfigError("imuYawVariance", imuYawVariance, "must be > 0")
	}
	if err := e.filter.Configure(numParticles, initSigmas, predictSigmas); err != nil {
		return err
	}

	e.poseMu.Lock()
	defer e.poseMu.Unlock()
	e.resampleFrequency = resampleFrequency
	e.resampleCounter = 0
	e.imuYawVariance = imuYawVariance
	e.pose = IdentityPose()
	e.havePredictTime = false
	return nil
}

// SetImuCalibration overrides the IMU bias calibration applied inside
// FuseImuOrientation; the default is the identity calibration.
func (e *PoseEstimator) SetImuCalibration(c ImuCalibration) {
	e.poseMu.Lock()
	defer e.poseMu.Unlock()
	e.calib = c
}

// Initialize seeds the particle filter around (x0, y0, yaw0) and sets the
// pose to match.
func (e *PoseEstimator) Initialize(x0, y0, yaw0 float64) {
	e.filter.Initialize(x0, y0, yaw0)
	e.poseMu.Lock()
	e.pose.Position.X = x0
	e.pose.Position.Y = y0
	e.pose.Yaw = WrapYaw(yaw0)
	e.poseMu.Unlock()
}

// Pose returns the current pose estimate.
func (e *PoseEstimator) Pose() Pose {
	e.poseMu.Lock()
	defer e.poseMu.Unlock()
	return e.pose
}

// PredictPose decomposes deltaPose into its planar component and a
// residual rotation/z-translation, predicts the particle filter, and
// updates the pose: (x, y, yaw) come from the filter's new estimate; z,
// roll, pitch come from the previous pose composed with the residual.
//
// Process noise is scaled by sqrt(dt) since the previous PredictPose call,
// dt clamped to [0, 1] seconds so a stalled caller cannot inflate variance
// unboundedly; this only changes the *magnitude* of the filter's
// once-per-weight-update-cycle noise injection, never whether it happens.
func (e *PoseEstimator) PredictPose(deltaPose Pose) {
	dx, dy, dyaw, residual := DecomposePlanar(deltaPose)

	noiseScale := e.noiseScale()

	e.filter.Predict(dx, dy, dyaw, noiseScale)
	x, y, yaw := e.filter.Estimate()

	e.poseMu.Lock()
	defer e.poseMu.Unlock()
	composed := e.pose.Compose(residual)
	e.pose = Pose{
		Position: Vec3{X: x, Y: y, Z: composed.Position.Z},
		Roll:     composed.Roll,
		Pitch:    composed.Pitch,
		Yaw:      WrapYaw(yaw),
	}
}

// noiseScale returns sqrt(dt) since the last PredictPose call, clamped to
// [0, 1], and records "now" as the new reference time. The very first call
// scales by 1 (no history to measure dt against).
func (e *PoseEstimator) noiseScale() float64 {
	e.poseMu.Lock()
	defer e.poseMu.Unlock()

	now := time.Now()
	if !e.havePredictTime {
		e.lastPredict = now
		e.havePredictTime = true
		return 1
	}
	dt := now.Sub(e.lastPredict).Seconds()
	e.lastPredict = now
	if dt < 0 {
		dt = 0
	}
	if dt > 1 {
		dt = 1
	}
	return math.Sqrt(dt)
}

// FilterPose runs the particle filter's scan-to-map update and, once every
// resampleFrequency calls, resamples.
func (e *PoseEstimator) FilterPose(rawCloud, mapCloud Cloud) {
	e.filter.Update(e.Pose(), rawCloud, mapCloud)

	e.poseMu.Lock()
	e.resampleCounter++
	shouldResample := e.resampleCounter >= e.resampleFrequency
	if shouldResample {
		e.resampleCounter = 0
	}
	e.poseMu.Unlock()

	if shouldResample {
		e.filter.Resample()
	}

	x, y, yaw := e.filter.Estimate()
	e.poseMu.Lock()
	e.pose.Position.X = x
	e.pose.Position.Y = y
	e.pose.Yaw = WrapYaw(yaw)
	e.poseMu.Unlock()
}

// FuseImuOrientation replaces the pose's roll/pitch with the (calibrated)
// IMU's and fuses yaw as a 1-D Gaussian between the current yaw and the
// IMU's yaw, using the particle filter's current yaw spread as the prior
// variance and the configured imuYawVariance as the measurement variance
// — the same Kalman form as LocalMap.Fuse, applied to a scalar.
func (e *PoseEstimator) FuseImuOrientation(imuPose Pose) {
	calibrated := e.calib.Apply(imuPose)
	prior := e.filter.YawSpread()
	if prior <= 0 {
		prior = e.imuYawVariance
	}

	e.poseMu.Lock()
	defer e.poseMu.Unlock()

	diff := WrapYaw(calibrated.Yaw - e.pose.Yaw)
	gain := prior / (prior + e.imuYawVariance)
	e.pose.Yaw = WrapYaw(e.pose.Yaw + gain*diff)
	e.pose.Roll = calibrated.Roll
	e.pose.Pitch = calibrated.Pitch
}

// ParticlesArray exposes the particle filter's (x, y, yaw, weight) table.
func (e *PoseEstimator) ParticlesArray() [][4]float64 {
	return e.filter.ParticlesArray()
}
