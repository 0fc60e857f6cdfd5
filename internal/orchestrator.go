package internal

import (
	"sync"

	"github.com/google/uuid"
)

// OrchestratorConfig bundles every parameter configure() accepts across
// the four subsystems it wires together. Orchestrator validates and
// distributes these in a fixed order; the first validation failure is
// returned and nothing partially applies past it.
type OrchestratorConfig struct {
	Seed uint64

	NumParticles      int
	ResampleFrequency int
	InitSigmas        Sigmas3
	PredictSigmas     Sigmas3
	ImuYawVariance    float64

	InitialX, InitialY, InitialYaw float64

	LocalMapLength       float64
	LocalMapResolution   float64
	LocalMapMinElevation float64
	LocalMapMaxElevation float64

	VoxelSize  float64
	DepthSigma DepthSigmaCoeffs

	GlobalMapLength     float64
	GlobalMapResolution float64

	TraversedDistanceThreshold  float64
	MinSlopeThreshold           float64
	SlopeSumThresholdMultiplier float64
	MatchAcceptanceThreshold    float64
	MatchTranslationRange       float64
	MatchYawRange               float64
	MatchYawStep                float64
}

// Orchestrator dispatches the three asynchronous input callbacks and spawns
// the two at-most-one-in-flight background matcher workers. It owns no
// mutex of its own over the core's data — LocalMap,
// ParticleFilter and PoseEstimator each guard their own state — except a
// small one guarding the "has poseCallback fired yet" state transition,
// which never spans into any of the other three.
type Orchestrator struct {
	localMap      *LocalMap
	filter        *ParticleFilter
	estimator     *PoseEstimator
	corrector     *PoseCorrector
	cloudPipeline *CloudPipeline

	scanToMap *singleFlight
	mapToMap  *singleFlight

	globalMapLength     float64
	globalMapResolution float64

	stateMu     sync.Mutex
	initialized bool
}

// NewOrchestrator constructs an unconfigured orchestrator. seed fixes the
// particle filter's RNG stream, making initialization reproducible.
func NewOrchestrator(seed uint64) *Orchestrator {
	filter := NewParticleFilter(seed)
	return &Orchestrator{
		localMap:      NewLocalMap(),
		filter:        filter,
		estimator:     NewPoseEstimator(filter),
		corrector:     NewPoseCorrector(),
		cloudPipeline: &CloudPipeline{},
		scanToMap:     newSingleFlight(),
		mapToMap:      newSingleFlight(),
	}
}

// Configure validates and distributes cfg across the local map, particle
// filter/pose estimator, and pose corrector, then initializes the pose and
// particle population around (InitialX, InitialY, InitialYaw). The first
// validation failure short-circuits and is returned as a *ConfigError.
func (o *Orchestrator) Configure(cfg OrchestratorConfig) error {
	if err := o.localMap.Configure(cfg.LocalMapLength, cfg.LocalMapResolution, cfg.LocalMapMinElevation, cfg.LocalMapMaxElevation); err != nil {
		Logger().Error().Err(err).Msg("local map configuration rejected")
		return err
	}
	if cfg.VoxelSize <= 0 {
		err := newConfigError("voxelSize", cfg.VoxelSize, "must be > 0")
		Logger().Error().Err(err).Msg("cloud pipeline configuration rejected")
		return err
	}
	if err := o.estimator.Configure(cfg.NumParticles, cfg.ResampleFrequency, cfg.InitSigmas, cfg.PredictSigmas, cfg.ImuYawVariance); err != nil {
		Logger().Error().Err(err).Msg("pose estimator configuration rejected")
		return err
	}
	if err := o.corrector.Configure(
		cfg.TraversedDistanceThreshold,
		cfg.MinSlopeThreshold, cfg.SlopeSumThresholdMultiplier,
		cfg.MatchAcceptanceThreshold, cfg.MatchTranslationRange,
		cfg.MatchYawRange, cfg.MatchYawStep,
	); err != nil {
		Logger().Error().Err(err).Msg("pose corrector configuration rejected")
		return err
	}
	if cfg.GlobalMapLength <= 0 {
		err := newConfigError("globalMapLength", cfg.GlobalMapLength, "must be > 0")
		Logger().Error().Err(err).Msg("global map configuration rejected")
		return err
	}
	if cfg.GlobalMapResolution <= 0 {
		err := newConfigError("globalMapResolution", cfg.GlobalMapResolution, "must be > 0")
		Logger().Error().Err(err).Msg("global map configuration rejected")
		return err
	}

	o.cloudPipeline.VoxelSize = cfg.VoxelSize
	o.cloudPipeline.Sigma = cfg.DepthSigma
	o.globalMapLength = cfg.GlobalMapLength
	o.globalMapResolution = cfg.GlobalMapResolution

	o.estimator.Initialize(cfg.InitialX, cfg.InitialY, cfg.InitialYaw)

	o.stateMu.Lock()
	o.initialized = false
	o.stateMu.Unlock()

	Logger().Info().
		Int("numParticles", cfg.NumParticles).
		Float64("localMapLength", cfg.LocalMapLength).
		Msg("orchestrator configured")
	return nil
}

// CreateGlobalMap (re)builds the pose corrector's global map from a
// prebuilt cloud. Idempotent.
func (o *Orchestrator) CreateGlobalMap(cloud Cloud, cloudPose Pose) error {
	if err := o.corrector.CreateGlobalMap(cloud, cloudPose, o.globalMapLength, o.globalMapResolution); err != nil {
		Logger().Error().Err(err).Msg("global map build failed")
		return err
	}
	Logger().Info().Int("points", len(cloud)).Msg("global map (re)built")
	return nil
}

// PoseCallback marks the system initialized on first call, predicts the
// pose forward by deltaPose, and translates the local map to follow the
// new position. The caller may assume the returned pose reflects this
// input by the time the call returns.
func (o *Orchestrator) PoseCallback(deltaPose Pose) {
	o.stateMu.Lock()
	o.initialized = true
	o.stateMu.Unlock()

	o.estimator.PredictPose(deltaPose)
	currentPose := o.estimator.Pose()
	o.localMap.Translate(currentPose)
}

// ImuCallback fuses imuPose's orientation into the pose estimate; a no-op
// until the first PoseCallback.
func (o *Orchestrator) ImuCallback(imuPose Pose) {
	if !o.isInitialized() {
		return
	}
	o.estimator.FuseImuOrientation(imuPose)
}

// CloudCallback conditions rawCloud (sensor frame) into the map frame via
// CloudPipeline, fuses it into the local map, and — respecting the
// at-most-one-in-flight discipline — spawns a scan-to-map worker and a
// gated map-to-map worker. A no-op until the first PoseCallback.
func (o *Orchestrator) CloudCallback(rawCloud Cloud, bodyToSensor Pose) {
	if !o.isInitialized() {
		return
	}

	currentPose := o.estimator.Pose()
	mapToSensor := currentPose.Compose(bodyToSensor)
	params := o.localMap.Parameters()

	processed, variances := o.cloudPipeline.Process(rawCloud, mapToSensor, currentPose, params)
	o.localMap.Fuse(processed, variances)

	o.spawnScanToMap(currentPose, processed)
	o.spawnMapToMap(currentPose)
}

func (o *Orchestrator) isInitialized() bool {
	o.stateMu.Lock()
	defer o.stateMu.Unlock()
	return o.initialized
}

// spawnScanToMap runs ParticleFilter.update (via PoseEstimator.FilterPose)
// against a fresh snapshot of the local map, scored against the freshly
// processed cloud, if no previous scan-to-map worker is still in flight.
func (o *Orchestrator) spawnScanToMap(currentPose Pose, rawCloud Cloud) {
	id := uuid.New()
	launched := o.scanToMap.Try(func() {
		mapCloud := o.localMap.ToCloud()
		Logger().Debug().Str("worker", "scanToMap").Str("id", id.String()).Msg("started")
		o.estimator.FilterPose(rawCloud, mapCloud)
		Logger().Debug().Str("worker", "scanToMap").Str("id", id.String()).Msg("finished")
	})
	if !launched {
		Logger().Debug().Str("worker", "scanToMap").Msg("skipped: previous run still in flight")
	}
}

// spawnMapToMap runs the gated PoseCorrector match against the global map
// if no previous map-to-map worker is still in flight. The distance and
// feature gates, and the acceptance threshold, are evaluated inside the
// worker so an in-flight skip never counts as a gate evaluation.
func (o *Orchestrator) spawnMapToMap(currentPose Pose) {
	id := uuid.New()
	launched := o.mapToMap.Try(func() {
		Logger().Debug().Str("worker", "mapToMap").Str("id", id.String()).Msg("started")
		o.runMapToMap(currentPose)
		Logger().Debug().Str("worker", "mapToMap").Str("id", id.String()).Msg("finished")
	})
	if !launched {
		Logger().Debug().Str("worker", "mapToMap").Msg("skipped: previous run still in flight")
	}
}

func (o *Orchestrator) runMapToMap(currentPose Pose) {
	if !o.corrector.HasGlobalMap() {
		return
	}
	if !o.corrector.DistanceCriterionFulfilled(currentPose) {
		return
	}
	if !o.corrector.FeatureCriterionFulfilled(o.localMap) {
		return
	}
	delta, confidence, ok := o.corrector.MatchMaps(o.localMap, currentPose)
	if !ok {
		Logger().Debug().Msg("map-to-map match rejected")
		return
	}
	Logger().Info().
		Float64("dx", delta.Position.X).
		Float64("dy", delta.Position.Y).
		Float64("yaw", delta.Yaw).
		Float64("confidenceRadius", confidence.radius).
		Msg("map-to-map match accepted")
	o.estimator.PredictPose(delta)
}

// Close waits for any in-flight background workers to finish before
// returning.
func (o *Orchestrator) Close() {
	o.scanToMap.Close()
	o.mapToMap.Close()
}

// GetPose returns the current 6-DoF pose estimate.
func (o *Orchestrator) GetPose() Pose {
	return o.estimator.Pose()
}

// GetLocalMap returns the live local map.
func (o *Orchestrator) GetLocalMap() *LocalMap {
	return o.localMap
}

// GetGlobalMap returns the current global map, or nil if none has been
// built yet.
func (o *Orchestrator) GetGlobalMap() *GlobalMap {
	return o.corrector.GlobalMap()
}

// GetParticlesArray returns the (numParticles x 4) table of
// (x, y, yaw, weight).
func (o *Orchestrator) GetParticlesArray() [][4]float64 {
	return o.estimator.ParticlesArray()
}
