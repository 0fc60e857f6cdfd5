package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Seed:              1,
		NumParticles:      10,
		ResampleFrequency: 1,
		ImuYawVariance:    0.01,

		LocalMapLength:       4,
		LocalMapResolution:   1,
		LocalMapMinElevation: -10,
		LocalMapMaxElevation: 10,

		VoxelSize: 0.1,

		GlobalMapLength:     4,
		GlobalMapResolution: 1,

		TraversedDistanceThreshold:  1,
		MinSlopeThreshold:           0.1,
		SlopeSumThresholdMultiplier: 0.25,
		MatchAcceptanceThreshold:    0.05,
		MatchTranslationRange:       1,
	}
}

func newConfiguredOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()
	cfg := baseOrchestratorConfig()
	o := NewOrchestrator(cfg.Seed)
	require.NoError(t, o.Configure(cfg))
	return o
}

func TestConfigurePropagatesFirstValidationFailure(t *testing.T) {
	cfg := baseOrchestratorConfig()
	cfg.LocalMapLength = 0
	o := NewOrchestrator(cfg.Seed)
	err := o.Configure(cfg)
	require.Error(t, err, "a bad local map length must surface as a configuration error")
}

func TestIdentityMotionLeavesPoseAtOrigin(t *testing.T) {
	o := newConfiguredOrchestrator(t)
	o.PoseCallback(IdentityPose())

	pose := o.GetPose()
	assert.InDelta(t, 0, pose.Position.X, 1e-9)
	assert.InDelta(t, 0, pose.Position.Y, 1e-9)
	assert.InDelta(t, 0, pose.Yaw, 1e-9)

	for _, row := range o.GetParticlesArray() {
		assert.InDelta(t, 0, row[0], 1e-9)
		assert.InDelta(t, 0, row[1], 1e-9)
		assert.InDelta(t, 0, row[2], 1e-9)
	}
}

func TestPureTranslationAdvancesPoseAndLocalMap(t *testing.T) {
	o := newConfiguredOrchestrator(t)
	o.PoseCallback(Pose{Position: Vec3{X: 1}})

	pose := o.GetPose()
	assert.InDelta(t, 1, pose.Position.X, 1e-9)
	assert.InDelta(t, 0, pose.Position.Y, 1e-9)

	params := o.GetLocalMap().Parameters()
	assert.InDelta(t, 1, params.PositionX, 1e-9, "local map must snap to the resolution-quantized robot x")
	assert.InDelta(t, 0, params.PositionY, 1e-9)
}

func TestUninitializedCallbacksAreNoOps(t *testing.T) {
	o := newConfiguredOrchestrator(t)

	before := o.GetPose()
	o.ImuCallback(Pose{Roll: 1, Pitch: 1, Yaw: 1})
	o.CloudCallback(Cloud{{X: 0, Y: 0, Z: 1}}, IdentityPose())

	after := o.GetPose()
	assert.Equal(t, before, after, "ImuCallback/CloudCallback before the first PoseCallback must not change the pose")
	assert.False(t, o.GetLocalMap().IsValid(), "CloudCallback before the first PoseCallback must not fuse into the local map")
}

func TestImuCallbackFusesAfterInitialization(t *testing.T) {
	o := newConfiguredOrchestrator(t)
	o.PoseCallback(IdentityPose())

	o.ImuCallback(Pose{Roll: 0.2, Pitch: 0.3, Yaw: 0})
	pose := o.GetPose()
	assert.InDelta(t, 0.2, pose.Roll, 1e-9)
	assert.InDelta(t, 0.3, pose.Pitch, 1e-9)
}

func TestCreateGlobalMapDelegatesToCorrector(t *testing.T) {
	o := newConfiguredOrchestrator(t)
	require.Nil(t, o.GetGlobalMap())

	err := o.CreateGlobalMap(Cloud{{X: 0, Y: 0, Z: 1}}, IdentityPose())
	require.NoError(t, err)
	assert.NotNil(t, o.GetGlobalMap())
}

func TestCloseIsSafeWithoutInFlightWorkers(t *testing.T) {
	o := newConfiguredOrchestrator(t)
	o.PoseCallback(IdentityPose())
	o.Close()
}
