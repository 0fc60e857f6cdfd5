package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gaslam-go/ga-slam/internal"
)

// Config is the on-disk YAML shape for gaslamd, one field per
// Orchestrator.Configure parameter.
type Config struct {
	Seed uint64 `yaml:"seed"`

	NumParticles      int     `yaml:"numParticles"`
	ResampleFrequency int     `yaml:"resampleFrequency"`
	InitSigmaX        float64 `yaml:"initSigmaX"`
	InitSigmaY        float64 `yaml:"initSigmaY"`
	InitSigmaYaw      float64 `yaml:"initSigmaYaw"`
	PredictSigmaX     float64 `yaml:"predictSigmaX"`
	PredictSigmaY     float64 `yaml:"predictSigmaY"`
	PredictSigmaYaw   float64 `yaml:"predictSigmaYaw"`
	ImuYawVariance    float64 `yaml:"imuYawVariance"`

	InitialX   float64 `yaml:"initialX"`
	InitialY   float64 `yaml:"initialY"`
	InitialYaw float64 `yaml:"initialYaw"`

	LocalMapLength       float64 `yaml:"localMapLength"`
	LocalMapResolution   float64 `yaml:"localMapResolution"`
	LocalMapMinElevation float64 `yaml:"localMapMinElevation"`
	LocalMapMaxElevation float64 `yaml:"localMapMaxElevation"`

	VoxelSize    float64 `yaml:"voxelSize"`
	DepthSigmaC1 float64 `yaml:"depthSigmaC1"`
	DepthSigmaC2 float64 `yaml:"depthSigmaC2"`
	DepthSigmaC3 float64 `yaml:"depthSigmaC3"`

	GlobalMapLength     float64 `yaml:"globalMapLength"`
	GlobalMapResolution float64 `yaml:"globalMapResolution"`

	TraversedDistanceThreshold  float64 `yaml:"traversedDistanceThreshold"`
	MinSlopeThreshold           float64 `yaml:"minSlopeThreshold"`
	SlopeSumThresholdMultiplier float64 `yaml:"slopeSumThresholdMultiplier"`
	MatchAcceptanceThreshold    float64 `yaml:"matchAcceptanceThreshold"`
	MatchTranslationRange       float64 `yaml:"matchTranslationRange"`
	MatchYawRange               float64 `yaml:"matchYawRange"`
	MatchYawStep                float64 `yaml:"matchYawStep"`
}

// LoadConfig reads and parses a gaslamd YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	return &cfg, nil
}

// ToOrchestratorConfig converts the YAML-shaped Config into the
// Orchestrator's configuration struct. Field-level validation (numParticles
// > 0, resolution > 0, etc.) happens inside Orchestrator.Configure:
// configuration errors are reported there, not here.
func (c *Config) ToOrchestratorConfig() internal.OrchestratorConfig {
	return internal.OrchestratorConfig{
		Seed:              c.Seed,
		NumParticles:      c.NumParticles,
		ResampleFrequency: c.ResampleFrequency,
		InitSigmas:        internal.Sigmas3{X: c.InitSigmaX, Y: c.InitSigmaY, Yaw: c.InitSigmaYaw},
		PredictSigmas:     internal.Sigmas3{X: c.PredictSigmaX, Y: c.PredictSigmaY, Yaw: c.PredictSigmaYaw},
		ImuYawVariance:    c.ImuYawVariance,

		InitialX:   c.InitialX,
		InitialY:   c.InitialY,
		InitialYaw: c.InitialYaw,

		LocalMapLength:       c.LocalMapLength,
		LocalMapResolution:   c.LocalMapResolution,
		LocalMapMinElevation: c.LocalMapMinElevation,
		LocalMapMaxElevation: c.LocalMapMaxElevation,

		VoxelSize:  c.VoxelSize,
		DepthSigma: internal.DepthSigmaCoeffs{C1: c.DepthSigmaC1, C2: c.DepthSigmaC2, C3: c.DepthSigmaC3},

		GlobalMapLength:     c.GlobalMapLength,
		GlobalMapResolution: c.GlobalMapResolution,

		TraversedDistanceThreshold:  c.TraversedDistanceThreshold,
		MinSlopeThreshold:           c.MinSlopeThreshold,
		SlopeSumThresholdMultiplier: c.SlopeSumThresholdMultiplier,
		MatchAcceptanceThreshold:    c.MatchAcceptanceThreshold,
		MatchTranslationRange:       c.MatchTranslationRange,
		MatchYawRange:               c.MatchYawRange,
		MatchYawStep:                c.MatchYawStep,
	}
}
