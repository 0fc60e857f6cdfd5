package internal

// ImuCalibration holds per-axis bias offsets and scale factors applied to a
// raw IMU orientation before it is fused into the pose estimate. Zero
// offsets and unit scales (the default) make this a no-op, so callers that
// never configure a calibration see raw IMU orientation fused unchanged.
type ImuCalibration struct {
	RollOffset, PitchOffset, YawOffset float64
	RollScale, PitchScale, YawScale    float64
}

// NewImuCalibration returns the identity calibration (no bias, unit scale).
func NewImuCalibration() ImuCalibration {
	return ImuCalibration{RollScale: 1, PitchScale: 1, YawScale: 1}
}

// Apply returns the calibrated orientation for a raw IMU pose, applying
// a (rawX-OffsetX)*ScaleX form independently across roll/pitch/yaw.
func (c ImuCalibration) Apply(raw Pose) Pose {
	calibrated := raw
	calibrated.Roll = (raw.Roll - c.RollOffset) * nonZero(c.RollScale)
	calibrated.Pitch = (raw.Pitch - c.PitchOffset) * nonZero(c.PitchScale)
	calibrated.Yaw = WrapYaw((raw.Yaw - c.YawOffset) * nonZero(c.YawScale))
	return calibrated
}

func nonZero(scale float64) float64 {
	if scale == 0 {
		return 1
	}
	return scale
}

// Calibrate recomputes offsets from a batch of raw (roll, pitch, yaw)
// samples known to correspond to a stationary, level mount — the average
// reading becomes the new bias.
func (c *ImuCalibration) Calibrate(samples []Pose) {
	if len(samples) == 0 {
		return
	}
	var sumRoll, sumPitch, sumYaw float64
	for _, s := range samples {
		sumRoll += s.Roll
		sumPitch += s.Pitch
		sumYaw += s.Yaw
	}
	n := float64(len(samples))
	c.RollOffset = sumRoll / n
	c.PitchOffset = sumPitch / n
	c.YawOffset = sumYaw / n
	if c.RollScale == 0 {
		c.RollScale = 1
	}
	if c.PitchScale == 0 {
		c.PitchScale = 1
	}
	if c.YawScale == 0 {
		c.YawScale = 1
	}
}
