package internal

import (
	"math"
)

// DepthSigmaCoeffs are the three coefficients of the depth-dependent noise
// model σ = c1·d² + c2·d + c3.
type DepthSigmaCoeffs struct {
	C1, C2, C3 float64
}

// CloudPipeline conditions a raw sensor cloud into the map frame, in a
// fixed stage order: voxel downsample, variance tag (on the sensor-frame
// points), transform, crop (keeping variances aligned with the points). It
// holds no state of its own — every method is a pure function of its
// arguments.
type CloudPipeline struct {
	VoxelSize float64
	Sigma     DepthSigmaCoeffs
}

// voxelKey identifies the cubic voxel containing a point of the given side
// length.
type voxelKey struct{ i, j, k int64 }

func keyFor(p CloudPoint, voxelSize float64) voxelKey {
	return voxelKey{
		i: int64(math.Floor(p.X / voxelSize)),
		j: int64(math.Floor(p.Y / voxelSize)),
		k: int64(math.Floor(p.Z / voxelSize)),
	}
}

// Downsample replaces every voxel's member points with their centroid.
func Downsample(cloud Cloud, voxelSize float64) Cloud {
	if len(cloud) == 0 || voxelSize <= 0 {
		return cloud.Clone()
	}

	type accum struct {
		sum   Vec3
		count int
	}
	voxels := make(map[voxelKey]*accum, len(cloud))
	order := make([]voxelKey, 0, len(cloud))

	for _, p := range cloud {
		k := keyFor(p, voxelSize)
		a, ok := voxels[k]
		if !ok {
			a = &accum{}
			voxels[k] = a
			order = append(order, k)
		}
		a.sum = a.sum.Add(p.Vec3())
		a.count++
	}

	out := make(Cloud, 0, len(order))
	for _, k := range order {
		a := voxels[k]
		n := float64(a.count)
		out = append(out, CloudPoint{X: a.sum.X / n, Y: a.sum.Y / n, Z: a.sum.Z / n})
	}
	return out
}

// Transform applies pose (rotation then translation) to every point in
// cloud. If pose is the identity transform the cloud is returned unchanged
// rather than recomputed through a trivial rotation.
func Transform(cloud Cloud, pose Pose) Cloud {
	if isIdentity(pose) {
		return cloud.Clone()
	}
	out := make(Cloud, len(cloud))
	for i, p := range cloud {
		v := pose.Rotate(p.Vec3()).Add(pose.Position)
		out[i] = CloudPoint{X: v.X, Y: v.Y, Z: v.Z}
	}
	return out
}

func isIdentity(p Pose) bool {
	return p.Position == Vec3{} && p.Roll == 0 && p.Pitch == 0 && p.Yaw == 0
}

// Crop discards every point outside the axis-aligned box centred on
// (params.PositionX, params.PositionY) with side params.Length, and
// z-range [robotZ+params.MinElevation, robotZ+params.MaxElevation].
func Crop(cloud Cloud, robotZ float64, params MapParameters) Cloud {
	half := params.Length / 2
	minX, maxX := params.PositionX-half, params.PositionX+half
	minY, maxY := params.PositionY-half, params.PositionY+half
	minZ, maxZ := robotZ+params.MinElevation, robotZ+params.MaxElevation

	out := make(Cloud, 0, len(cloud))
	for _, p := range cloud {
		if p.X < minX || p.X > maxX || p.Y < minY || p.Y > maxY || p.Z < minZ || p.Z > maxZ {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Variances computes, for every point, σ² where σ = c1·d² + c2·d + c3 and
// d is the point's distance from the sensor origin. depthsFrame must be
// the cloud expressed in the sensor frame (i.e. captured before or during
// the Transform stage); the result is index-aligned with depthsFrame.
func Variances(depthsFrame Cloud, coeffs DepthSigmaCoeffs) []float64 {
	out := make([]float64, len(depthsFrame))
	for i, p := range depthsFrame {
		d := p.Vec3().Norm()
		sigma := coeffs.C1*d*d + coeffs.C2*d + coeffs.C3
		out[i] = sigma * sigma
	}
	return out
}

// Process runs the full stage pipeline and returns the processed cloud
// (in map frame) and its index-aligned variance vector. mapToSensor
// transforms points from sensor frame to map frame; robotPose supplies the
// robot's current Z for the crop stage.
func (cp *CloudPipeline) Process(raw Cloud, mapToSensor Pose, robotPose Pose, params MapParameters) (Cloud, []float64) {
	downsampled := Downsample(raw, cp.VoxelSize)
	if len(downsampled) == 0 {
		return Cloud{}, nil
	}

	// Variance is a function of distance from the sensor origin, so it
	// must be computed against the pre-transform (sensor-frame) cloud,
	// before the transform step reprojects points into the map frame.
	sensorFrameVariances := Variances(downsampled, cp.Sigma)

	transformed := Transform(downsampled, mapToSensor)
	cropped, variances := cropWithVariances(transformed, sensorFrameVariances, robotPose.Position.Z, params)
	return cropped, variances
}

// cropWithVariances crops cloud while keeping variances index-aligned,
// since Crop alone would desynchronize the two parallel slices.
func cropWithVariances(cloud Cloud, variances []float64, robotZ float64, params MapParameters) (Cloud, []float64) {
	half := params.Length / 2
	minX, maxX := params.PositionX-half, params.PositionX+half
	minY, maxY := params.PositionY-half, params.PositionY+half
	minZ, maxZ := robotZ+params.MinElevation, robotZ+params.MaxElevation

	outCloud := make(Cloud, 0, len(cloud))
	outVar := make([]float64, 0, len(cloud))
	for i, p := range cloud {
		if p.X < minX || p.X > maxX || p.Y < minY || p.Y > maxY || p.Z < minZ || p.Z > maxZ {
			continue
		}
		outCloud = append(outCloud, p)
		outVar = append(outVar, variances[i])
	}
	return outCloud, outVar
}
