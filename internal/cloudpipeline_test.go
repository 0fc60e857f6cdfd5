package internal

import (
	"testing"
)

func TestDownsampleAveragesWithinVoxel(t *testing.T) {
	cloud := Cloud{
		{X: 0.1, Y: 0.1, Z: 0.1},
		{X: 0.2, Y: 0.2, Z: 0.2},
		{X: 5, Y: 5, Z: 5},
	}
	out := Downsample(cloud, 1.0)
	if len(out) != 2 {
		t.Fatalf("Downsample produced %d points, want 2", len(out))
	}
	first := out[0]
	if !floatsClose(first.X, 0.15, 1e-9) || !floatsClose(first.Y, 0.15, 1e-9) || !floatsClose(first.Z, 0.15, 1e-9) {
		t.Errorf("Downsample centroid = %+v, want (0.15, 0.15, 0.15)", first)
	}
}

func TestTransformIdentityIsNoOp(t *testing.T) {
	cloud := Cloud{{X: 1, Y: 2, Z: 3}}
	out := Transform(cloud, IdentityPose())
	if out[0] != cloud[0] {
		t.Errorf("Transform(identity) = %+v, want unchanged %+v", out[0], cloud[0])
	}
}

func TestTransformTranslates(t *testing.T) {
	cloud := Cloud{{X: 0, Y: 0, Z: 0}}
	pose := Pose{Position: Vec3{X: 1, Y: 2, Z: 3}}
	out := Transform(cloud, pose)
	want := CloudPoint{X: 1, Y: 2, Z: 3}
	if out[0] != want {
		t.Errorf("Transform = %+v, want %+v", out[0], want)
	}
}

func TestCropDiscardsOutsideBox(t *testing.T) {
	params := MapParameters{Length: 2, Resolution: 1, MinElevation: -1, MaxElevation: 1}
	cloud := Cloud{
		{X: 0, Y: 0, Z: 0},   // inside
		{X: 5, Y: 0, Z: 0},   // outside x
		{X: 0, Y: 0, Z: 10},  // outside z (S5)
	}
	out := Crop(cloud, 0, params)
	if len(out) != 1 {
		t.Fatalf("Crop kept %d points, want 1", len(out))
	}
	if out[0] != cloud[0] {
		t.Errorf("Crop kept %+v, want %+v", out[0], cloud[0])
	}
}

func TestVariancesFormula(t *testing.T) {
	coeffs := DepthSigmaCoeffs{C1: 0.01, C2: 0.02, C3: 0.5}
	cloud := Cloud{{X: 3, Y: 4, Z: 0}} // distance 5
	out := Variances(cloud, coeffs)
	sigma := coeffs.C1*25 + coeffs.C2*5 + coeffs.C3
	want := sigma * sigma
	if !floatsClose(out[0], want, 1e-9) {
		t.Errorf("Variances = %v, want %v", out[0], want)
	}
}

func TestProcessKeepsCloudAndVarianceAligned(t *testing.T) {
	cp := &CloudPipeline{VoxelSize: 0.1, Sigma: DepthSigmaCoeffs{C1: 0, C2: 0, C3: 1}}
	params := MapParameters{Length: 10, Resolution: 1, MinElevation: -5, MaxElevation: 5}
	raw := Cloud{
		{X: 0, Y: 0, Z: 0},
		{X: 100, Y: 100, Z: 0}, // cropped away
	}
	out, variances := cp.Process(raw, IdentityPose(), IdentityPose(), params)
	if len(out) != len(variances) {
		t.Fatalf("Process cloud/variance length mismatch: %d vs %d", len(out), len(variances))
	}
	if len(out) != 1 {
		t.Fatalf("Process kept %d points, want 1", len(out))
	}
}

func TestProcessEmptyAfterDownsample(t *testing.T) {
	cp := &CloudPipeline{VoxelSize: 1, Sigma: DepthSigmaCoeffs{C1: 0, C2: 0, C3: 1}}
	params := MapParameters{Length: 10, Resolution: 1, MinElevation: -5, MaxElevation: 5}
	out, variances := cp.Process(Cloud{}, IdentityPose(), IdentityPose(), params)
	if len(out) != 0 || len(variances) != 0 {
		t.Errorf("Process(empty) = (%v, %v), want both empty", out, variances)
	}
}
