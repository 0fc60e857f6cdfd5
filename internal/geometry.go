package internal

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid 6-DoF transform: translation plus roll/pitch/yaw
// orientation, expressed in the map frame unless documented otherwise.
// Rotation uses the intrinsic Z-Y-X (yaw, pitch, roll) Euler convention,
// matching a standard eulerAngles(2, 1, 0) extraction.
type Pose struct {
	Position Vec3
	Roll     float64
	Pitch    float64
	Yaw      float64
}

// IdentityPose is the zero transform.
func IdentityPose() Pose { return Pose{} }

// WrapYaw normalizes an angle into (-π, π]. Yaw arithmetic throughout this
// package uses a local-linear approximation (linear subtraction then wrap)
// rather than full SO(2) arithmetic, which is sufficient as long as
// successive yaw deltas are small relative to 2π.
func WrapYaw(yaw float64) float64 {
	yaw = math.Mod(yaw+math.Pi, 2*math.Pi)
	if yaw <= 0 {
		yaw += 2 * math.Pi
	}
	return yaw - math.Pi
}

// rotationMatrix builds the 3x3 rotation matrix for the given roll, pitch,
// yaw (Z-Y-X order: R = Rz(yaw) * Ry(pitch) * Rx(roll)).
func rotationMatrix(roll, pitch, yaw float64) *mat.Dense {
	sr, cr := math.Sin(roll), math.Cos(roll)
	sp, cp := math.Sin(pitch), math.Cos(pitch)
	sy, cy := math.Sin(yaw), math.Cos(yaw)

	rz := mat.NewDense(3, 3, []float64{
		cy, -sy, 0,
		sy, cy, 0,
		0, 0, 1,
	})
	ry := mat.NewDense(3, 3, []float64{
		cp, 0, sp,
		0, 1, 0,
		-sp, 0, cp,
	})
	rx := mat.NewDense(3, 3, []float64{
		1, 0, 0,
		0, cr, -sr,
		0, sr, cr,
	})

	var tmp, r mat.Dense
	tmp.Mul(ry, rx)
	r.Mul(rz, &tmp)
	return &r
}

// anglesFromRotationMatrix extracts roll, pitch, yaw from a Z-Y-X rotation
// matrix, the inverse of rotationMatrix.
func anglesFromRotationMatrix(r *mat.Dense) (roll, pitch, yaw float64) {
	r20 := r.At(2, 0)
	pitch = math.Asin(-clamp(r20, -1, 1))
	cp := math.Cos(pitch)
	if math.Abs(cp) < 1e-9 {
		// Gimbal lock: roll and yaw are coupled, attribute all rotation to yaw.
		roll = 0
		yaw = math.Atan2(-r.At(0, 1), r.At(1, 1))
		return
	}
	roll = math.Atan2(r.At(2, 1), r.At(2, 2))
	yaw = math.Atan2(r.At(1, 0), r.At(0, 0))
	return
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Rotate applies this pose's rotation (not translation) to v.
func (p Pose) Rotate(v Vec3) Vec3 {
	r := rotationMatrix(p.Roll, p.Pitch, p.Yaw)
	out := mat.NewVecDense(3, []float64{v.X, v.Y, v.Z})
	var res mat.VecDense
	res.MulVec(r, out)
	return Vec3{X: res.AtVec(0), Y: res.AtVec(1), Z: res.AtVec(2)}
}

// Compose returns p · delta: delta is expressed in p's frame, and the
// result is delta applied after p (used for composing a sensor offset
// onto the current pose, and for residual-rotation composition in
// PoseEstimator.PredictPose).
func (p Pose) Compose(delta Pose) Pose {
	rp := rotationMatrix(p.Roll, p.Pitch, p.Yaw)
	rd := rotationMatrix(delta.Roll, delta.Pitch, delta.Yaw)

	var rc mat.Dense
	rc.Mul(rp, rd)
	roll, pitch, yaw := anglesFromRotationMatrix(&rc)

	rotatedTranslation := p.Rotate(delta.Position)
	return Pose{
		Position: p.Position.Add(rotatedTranslation),
		Roll:     roll,
		Pitch:    pitch,
		Yaw:      yaw,
	}
}

// Inverse returns the pose such that p.Compose(p.Inverse()) is identity.
func (p Pose) Inverse() Pose {
	r := rotationMatrix(p.Roll, p.Pitch, p.Yaw)
	var rt mat.Dense
	rt.CloneFrom(r.T())
	roll, pitch, yaw := anglesFromRotationMatrix(&rt)

	inv := Pose{Roll: roll, Pitch: pitch, Yaw: yaw}
	inv.Position = inv.Rotate(Vec3{X: -p.Position.X, Y: -p.Position.Y, Z: -p.Position.Z})
	return inv
}

// DecomposePlanar splits delta into its planar component (dx, dy, dyaw) —
// consumed directly by ParticleFilter.Predict — and a residual pose
// carrying only the z translation and roll/pitch rotation, which
// PoseEstimator.PredictPose composes back onto the previous pose.
func DecomposePlanar(delta Pose) (dx, dy, dyaw float64, residual Pose) {
	dx = delta.Position.X
	dy = delta.Position.Y
	dyaw = WrapYaw(delta.Yaw)
	residual = Pose{
		Position: Vec3{Z: delta.Position.Z},
		Roll:     delta.Roll,
		Pitch:    delta.Pitch,
	}
	return
}

// PlanarDistance returns the Euclidean distance between the (x, y)
// components of a and b, ignoring z and orientation.
func PlanarDistance(a, b Pose) float64 {
	dx := a.Position.X - b.Position.X
	dy := a.Position.Y - b.Position.Y
	return math.Hypot(dx, dy)
}
