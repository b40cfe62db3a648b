package engine

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Quaternion is a unit rotation.
type Quaternion struct {
	X, Y, Z, W float64
}

// IdentityQuaternion is the no-op rotation.
var IdentityQuaternion = Quaternion{W: 1}

// AxisAngle builds the rotation of angle radians about axis.
func AxisAngle(axis r3.Vector, angle float64) Quaternion {
	axis = axis.Normalize()
	s := math.Sin(angle / 2)
	return Quaternion{X: axis.X * s, Y: axis.Y * s, Z: axis.Z * s, W: math.Cos(angle / 2)}
}

// Mul returns q*o, the rotation o followed by q.
func (q Quaternion) Mul(o Quaternion) Quaternion {
	return Quaternion{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{X: -q.X, Y: -q.Y, Z: -q.Z, W: q.W}
}

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
}

// Normalize returns q scaled to unit length. The zero quaternion maps to identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 {
		return IdentityQuaternion
	}
	return Quaternion{X: q.X / n, Y: q.Y / n, Z: q.Z / n, W: q.W / n}
}

// Rotate applies q to v.
func (q Quaternion) Rotate(v r3.Vector) r3.Vector {
	p := Quaternion{X: v.X, Y: v.Y, Z: v.Z}
	r := q.Mul(p).Mul(q.Conjugate())
	return r3.Vector{X: r.X, Y: r.Y, Z: r.Z}
}

// AngleTo is the smallest rotation angle, in radians, taking q to o.
func (q Quaternion) AngleTo(o Quaternion) float64 {
	dot := q.X*o.X + q.Y*o.Y + q.Z*o.Z + q.W*o.W
	dot = math.Abs(dot)
	if dot > 1 {
		dot = 1
	}
	return 2 * math.Acos(dot)
}

// Pose is a rigid transform: rotation then translation.
type Pose struct {
	Position r3.Vector  `json:"position"`
	Rotation Quaternion `json:"rotation"`
}

// IdentityPose is the origin with no rotation.
var IdentityPose = Pose{Rotation: IdentityQuaternion}

// Forward is the unit viewing direction of the pose (+Z in camera space).
func (p Pose) Forward() r3.Vector {
	return p.Rotation.Rotate(r3.Vector{Z: 1})
}

// Distance is the translational distance between two poses.
func (p Pose) Distance(o Pose) float64 {
	return p.Position.Distance(o.Position)
}

// ScreenOrientation mirrors the device orientation codes reported by AR
// frameworks alongside each frame.
type ScreenOrientation int

const (
	OrientationPortrait           ScreenOrientation = 1
	OrientationPortraitUpsideDown ScreenOrientation = 2
	OrientationLandscapeLeft      ScreenOrientation = 3
	OrientationLandscapeRight     ScreenOrientation = 4
)

// RemoveOrientation undoes the display rotation that AR frameworks bake into
// camera poses, so the engine always sees the sensor's native landscape frame.
func RemoveOrientation(rot Quaternion, orientation ScreenOrientation) (Quaternion, error) {
	z := r3.Vector{Z: 1}
	var fix Quaternion
	switch orientation {
	case OrientationPortrait:
		fix = AxisAngle(z, -math.Pi/2)
	case OrientationPortraitUpsideDown:
		fix = AxisAngle(z, math.Pi/2)
	case OrientationLandscapeLeft:
		return rot, nil
	case OrientationLandscapeRight:
		fix = AxisAngle(z, math.Pi)
	default:
		return rot, fmt.Errorf("%w: %d", ErrUnknownOrientation, orientation)
	}
	return rot.Mul(fix).Normalize(), nil
}
