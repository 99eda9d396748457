package graph

import (
	"fmt"
	"math"
)

// Vec3 is a point or direction in millimeter world space.
// +Y is up; the XZ plane is horizontal.
type Vec3 struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Axis names one of the three world axes.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "X"
	case AxisY:
		return "Y"
	case AxisZ:
		return "Z"
	default:
		return "Axis(?)"
	}
}

// ParseAxis accepts "X", "Y", "Z" in either case.
func ParseAxis(s string) (Axis, bool) {
	switch s {
	case "X", "x":
		return AxisX, true
	case "Y", "y":
		return AxisY, true
	case "Z", "z":
		return AxisZ, true
	}
	return 0, false
}

// Unit returns the positive unit vector along a.
func (a Axis) Unit() Vec3 {
	switch a {
	case AxisX:
		return Vec3{X: 1}
	case AxisY:
		return Vec3{Y: 1}
	default:
		return Vec3{Z: 1}
	}
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }
func (v Vec3) Neg() Vec3 { return Vec3{-v.X, -v.Y, -v.Z} }
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vec3) Len() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }
func (v Vec3) HorizLen() float64 { return math.Hypot(v.X, v.Z) }
func (v Vec3) Dist(o Vec3) float64 { return o.Sub(v).Len() }
func (v Vec3) IsFinite() bool { return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z) }
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Component returns the coordinate of v along a.
func (v Vec3) Component(a Axis) float64 {
	switch a {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

// Normalize returns v scaled to unit length, or false when |v| <= eps.
func (v Vec3) Normalize(eps float64) (Vec3, bool) {
	l := v.Len()
	if l <= eps || !isFinite(l) {
		return Vec3{}, false
	}
	return v.Scale(1 / l), true
}

// DominantAxis returns the axis with the largest absolute component.
// Ties resolve X, then Z, then Y.
func (v Vec3) DominantAxis() Axis {
	ax, ay, az := math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)
	if ax >= ay && ax >= az {
		return AxisX
	}
	if az >= ax && az >= ay {
		return AxisZ
	}
	return AxisY
}

// NonZeroAxes counts components whose magnitude exceeds eps.
func (v Vec3) NonZeroAxes(eps float64) int {
	n := 0
	if math.Abs(v.X) > eps {
		n++
	}
	if math.Abs(v.Y) > eps {
		n++
	}
	if math.Abs(v.Z) > eps {
		n++
	}
	return n
}

func (v Vec3) String() string { return fmt.Sprintf("(%g, %g, %g)", v.X, v.Y, v.Z) }

func isFinite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
