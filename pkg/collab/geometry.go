package collab

import "math"

// 3D primitives carried by operations
//
// These types provide basic vector arithmetic only. Physical plausibility of
// the values (penetrations, out-of-envelope placements) is the geometry
// engine's concern, not the collaboration core's.

// Point3D is a point or vector in model space.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Add returns the component-wise sum p + q.
func (p Point3D) Add(q Point3D) Point3D {
	return Point3D{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z}
}

// Sub returns the component-wise difference p - q.
func (p Point3D) Sub(q Point3D) Point3D {
	return Point3D{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z}
}

// Scale returns p scaled by factor f.
func (p Point3D) Scale(f float64) Point3D {
	return Point3D{X: p.X * f, Y: p.Y * f, Z: p.Z * f}
}

// Dot returns the dot product p · q.
func (p Point3D) Dot(q Point3D) float64 {
	return p.X*q.X + p.Y*q.Y + p.Z*q.Z
}

// Length returns the Euclidean length of p treated as a vector.
func (p Point3D) Length() float64 {
	return math.Sqrt(p.Dot(p))
}

// DistanceTo returns the Euclidean distance between p and q.
func (p Point3D) DistanceTo(q Point3D) float64 {
	return p.Sub(q).Length()
}

// Midpoint returns the point halfway between p and q.
func (p Point3D) Midpoint(q Point3D) Point3D {
	return p.Add(q).Scale(0.5)
}

// IsZero returns true if all components are exactly zero.
func (p Point3D) IsZero() bool {
	return p.X == 0 && p.Y == 0 && p.Z == 0
}

// Equal returns true if p and q match component-wise within a small epsilon.
func (p Point3D) Equal(q Point3D) bool {
	const eps = 1e-9
	return math.Abs(p.X-q.X) < eps && math.Abs(p.Y-q.Y) < eps && math.Abs(p.Z-q.Z) < eps
}

// Transform3D is a translate/rotate/scale triple. Rotation is Euler angles in
// degrees, applied in XYZ order. Scale is per-axis; the identity scale is
// (1,1,1).
type Transform3D struct {
	Translation Point3D `json:"translation"`
	Rotation    Point3D `json:"rotation"`
	Scale       Point3D `json:"scale"`
}

// IdentityTransform returns the transform that leaves objects unchanged.
func IdentityTransform() Transform3D {
	return Transform3D{Scale: Point3D{X: 1, Y: 1, Z: 1}}
}

// Compose returns the transform equivalent to applying t first, then u.
// Translations add, rotations add per-axis (callers needing order-correct
// rotation composition should go through quaternions), scales multiply.
func (t Transform3D) Compose(u Transform3D) Transform3D {
	return Transform3D{
		Translation: t.Translation.Add(u.Translation),
		Rotation:    t.Rotation.Add(u.Rotation),
		Scale: Point3D{
			X: t.Scale.X * u.Scale.X,
			Y: t.Scale.Y * u.Scale.Y,
			Z: t.Scale.Z * u.Scale.Z,
		},
	}
}

// ApplyTo applies the transform to a point: scale, then translate. Rotation is
// intentionally not applied here - full placement math lives in the geometry
// engine.
func (t Transform3D) ApplyTo(p Point3D) Point3D {
	return Point3D{
		X: p.X*t.Scale.X + t.Translation.X,
		Y: p.Y*t.Scale.Y + t.Translation.Y,
		Z: p.Z*t.Scale.Z + t.Translation.Z,
	}
}

// PointParam extracts a Point3D from an operation parameter map. Accepts a
// Point3D value directly, a *Point3D, or the map form produced by JSON
// round-tripping ({"x": .., "y": .., "z": ..}).
func PointParam(params map[string]interface{}, key string) (Point3D, bool) {
	raw, ok := params[key]
	if !ok {
		return Point3D{}, false
	}

	switch v := raw.(type) {
	case Point3D:
		return v, true
	case *Point3D:
		if v == nil {
			return Point3D{}, false
		}
		return *v, true
	case map[string]interface{}:
		p := Point3D{}
		var found bool
		if x, ok := toFloat(v["x"]); ok {
			p.X = x
			found = true
		}
		if y, ok := toFloat(v["y"]); ok {
			p.Y = y
			found = true
		}
		if z, ok := toFloat(v["z"]); ok {
			p.Z = z
			found = true
		}
		return p, found
	default:
		return Point3D{}, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
