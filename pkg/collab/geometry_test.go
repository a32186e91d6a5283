package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoint3DArithmetic(t *testing.T) {
	p := Point3D{X: 1, Y: 2, Z: 3}
	q := Point3D{X: 4, Y: 5, Z: 6}

	assert.Equal(t, Point3D{X: 5, Y: 7, Z: 9}, p.Add(q))
	assert.Equal(t, Point3D{X: -3, Y: -3, Z: -3}, p.Sub(q))
	assert.Equal(t, Point3D{X: 2, Y: 4, Z: 6}, p.Scale(2))
	assert.InDelta(t, 32.0, p.Dot(q), 1e-12)
}

func TestPoint3DDistance(t *testing.T) {
	p := Point3D{X: 0, Y: 0, Z: 0}
	q := Point3D{X: 3, Y: 4, Z: 0}

	assert.InDelta(t, 5.0, p.DistanceTo(q), 1e-12)
	assert.InDelta(t, 5.0, q.Length(), 1e-12)
}

func TestPoint3DMidpoint(t *testing.T) {
	p := Point3D{X: 0, Y: 0, Z: 0}
	q := Point3D{X: 10, Y: -4, Z: 2}
	assert.Equal(t, Point3D{X: 5, Y: -2, Z: 1}, p.Midpoint(q))
}

func TestPoint3DEqual(t *testing.T) {
	p := Point3D{X: 1, Y: 1, Z: 1}
	q := Point3D{X: 1 + 1e-12, Y: 1, Z: 1}
	assert.True(t, p.Equal(q))
	assert.False(t, p.Equal(Point3D{X: 2, Y: 1, Z: 1}))
}

func TestTransform3DCompose(t *testing.T) {
	a := Transform3D{
		Translation: Point3D{X: 1},
		Rotation:    Point3D{X: 10},
		Scale:       Point3D{X: 2, Y: 1, Z: 1},
	}
	b := Transform3D{
		Translation: Point3D{X: 2},
		Rotation:    Point3D{Y: 20},
		Scale:       Point3D{X: 3, Y: 1, Z: 1},
	}

	c := a.Compose(b)
	assert.Equal(t, Point3D{X: 3}, c.Translation)
	assert.Equal(t, Point3D{X: 10, Y: 20}, c.Rotation)
	assert.Equal(t, Point3D{X: 6, Y: 1, Z: 1}, c.Scale)
}

func TestTransform3DApplyTo(t *testing.T) {
	tr := IdentityTransform()
	tr.Translation = Point3D{X: 1, Y: 2, Z: 3}

	got := tr.ApplyTo(Point3D{X: 1, Y: 1, Z: 1})
	assert.Equal(t, Point3D{X: 2, Y: 3, Z: 4}, got)
}

func TestPointParam(t *testing.T) {
	t.Run("direct Point3D value", func(t *testing.T) {
		params := map[string]interface{}{"position": Point3D{X: 1, Y: 2, Z: 3}}
		p, ok := PointParam(params, "position")
		assert.True(t, ok)
		assert.Equal(t, Point3D{X: 1, Y: 2, Z: 3}, p)
	})

	t.Run("JSON map form", func(t *testing.T) {
		params := map[string]interface{}{
			"position": map[string]interface{}{"x": 1.5, "y": 2.5, "z": 3.5},
		}
		p, ok := PointParam(params, "position")
		assert.True(t, ok)
		assert.Equal(t, Point3D{X: 1.5, Y: 2.5, Z: 3.5}, p)
	})

	t.Run("missing key", func(t *testing.T) {
		_, ok := PointParam(map[string]interface{}{}, "position")
		assert.False(t, ok)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, ok := PointParam(map[string]interface{}{"position": "origin"}, "position")
		assert.False(t, ok)
	})
}
