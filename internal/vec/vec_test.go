package vec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVec3_ShrRoundsDown(t *testing.T) {
	assert.Equal(t, Vec3{X: -1, Y: 0, Z: 1}, Vec3{X: -1, Y: 1, Z: 3}.Shr(1))
	assert.Equal(t, Vec3{X: -2, Y: -1, Z: 0}, Vec3{X: -3, Y: -2, Z: 1}.Shr(1))
}

func TestVec3_Chebyshev(t *testing.T) {
	assert.Equal(t, 4, Vec3{}.ChebyshevDistance(Vec3{X: 1, Y: -4, Z: 2}))
}

func TestSide_Opposite(t *testing.T) {
	for s := Side(0); s < SideCount; s++ {
		assert.Equal(t, Vec3{}, SideNormals[s].Add(SideNormals[s.Opposite()]), "грань %s", s)
	}
}

func TestBox_ClipAndDownscale(t *testing.T) {
	a := Box{Pos: Vec3{X: 0, Y: 0, Z: 0}, Size: Vec3{X: 10, Y: 10, Z: 10}}
	b := Box{Pos: Vec3{X: 5, Y: -5, Z: 8}, Size: Vec3{X: 10, Y: 10, Z: 10}}
	c := a.Clip(b)
	assert.Equal(t, Vec3{X: 5, Y: 0, Z: 8}, c.Pos)
	assert.Equal(t, Vec3{X: 5, Y: 5, Z: 2}, c.Size)

	assert.True(t, a.Clip(Box{Pos: Vec3{X: 20}, Size: Vec3{X: 1, Y: 1, Z: 1}}).IsEmpty())

	// Воксели [-1, 17) касаются блоков -1, 0 и 1 при размере 16
	d := Box{Pos: Vec3{X: -1, Y: 0, Z: 0}, Size: Vec3{X: 18, Y: 16, Z: 1}}.Downscaled(4)
	assert.Equal(t, Vec3{X: -1, Y: 0, Z: 0}, d.Pos)
	assert.Equal(t, Vec3{X: 3, Y: 1, Z: 1}, d.Size)
}

func TestBox_ForEachCount(t *testing.T) {
	n := 0
	Box{Pos: Vec3{X: -1, Y: -1, Z: -1}, Size: Vec3{X: 3, Y: 3, Z: 3}}.ForEach(func(Vec3) { n++ })
	assert.Equal(t, 27, n)
}

func TestTransform_AffineInverse(t *testing.T) {
	tr := Transform3D{
		Basis:  Basis{{0, -2, 0}, {2, 0, 0}, {0, 0, 2}},
		Origin: Vec3Float{X: 10, Y: -3, Z: 7},
	}
	inv, ok := tr.AffineInverse()
	assert.True(t, ok)

	p := Vec3Float{X: 1.5, Y: -4, Z: 12}
	back := inv.Xform(tr.Xform(p))
	assert.InDelta(t, p.X, back.X, 1e-9)
	assert.InDelta(t, p.Y, back.Y, 1e-9)
	assert.InDelta(t, p.Z, back.Z, 1e-9)

	_, ok = Transform3D{}.AffineInverse()
	assert.False(t, ok)
}
