package generator

import (
	"context"
	"testing"

	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlat(t *testing.T) {
	buf := voxel.NewBuffer(8)
	require.NoError(t, Flat{Level: 4, Material: Stone}.GenerateBlock(context.Background(), buf, vec.Vec3{}, 0))
	assert.Equal(t, 8*8*4, buf.CountSolid())

	// На LOD 1 шаг 2 вокселя: ниже 4 лежат только y=0 и y=1
	buf = voxel.NewBuffer(8)
	require.NoError(t, Flat{Level: 4, Material: Stone}.GenerateBlock(context.Background(), buf, vec.Vec3{}, 1))
	assert.Equal(t, 8*8*2, buf.CountSolid())

	buf = voxel.NewBuffer(8)
	require.NoError(t, Flat{Level: 4, Material: Stone}.GenerateBlock(context.Background(), buf, vec.Vec3{Y: 8}, 0))
	assert.Zero(t, buf.CountSolid(), "блок выше поверхности пустой")
}

func TestNoise_Deterministic(t *testing.T) {
	cfg := NoiseConfig{Seed: 42, Scale: 64, Height: 16, BaseHeight: 4}
	a, b := voxel.NewBuffer(16), voxel.NewBuffer(16)
	require.NoError(t, NewNoise(cfg).GenerateBlock(context.Background(), a, vec.Vec3{X: 32}, 0))
	require.NoError(t, NewNoise(cfg).GenerateBlock(context.Background(), b, vec.Vec3{X: 32}, 0))
	assert.Equal(t, a.Data(), b.Data(), "одинаковый сид даёт одинаковый рельеф")
	assert.NotZero(t, a.CountSolid())
}

func TestNoise_ColumnsMatchHeight(t *testing.T) {
	g := NewNoise(NoiseConfig{Seed: 7, Scale: 32, Height: 12, BaseHeight: 2})
	buf := voxel.NewBuffer(16)
	require.NoError(t, g.GenerateBlock(context.Background(), buf, vec.Vec3{}, 0))

	for _, col := range []vec.Vec3{{X: 0, Z: 0}, {X: 5, Z: 11}, {X: 15, Z: 15}} {
		h := g.HeightAt(col.X, col.Z)
		for y := 0; y < 16; y++ {
			solid := buf.Get(col.X, y, col.Z) != voxel.Air
			assert.Equal(t, y < h, solid, "колонка %v, y=%d, высота %d", col, y, h)
		}
		if h > 0 && h <= 16 {
			assert.Equal(t, Grass, buf.Get(col.X, h-1, col.Z))
		}
	}
}

func TestNoise_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewNoise(NoiseConfig{}).GenerateBlock(ctx, voxel.NewBuffer(8), vec.Vec3{}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
