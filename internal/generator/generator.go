// Package generator заполняет блоки вокселей процедурно.
// Вызывается только из фоновых задач генерации.
package generator

import (
	"context"

	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
	"github.com/aquilax/go-perlin"
)

// Материалы, которые выдают встроенные генераторы
const (
	Stone voxel.Voxel = 1
	Dirt  voxel.Voxel = 2
	Grass voxel.Voxel = 3
)

// Generator заполняет буфер блока. origin - угол блока в вокселях LOD 0,
// шаг между вокселями буфера равен 2^lod.
type Generator interface {
	GenerateBlock(ctx context.Context, buf *voxel.Buffer, origin vec.Vec3, lod int) error
}

// Func - адаптер функции к Generator
type Func func(ctx context.Context, buf *voxel.Buffer, origin vec.Vec3, lod int) error

func (f Func) GenerateBlock(ctx context.Context, buf *voxel.Buffer, origin vec.Vec3, lod int) error {
	return f(ctx, buf, origin, lod)
}

// Flat заполняет всё ниже Level одним материалом
type Flat struct {
	Level    int
	Material voxel.Voxel
}

func (g Flat) GenerateBlock(_ context.Context, buf *voxel.Buffer, origin vec.Vec3, lod int) error {
	size := buf.Size()
	for y := 0; y < size; y++ {
		if origin.Y+(y<<lod) >= g.Level {
			break
		}
		for z := 0; z < size; z++ {
			for x := 0; x < size; x++ {
				buf.Set(x, y, z, g.Material)
			}
		}
	}
	return nil
}

// NoiseConfig - параметры рельефа
type NoiseConfig struct {
	Seed       int64
	Scale      float64 // горизонтальный масштаб в вокселях на период шума
	Height     float64 // амплитуда рельефа
	BaseHeight float64
}

// Noise - карта высот на шуме Перлина
type Noise struct {
	cfg   NoiseConfig
	noise *perlin.Perlin
}

// NewNoise создаёт генератор. Экземпляр perlin свой у каждого генератора,
// после создания он только читается и безопасен для параллельных задач.
func NewNoise(cfg NoiseConfig) *Noise {
	if cfg.Scale <= 0 {
		cfg.Scale = 128
	}
	if cfg.Height <= 0 {
		cfg.Height = 32
	}
	alpha := 2.0  // Сглаживание шума
	beta := 2.0   // Частота шума
	n := int32(3) // Количество октав
	return &Noise{cfg: cfg, noise: perlin.NewPerlin(alpha, beta, n, cfg.Seed)}
}

// HeightAt возвращает высоту поверхности в колонке (x, z) в вокселях LOD 0
func (g *Noise) HeightAt(x, z int) int {
	v := g.noise.Noise2D(float64(x)/g.cfg.Scale, float64(z)/g.cfg.Scale)
	// Шум от -1 до 1 переводим в 0..1
	return int(g.cfg.BaseHeight + (v+1.0)/2.0*g.cfg.Height)
}

// GenerateBlock реализует Generator
func (g *Noise) GenerateBlock(ctx context.Context, buf *voxel.Buffer, origin vec.Vec3, lod int) error {
	size := buf.Size()
	for z := 0; z < size; z++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		wz := origin.Z + (z << lod)
		for x := 0; x < size; x++ {
			wx := origin.X + (x << lod)
			h := g.HeightAt(wx, wz)
			for y := 0; y < size; y++ {
				wy := origin.Y + (y << lod)
				if wy >= h {
					break
				}
				buf.Set(x, y, z, material(wy, h))
			}
		}
	}
	return nil
}

func material(y, surface int) voxel.Voxel {
	switch {
	case y == surface-1:
		return Grass
	case y >= surface-4:
		return Dirt
	default:
		return Stone
	}
}
