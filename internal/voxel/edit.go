package voxel

import "github.com/annel0/voxel-lod/internal/vec"

// EditFunc вычисляет новое значение вокселя по его мировой позиции (LOD 0) и текущему значению
type EditFunc func(pos vec.Vec3, current Voxel) Voxel

// Edit - отложенная правка области в вокселях LOD 0
type Edit struct {
	Box vec.Box
	Fn  EditFunc
}

// SetVoxels возвращает правку, записывающую одно значение во всю область
func SetVoxels(box vec.Box, v Voxel) Edit {
	return Edit{Box: box, Fn: func(vec.Vec3, Voxel) Voxel { return v }}
}

// FillSphere возвращает правку, записывающую значение в шар с центром center и радиусом r
func FillSphere(center vec.Vec3, r int, v Voxel) Edit {
	box := vec.Box{
		Pos:  center.Sub(vec.Vec3{X: r, Y: r, Z: r}),
		Size: vec.Vec3{X: 2*r + 1, Y: 2*r + 1, Z: 2*r + 1},
	}
	r2 := float64(r * r)
	return Edit{Box: box, Fn: func(p vec.Vec3, cur Voxel) Voxel {
		if p.DistanceTo(center) <= r2 {
			return v
		}
		return cur
	}}
}
