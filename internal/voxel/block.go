package voxel

import "github.com/annel0/voxel-lod/internal/vec"

// Block - блок вокселей фиксированного размера на заданном LOD.
// Принадлежит LodMap; поля изменяются только под write-lock уровня.
type Block struct {
	Position vec.Vec3 // координата в сетке блоков своего LOD
	Lod      int
	Voxels   *Buffer

	// Modified - данные отличаются от сохранённых в потоке
	Modified bool
	// Edited - блок содержит пользовательские правки
	Edited bool
	// Version увеличивается при каждом изменении вокселей
	Version uint64
}

// NewBlock создаёт блок с пустым буфером
func NewBlock(pos vec.Vec3, lod, size int) *Block {
	return &Block{Position: pos, Lod: lod, Voxels: NewBuffer(size)}
}

// VoxelBox возвращает область блока в вокселях LOD 0
func (b *Block) VoxelBox(blockSizePo2 uint) Box {
	return BlockVoxelBox(b.Position, b.Lod, blockSizePo2)
}

// Box - псевдоним для краткости
type Box = vec.Box

// BlockVoxelBox возвращает область блока (lod, pos) в вокселях LOD 0
func BlockVoxelBox(pos vec.Vec3, lod int, blockSizePo2 uint) Box {
	shift := blockSizePo2 + uint(lod)
	size := 1 << shift
	return Box{Pos: pos.Shl(shift), Size: vec.Vec3{X: size, Y: size, Z: size}}
}
