package voxel

import (
	"fmt"

	"github.com/annel0/voxel-lod/internal/vec"
)

// Voxel - значение одной ячейки (идентификатор материала). 0 - пустота.
type Voxel = uint16

// Air - пустой воксель
const Air Voxel = 0

// Buffer - кубическая сетка вокселей size^3, хранится плоским срезом (X быстрее всего)
type Buffer struct {
	size int
	data []Voxel
}

// NewBuffer создаёт буфер, заполненный воздухом
func NewBuffer(size int) *Buffer {
	return &Buffer{size: size, data: make([]Voxel, size*size*size)}
}

// NewBufferFromData оборачивает готовые данные. Длина должна быть size^3.
func NewBufferFromData(size int, data []Voxel) (*Buffer, error) {
	if len(data) != size*size*size {
		return nil, fmt.Errorf("неверный размер данных буфера: %d, ожидалось %d", len(data), size*size*size)
	}
	return &Buffer{size: size, data: data}, nil
}

// Size возвращает длину ребра
func (b *Buffer) Size() int { return b.size }

// Data возвращает сырые данные (без копирования)
func (b *Buffer) Data() []Voxel { return b.data }

func (b *Buffer) index(x, y, z int) int {
	return (z*b.size+y)*b.size + x
}

// Contains проверяет, что локальная координата внутри буфера
func (b *Buffer) Contains(p vec.Vec3) bool {
	return p.X >= 0 && p.Y >= 0 && p.Z >= 0 && p.X < b.size && p.Y < b.size && p.Z < b.size
}

// Get возвращает воксель по локальным координатам
func (b *Buffer) Get(x, y, z int) Voxel {
	return b.data[b.index(x, y, z)]
}

// Set записывает воксель по локальным координатам
func (b *Buffer) Set(x, y, z int, v Voxel) {
	b.data[b.index(x, y, z)] = v
}

// GetV - Get для вектора
func (b *Buffer) GetV(p vec.Vec3) Voxel { return b.Get(p.X, p.Y, p.Z) }

// SetV - Set для вектора
func (b *Buffer) SetV(p vec.Vec3, v Voxel) { b.Set(p.X, p.Y, p.Z, v) }

// Fill заполняет весь буфер одним значением
func (b *Buffer) Fill(v Voxel) {
	for i := range b.data {
		b.data[i] = v
	}
}

// Clone возвращает глубокую копию
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{size: b.size, data: make([]Voxel, len(b.data))}
	copy(c.data, b.data)
	return c
}

// IsUniform сообщает, что все воксели одинаковы
func (b *Buffer) IsUniform() (Voxel, bool) {
	if len(b.data) == 0 {
		return Air, true
	}
	first := b.data[0]
	for _, v := range b.data[1:] {
		if v != first {
			return Air, false
		}
	}
	return first, true
}

// CountSolid возвращает количество непустых вокселей
func (b *Buffer) CountSolid() int {
	n := 0
	for _, v := range b.data {
		if v != Air {
			n++
		}
	}
	return n
}

// SizeInBytes - объём данных в памяти
func (b *Buffer) SizeInBytes() int {
	return len(b.data) * 2
}
