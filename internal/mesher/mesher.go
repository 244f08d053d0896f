// Package mesher строит геометрию блока. Вызывается только из фоновых задач мешинга.
package mesher

import (
	"context"

	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
)

// Input - всё, что нужно для построения меша одного блока
type Input struct {
	Voxels *voxel.Buffer
	// Neighbors - соседние блоки того же LOD по граням (порядок vec.Side), nil - нет данных
	Neighbors [vec.SideCount]*voxel.Buffer
	Lod       int
	// TransitionMask - бит d выставлен, если сосед по грани d более грубый
	TransitionMask uint8
}

// Mesh - результат мешинга в локальных координатах блока (единица - воксель LOD 0)
type Mesh struct {
	Positions []vec.Vec3Float
	Normals   []vec.Side
	Indices   []uint32
	Lod       int
	Mask      uint8
}

// IsEmpty сообщает, что меш без геометрии
func (m *Mesh) IsEmpty() bool {
	return m == nil || len(m.Indices) == 0
}

// QuadCount возвращает число граней
func (m *Mesh) QuadCount() int {
	if m == nil {
		return 0
	}
	return len(m.Indices) / 6
}

// Mesher строит меш по вокселям
type Mesher interface {
	Build(ctx context.Context, in Input) (*Mesh, error)
}

// Blocky - простой кубический мешер: грань рисуется, если сосед пустой.
// На гранях, граничащих с более грубым LOD, граничные грани рисуются всегда,
// чтобы закрыть щели между уровнями.
type Blocky struct{}

// Углы квада для каждой грани (обход против часовой стрелки снаружи)
var faceCorners = [vec.SideCount][4]vec.Vec3{
	vec.SideNegativeX: {c(0, 0, 0), c(0, 0, 1), c(0, 1, 1), c(0, 1, 0)},
	vec.SidePositiveX: {c(1, 0, 0), c(1, 1, 0), c(1, 1, 1), c(1, 0, 1)},
	vec.SideNegativeY: {c(0, 0, 0), c(1, 0, 0), c(1, 0, 1), c(0, 0, 1)},
	vec.SidePositiveY: {c(0, 1, 0), c(0, 1, 1), c(1, 1, 1), c(1, 1, 0)},
	vec.SideNegativeZ: {c(0, 0, 0), c(0, 1, 0), c(1, 1, 0), c(1, 0, 0)},
	vec.SidePositiveZ: {c(0, 0, 1), c(1, 0, 1), c(1, 1, 1), c(0, 1, 1)},
}

// Build реализует Mesher
func (Blocky) Build(ctx context.Context, in Input) (*Mesh, error) {
	mesh := &Mesh{Lod: in.Lod, Mask: in.TransitionMask}
	if isUniform(in.Voxels, voxel.Air) {
		return mesh, nil
	}

	size := in.Voxels.Size()
	scale := float64(int(1) << in.Lod)

	for z := 0; z < size; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				p := vec.Vec3{X: x, Y: y, Z: z}
				if in.Voxels.GetV(p) == voxel.Air {
					continue
				}
				for s := vec.Side(0); s < vec.SideCount; s++ {
					if faceVisible(in, p, s) {
						mesh.addQuad(p, s, scale)
					}
				}
			}
		}
	}
	return mesh, nil
}

// faceVisible решает, нужна ли грань s у непустого вокселя p
func faceVisible(in Input, p vec.Vec3, s vec.Side) bool {
	n := p.Add(vec.SideNormals[s])
	if in.Voxels.Contains(n) {
		return in.Voxels.GetV(n) == voxel.Air
	}
	if in.TransitionMask&(1<<uint(s)) != 0 {
		return true
	}
	nb := in.Neighbors[s]
	if nb == nil {
		return true
	}
	size := in.Voxels.Size()
	// Переносим координату в соседний блок
	wrapped := vec.Vec3{X: (n.X + size) % size, Y: (n.Y + size) % size, Z: (n.Z + size) % size}
	return nb.GetV(wrapped) == voxel.Air
}

func (m *Mesh) addQuad(p vec.Vec3, s vec.Side, scale float64) {
	base := uint32(len(m.Positions))
	for _, corner := range faceCorners[s] {
		m.Positions = append(m.Positions, p.Add(corner).ToFloat().Scale(scale))
		m.Normals = append(m.Normals, s)
	}
	m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
}

func c(x, y, z int) vec.Vec3 { return vec.Vec3{X: x, Y: y, Z: z} }

func isUniform(b *voxel.Buffer, want voxel.Voxel) bool {
	v, ok := b.IsUniform()
	return ok && v == want
}
