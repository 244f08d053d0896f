package lod

import (
	"testing"

	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/stretchr/testify/assert"
)

// blockAcross возвращает блок LOD 0, чья грань side выходит за пределы родителя
func blockAcross(side vec.Side) vec.Vec3 {
	n := vec.SideNormals[side]
	// Дочерний блок у положительной грани родителя имеет нечётную координату
	return vec.Vec3{X: max(n.X, 0), Y: max(n.Y, 0), Z: max(n.Z, 0)}
}

func TestGetTransitionMask_EachFaceInIsolation(t *testing.T) {
	for side := vec.Side(0); side < vec.SideCount; side++ {
		t.Run(side.String(), func(t *testing.T) {
			state := NewState(2)
			pos := blockAcross(side)
			neighbor := pos.Add(vec.SideNormals[side])
			coarse, _ := state.GetOrAdd(1, neighbor.Shr(1))
			coarse.Active = true

			mask := GetTransitionMask(state, pos, 0, 2)
			assert.Equal(t, uint8(1)<<uint(side), mask, "ожидался только бит грани %s", side)
		})
	}
}

func TestGetTransitionMask_NoBitWhenNeighborActiveAtSameLod(t *testing.T) {
	state := NewState(2)
	pos := vec.Vec3{X: 1}
	neighbor := pos.Add(vec.SideNormals[vec.SidePositiveX])

	coarse, _ := state.GetOrAdd(1, neighbor.Shr(1))
	coarse.Active = true
	same, _ := state.GetOrAdd(0, neighbor)
	same.Active = true

	assert.Zero(t, GetTransitionMask(state, pos, 0, 2))
}

func TestGetTransitionMask_SiblingsNeverMasked(t *testing.T) {
	state := NewState(2)
	// Родитель самого блока активен, но соседи-сиблинги имеют того же родителя
	parent, _ := state.GetOrAdd(1, vec.Vec3{})
	parent.Active = true

	mask := GetTransitionMask(state, vec.Vec3{}, 0, 2)
	for _, side := range []vec.Side{vec.SidePositiveX, vec.SidePositiveY, vec.SidePositiveZ} {
		assert.Zero(t, mask&(1<<uint(side)), "грань %s смотрит на сиблинга", side)
	}
}

func TestGetTransitionMask_InactiveCoarseNeighbor(t *testing.T) {
	state := NewState(2)
	pos := vec.Vec3{X: 1}
	state.GetOrAdd(1, vec.Vec3{X: 1}) // есть, но не активен
	assert.Zero(t, GetTransitionMask(state, pos, 0, 2))
}

func TestGetTransitionMask_TopLevel(t *testing.T) {
	state := NewState(1)
	assert.Zero(t, GetTransitionMask(state, vec.Vec3{}, 0, 1))
}

func TestGetTransitionMask_AllFaces(t *testing.T) {
	state := NewState(3)
	// Блок LOD 1 в центре большого активного окружения LOD 2
	pos := vec.Vec3{X: 1, Y: 1, Z: 1}
	vec.Box{Pos: vec.Vec3{X: -1, Y: -1, Z: -1}, Size: vec.Vec3{X: 3, Y: 3, Z: 3}}.ForEach(func(p vec.Vec3) {
		st, _ := state.GetOrAdd(2, p)
		st.Active = p != vec.Vec3{}
	})
	// Грани +X, +Y, +Z выходят в соседних родителей, -X/-Y/-Z - к сиблингам
	want := uint8(1<<uint(vec.SidePositiveX) | 1<<uint(vec.SidePositiveY) | 1<<uint(vec.SidePositiveZ))
	assert.Equal(t, want, GetTransitionMask(state, pos, 1, 3))
}
