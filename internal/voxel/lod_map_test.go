package voxel

import (
	"sync"
	"testing"

	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLodMap_GetOrCreateIsUnique(t *testing.T) {
	m := NewLodMap(3, 4)
	pos := vec.Vec3{X: 1, Y: -2, Z: 3}

	b1, created := m.GetOrCreateBlock(1, pos, func(buf *Buffer) { buf.Fill(7) })
	require.True(t, created)
	b2, created := m.GetOrCreateBlock(1, pos, nil)
	assert.False(t, created, "второй вызов не должен создавать блок")
	assert.Same(t, b1, b2)
	assert.Equal(t, Voxel(7), b2.Voxels.Get(0, 0, 0))
	assert.Equal(t, 1, m.BlockCount(1))
	assert.Equal(t, 0, m.BlockCount(0))

	assert.Same(t, b1, m.EraseBlock(1, pos))
	assert.Nil(t, m.GetBlock(1, pos))
	assert.Nil(t, m.EraseBlock(1, pos))
}

func TestLodMap_SetBlockKeepsExisting(t *testing.T) {
	m := NewLodMap(1, 3)
	pos := vec.Vec3{}
	edited, _ := m.GetOrCreateBlock(0, pos, nil)

	loaded := NewBlock(pos, 0, m.BlockSize())
	got, inserted := m.SetBlock(loaded)
	assert.False(t, inserted)
	assert.Same(t, edited, got)
}

func TestLodMap_ApplyEditSplitsLoadedAndMissing(t *testing.T) {
	m := NewLodMap(1, 4)
	m.GetOrCreateBlock(0, vec.Vec3{}, nil)

	// Правка пересекает блоки x=0 и x=1, загружен только первый
	edit := SetVoxels(vec.Box{Pos: vec.Vec3{X: 14}, Size: vec.Vec3{X: 4, Y: 1, Z: 1}}, 5)
	applied, missing := m.ApplyEdit(edit)

	assert.Equal(t, []vec.Vec3{{}}, applied)
	assert.Equal(t, []vec.Vec3{{X: 1}}, missing)

	b := m.GetBlock(0, vec.Vec3{})
	assert.Equal(t, Voxel(5), b.Voxels.Get(14, 0, 0))
	assert.Equal(t, Voxel(5), b.Voxels.Get(15, 0, 0))
	assert.Equal(t, Voxel(0), b.Voxels.Get(13, 0, 0))
	assert.True(t, b.Modified)
	assert.True(t, b.Edited)
	assert.Equal(t, uint64(1), b.Version)
}

func TestLodMap_EditNegativeCoordinates(t *testing.T) {
	m := NewLodMap(1, 4)
	m.GetOrCreateBlock(0, vec.Vec3{X: -1, Y: -1, Z: -1}, nil)

	applied, missing := m.ApplyEdit(SetVoxels(vec.Box{Pos: vec.Vec3{X: -1, Y: -1, Z: -1}, Size: vec.Vec3{X: 1, Y: 1, Z: 1}}, 3))
	assert.Len(t, applied, 1)
	assert.Empty(t, missing)
	assert.Equal(t, Voxel(3), m.GetBlock(0, vec.Vec3{X: -1, Y: -1, Z: -1}).Voxels.Get(15, 15, 15))
}

func TestLodMap_Downsample(t *testing.T) {
	m := NewLodMap(2, 3) // блоки 8^3
	children := ChildPositions(vec.Vec3{})
	// Заполняем только ребёнка с индексом 7 (+X +Y +Z)
	m.GetOrCreateBlock(0, children[7], func(b *Buffer) { b.Fill(9) })
	m.GetOrCreateBlock(1, vec.Vec3{}, func(b *Buffer) { b.Fill(1) })

	require.True(t, m.Downsample(1, vec.Vec3{}))
	p := m.GetBlock(1, vec.Vec3{})
	assert.Equal(t, Voxel(9), p.Voxels.Get(4, 4, 4))
	assert.Equal(t, Voxel(9), p.Voxels.Get(7, 7, 7))
	assert.Equal(t, Voxel(1), p.Voxels.Get(3, 3, 3), "октанта без ребёнка не меняется")

	assert.False(t, m.Downsample(1, vec.Vec3{X: 5}), "родитель не загружен")
	assert.False(t, m.Downsample(0, vec.Vec3{}))
}

func TestLodMap_SnapshotIsIndependent(t *testing.T) {
	m := NewLodMap(1, 3)
	m.GetOrCreateBlock(0, vec.Vec3{}, nil)
	snap := m.SnapshotVoxels(0, vec.Vec3{})
	require.NotNil(t, snap)

	m.ApplyEdit(SetVoxels(vec.Box{Size: vec.Vec3{X: 1, Y: 1, Z: 1}}, 4))
	assert.Equal(t, Voxel(0), snap.Get(0, 0, 0))
	assert.Nil(t, m.SnapshotVoxels(0, vec.Vec3{X: 3}))
}

func TestLodMap_ConcurrentReadersDuringEdits(t *testing.T) {
	m := NewLodMap(1, 3)
	m.GetOrCreateBlock(0, vec.Vec3{}, nil)
	counter := Edit{
		Box: vec.Box{Size: vec.Vec3{X: 1, Y: 1, Z: 1}},
		Fn:  func(_ vec.Vec3, v Voxel) Voxel { return v + 1 },
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = m.SnapshotVoxels(0, vec.Vec3{})
		}
	}()
	for i := 0; i < 200; i++ {
		m.ApplyEdit(counter)
	}
	wg.Wait()
	assert.Equal(t, Voxel(200), m.GetBlock(0, vec.Vec3{}).Voxels.Get(0, 0, 0))
}

func TestFillSphere(t *testing.T) {
	m := NewLodMap(1, 4)
	m.GetOrCreateBlock(0, vec.Vec3{}, nil)
	m.ApplyEdit(FillSphere(vec.Vec3{X: 8, Y: 8, Z: 8}, 2, 1))
	b := m.GetBlock(0, vec.Vec3{})
	assert.Equal(t, Voxel(1), b.Voxels.Get(8, 8, 8))
	assert.Equal(t, Voxel(1), b.Voxels.Get(10, 8, 8))
	assert.Equal(t, Voxel(0), b.Voxels.Get(10, 10, 8))
	assert.Equal(t, 33, b.Voxels.CountSolid())
}

func TestLodMap_CollectModified(t *testing.T) {
	m := NewLodMap(2, 3)
	m.GetOrCreateBlock(0, vec.Vec3{}, nil)
	m.GetOrCreateBlock(0, vec.Vec3{X: 1}, nil)
	m.ApplyEdit(SetVoxels(vec.Box{Size: vec.Vec3{X: 1, Y: 1, Z: 1}}, 4))

	got := m.CollectModified()
	require.Len(t, got, 1)
	assert.Equal(t, vec.Vec3{}, got[0].Position)
	assert.Equal(t, Voxel(4), got[0].Voxels.Get(0, 0, 0))

	// Копия не связана с блоком карты
	got[0].Voxels.Set(0, 0, 0, 9)
	assert.Equal(t, Voxel(4), m.GetBlock(0, vec.Vec3{}).Voxels.Get(0, 0, 0))

	assert.Empty(t, m.CollectModified(), "флаг Modified сброшен")
}
