package lod

import (
	"context"

	"github.com/annel0/voxel-lod/internal/generator"
	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
)

// EditReport - итог сброса очереди правок
type EditReport struct {
	Applied   int
	Deferred  int
	Generated int
	Boxes     []vec.Box
}

// FlushPendingLodEdits применяет правки к LOD 0 и пересчитывает родительские цепочки.
// Правки незагруженных блоков откладываются до их загрузки; в режиме полной
// загрузки блок, за которым не идёт загрузка из потока, генерируется на месте.
// Затронутые блоки помечаются грязными.
func FlushPendingLodEdits(ctx context.Context, state *State, m *voxel.LodMap, edits []voxel.Edit, gen generator.Generator, fullLoad bool) EditReport {
	var report EditReport
	for _, e := range edits {
		if e.Fn == nil || e.Box.IsEmpty() {
			continue
		}
		applied, missing := m.ApplyEdit(e)
		touched := len(applied) > 0
		for _, bpos := range missing {
			if fullLoad && generateInPlace(ctx, state, m, gen, bpos) {
				report.Generated++
				if m.ApplyEditToBlock(bpos, e) {
					touched = true
					continue
				}
			}
			state.Defer(bpos, e)
			report.Deferred++
		}
		if touched {
			propagateEdit(state, m, e.Box)
			report.Boxes = append(report.Boxes, e.Box)
			report.Applied++
		}
	}
	return report
}

// applyDeferred применяет отложенные правки только что загруженного блока LOD 0
func applyDeferred(state *State, m *voxel.LodMap, bpos vec.Vec3) []vec.Box {
	edits := state.TakeDeferred(bpos)
	if len(edits) == 0 {
		return nil
	}
	blockBox := voxel.BlockVoxelBox(bpos, 0, m.BlockSizePo2())
	var boxes []vec.Box
	for _, e := range edits {
		if m.ApplyEditToBlock(bpos, e) {
			area := blockBox.Clip(e.Box)
			propagateEdit(state, m, area)
			boxes = append(boxes, area)
		}
	}
	return boxes
}

// propagateEdit пересчитывает родителей области box снизу вверх
// и помечает грязными все блоки, которых касается box с отступом в воксель
func propagateEdit(state *State, m *voxel.LodMap, box vec.Box) {
	if box.IsEmpty() {
		return
	}
	po2 := m.BlockSizePo2()
	for lod := 1; lod < m.LodCount(); lod++ {
		box.Downscaled(po2 + uint(lod)).ForEach(func(p vec.Vec3) {
			m.Downsample(lod, p)
		})
	}
	padded := box.Padded(1)
	for lod := 0; lod < m.LodCount(); lod++ {
		padded.Downscaled(po2 + uint(lod)).ForEach(func(p vec.Vec3) {
			if st := state.Get(lod, p); st != nil {
				st.Dirty = true
			}
		})
	}
}

// generateInPlace создаёт блок генератором. Блок, загрузка которого уже идёт,
// не трогается: правка дождётся данных из потока.
func generateInPlace(ctx context.Context, state *State, m *voxel.LodMap, gen generator.Generator, bpos vec.Vec3) bool {
	if gen == nil {
		return false
	}
	if st := state.Get(0, bpos); st != nil && (st.InFlight() || st.State != StateUnloaded) {
		return false
	}
	b := voxel.NewBlock(bpos, 0, m.BlockSize())
	if err := gen.GenerateBlock(ctx, b.Voxels, voxel.BlockVoxelBox(bpos, 0, m.BlockSizePo2()).Pos, 0); err != nil {
		return false
	}
	m.SetBlock(b)
	st, _ := state.GetOrAdd(0, bpos)
	if st.State == StateUnloaded {
		st.State = StateLoaded
	}
	st.Dirty = true
	return true
}
