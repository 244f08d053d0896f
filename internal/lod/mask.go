package lod

import "github.com/annel0/voxel-lod/internal/vec"

// GetTransitionMask вычисляет маску перехода блока (lod, pos).
// Бит d (порядок vec.Side) выставлен, если сосед по грани d имеет другого
// родителя, сам не отображается, а отображается более грубый блок, который его содержит.
func GetTransitionMask(state *State, pos vec.Vec3, lod, lodCount int) uint8 {
	if lod+1 >= lodCount {
		return 0
	}
	parent := pos.Shr(1)
	var mask uint8
	for d := vec.Side(0); d < vec.SideCount; d++ {
		npos := pos.Add(vec.SideNormals[d])
		nparent := npos.Shr(1)
		if nparent == parent {
			continue
		}
		if ns := state.Get(lod, npos); ns != nil && ns.Active {
			continue
		}
		if ps := state.Get(lod+1, nparent); ps != nil && ps.Active {
			mask |= 1 << uint(d)
		}
	}
	return mask
}
