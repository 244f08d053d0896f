package lod

import (
	"github.com/annel0/voxel-lod/internal/mesher"
	"github.com/annel0/voxel-lod/internal/vec"
)

// BlockRef - адрес блока в томе
type BlockRef struct {
	Lod      int      `json:"lod"`
	Position vec.Vec3 `json:"position"`
}

// MeshUpdate - новый меш блока для рендера
type MeshUpdate struct {
	BlockRef
	Mesh   *mesher.Mesh
	Active bool
	// Replaced - у рендера уже был меш этого блока
	Replaced bool
}

// EmitCounts - сколько задач и инструкций выдал один запуск
type EmitCounts struct {
	Streaming  int `json:"streaming"`
	Generation int `json:"generation"`
	Meshing    int `json:"meshing"`
	Save       int `json:"save"`
	Unloaded   int `json:"unloaded"`
}

// Total возвращает число поставленных задач загрузки и мешинга
func (c EmitCounts) Total() int {
	return c.Streaming + c.Generation + c.Meshing
}

// UpdateResult - результат запуска задачи обновления, применяется в основном потоке
type UpdateResult struct {
	VolumeID uint32
	RunID    string

	MeshUpdates   []MeshUpdate
	DroppedMeshes []BlockRef
	Shown         []BlockRef
	Hidden        []BlockRef
	// DroppedVisible - сколько из DroppedMeshes отображались до выгрузки
	DroppedVisible int

	// EditedBoxes - области правок, применённых в этом запуске (вокселы LOD 0)
	EditedBoxes []vec.Box

	// Заполняются только при request_instances: блоки LOD 0, появившиеся и выгруженные
	InstancesLoad   []vec.Vec3
	InstancesUnload []vec.Vec3

	Emitted EmitCounts
	Stats   VolumeStats
}
