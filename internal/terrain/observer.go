package terrain

import (
	"github.com/annel0/voxel-lod/internal/mesher"
	"github.com/annel0/voxel-lod/internal/tasks"
	"github.com/annel0/voxel-lod/internal/vec"
)

// Observer получает уведомления хоста. Вызовы идут из горутины Tick.
type Observer interface {
	// OnVolumeEdited - правка области (вокселы LOD 0) применена к данным тома
	OnVolumeEdited(volumeID uint32, box vec.Box)
	// OnTaskStatsUpdated - очередной снимок статистики рантайма
	OnTaskStatsUpdated(stats tasks.Stats)
}

// MeshSink принимает меши и видимость блоков (рендер движка)
type MeshSink interface {
	UpdateMesh(volumeID uint32, lod int, pos vec.Vec3, mesh *mesher.Mesh, visible bool)
	DropMesh(volumeID uint32, lod int, pos vec.Vec3)
	SetVisible(volumeID uint32, lod int, pos vec.Vec3, visible bool)
}

// InstanceLayer получает появление и выгрузку блоков LOD 0 для расстановки инстансов
type InstanceLayer interface {
	LoadBlocks(volumeID uint32, positions []vec.Vec3)
	UnloadBlocks(volumeID uint32, positions []vec.Vec3)
}
