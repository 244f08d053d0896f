package terrain

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-lod/internal/generator"
	"github.com/annel0/voxel-lod/internal/lod"
	"github.com/annel0/voxel-lod/internal/mesher"
	"github.com/annel0/voxel-lod/internal/stream"
	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
)

// VolumeConfig - параметры нового тома
type VolumeConfig struct {
	Settings  lod.Settings
	Stream    stream.Stream // nil - только генерация
	Generator generator.Generator
	Mesher    mesher.Mesher
	Transform vec.Transform3D
}

// Volume - один террейн. Edit, Stats и сеттеры можно вызывать из любой горутины;
// результаты обновлений применяются хостом в Tick.
type Volume struct {
	host *Host
	data *lod.UpdateData

	mu        sync.RWMutex
	transform vec.Transform3D
	streaming *lod.StreamingDependency
	meshing   *lod.MeshingDependency

	// Меняются только в горутине Tick
	meshes  atomic.Int64
	visible atomic.Int64
}

// ID возвращает идентификатор тома
func (v *Volume) ID() uint32 { return v.data.ID() }

// Settings возвращает текущие настройки LOD
func (v *Volume) Settings() lod.Settings { return v.data.Settings() }

// SetSettings меняет радиусы и режимы. Число уровней и размер блока не меняются.
func (v *Volume) SetSettings(s lod.Settings) error {
	return v.data.SetSettings(s)
}

// Edit ставит правку в очередь тома. Применится в ближайшем запуске обновления.
func (v *Volume) Edit(box vec.Box, fn voxel.EditFunc) {
	v.data.Edits.Push(voxel.Edit{Box: box, Fn: fn})
}

// PushEdit ставит готовую правку в очередь тома
func (v *Volume) PushEdit(edit voxel.Edit) {
	v.data.Edits.Push(edit)
}

// SetTransform задаёт мировое преобразование тома
func (v *Volume) SetTransform(t vec.Transform3D) error {
	if _, ok := t.AffineInverse(); !ok {
		return fmt.Errorf("terrain: volume %d: transform is not invertible", v.ID())
	}
	v.mu.Lock()
	v.transform = t
	v.mu.Unlock()
	return nil
}

// Transform возвращает мировое преобразование тома
func (v *Volume) Transform() vec.Transform3D {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.transform
}

// SetStreaming заменяет поток и генератор. Задачи, уже стоящие в очереди,
// доработают со старой зависимостью.
func (v *Volume) SetStreaming(s stream.Stream, g generator.Generator) error {
	dep, err := lod.NewStreamingDependency(s, g)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.streaming = dep
	v.mu.Unlock()
	return nil
}

// SetMesher заменяет мешер
func (v *Volume) SetMesher(m mesher.Mesher) error {
	dep, err := lod.NewMeshingDependency(m)
	if err != nil {
		return err
	}
	v.mu.Lock()
	v.meshing = dep
	v.mu.Unlock()
	return nil
}

// Stream возвращает текущий поток (может быть nil)
func (v *Volume) Stream() stream.Stream {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.streaming.Stream
}

// SaveAll просит ближайший запуск обновления сохранить все изменённые блоки.
// Без потока ничего не делает.
func (v *Volume) SaveAll() error {
	if v.Stream() == nil {
		return nil
	}
	v.data.RequestSaveAll()
	return nil
}

// saveNow сразу ставит задачу сохранения. Нужна, когда проходов обновления
// больше не будет: при удалении тома и закрытии хоста.
func (v *Volume) saveNow() error {
	s := v.Stream()
	if s == nil {
		return nil
	}
	task, err := lod.NewSaveAllTask(v.data, s)
	if err != nil {
		return err
	}
	return v.host.rt.Submit(task)
}

// MeshCount возвращает число мешей тома у рендера
func (v *Volume) MeshCount() int { return int(v.meshes.Load()) }

// VisibleCount возвращает число показываемых мешей
func (v *Volume) VisibleCount() int { return int(v.visible.Load()) }

// Stats возвращает статистику последнего запуска обновления
func (v *Volume) Stats() lod.VolumeStats { return v.data.Stats() }

// Destroy удаляет том из хоста
func (v *Volume) Destroy() error {
	return v.host.RemoveVolume(v.ID())
}

func (v *Volume) params() (*lod.StreamingDependency, *lod.MeshingDependency, vec.Transform3D) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.streaming, v.meshing, v.transform
}
