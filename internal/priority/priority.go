// Package priority вычисляет приоритет фоновых задач по расстоянию до наблюдателей.
package priority

import (
	"math"

	"github.com/annel0/voxel-lod/internal/tasks"
	"github.com/annel0/voxel-lod/internal/vec"
)

// maxCloseness - верхняя граница полосы близости
const maxCloseness = math.MaxUint16

// ViewersData - снимок мировых позиций наблюдателей за один тик.
// После публикации не изменяется и разделяется всеми задачами тика;
// сборщик мусора освобождает его после завершения последней задачи.
type ViewersData struct {
	Viewers []vec.Vec3Float
}

// NewViewersData копирует позиции в новый неизменяемый снимок
func NewViewersData(positions []vec.Vec3Float) *ViewersData {
	cp := make([]vec.Vec3Float, len(positions))
	copy(cp, positions)
	return &ViewersData{Viewers: cp}
}

// Dependency связывает задачу с блоком и общим снимком наблюдателей
type Dependency struct {
	Viewers       *ViewersData
	WorldPosition vec.Vec3Float // центр блока в мировых координатах
	// DropDistanceSquared > 0 разрешает отбрасывать задачи дальше этого расстояния
	DropDistanceSquared float64
}

// ClosestDistanceSquared возвращает квадрат расстояния до ближайшего наблюдателя.
// Без наблюдателей расстояние считается нулевым.
func (d Dependency) ClosestDistanceSquared() float64 {
	if d.Viewers == nil || len(d.Viewers.Viewers) == 0 {
		return 0
	}
	closest := math.Inf(1)
	for _, v := range d.Viewers.Viewers {
		if ds := v.DistanceSquaredTo(d.WorldPosition); ds < closest {
			closest = ds
		}
	}
	return closest
}

// Evaluate возвращает приоритет задачи для блока уровня lod.
// Более грубые уровни идут раньше (октодерево делится сверху вниз),
// внутри уровня - ближние к наблюдателю.
func (d Dependency) Evaluate(lod, lodCount int) (tasks.Priority, float64) {
	ds := d.ClosestDistanceSquared()
	return tasks.NewPriority(tasks.BandSubTask, lodBand(lod, lodCount), closeness(ds)), ds
}

// WithViewers возвращает копию зависимости с другим снимком наблюдателей
func (d Dependency) WithViewers(v *ViewersData) Dependency {
	if v != nil {
		d.Viewers = v
	}
	return d
}

// ShouldDrop сообщает, что блок ушёл дальше дистанции отбрасывания
func (d Dependency) ShouldDrop() bool {
	if d.DropDistanceSquared <= 0 {
		return false
	}
	return d.ClosestDistanceSquared() > d.DropDistanceSquared
}

func lodBand(lod, lodCount int) uint8 {
	if lod < 0 {
		lod = 0
	}
	if lod >= lodCount {
		lod = lodCount - 1
	}
	if lod > math.MaxUint8 {
		return math.MaxUint8
	}
	return uint8(lod)
}

func closeness(distanceSquared float64) uint16 {
	d := math.Sqrt(distanceSquared)
	if !(d < maxCloseness) {
		return 0
	}
	return uint16(maxCloseness - d)
}
