package lod

import (
	"errors"
	"fmt"
	"math"

	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
)

// ErrInvalidSettings - настройки тома противоречивы
var ErrInvalidSettings = errors.New("lod: invalid settings")

// Settings - параметры тома, влияющие на работу задачи обновления
type Settings struct {
	LodCount     int
	BlockSizePo2 uint
	// Radii - радиус загрузки в блоках своего уровня (расстояние Чебышёва), по одному на LOD
	Radii []int
	// FullLoadMode - загружать все блоки внутри Bounds, а не только вокруг наблюдателей
	FullLoadMode bool
	// Bounds - границы тома в вокселях LOD 0. Пустой бокс - без границ.
	Bounds           vec.Box
	RequestInstances bool
	// DropDistance - задачи дальше этого расстояния от наблюдателей отменяются. 0 - выключено.
	DropDistance float64
}

// RadiiFromDistance строит радиусы из расстояния LOD (в вокселях LOD 0).
// Каждый уровень покрывает одно и то же число своих блоков, то есть
// вдвое большее расстояние, чем предыдущий.
func RadiiFromDistance(lodDistance float64, lodCount int, blockSizePo2 uint) []int {
	r := int(math.Ceil(lodDistance / float64(int(1)<<blockSizePo2)))
	if r < 1 {
		r = 1
	}
	radii := make([]int, lodCount)
	for i := range radii {
		radii[i] = r
	}
	return radii
}

// BlockSize возвращает длину ребра блока в вокселях
func (s Settings) BlockSize() int { return 1 << s.BlockSizePo2 }

// Radius возвращает радиус загрузки уровня lod
func (s Settings) Radius(lod int) int {
	if lod < len(s.Radii) {
		return s.Radii[lod]
	}
	return 0
}

// Validate проверяет настройки
func (s Settings) Validate() error {
	if s.LodCount < 1 || s.LodCount > voxel.MaxLodCount {
		return fmt.Errorf("%w: lod_count %d вне [1, %d]", ErrInvalidSettings, s.LodCount, voxel.MaxLodCount)
	}
	if s.BlockSizePo2 < 3 || s.BlockSizePo2 > 6 {
		return fmt.Errorf("%w: block_size_po2 %d вне [3, 6]", ErrInvalidSettings, s.BlockSizePo2)
	}
	if len(s.Radii) != s.LodCount {
		return fmt.Errorf("%w: радиусов %d, уровней %d", ErrInvalidSettings, len(s.Radii), s.LodCount)
	}
	for i, r := range s.Radii {
		if r < 0 {
			return fmt.Errorf("%w: отрицательный радиус LOD %d", ErrInvalidSettings, i)
		}
	}
	if s.FullLoadMode && s.Bounds.IsEmpty() {
		return fmt.Errorf("%w: full_load_mode требует границ тома", ErrInvalidSettings)
	}
	if s.DropDistance < 0 {
		return fmt.Errorf("%w: отрицательная drop_distance", ErrInvalidSettings)
	}
	return nil
}

func (s Settings) clone() Settings {
	c := s
	c.Radii = append([]int(nil), s.Radii...)
	return c
}
