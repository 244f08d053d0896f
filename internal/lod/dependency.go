package lod

import (
	"errors"
	"fmt"

	"github.com/annel0/voxel-lod/internal/generator"
	"github.com/annel0/voxel-lod/internal/mesher"
	"github.com/annel0/voxel-lod/internal/stream"
)

// ErrInvalidDependency - задача собрана без обязательного генератора или мешера
var ErrInvalidDependency = errors.New("lod: invalid dependency")

// StreamingDependency - источник данных блоков, общий для задач тома.
// Stream может быть nil: тогда блоки только генерируются.
// Пересоздаётся целиком при смене конфигурации, сам по себе не меняется.
type StreamingDependency struct {
	Stream    stream.Stream
	Generator generator.Generator
}

// NewStreamingDependency проверяет и собирает зависимость
func NewStreamingDependency(s stream.Stream, g generator.Generator) (*StreamingDependency, error) {
	if g == nil {
		return nil, fmt.Errorf("%w: generator is nil", ErrInvalidDependency)
	}
	return &StreamingDependency{Stream: s, Generator: g}, nil
}

// MeshingDependency - мешер, общий для задач тома
type MeshingDependency struct {
	Mesher mesher.Mesher
}

// NewMeshingDependency проверяет и собирает зависимость
func NewMeshingDependency(m mesher.Mesher) (*MeshingDependency, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: mesher is nil", ErrInvalidDependency)
	}
	return &MeshingDependency{Mesher: m}, nil
}
