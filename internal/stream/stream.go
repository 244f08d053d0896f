// Package stream - источники данных блоков: загрузка и сохранение вокселей.
// Все методы вызываются только из фоновых задач.
package stream

import (
	"context"
	"errors"
	"fmt"

	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
)

var (
	// ErrBlockNotFound - блока нет в хранилище; вызывающий должен сгенерировать его
	ErrBlockNotFound = errors.New("stream: block not found")
	// ErrClosed - поток уже закрыт
	ErrClosed = errors.New("stream: closed")
)

// BlockKey - адрес блока
type BlockKey struct {
	Lod      int
	Position vec.Vec3
}

// String возвращает ключ хранения блока
func (k BlockKey) String() string {
	return fmt.Sprintf("block:%d:%d:%d:%d", k.Lod, k.Position.X, k.Position.Y, k.Position.Z)
}

// BlockData - блок для сохранения
type BlockData struct {
	Key    BlockKey
	Voxels *voxel.Buffer
}

// Stream - источник данных блоков
type Stream interface {
	// LoadBlock возвращает воксели блока или ErrBlockNotFound
	LoadBlock(ctx context.Context, key BlockKey, size int) (*voxel.Buffer, error)
	// SaveBlocks атомарно (насколько позволяет бэкенд) сохраняет пачку блоков
	SaveBlocks(ctx context.Context, blocks []BlockData) error
	Name() string
	Close() error
}

// Options описывает поток в конфигурации
type Options struct {
	Kind             string // "", "memory", "badger", "redis"
	Path             string // каталог Badger
	InMemory         bool   // Badger без диска
	RedisURL         string
	Prefix           string // префикс ключей Redis
	CompressionLevel int    // 1..4, 0 - по умолчанию
}

// Open создаёт поток по конфигурации. Пустой Kind означает "без потока" (nil, nil):
// блоки тогда только генерируются.
func Open(ctx context.Context, opts Options) (Stream, error) {
	if opts.Kind == "" || opts.Kind == "none" {
		return nil, nil
	}
	codec, err := NewCodec(opts.CompressionLevel)
	if err != nil {
		return nil, err
	}
	switch opts.Kind {
	case "memory":
		return NewMemoryStream(codec), nil
	case "badger":
		return NewBadgerStream(opts.Path, opts.InMemory, codec)
	case "redis":
		return NewRedisStream(ctx, opts.RedisURL, opts.Prefix, codec)
	default:
		codec.Close()
		return nil, fmt.Errorf("stream: unknown kind %q", opts.Kind)
	}
}
