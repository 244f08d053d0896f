package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/annel0/voxel-lod/internal/voxel"
)

// MemoryStream хранит закодированные блоки в памяти процесса
type MemoryStream struct {
	codec *Codec

	mu     sync.RWMutex
	blocks map[string][]byte
	closed bool

	loads atomic.Int64
	saves atomic.Int64
}

// NewMemoryStream создаёт пустой поток
func NewMemoryStream(codec *Codec) *MemoryStream {
	return &MemoryStream{codec: codec, blocks: make(map[string][]byte)}
}

func (s *MemoryStream) Name() string { return "memory" }

// LoadBlock реализует Stream
func (s *MemoryStream) LoadBlock(ctx context.Context, key BlockKey, size int) (*voxel.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.loads.Add(1)

	s.mu.RLock()
	data, ok := s.blocks[key.String()]
	closed := s.closed
	s.mu.RUnlock()

	if closed {
		return nil, ErrClosed
	}
	if !ok {
		return nil, ErrBlockNotFound
	}
	return s.codec.Decode(data, size)
}

// SaveBlocks реализует Stream
func (s *MemoryStream) SaveBlocks(ctx context.Context, blocks []BlockData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	encoded := make(map[string][]byte, len(blocks))
	for _, b := range blocks {
		encoded[b.Key.String()] = s.codec.Encode(b.Voxels)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for k, v := range encoded {
		s.blocks[k] = v
	}
	s.saves.Add(int64(len(blocks)))
	return nil
}

// Len возвращает число сохранённых блоков
func (s *MemoryStream) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blocks)
}

// Loads и Saves - счётчики обращений
func (s *MemoryStream) Loads() int64 { return s.loads.Load() }
func (s *MemoryStream) Saves() int64 { return s.saves.Load() }

// Close реализует Stream
func (s *MemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
