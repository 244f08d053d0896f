package stream

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/annel0/voxel-lod/internal/logging"
	"github.com/annel0/voxel-lod/internal/voxel"
	"github.com/dgraph-io/badger/v3"
)

// BadgerStream хранит блоки в BadgerDB
type BadgerStream struct {
	db     *badger.DB
	codec  *Codec
	logger *logging.Logger

	mu      sync.RWMutex
	isReady bool
}

// NewBadgerStream открывает базу в dataPath/blocks. inMemory - без диска (для тестов).
func NewBadgerStream(dataPath string, inMemory bool, codec *Codec) (*BadgerStream, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Join(dataPath, "blocks"))
	}
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	s := &BadgerStream{
		db:      db,
		codec:   codec,
		logger:  logging.GetStreamLogger(),
		isReady: true,
	}
	s.logger.Info("Badger поток блоков открыт: %s (in-memory: %v)", dataPath, inMemory)
	return s, nil
}

func (s *BadgerStream) Name() string { return "badger" }

// LoadBlock реализует Stream
func (s *BadgerStream) LoadBlock(ctx context.Context, key BlockKey, size int) (*voxel.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isReady {
		return nil, ErrClosed
	}

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key.String()))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения блока %s: %w", key, err)
	}
	return s.codec.Decode(data, size)
}

// SaveBlocks сохраняет пачку блоков одной транзакцией
func (s *BadgerStream) SaveBlocks(ctx context.Context, blocks []BlockData) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isReady {
		return ErrClosed
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, b := range blocks {
		if err := wb.Set([]byte(b.Key.String()), s.codec.Encode(b.Voxels)); err != nil {
			return fmt.Errorf("ошибка записи блока %s: %w", b.Key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}
	return nil
}

// Close закрывает базу
func (s *BadgerStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isReady {
		return nil
	}
	s.isReady = false
	return s.db.Close()
}
