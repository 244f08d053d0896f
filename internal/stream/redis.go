package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-lod/internal/logging"
	"github.com/annel0/voxel-lod/internal/voxel"
	"github.com/go-redis/redis/v8"
)

// RedisStream хранит блоки в Redis (общее хранилище для нескольких процессов)
type RedisStream struct {
	client *redis.Client
	prefix string
	codec  *Codec
}

// NewRedisStream подключается к Redis по URL вида redis://host:port/db
func NewRedisStream(ctx context.Context, url, prefix string, codec *Codec) (*RedisStream, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("неверный redis url %q: %w", url, err)
	}
	opts.ReadTimeout = 5 * time.Second
	opts.WriteTimeout = 5 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.GetStreamLogger().Info("Redis поток блоков подключён: %s", opts.Addr)
	return &RedisStream{client: client, prefix: prefix, codec: codec}, nil
}

func (s *RedisStream) Name() string { return "redis" }

func (s *RedisStream) key(k BlockKey) string {
	return s.prefix + k.String()
}

// LoadBlock реализует Stream
func (s *RedisStream) LoadBlock(ctx context.Context, key BlockKey, size int) (*voxel.Buffer, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения блока %s из Redis: %w", key, err)
	}
	return s.codec.Decode(data, size)
}

// SaveBlocks пишет пачку через pipeline
func (s *RedisStream) SaveBlocks(ctx context.Context, blocks []BlockData) error {
	if len(blocks) == 0 {
		return nil
	}
	pipe := s.client.TxPipeline()
	for _, b := range blocks {
		pipe.Set(ctx, s.key(b.Key), s.codec.Encode(b.Voxels), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка сохранения блоков в Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение
func (s *RedisStream) Close() error {
	return s.client.Close()
}
