package stream

import (
	"context"
	"os"
	"testing"

	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSize = 16

func newCodec(t *testing.T) *Codec {
	t.Helper()
	c, err := NewCodec(0)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func patternBuffer() *voxel.Buffer {
	buf := voxel.NewBuffer(testSize)
	for z := 0; z < testSize; z++ {
		for y := 0; y < testSize; y++ {
			for x := 0; x < testSize; x++ {
				if y < x+z/2 {
					buf.Set(x, y, z, voxel.Voxel(1+(x+z)%3))
				}
			}
		}
	}
	return buf
}

func TestBlockKey_String(t *testing.T) {
	k := BlockKey{Lod: 2, Position: vec.Vec3{X: -1, Y: 0, Z: 7}}
	assert.Equal(t, "block:2:-1:0:7", k.String())
}

func TestCodec_PreservesVoxels(t *testing.T) {
	c := newCodec(t)
	src := patternBuffer()

	data := c.Encode(src)
	assert.Less(t, len(data), src.SizeInBytes(), "данные должны сжиматься")

	got, err := c.Decode(data, testSize)
	require.NoError(t, err)
	assert.Equal(t, src.Data(), got.Data())
}

func TestCodec_UniformBlockIsCompact(t *testing.T) {
	c := newCodec(t)
	src := voxel.NewBuffer(testSize)
	src.Fill(5)

	data := c.Encode(src)
	assert.Len(t, data, headerLen+2)

	got, err := c.Decode(data, testSize)
	require.NoError(t, err)
	v, uniform := got.IsUniform()
	assert.True(t, uniform)
	assert.Equal(t, voxel.Voxel(5), v)
}

func TestCodec_RejectsCorruptData(t *testing.T) {
	c := newCodec(t)

	_, err := c.Decode([]byte("garbage"), testSize)
	assert.ErrorIs(t, err, ErrCorruptBlock)

	data := c.Encode(patternBuffer())
	_, err = c.Decode(data, testSize*2)
	assert.ErrorIs(t, err, ErrCorruptBlock, "несовпадающий размер блока")

	data[len(data)-1] ^= 0xFF
	_, err = c.Decode(data, testSize)
	assert.Error(t, err)
}

// exerciseStream проверяет общий контракт Stream
func exerciseStream(t *testing.T, s Stream) {
	ctx := context.Background()
	key := BlockKey{Lod: 1, Position: vec.Vec3{X: 3, Y: -2, Z: 0}}

	_, err := s.LoadBlock(ctx, key, testSize)
	assert.ErrorIs(t, err, ErrBlockNotFound)

	src := patternBuffer()
	other := voxel.NewBuffer(testSize)
	other.Fill(9)
	otherKey := BlockKey{Lod: 0, Position: vec.Vec3{X: 3, Y: -2, Z: 0}}

	require.NoError(t, s.SaveBlocks(ctx, []BlockData{
		{Key: key, Voxels: src},
		{Key: otherKey, Voxels: other},
	}))

	got, err := s.LoadBlock(ctx, key, testSize)
	require.NoError(t, err)
	assert.Equal(t, src.Data(), got.Data())

	got, err = s.LoadBlock(ctx, otherKey, testSize)
	require.NoError(t, err)
	assert.Equal(t, other.Data(), got.Data(), "LOD входит в ключ")

	// Перезапись
	require.NoError(t, s.SaveBlocks(ctx, []BlockData{{Key: key, Voxels: other}}))
	got, err = s.LoadBlock(ctx, key, testSize)
	require.NoError(t, err)
	assert.Equal(t, other.Data(), got.Data())
}

func TestMemoryStream(t *testing.T) {
	s := NewMemoryStream(newCodec(t))
	exerciseStream(t, s)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, int64(3), s.Saves())

	require.NoError(t, s.Close())
	_, err := s.LoadBlock(context.Background(), BlockKey{}, testSize)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemoryStream_CancelledContext(t *testing.T) {
	s := NewMemoryStream(newCodec(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.LoadBlock(ctx, BlockKey{}, testSize)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBadgerStream(t *testing.T) {
	s, err := NewBadgerStream("", true, newCodec(t))
	require.NoError(t, err)
	defer s.Close()

	exerciseStream(t, s)

	require.NoError(t, s.Close())
	_, err = s.LoadBlock(context.Background(), BlockKey{}, testSize)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBadgerStream_OnDisk(t *testing.T) {
	dir := t.TempDir()
	codec := newCodec(t)
	key := BlockKey{Lod: 0, Position: vec.Vec3{X: 1}}

	s, err := NewBadgerStream(dir, false, codec)
	require.NoError(t, err)
	require.NoError(t, s.SaveBlocks(context.Background(), []BlockData{{Key: key, Voxels: patternBuffer()}}))
	require.NoError(t, s.Close())

	// Данные переживают переоткрытие
	s, err = NewBadgerStream(dir, false, codec)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.LoadBlock(context.Background(), key, testSize)
	require.NoError(t, err)
	assert.Equal(t, patternBuffer().Data(), got.Data())
}

func TestRedisStream(t *testing.T) {
	url := os.Getenv("VOXEL_TEST_REDIS")
	if url == "" {
		t.Skip("VOXEL_TEST_REDIS не задан")
	}
	s, err := NewRedisStream(context.Background(), url, "voxel-test:"+t.Name()+":", newCodec(t))
	require.NoError(t, err)
	defer s.Close()

	exerciseStream(t, s)
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), Options{})
	require.NoError(t, err)
	assert.Nil(t, s)

	s, err = Open(context.Background(), Options{Kind: "memory"})
	require.NoError(t, err)
	assert.Equal(t, "memory", s.Name())

	s, err = Open(context.Background(), Options{Kind: "badger", InMemory: true})
	require.NoError(t, err)
	assert.Equal(t, "badger", s.Name())
	assert.NoError(t, s.Close())

	_, err = Open(context.Background(), Options{Kind: "ftp"})
	assert.Error(t, err)
}
