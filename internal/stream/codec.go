package stream

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/annel0/voxel-lod/internal/voxel"
	"github.com/klauspost/compress/zstd"
)

// Формат записи блока:
//
//	"VXB1" | flags:1 | size:2 | payload
//
// flags&1 - однородный блок, payload содержит одно значение (2 байта).
// Иначе payload - zstd от size^3 значений uint16 little-endian.
var blockMagic = [4]byte{'V', 'X', 'B', '1'}

const (
	headerLen   = 7
	flagUniform = 1
)

// ErrCorruptBlock - запись блока не читается
var ErrCorruptBlock = errors.New("stream: corrupt block record")

// Codec сжимает блоки. Безопасен для одновременного использования.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec создаёт кодек. level: 1 - быстрый ... 4 - лучший, 0 - по умолчанию.
func NewCodec(level int) (*Codec, error) {
	encLevel := zstd.SpeedDefault
	if level > 0 {
		encLevel = zstd.EncoderLevel(level)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("не удалось создать zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("не удалось создать zstd decoder: %w", err)
	}
	return &Codec{encoder: enc, decoder: dec}, nil
}

// Encode сериализует буфер
func (c *Codec) Encode(buf *voxel.Buffer) []byte {
	header := make([]byte, headerLen, headerLen+16)
	copy(header, blockMagic[:])
	binary.LittleEndian.PutUint16(header[5:], uint16(buf.Size()))

	if v, uniform := buf.IsUniform(); uniform {
		header[4] = flagUniform
		return binary.LittleEndian.AppendUint16(header, v)
	}

	raw := make([]byte, 0, buf.SizeInBytes())
	for _, v := range buf.Data() {
		raw = binary.LittleEndian.AppendUint16(raw, v)
	}
	return c.encoder.EncodeAll(raw, header)
}

// Decode восстанавливает буфер; size - ожидаемая длина ребра
func (c *Codec) Decode(data []byte, size int) (*voxel.Buffer, error) {
	if len(data) < headerLen || [4]byte(data[:4]) != blockMagic {
		return nil, ErrCorruptBlock
	}
	flags := data[4]
	stored := int(binary.LittleEndian.Uint16(data[5:7]))
	if stored != size {
		return nil, fmt.Errorf("%w: размер %d, ожидался %d", ErrCorruptBlock, stored, size)
	}
	payload := data[headerLen:]

	if flags&flagUniform != 0 {
		if len(payload) != 2 {
			return nil, ErrCorruptBlock
		}
		buf := voxel.NewBuffer(size)
		buf.Fill(binary.LittleEndian.Uint16(payload))
		return buf, nil
	}

	raw, err := c.decoder.DecodeAll(payload, make([]byte, 0, size*size*size*2))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptBlock, err)
	}
	if len(raw) != size*size*size*2 {
		return nil, fmt.Errorf("%w: длина данных %d", ErrCorruptBlock, len(raw))
	}
	values := make([]voxel.Voxel, size*size*size)
	for i := range values {
		values[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}
	return voxel.NewBufferFromData(size, values)
}

// Close освобождает ресурсы кодека
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
