package voxel

import (
	"sync"

	"github.com/annel0/voxel-lod/internal/vec"
)

// MaxLodCount - максимальное число уровней детализации
const MaxLodCount = 24

// Lod хранит блоки одного уровня детализации.
// Чтение (снимки для мешинга) идёт под RLock, изменения - под Lock.
type Lod struct {
	mu     sync.RWMutex
	blocks map[vec.Vec3]*Block
}

// LodMap - хранилище блоков вокселей для всех уровней детализации.
// Запись выполняет только задача обновления (и её сброс правок);
// фоновые задачи мешинга читают снимки.
type LodMap struct {
	blockSizePo2 uint
	lods         []*Lod
}

// NewLodMap создаёт карту на lodCount уровней с блоками 2^blockSizePo2
func NewLodMap(lodCount int, blockSizePo2 uint) *LodMap {
	if lodCount < 1 {
		lodCount = 1
	}
	if lodCount > MaxLodCount {
		lodCount = MaxLodCount
	}
	m := &LodMap{
		blockSizePo2: blockSizePo2,
		lods:         make([]*Lod, lodCount),
	}
	for i := range m.lods {
		m.lods[i] = &Lod{blocks: make(map[vec.Vec3]*Block)}
	}
	return m
}

// LodCount возвращает количество уровней
func (m *LodMap) LodCount() int { return len(m.lods) }

// BlockSize возвращает длину ребра блока в вокселях
func (m *LodMap) BlockSize() int { return 1 << m.blockSizePo2 }

// BlockSizePo2 возвращает степень двойки размера блока
func (m *LodMap) BlockSizePo2() uint { return m.blockSizePo2 }

// GetBlock возвращает блок или nil
func (m *LodMap) GetBlock(lod int, pos vec.Vec3) *Block {
	l := m.lods[lod]
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.blocks[pos]
}

// HasBlock проверяет наличие блока
func (m *LodMap) HasBlock(lod int, pos vec.Vec3) bool {
	return m.GetBlock(lod, pos) != nil
}

// GetOrCreateBlock возвращает существующий блок или создаёт новый.
// init (может быть nil) заполняет буфер нового блока до его публикации.
func (m *LodMap) GetOrCreateBlock(lod int, pos vec.Vec3, init func(*Buffer)) (*Block, bool) {
	l := m.lods[lod]
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, exists := l.blocks[pos]; exists {
		return b, false
	}
	b := NewBlock(pos, lod, m.BlockSize())
	if init != nil {
		init(b.Voxels)
	}
	l.blocks[pos] = b
	return b, true
}

// SetBlock публикует загруженный блок. Если блок уже существует (например,
// создан правкой в режиме полной загрузки), он сохраняется, а новый отбрасывается.
func (m *LodMap) SetBlock(b *Block) (*Block, bool) {
	l := m.lods[b.Lod]
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, exists := l.blocks[b.Position]; exists {
		return existing, false
	}
	l.blocks[b.Position] = b
	return b, true
}

// EraseBlock удаляет блок и возвращает его (nil, если блока не было)
func (m *LodMap) EraseBlock(lod int, pos vec.Vec3) *Block {
	l := m.lods[lod]
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.blocks[pos]
	if !exists {
		return nil
	}
	delete(l.blocks, pos)
	return b
}

// BlockCount возвращает число блоков на уровне
func (m *LodMap) BlockCount(lod int) int {
	l := m.lods[lod]
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// ForEachBlock обходит блоки уровня под read-lock. fn не должен менять карту.
func (m *LodMap) ForEachBlock(lod int, fn func(b *Block)) {
	l := m.lods[lod]
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, b := range l.blocks {
		fn(b)
	}
}

// SnapshotVoxels возвращает копию вокселей блока (nil, если блока нет)
func (m *LodMap) SnapshotVoxels(lod int, pos vec.Vec3) *Buffer {
	l := m.lods[lod]
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, exists := l.blocks[pos]
	if !exists {
		return nil
	}
	return b.Voxels.Clone()
}

// CollectModified снимает копии всех изменённых блоков и сбрасывает у них Modified
func (m *LodMap) CollectModified() []*Block {
	var res []*Block
	for i, l := range m.lods {
		l.mu.Lock()
		for pos, b := range l.blocks {
			if !b.Modified {
				continue
			}
			res = append(res, &Block{Position: pos, Lod: i, Voxels: b.Voxels.Clone(), Modified: true, Edited: b.Edited, Version: b.Version})
			b.Modified = false
		}
		l.mu.Unlock()
	}
	return res
}

// SnapshotModified снимает копии изменённых блоков, не трогая флаги
func (m *LodMap) SnapshotModified() []*Block {
	var res []*Block
	for i, l := range m.lods {
		l.mu.RLock()
		for pos, b := range l.blocks {
			if b.Modified {
				res = append(res, &Block{Position: pos, Lod: i, Voxels: b.Voxels.Clone(), Modified: true, Edited: b.Edited, Version: b.Version})
			}
		}
		l.mu.RUnlock()
	}
	return res
}

// MarkModified снова помечает блок изменённым. false - блока нет.
func (m *LodMap) MarkModified(lod int, pos vec.Vec3) bool {
	l := m.lods[lod]
	l.mu.Lock()
	defer l.mu.Unlock()
	b, exists := l.blocks[pos]
	if !exists {
		return false
	}
	b.Modified = true
	return true
}

// MemoryUsage оценивает объём вокселей в памяти (байты)
func (m *LodMap) MemoryUsage() int64 {
	var total int64
	for i := range m.lods {
		m.ForEachBlock(i, func(b *Block) {
			total += int64(b.Voxels.SizeInBytes())
		})
	}
	return total
}

// ApplyEdit применяет правку к загруженным блокам LOD 0.
// Возвращает позиции изменённых блоков и позиции затронутых, но не загруженных блоков.
func (m *LodMap) ApplyEdit(edit Edit) (applied []vec.Vec3, missing []vec.Vec3) {
	if edit.Fn == nil || edit.Box.IsEmpty() {
		return nil, nil
	}
	edit.Box.Downscaled(m.blockSizePo2).ForEach(func(bpos vec.Vec3) {
		if m.ApplyEditToBlock(bpos, edit) {
			applied = append(applied, bpos)
		} else {
			missing = append(missing, bpos)
		}
	})
	return applied, missing
}

// ApplyEditToBlock применяет часть правки, попадающую в блок LOD 0 с позицией bpos.
// Возвращает false, если блок не загружен.
func (m *LodMap) ApplyEditToBlock(bpos vec.Vec3, edit Edit) bool {
	l := m.lods[0]
	l.mu.Lock()
	defer l.mu.Unlock()

	b, exists := l.blocks[bpos]
	if !exists {
		return false
	}

	blockBox := BlockVoxelBox(bpos, 0, m.blockSizePo2)
	area := blockBox.Clip(edit.Box)
	if area.IsEmpty() {
		return true
	}
	origin := blockBox.Pos
	area.ForEach(func(p vec.Vec3) {
		local := p.Sub(origin)
		cur := b.Voxels.GetV(local)
		b.Voxels.SetV(local, edit.Fn(p, cur))
	})
	b.Modified = true
	b.Edited = true
	b.Version++
	return true
}

// ChildPositions возвращает 8 позиций дочерних блоков (LOD-1) для блока pos
func ChildPositions(pos vec.Vec3) [8]vec.Vec3 {
	var res [8]vec.Vec3
	base := pos.Shl(1)
	for i := 0; i < 8; i++ {
		res[i] = base.Add(vec.Vec3{X: i & 1, Y: (i >> 1) & 1, Z: (i >> 2) & 1})
	}
	return res
}

// Downsample пересчитывает блок (lod, pos) по загруженным дочерним блокам уровня lod-1
// (берётся каждый второй воксель). Отсутствующие дети оставляют свою октанту без изменений.
// Возвращает false, если родительский блок не загружен.
func (m *LodMap) Downsample(lod int, pos vec.Vec3) bool {
	if lod <= 0 || lod >= len(m.lods) {
		return false
	}
	child := m.lods[lod-1]
	parent := m.lods[lod]

	// Порядок блокировок всегда от мелкого уровня к крупному
	child.mu.RLock()
	defer child.mu.RUnlock()
	parent.mu.Lock()
	defer parent.mu.Unlock()

	pb, exists := parent.blocks[pos]
	if !exists {
		return false
	}

	half := m.BlockSize() / 2
	changed := false
	for i, cpos := range ChildPositions(pos) {
		cb, ok := child.blocks[cpos]
		if !ok {
			continue
		}
		ox, oy, oz := (i&1)*half, ((i>>1)&1)*half, ((i>>2)&1)*half
		for z := 0; z < half; z++ {
			for y := 0; y < half; y++ {
				for x := 0; x < half; x++ {
					pb.Voxels.Set(ox+x, oy+y, oz+z, cb.Voxels.Get(2*x, 2*y, 2*z))
				}
			}
		}
		changed = true
	}
	if changed {
		pb.Modified = true
		pb.Version++
	}
	return true
}
