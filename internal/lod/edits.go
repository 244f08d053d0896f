package lod

import (
	"sync"

	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
)

// EditQueue - очередь правок от любых горутин. Единственный потребитель -
// задача обновления тома, которая применяет правки в порядке поступления.
type EditQueue struct {
	mu    sync.Mutex
	edits []voxel.Edit
}

// Push добавляет правку в конец очереди
func (q *EditQueue) Push(e voxel.Edit) {
	q.mu.Lock()
	q.edits = append(q.edits, e)
	q.mu.Unlock()
}

// PushFunc - Push для области и функции
func (q *EditQueue) PushFunc(box vec.Box, fn voxel.EditFunc) {
	q.Push(voxel.Edit{Box: box, Fn: fn})
}

// Drain забирает все накопленные правки
func (q *EditQueue) Drain() []voxel.Edit {
	q.mu.Lock()
	defer q.mu.Unlock()
	edits := q.edits
	q.edits = nil
	return edits
}

// Len возвращает число ожидающих правок
func (q *EditQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.edits)
}
