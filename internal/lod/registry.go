package lod

import (
	"sort"
	"sync"
)

// Registry - живые тома по идентификатору. Подзадачи проверяют по нему,
// что их том ещё существует, прежде чем отдавать результат.
type Registry struct {
	mu      sync.RWMutex
	volumes map[uint32]*UpdateData
	nextID  uint32
}

// NewRegistry создаёт пустой реестр
func NewRegistry() *Registry {
	return &Registry{volumes: make(map[uint32]*UpdateData)}
}

// Create заводит новый том
func (r *Registry) Create(settings Settings) (*UpdateData, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	d, err := NewUpdateData(r.nextID, settings)
	if err != nil {
		return nil, err
	}
	r.volumes[d.id] = d
	return d, nil
}

// Get возвращает том или nil
func (r *Registry) Get(id uint32) *UpdateData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.volumes[id]
}

// IsAlive сообщает, что d - всё ещё зарегистрированный том со своим id
func (r *Registry) IsAlive(d *UpdateData) bool {
	if d == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.volumes[d.id] == d
}

// Remove удаляет том. Результаты его задач, пришедшие позже, отбрасываются.
func (r *Registry) Remove(id uint32) *UpdateData {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.volumes[id]
	if !ok {
		return nil
	}
	delete(r.volumes, id)
	d.destroyed.Store(true)
	return d
}

// IDs возвращает идентификаторы томов по возрастанию
func (r *Registry) IDs() []uint32 {
	r.mu.RLock()
	ids := make([]uint32, 0, len(r.volumes))
	for id := range r.volumes {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len возвращает число томов
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.volumes)
}
