package lod

import (
	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
)

// BlockState - состояние блока в автомате загрузки
type BlockState uint8

const (
	StateUnloaded BlockState = iota
	StateStreamingRequested
	StateLoaded
	StateMeshingRequested
	StateVisible
	StateUnloadRequested
)

func (s BlockState) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateStreamingRequested:
		return "streaming_requested"
	case StateLoaded:
		return "loaded"
	case StateMeshingRequested:
		return "meshing_requested"
	case StateVisible:
		return "visible"
	case StateUnloadRequested:
		return "unload_requested"
	default:
		return "unknown"
	}
}

// inflightKind - какая фоновая задача ссылается на блок
type inflightKind uint8

const (
	inflightNone inflightKind = iota
	inflightStreaming
	inflightMeshing
)

// BlockStatus - отслеживаемое состояние одного блока
type BlockStatus struct {
	State          BlockState
	TransitionMask uint8
	// Dirty - данные или маска изменились после последнего меша
	Dirty bool
	// HasMesh - у рендера есть меш блока (возможно, пустой)
	HasMesh bool
	// Active - меш блока отображается (узел октодерева не разделён)
	Active  bool
	Retries int

	inflight inflightKind
}

// InFlight сообщает, что на блок ссылается незавершённая задача
func (s *BlockStatus) InFlight() bool { return s.inflight != inflightNone }

// State - состояние LOD одного тома. Не потокобезопасно: меняется только
// выполняющейся задачей обновления тома.
type State struct {
	lods     []map[vec.Vec3]*BlockStatus
	deferred map[vec.Vec3][]voxel.Edit
}

// NewState создаёт пустое состояние
func NewState(lodCount int) *State {
	s := &State{
		lods:     make([]map[vec.Vec3]*BlockStatus, lodCount),
		deferred: make(map[vec.Vec3][]voxel.Edit),
	}
	for i := range s.lods {
		s.lods[i] = make(map[vec.Vec3]*BlockStatus)
	}
	return s
}

// LodCount возвращает число уровней
func (s *State) LodCount() int { return len(s.lods) }

// Get возвращает состояние блока или nil
func (s *State) Get(lod int, pos vec.Vec3) *BlockStatus {
	if lod < 0 || lod >= len(s.lods) {
		return nil
	}
	return s.lods[lod][pos]
}

// GetOrAdd возвращает состояние блока, создавая его в StateUnloaded
func (s *State) GetOrAdd(lod int, pos vec.Vec3) (*BlockStatus, bool) {
	if st, ok := s.lods[lod][pos]; ok {
		return st, false
	}
	st := &BlockStatus{State: StateUnloaded}
	s.lods[lod][pos] = st
	return st, true
}

// Remove перестаёт отслеживать блок
func (s *State) Remove(lod int, pos vec.Vec3) {
	delete(s.lods[lod], pos)
}

// Count возвращает число отслеживаемых блоков уровня
func (s *State) Count(lod int) int { return len(s.lods[lod]) }

// ForEach обходит блоки уровня. fn может менять поля статуса, но не состав уровня.
func (s *State) ForEach(lod int, fn func(pos vec.Vec3, st *BlockStatus)) {
	for pos, st := range s.lods[lod] {
		fn(pos, st)
	}
}

// Positions возвращает копию ключей уровня (для обхода с удалением)
func (s *State) Positions(lod int) []vec.Vec3 {
	res := make([]vec.Vec3, 0, len(s.lods[lod]))
	for pos := range s.lods[lod] {
		res = append(res, pos)
	}
	return res
}

// Defer откладывает правку до загрузки блока LOD 0 с позицией pos
func (s *State) Defer(pos vec.Vec3, e voxel.Edit) {
	s.deferred[pos] = append(s.deferred[pos], e)
}

// TakeDeferred забирает отложенные правки блока
func (s *State) TakeDeferred(pos vec.Vec3) []voxel.Edit {
	edits, ok := s.deferred[pos]
	if !ok {
		return nil
	}
	delete(s.deferred, pos)
	return edits
}

// DeferredCount возвращает число отложенных правок
func (s *State) DeferredCount() int {
	n := 0
	for _, e := range s.deferred {
		n += len(e)
	}
	return n
}
