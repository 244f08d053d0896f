package lod

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-lod/internal/mesher"
	"github.com/annel0/voxel-lod/internal/priority"
	"github.com/annel0/voxel-lod/internal/stream"
	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
)

// completionKind - вид результата фоновой задачи
type completionKind uint8

const (
	completionLoaded completionKind = iota
	completionMeshed
	completionSaved
)

// completion - результат подзадачи, доставленный в основной поток.
// Применяется к состоянию следующим запуском задачи обновления.
type completion struct {
	kind      completionKind
	lod       int
	pos       vec.Vec3
	voxels    *voxel.Buffer
	generated bool
	mesh      *mesher.Mesh
	saved     []stream.BlockData
	attempt   int
	err       error
	cancelled bool
}

func (c completion) failed() bool { return c.err != nil || c.cancelled }

// UpdateData - всё, что принадлежит одному тому и переживает отдельные запуски
// задачи обновления: карта вокселей, состояние LOD, очередь правок.
// Map и State меняет только выполняющаяся задача обновления.
type UpdateData struct {
	id    uint32
	Map   *voxel.LodMap
	State *State
	Edits *EditQueue

	settingsMu sync.Mutex
	settings   Settings

	inboxMu sync.Mutex
	inbox   []completion

	// viewers - последний снимок наблюдателей, по нему подзадачи решают об отмене
	viewers atomic.Pointer[priority.ViewersData]

	inFlight  atomic.Bool
	saveAll   atomic.Bool
	destroyed atomic.Bool

	retries   atomic.Uint64
	skipped   atomic.Uint64
	discarded atomic.Uint64
	runs      atomic.Uint64

	statsMu sync.RWMutex
	stats   VolumeStats
}

// NewUpdateData создаёт данные тома
func NewUpdateData(id uint32, settings Settings) (*UpdateData, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	d := &UpdateData{
		id:       id,
		Map:      voxel.NewLodMap(settings.LodCount, settings.BlockSizePo2),
		State:    NewState(settings.LodCount),
		Edits:    &EditQueue{},
		settings: settings.clone(),
	}
	d.stats = VolumeStats{VolumeID: id, Lods: make([]LodStats, settings.LodCount)}
	return d, nil
}

// ID возвращает идентификатор тома
func (d *UpdateData) ID() uint32 { return d.id }

// Settings возвращает копию текущих настроек
func (d *UpdateData) Settings() Settings {
	d.settingsMu.Lock()
	defer d.settingsMu.Unlock()
	return d.settings.clone()
}

// SetSettings меняет настройки. Число уровней и размер блока менять нельзя.
// Новые значения подхватит следующий запуск задачи обновления.
func (d *UpdateData) SetSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.LodCount != d.Map.LodCount() || s.BlockSizePo2 != d.Map.BlockSizePo2() {
		return fmt.Errorf("%w: нельзя менять число уровней или размер блока", ErrInvalidSettings)
	}
	d.settingsMu.Lock()
	d.settings = s.clone()
	d.settingsMu.Unlock()
	return nil
}

// SetViewers публикует свежий снимок наблюдателей для уже поставленных задач
func (d *UpdateData) SetViewers(v *priority.ViewersData) {
	if v != nil {
		d.viewers.Store(v)
	}
}

// RequestSaveAll просит следующий запуск сохранить все изменённые блоки
func (d *UpdateData) RequestSaveAll() { d.saveAll.Store(true) }

// UpdateInFlight сообщает, что задача обновления тома ещё не применена
func (d *UpdateData) UpdateInFlight() bool { return d.inFlight.Load() }

// NoteSkipped учитывает пропущенный запуск обновления
func (d *UpdateData) NoteSkipped() { d.skipped.Add(1) }

// Destroyed сообщает, что том удалён
func (d *UpdateData) Destroyed() bool { return d.destroyed.Load() }

func (d *UpdateData) pushCompletion(c completion) {
	d.inboxMu.Lock()
	d.inbox = append(d.inbox, c)
	d.inboxMu.Unlock()
}

func (d *UpdateData) takeCompletions() []completion {
	d.inboxMu.Lock()
	defer d.inboxMu.Unlock()
	res := d.inbox
	d.inbox = nil
	return res
}

// PendingCompletions возвращает число результатов подзадач, ещё не учтённых в состоянии
func (d *UpdateData) PendingCompletions() int {
	d.inboxMu.Lock()
	defer d.inboxMu.Unlock()
	return len(d.inbox)
}

// Stats возвращает статистику последнего запуска обновления
func (d *UpdateData) Stats() VolumeStats {
	d.statsMu.RLock()
	s := d.stats
	s.Lods = append([]LodStats(nil), d.stats.Lods...)
	d.statsMu.RUnlock()

	s.PendingEdits = d.Edits.Len()
	s.Retries = d.retries.Load()
	s.SkippedUpdates = d.skipped.Load()
	s.DiscardedBlocks = d.discarded.Load()
	s.UpdateRuns = d.runs.Load()
	return s
}

func (d *UpdateData) storeStats(s VolumeStats) {
	d.statsMu.Lock()
	d.stats = s
	d.statsMu.Unlock()
}

// LodStats - счётчики блоков одного уровня
type LodStats struct {
	Lod       int `json:"lod"`
	Tracked   int `json:"tracked"`
	Loaded    int `json:"loaded"`
	Meshed    int `json:"meshed"`
	Active    int `json:"active"`
	InFlight  int `json:"in_flight"`
	DataCount int `json:"data_blocks"`
}

// VolumeStats - статистика тома
type VolumeStats struct {
	VolumeID       uint32     `json:"volume_id"`
	Lods           []LodStats `json:"lods"`
	PendingEdits   int        `json:"pending_edits"`
	DeferredEdits  int        `json:"deferred_edits"`
	Retries        uint64     `json:"retries"`
	SkippedUpdates uint64     `json:"skipped_updates"`
	// DiscardedBlocks - изменённые блоки, выгруженные без потока
	DiscardedBlocks uint64        `json:"discarded_blocks"`
	UpdateRuns      uint64        `json:"update_runs"`
	MemoryBytes     int64         `json:"memory_bytes"`
	LastRun         time.Duration `json:"last_run_ns"`
	LastRunID       string        `json:"last_run_id"`
}
