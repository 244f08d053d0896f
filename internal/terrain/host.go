package terrain

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/annel0/voxel-lod/internal/lod"
	"github.com/annel0/voxel-lod/internal/logging"
	"github.com/annel0/voxel-lod/internal/priority"
	"github.com/annel0/voxel-lod/internal/tasks"
	"github.com/annel0/voxel-lod/internal/vec"
)

// ErrVolumeNotFound - тома с таким ID нет
var ErrVolumeNotFound = errors.New("terrain: volume not found")

// ErrViewerNotFound - наблюдателя с таким ID нет
var ErrViewerNotFound = errors.New("terrain: viewer not found")

// HostConfig - параметры хоста
type HostConfig struct {
	// Runtime - внешний рантайм. nil - хост создаёт свой и останавливает его в Close.
	Runtime *tasks.Runtime
	Workers int

	MainThreadBudget time.Duration // 0 - без ограничения
	StatsInterval    time.Duration // 0 - статистика на каждом тике
	AutosaveInterval time.Duration // 0 - без автосохранения
	CloseTimeout     time.Duration

	Sink      MeshSink
	Instances InstanceLayer
}

// HostStats - сводка для API и индикатора
type HostStats struct {
	Tasks   tasks.Stats       `json:"tasks"`
	Volumes []lod.VolumeStats `json:"volumes"`
	Viewers int               `json:"viewers"`
	Ticks   uint64            `json:"ticks"`
}

// Host ведёт наблюдателей и тома, раз в тик ставит задачи обновления
// и применяет их результаты. Tick и Close вызываются с одной горутины
// (основной поток движка); остальные методы потокобезопасны.
type Host struct {
	rt          *tasks.Runtime
	ownsRuntime bool
	registry    *lod.Registry
	cfg         HostConfig

	mu           sync.RWMutex
	volumes      map[uint32]*Volume
	viewers      map[uint32]vec.Vec3Float
	nextViewerID uint32
	observers    []Observer

	ticks        uint64
	lastStats    time.Time
	lastAutosave time.Time
	closed       bool

	logger *logging.Logger
}

// NewHost создаёт хост
func NewHost(cfg HostConfig) *Host {
	h := &Host{
		rt:       cfg.Runtime,
		registry: lod.NewRegistry(),
		cfg:      cfg,
		volumes:  make(map[uint32]*Volume),
		viewers:  make(map[uint32]vec.Vec3Float),
		logger:   logging.GetTerrainLogger(),
	}
	if h.rt == nil {
		h.rt = tasks.NewRuntime(tasks.Config{Workers: cfg.Workers})
		h.ownsRuntime = true
	}
	if h.cfg.CloseTimeout <= 0 {
		h.cfg.CloseTimeout = 30 * time.Second
	}
	h.lastAutosave = time.Now()
	return h
}

// Runtime возвращает рантайм задач хоста
func (h *Host) Runtime() *tasks.Runtime { return h.rt }

// Registry возвращает реестр томов
func (h *Host) Registry() *lod.Registry { return h.registry }

// AddObserver подписывает наблюдателя на события хоста
func (h *Host) AddObserver(o Observer) {
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

// AddViewer добавляет наблюдателя в мировой позиции и возвращает его ID
func (h *Host) AddViewer(pos vec.Vec3Float) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextViewerID++
	h.viewers[h.nextViewerID] = pos
	return h.nextViewerID
}

// SetViewerPosition перемещает наблюдателя
func (h *Host) SetViewerPosition(id uint32, pos vec.Vec3Float) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[id]; !ok {
		return fmt.Errorf("%w: %d", ErrViewerNotFound, id)
	}
	h.viewers[id] = pos
	return nil
}

// RemoveViewer удаляет наблюдателя
func (h *Host) RemoveViewer(id uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[id]; !ok {
		return fmt.Errorf("%w: %d", ErrViewerNotFound, id)
	}
	delete(h.viewers, id)
	return nil
}

// ViewerCount возвращает число наблюдателей
func (h *Host) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// AddVolume создаёт том. Ошибки настроек и зависимостей возвращаются сразу.
func (h *Host) AddVolume(cfg VolumeConfig) (*Volume, error) {
	streaming, err := lod.NewStreamingDependency(cfg.Stream, cfg.Generator)
	if err != nil {
		return nil, err
	}
	meshing, err := lod.NewMeshingDependency(cfg.Mesher)
	if err != nil {
		return nil, err
	}
	transform := cfg.Transform
	if transform == (vec.Transform3D{}) {
		transform = vec.IdentityTransform()
	}
	if _, ok := transform.AffineInverse(); !ok {
		return nil, fmt.Errorf("terrain: volume transform is not invertible")
	}

	data, err := h.registry.Create(cfg.Settings)
	if err != nil {
		return nil, err
	}
	v := &Volume{
		host:      h,
		data:      data,
		transform: transform,
		streaming: streaming,
		meshing:   meshing,
	}

	h.mu.Lock()
	h.volumes[data.ID()] = v
	h.mu.Unlock()

	h.logger.Info("🌍 Том %d создан: %d LOD, блок %d", data.ID(), cfg.Settings.LodCount, cfg.Settings.BlockSize())
	return v, nil
}

// Volume возвращает том по ID
func (h *Host) Volume(id uint32) (*Volume, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	v, ok := h.volumes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrVolumeNotFound, id)
	}
	return v, nil
}

// Volumes возвращает тома в порядке ID
func (h *Host) Volumes() []*Volume {
	h.mu.RLock()
	defer h.mu.RUnlock()
	res := make([]*Volume, 0, len(h.volumes))
	for _, v := range h.volumes {
		res = append(res, v)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID() < res[j].ID() })
	return res
}

// RemoveVolume сохраняет изменённые блоки тома и удаляет его.
// Задачи тома, ещё стоящие в очереди, отменятся; их результаты будут отброшены.
func (h *Host) RemoveVolume(id uint32) error {
	h.mu.Lock()
	v, ok := h.volumes[id]
	if ok {
		delete(h.volumes, id)
	}
	h.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrVolumeNotFound, id)
	}

	if err := v.saveNow(); err != nil {
		h.logger.Warn("Том %d: сохранение перед удалением не поставлено: %v", id, err)
	}
	h.registry.Remove(id)
	h.logger.Info("Том %d удалён", id)
	return nil
}

// Tick ставит по задаче обновления на каждый том и применяет готовые результаты.
// Том, у которого предыдущее обновление ещё не применено, пропускается.
func (h *Host) Tick() {
	h.mu.Lock()
	h.ticks++
	positions := make([]vec.Vec3Float, 0, len(h.viewers))
	for _, p := range h.viewers {
		positions = append(positions, p)
	}
	h.mu.Unlock()

	viewers := priority.NewViewersData(positions)
	autosave := h.cfg.AutosaveInterval > 0 && time.Since(h.lastAutosave) >= h.cfg.AutosaveInterval
	if autosave {
		h.lastAutosave = time.Now()
	}

	for _, v := range h.Volumes() {
		if autosave {
			v.data.RequestSaveAll()
		}
		h.submitUpdate(v, viewers)
	}

	h.rt.ProcessMainThread(h.cfg.MainThreadBudget)
	h.pollStats()
}

func (h *Host) submitUpdate(v *Volume, viewers *priority.ViewersData) {
	streaming, meshing, transform := v.params()
	v.data.SetViewers(viewers)
	task, err := lod.NewUpdateTask(lod.UpdateTaskParams{
		Data:      v.data,
		Registry:  h.registry,
		Streaming: streaming,
		Meshing:   meshing,
		Viewers:   viewers,
		Transform: transform,
		OnResult:  func(res *lod.UpdateResult) { h.applyResult(v, res) },
	})
	if errors.Is(err, lod.ErrUpdateInFlight) {
		v.data.NoteSkipped()
		h.logger.Debug("Том %d: обновление ещё выполняется, тик пропущен", v.ID())
		return
	}
	if err != nil {
		h.logger.Error("Том %d: задача обновления не создана: %v", v.ID(), err)
		return
	}
	if err := h.rt.Submit(task); err != nil {
		task.Abort()
		h.logger.Warn("Том %d: задача обновления не поставлена: %v", v.ID(), err)
	}
}

// applyResult передаёт результат запуска рендеру, слою инстансов и наблюдателям
func (h *Host) applyResult(v *Volume, res *lod.UpdateResult) {
	id := res.VolumeID
	if sink := h.cfg.Sink; sink != nil {
		for _, b := range res.DroppedMeshes {
			sink.DropMesh(id, b.Lod, b.Position)
		}
		for _, m := range res.MeshUpdates {
			sink.UpdateMesh(id, m.Lod, m.Position, m.Mesh, m.Active)
		}
		for _, b := range res.Hidden {
			sink.SetVisible(id, b.Lod, b.Position, false)
		}
		for _, b := range res.Shown {
			sink.SetVisible(id, b.Lod, b.Position, true)
		}
	}
	added := 0
	for _, m := range res.MeshUpdates {
		if !m.Replaced {
			added++
		}
	}
	v.meshes.Add(int64(added - len(res.DroppedMeshes)))
	v.visible.Add(int64(len(res.Shown) - len(res.Hidden) - res.DroppedVisible))

	if layer := h.cfg.Instances; layer != nil {
		if len(res.InstancesUnload) > 0 {
			layer.UnloadBlocks(id, res.InstancesUnload)
		}
		if len(res.InstancesLoad) > 0 {
			layer.LoadBlocks(id, res.InstancesLoad)
		}
	}

	if len(res.EditedBoxes) > 0 {
		for _, o := range h.observerList() {
			for _, box := range res.EditedBoxes {
				o.OnVolumeEdited(id, box)
			}
		}
	}
}

func (h *Host) observerList() []Observer {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Observer(nil), h.observers...)
}

func (h *Host) pollStats() {
	if h.cfg.StatsInterval > 0 && time.Since(h.lastStats) < h.cfg.StatsInterval {
		return
	}
	h.lastStats = time.Now()
	observers := h.observerList()
	if len(observers) == 0 {
		return
	}
	stats := h.rt.Stats()
	for _, o := range observers {
		o.OnTaskStatsUpdated(stats)
	}
}

// Stats собирает статистику рантайма и всех томов
func (h *Host) Stats() HostStats {
	h.mu.RLock()
	ticks := h.ticks
	viewers := len(h.viewers)
	h.mu.RUnlock()

	vols := h.Volumes()
	res := HostStats{
		Tasks:   h.rt.Stats(),
		Volumes: make([]lod.VolumeStats, 0, len(vols)),
		Viewers: viewers,
		Ticks:   ticks,
	}
	for _, v := range vols {
		res.Volumes = append(res.Volumes, v.Stats())
	}
	return res
}

// Close сохраняет все тома, дожидается фоновых задач и останавливает свой рантайм
func (h *Host) Close() error {
	if h.closed {
		return nil
	}
	h.closed = true

	for _, v := range h.Volumes() {
		if err := v.saveNow(); err != nil {
			h.logger.Warn("Том %d: сохранение при закрытии не поставлено: %v", v.ID(), err)
		}
	}
	err := h.rt.Drain(h.cfg.CloseTimeout)
	if h.ownsRuntime {
		h.rt.Stop()
	}
	if err != nil {
		return fmt.Errorf("terrain: close: %w", err)
	}
	h.logger.Info("Хост террейна остановлен")
	return nil
}
