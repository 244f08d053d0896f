package lod

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annel0/voxel-lod/internal/logging"
	"github.com/annel0/voxel-lod/internal/priority"
	"github.com/annel0/voxel-lod/internal/stream"
	"github.com/annel0/voxel-lod/internal/tasks"
	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrUpdateInFlight - у тома уже есть незавершённая задача обновления
var ErrUpdateInFlight = errors.New("lod: update already in flight")

var errRunAborted = errors.New("lod: update run aborted")

const maxSaveAttempts = 3

var tracer = otel.Tracer("github.com/annel0/voxel-lod/internal/lod")

// UpdateTaskParams - входные данные одного запуска
type UpdateTaskParams struct {
	Data      *UpdateData
	Registry  *Registry
	Streaming *StreamingDependency
	Meshing   *MeshingDependency
	// Viewers - мировые позиции наблюдателей, общий снимок тика
	Viewers *priority.ViewersData
	// Transform - мировое преобразование тома
	Transform vec.Transform3D
	// OnResult вызывается в основном потоке, если том ещё жив
	OnResult func(*UpdateResult)
}

// UpdateTask решает, какие блоки грузить, мешить, показывать и выгружать.
// Run выполняется в фоне и не трогает ничего, кроме данных своего тома;
// всё видимое движку уходит в UpdateResult.
type UpdateTask struct {
	p      UpdateTaskParams
	result *UpdateResult
	logger *logging.Logger
}

// NewUpdateTask проверяет зависимости и занимает слот обновления тома.
// Если предыдущая задача тома ещё не применена, возвращает ErrUpdateInFlight.
func NewUpdateTask(p UpdateTaskParams) (*UpdateTask, error) {
	switch {
	case p.Data == nil:
		return nil, fmt.Errorf("%w: update data is nil", ErrInvalidDependency)
	case p.Registry == nil:
		return nil, fmt.Errorf("%w: registry is nil", ErrInvalidDependency)
	case p.Streaming == nil || p.Streaming.Generator == nil:
		return nil, fmt.Errorf("%w: streaming dependency without generator", ErrInvalidDependency)
	case p.Meshing == nil || p.Meshing.Mesher == nil:
		return nil, fmt.Errorf("%w: meshing dependency without mesher", ErrInvalidDependency)
	}
	if p.Viewers == nil {
		p.Viewers = priority.NewViewersData(nil)
	}
	if !p.Data.inFlight.CompareAndSwap(false, true) {
		return nil, ErrUpdateInFlight
	}
	return &UpdateTask{p: p, logger: logging.GetLodLogger()}, nil
}

// Abort освобождает слот обновления задачи, которая так и не была поставлена
func (t *UpdateTask) Abort() {
	t.p.Data.inFlight.Store(false)
}

func (t *UpdateTask) Kind() tasks.Kind { return tasks.KindUpdate }

func (t *UpdateTask) Priority() tasks.Priority {
	return tasks.NewPriority(tasks.BandUpdate, 0, 0)
}

// Result возвращает результат последнего Run
func (t *UpdateTask) Result() *UpdateResult { return t.result }

// Run выполняет один проход обновления
func (t *UpdateTask) Run(ctx *tasks.TaskContext) {
	start := time.Now()
	d := t.p.Data

	spanCtx, span := tracer.Start(ctx.Ctx, "lod.update",
		trace.WithAttributes(attribute.Int("volume.id", int(d.id))))
	defer span.End()

	d.SetViewers(t.p.Viewers)
	r := newUpdateRun(t, spanCtx)
	defer func() {
		if rec := recover(); rec != nil {
			r.rollback()
			panic(rec)
		}
	}()
	r.applyCompletions()
	r.computeRequired()
	r.diffRequired()
	r.flushEdits()
	r.updateActivity()
	r.emit()
	r.spawn(ctx)

	d.runs.Add(1)
	r.collectStats(time.Since(start))
	t.result = r.res

	span.SetAttributes(
		attribute.Int("emitted.streaming", r.res.Emitted.Streaming),
		attribute.Int("emitted.generation", r.res.Emitted.Generation),
		attribute.Int("emitted.meshing", r.res.Emitted.Meshing),
		attribute.Int("unloaded", r.res.Emitted.Unloaded),
	)
	if r.res.Emitted.Total() > 0 || r.res.Emitted.Unloaded > 0 {
		t.logger.Debug("Том %d: загрузка %d, генерация %d, мешинг %d, выгрузка %d за %s",
			d.id, r.res.Emitted.Streaming, r.res.Emitted.Generation, r.res.Emitted.Meshing,
			r.res.Emitted.Unloaded, time.Since(start))
	}
}

// ApplyResult передаёт результат хосту. Результат удалённого тома отбрасывается.
func (t *UpdateTask) ApplyResult() {
	defer t.p.Data.inFlight.Store(false)
	if t.result == nil || !t.p.Registry.IsAlive(t.p.Data) {
		return
	}
	if t.p.OnResult != nil {
		t.p.OnResult(t.result)
	}
}

// updateRun - рабочее состояние одного прохода
type updateRun struct {
	task     *UpdateTask
	ctx      context.Context
	data     *UpdateData
	state    *State
	m        *voxel.LodMap
	settings Settings
	lodCount int
	po2      uint
	res      *UpdateResult

	viewers []vec.Vec3Float // в локальных координатах тома
	load    []map[vec.Vec3]struct{}
	mesh    []map[vec.Vec3]struct{}
	// near - блоки из радиусов уровней; только их задачи отменяются по дистанции
	near []map[vec.Vec3]struct{}

	pending []completion
	current *completion

	toLoad     []BlockRef
	newMeshes  []MeshUpdate
	saves      []stream.BlockData
	saveRetry  []completion
	spawned    []tasks.Task
	spawnDone  bool
	dropDistSq float64
}

func newUpdateRun(t *UpdateTask, ctx context.Context) *updateRun {
	d := t.p.Data
	settings := d.Settings()
	return &updateRun{
		task:       t,
		ctx:        ctx,
		data:       d,
		state:      d.State,
		m:          d.Map,
		settings:   settings,
		lodCount:   d.Map.LodCount(),
		po2:        d.Map.BlockSizePo2(),
		res:        &UpdateResult{VolumeID: d.id, RunID: uuid.NewString()},
		dropDistSq: settings.DropDistance * settings.DropDistance,
	}
}

// applyCompletions учитывает результаты подзадач, пришедшие с прошлого прохода
func (r *updateRun) applyCompletions() {
	r.pending = r.data.takeCompletions()
	for len(r.pending) > 0 {
		c := r.pending[0]
		r.pending = r.pending[1:]
		r.current = &c
		r.applyCompletion(c)
	}
	r.current = nil
}

func (r *updateRun) applyCompletion(c completion) {
	switch c.kind {
	case completionLoaded:
		r.applyLoaded(c)
	case completionMeshed:
		r.applyMeshed(c)
	case completionSaved:
		if c.attempt < maxSaveAttempts {
			r.saveRetry = append(r.saveRetry, c)
			return
		}
		// Блоки, оставшиеся в памяти, сохранятся при выгрузке или следующем сохранении
		kept := 0
		for _, b := range c.saved {
			if r.m.MarkModified(b.Key.Lod, b.Key.Position) {
				kept++
			}
		}
		r.task.logger.Error("Том %d: %d блоков не сохранены после %d попыток (в памяти осталось %d): %v",
			r.data.id, len(c.saved), c.attempt, kept, c.err)
	}
}

// rollback вызывается после паники в Run. Неучтённые результаты возвращаются
// в инбокс, блоки, чьи задачи так и не были поставлены, освобождаются.
func (r *updateRun) rollback() {
	if c := r.current; c != nil {
		r.release(c.kind, c.lod, c.pos)
		if c.kind == completionSaved {
			r.data.pushCompletion(*c)
		}
	}
	for _, c := range r.pending {
		r.data.pushCompletion(c)
	}
	r.pending = nil
	if r.spawnDone {
		return
	}

	for _, ref := range r.toLoad {
		r.release(completionLoaded, ref.Lod, ref.Position)
	}
	for _, t := range r.spawned {
		if mt, ok := t.(*meshingTask); ok {
			r.release(completionMeshed, mt.lod, mt.pos)
		}
	}
	if len(r.saves) > 0 {
		r.data.pushCompletion(completion{kind: completionSaved, saved: r.saves, err: errRunAborted})
	}
	for _, c := range r.saveRetry {
		r.data.pushCompletion(c)
	}
}

// release снимает с блока незавершённую задачу так же, как при её отказе
func (r *updateRun) release(kind completionKind, lod int, pos vec.Vec3) {
	st := r.state.Get(lod, pos)
	if st == nil {
		return
	}
	switch {
	case kind == completionLoaded && st.inflight == inflightStreaming:
		st.State = StateUnloaded
	case kind == completionMeshed && st.inflight == inflightMeshing:
		st.State = StateLoaded
		st.Dirty = true
	default:
		return
	}
	st.inflight = inflightNone
	st.Retries++
	r.data.retries.Add(1)
}

func (r *updateRun) applyLoaded(c completion) {
	st := r.state.Get(c.lod, c.pos)
	if st == nil || st.inflight != inflightStreaming {
		return
	}
	st.inflight = inflightNone

	if st.State == StateUnloadRequested {
		r.unload(c.lod, c.pos, st)
		return
	}
	if c.failed() {
		r.data.retries.Add(1)
		st.Retries++
		st.State = StateUnloaded
		return
	}

	b := voxel.NewBlock(c.pos, c.lod, r.m.BlockSize())
	b.Voxels = c.voxels
	r.m.SetBlock(b)
	r.markLoaded(c.lod, c.pos, st)
}

// markLoaded переводит блок с данными в Loaded
func (r *updateRun) markLoaded(lod int, pos vec.Vec3, st *BlockStatus) {
	st.State = StateLoaded
	st.Dirty = true
	if lod == 0 {
		r.res.EditedBoxes = append(r.res.EditedBoxes, applyDeferred(r.state, r.m, pos)...)
		if r.settings.RequestInstances {
			r.res.InstancesLoad = append(r.res.InstancesLoad, pos)
		}
	}
	// Граница соседей изменилась
	for s := vec.Side(0); s < vec.SideCount; s++ {
		if ns := r.state.Get(lod, pos.Add(vec.SideNormals[s])); ns != nil && ns.HasMesh {
			ns.Dirty = true
		}
	}
}

func (r *updateRun) applyMeshed(c completion) {
	st := r.state.Get(c.lod, c.pos)
	if st == nil || st.inflight != inflightMeshing {
		return
	}
	st.inflight = inflightNone

	if st.State == StateUnloadRequested {
		r.unload(c.lod, c.pos, st)
		return
	}
	if c.failed() {
		r.data.retries.Add(1)
		st.Retries++
		st.State = StateLoaded
		st.Dirty = true
		return
	}
	replaced := st.HasMesh
	st.State = StateVisible
	st.HasMesh = true
	r.newMeshes = append(r.newMeshes, MeshUpdate{BlockRef: BlockRef{Lod: c.lod, Position: c.pos}, Mesh: c.mesh, Replaced: replaced})
}

// computeRequired переводит наблюдателей в локальные координаты и строит
// множества блоков, которые должны быть загружены и отрисованы на каждом уровне
func (r *updateRun) computeRequired() {
	inv, ok := r.task.p.Transform.AffineInverse()
	if !ok {
		r.task.logger.Warn("Том %d: вырожденное преобразование, используется единичное", r.data.id)
	}
	for _, v := range r.task.p.Viewers.Viewers {
		if !v.IsFinite() {
			continue
		}
		r.viewers = append(r.viewers, inv.Xform(v))
	}

	r.load = make([]map[vec.Vec3]struct{}, r.lodCount)
	r.mesh = make([]map[vec.Vec3]struct{}, r.lodCount)
	r.near = make([]map[vec.Vec3]struct{}, r.lodCount)
	for lod := range r.mesh {
		r.mesh[lod] = make(map[vec.Vec3]struct{})
		r.near[lod] = make(map[vec.Vec3]struct{})
	}

	for _, vp := range r.viewers {
		vb := vp.Floor()
		for lod := 0; lod < r.lodCount; lod++ {
			center := vb.Shr(r.po2 + uint(lod))
			rad := r.settings.Radius(lod)
			area := vec.Box{
				Pos:  center.Sub(vec.Vec3{X: rad, Y: rad, Z: rad}),
				Size: vec.Vec3{X: 2*rad + 1, Y: 2*rad + 1, Z: 2*rad + 1},
			}
			area.ForEach(func(p vec.Vec3) {
				// Блок дальше дистанции отбрасывания не запрашивается вовсе,
				// иначе его задача отменялась бы в каждом проходе
				if r.inBounds(lod, p) && !r.dependency(BlockRef{Lod: lod, Position: p}).ShouldDrop() {
					r.mesh[lod][p] = struct{}{}
					r.near[lod][p] = struct{}{}
				}
			})
		}
	}

	// Родитель каждого нужного блока тоже нужен
	for lod := 0; lod+1 < r.lodCount; lod++ {
		for p := range r.mesh[lod] {
			r.mesh[lod+1][p.Shr(1)] = struct{}{}
		}
	}

	if !r.settings.FullLoadMode {
		r.load = r.mesh
		return
	}
	for lod := 0; lod < r.lodCount; lod++ {
		set := make(map[vec.Vec3]struct{}, len(r.mesh[lod]))
		r.settings.Bounds.Downscaled(r.po2 + uint(lod)).ForEach(func(p vec.Vec3) {
			set[p] = struct{}{}
		})
		for p := range r.mesh[lod] {
			set[p] = struct{}{}
		}
		r.load[lod] = set
	}
}

func (r *updateRun) inBounds(lod int, p vec.Vec3) bool {
	if r.settings.Bounds.IsEmpty() {
		return true
	}
	return voxel.BlockVoxelBox(p, lod, r.po2).Intersects(r.settings.Bounds)
}

// diffRequired сравнивает нужные блоки с состоянием
func (r *updateRun) diffRequired() {
	for lod := 0; lod < r.lodCount; lod++ {
		for p := range r.load[lod] {
			st, created := r.state.GetOrAdd(lod, p)
			switch {
			case created || st.State == StateUnloaded:
				if r.m.HasBlock(lod, p) {
					r.markLoaded(lod, p, st)
					continue
				}
				st.State = StateStreamingRequested
				st.inflight = inflightStreaming
				r.toLoad = append(r.toLoad, BlockRef{Lod: lod, Position: p})
			case st.State == StateUnloadRequested:
				// Блок снова нужен, пока его задача ещё не вернулась
				if st.inflight == inflightStreaming {
					st.State = StateStreamingRequested
				} else {
					st.State = StateMeshingRequested
				}
			}
		}

		for _, p := range r.state.Positions(lod) {
			if _, ok := r.load[lod][p]; ok {
				continue
			}
			st := r.state.Get(lod, p)
			if st.InFlight() {
				st.State = StateUnloadRequested
				continue
			}
			r.unload(lod, p, st)
		}

		if !r.settings.FullLoadMode {
			continue
		}
		// Блок нужен только как данные: меш больше не показываем
		r.state.ForEach(lod, func(p vec.Vec3, st *BlockStatus) {
			if _, want := r.mesh[lod][p]; want || !st.HasMesh || st.InFlight() {
				return
			}
			st.HasMesh = false
			st.State = StateLoaded
			r.res.DroppedMeshes = append(r.res.DroppedMeshes, BlockRef{Lod: lod, Position: p})
		})
	}
}

// unload удаляет блок из карты и состояния. Изменённые данные уходят на сохранение.
func (r *updateRun) unload(lod int, p vec.Vec3, st *BlockStatus) {
	b := r.m.EraseBlock(lod, p)
	if b != nil && b.Modified {
		r.saves = append(r.saves, stream.BlockData{Key: stream.BlockKey{Lod: lod, Position: p}, Voxels: b.Voxels})
	}
	if st.HasMesh {
		r.res.DroppedMeshes = append(r.res.DroppedMeshes, BlockRef{Lod: lod, Position: p})
		if st.Active {
			r.res.DroppedVisible++
		}
	}
	if lod == 0 && b != nil && r.settings.RequestInstances {
		r.res.InstancesUnload = append(r.res.InstancesUnload, p)
	}
	r.state.Remove(lod, p)
	r.res.Emitted.Unloaded++
}

// flushEdits - единственная точка изменения вокселей правками
func (r *updateRun) flushEdits() {
	if edits := r.data.Edits.Drain(); len(edits) > 0 {
		report := FlushPendingLodEdits(r.ctx, r.state, r.m, edits, r.task.p.Streaming.Generator, r.settings.FullLoadMode)
		r.res.EditedBoxes = append(r.res.EditedBoxes, report.Boxes...)
	}

	if r.data.saveAll.Swap(false) {
		if r.task.p.Streaming.Stream == nil {
			r.task.logger.Debug("Том %d: сохранение запрошено, но поток не настроен", r.data.id)
			return
		}
		for _, b := range r.m.CollectModified() {
			r.saves = append(r.saves, stream.BlockData{Key: stream.BlockKey{Lod: b.Lod, Position: b.Position}, Voxels: b.Voxels})
		}
	}
}

// updateActivity пересчитывает сверху вниз, какие узлы октодерева отображаются,
// и маски перехода у блоков, чьё окружение изменилось
func (r *updateRun) updateActivity() {
	top := r.lodCount - 1
	split := make([]map[vec.Vec3]bool, r.lodCount)
	var changed []BlockRef

	for lod := top; lod >= 0; lod-- {
		split[lod] = make(map[vec.Vec3]bool)
		r.state.ForEach(lod, func(p vec.Vec3, st *BlockStatus) {
			reachable := lod == top || split[lod+1][p.Shr(1)]
			isSplit := reachable && lod > 0 && r.childrenMeshed(lod, p)
			if isSplit {
				split[lod][p] = true
			}
			active := reachable && st.HasMesh && !isSplit
			if active == st.Active {
				return
			}
			st.Active = active
			ref := BlockRef{Lod: lod, Position: p}
			changed = append(changed, ref)
			if active {
				r.res.Shown = append(r.res.Shown, ref)
			} else {
				r.res.Hidden = append(r.res.Hidden, ref)
			}
		})
	}

	r.res.MeshUpdates = r.liveMeshUpdates()

	for _, ref := range r.maskAffected(changed) {
		st := r.state.Get(ref.Lod, ref.Position)
		if st == nil {
			continue
		}
		mask := GetTransitionMask(r.state, ref.Position, ref.Lod, r.lodCount)
		if mask == st.TransitionMask {
			continue
		}
		st.TransitionMask = mask
		if st.HasMesh || st.State == StateMeshingRequested {
			st.Dirty = true
		}
	}
}

// liveMeshUpdates отбрасывает меши блоков, выгруженных или лишённых меша
// в этом же проходе. Рендер таких мешей не видел, поэтому и удалять их не нужно.
func (r *updateRun) liveMeshUpdates() []MeshUpdate {
	res := r.newMeshes[:0]
	unseen := make(map[BlockRef]struct{})
	for _, mu := range r.newMeshes {
		st := r.state.Get(mu.Lod, mu.Position)
		if st == nil || !st.HasMesh {
			if !mu.Replaced {
				unseen[mu.BlockRef] = struct{}{}
			}
			continue
		}
		mu.Active = st.Active
		res = append(res, mu)
	}
	if len(unseen) > 0 {
		dropped := r.res.DroppedMeshes[:0]
		for _, ref := range r.res.DroppedMeshes {
			if _, ok := unseen[ref]; !ok {
				dropped = append(dropped, ref)
			}
		}
		r.res.DroppedMeshes = dropped
	}
	return res
}

func (r *updateRun) childrenMeshed(lod int, p vec.Vec3) bool {
	for _, c := range voxel.ChildPositions(p) {
		cs := r.state.Get(lod-1, c)
		if cs == nil || !cs.HasMesh {
			return false
		}
	}
	return true
}

// maskAffected возвращает блоки, маска которых зависит от активности изменённых блоков:
// сам блок, его соседи по граням и блоки уровнем ниже, граничащие с его детьми
func (r *updateRun) maskAffected(changed []BlockRef) []BlockRef {
	seen := make(map[BlockRef]struct{})
	var res []BlockRef
	add := func(ref BlockRef) {
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		res = append(res, ref)
	}
	for _, ref := range changed {
		add(ref)
		for s := vec.Side(0); s < vec.SideCount; s++ {
			n := vec.SideNormals[s]
			add(BlockRef{Lod: ref.Lod, Position: ref.Position.Add(n)})
			if ref.Lod == 0 {
				continue
			}
			for _, c := range voxel.ChildPositions(ref.Position) {
				add(BlockRef{Lod: ref.Lod - 1, Position: c.Sub(n)})
			}
		}
	}
	return res
}

// emit ставит задачи загрузки, мешинга и сохранения
func (r *updateRun) emit() {
	p := r.task.p
	for _, ref := range r.toLoad {
		base := r.blockTask(ref)
		if p.Streaming.Stream != nil {
			r.spawned = append(r.spawned, &streamingTask{blockTask: base, deps: p.Streaming})
			r.res.Emitted.Streaming++
		} else {
			r.spawned = append(r.spawned, &generationTask{blockTask: base, deps: p.Streaming})
			r.res.Emitted.Generation++
		}
	}

	for lod := 0; lod < r.lodCount; lod++ {
		r.state.ForEach(lod, func(pos vec.Vec3, st *BlockStatus) {
			if _, want := r.mesh[lod][pos]; !want {
				return
			}
			needs := (st.State == StateLoaded && (st.Dirty || !st.HasMesh)) ||
				(st.State == StateVisible && st.Dirty)
			if !needs || !r.neighboursReady(lod, pos) {
				return
			}
			mask := GetTransitionMask(r.state, pos, lod, r.lodCount)
			st.TransitionMask = mask
			st.Dirty = false
			st.State = StateMeshingRequested
			st.inflight = inflightMeshing
			r.spawned = append(r.spawned, &meshingTask{
				blockTask: r.blockTask(BlockRef{Lod: lod, Position: pos}),
				deps:      p.Meshing,
				mask:      mask,
			})
			r.res.Emitted.Meshing++
		})
	}

	if p.Streaming.Stream == nil {
		if len(r.saves) > 0 {
			r.data.discarded.Add(uint64(len(r.saves)))
			r.task.logger.Warn("Том %d: поток не настроен, правки %d выгруженных блоков потеряны",
				r.data.id, len(r.saves))
		}
		return
	}
	if len(r.saves) > 0 {
		r.spawned = append(r.spawned, &saveTask{data: r.data, registry: p.Registry, stream: p.Streaming.Stream, blocks: r.saves})
		r.res.Emitted.Save++
	}
	for _, c := range r.saveRetry {
		r.spawned = append(r.spawned, &saveTask{data: r.data, registry: p.Registry, stream: p.Streaming.Stream, blocks: c.saved, attempt: c.attempt})
		r.res.Emitted.Save++
	}
}

// neighboursReady - у всех соседей по граням, нужных на этом уровне, есть данные
func (r *updateRun) neighboursReady(lod int, pos vec.Vec3) bool {
	for s := vec.Side(0); s < vec.SideCount; s++ {
		n := pos.Add(vec.SideNormals[s])
		if _, required := r.load[lod][n]; required && !r.m.HasBlock(lod, n) {
			return false
		}
	}
	return true
}

// dependency связывает блок со снимком наблюдателей тика
func (r *updateRun) dependency(ref BlockRef) priority.Dependency {
	half := float64(int(1)<<(r.po2+uint(ref.Lod))) / 2
	local := ref.Position.Shl(r.po2 + uint(ref.Lod)).ToFloat().Add(vec.Vec3Float{X: half, Y: half, Z: half})
	return priority.Dependency{
		Viewers:             r.task.p.Viewers,
		WorldPosition:       r.task.p.Transform.Xform(local),
		DropDistanceSquared: r.dropDistSq,
	}
}

func (r *updateRun) blockTask(ref BlockRef) blockTask {
	dep := r.dependency(ref)
	// Родители и блоки полной загрузки нужны при любом расстоянии
	if _, ok := r.near[ref.Lod][ref.Position]; !ok {
		dep.DropDistanceSquared = 0
	}
	return blockTask{
		data:     r.data,
		registry: r.task.p.Registry,
		lod:      ref.Lod,
		pos:      ref.Position,
		lodCount: r.lodCount,
		dep:      dep,
	}
}

// spawn отдаёт задачи рантайму. Если рантайм их не принял, блоки
// откатываются через обычный путь отказа и повторяются в следующем проходе.
func (r *updateRun) spawn(ctx *tasks.TaskContext) {
	if len(r.spawned) == 0 {
		r.spawnDone = true
		return
	}
	err := ctx.SpawnBatch(r.spawned)
	r.spawnDone = true
	if err == nil {
		return
	}
	r.task.logger.Warn("Том %d: не удалось поставить %d задач: %v", r.data.id, len(r.spawned), err)
	for _, t := range r.spawned {
		switch t := t.(type) {
		case *streamingTask:
			r.data.pushCompletion(completion{kind: completionLoaded, lod: t.lod, pos: t.pos, cancelled: true})
		case *generationTask:
			r.data.pushCompletion(completion{kind: completionLoaded, lod: t.lod, pos: t.pos, cancelled: true})
		case *meshingTask:
			r.data.pushCompletion(completion{kind: completionMeshed, lod: t.lod, pos: t.pos, cancelled: true})
		case *saveTask:
			r.data.pushCompletion(completion{kind: completionSaved, saved: t.blocks, attempt: t.attempt + 1, err: err})
		}
	}
}

func (r *updateRun) collectStats(elapsed time.Duration) {
	stats := VolumeStats{
		VolumeID:      r.data.id,
		Lods:          make([]LodStats, r.lodCount),
		DeferredEdits: r.state.DeferredCount(),
		MemoryBytes:   r.m.MemoryUsage(),
		LastRun:       elapsed,
		LastRunID:     r.res.RunID,
	}
	for lod := 0; lod < r.lodCount; lod++ {
		ls := LodStats{Lod: lod, Tracked: r.state.Count(lod), DataCount: r.m.BlockCount(lod)}
		r.state.ForEach(lod, func(_ vec.Vec3, st *BlockStatus) {
			switch st.State {
			case StateLoaded, StateMeshingRequested, StateVisible:
				ls.Loaded++
			}
			if st.HasMesh {
				ls.Meshed++
			}
			if st.Active {
				ls.Active++
			}
			if st.InFlight() {
				ls.InFlight++
			}
		})
		stats.Lods[lod] = ls
	}
	r.data.storeStats(stats)
	r.res.Stats = r.data.Stats()
}
