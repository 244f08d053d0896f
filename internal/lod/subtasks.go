package lod

import (
	"errors"
	"fmt"

	"github.com/annel0/voxel-lod/internal/logging"
	"github.com/annel0/voxel-lod/internal/mesher"
	"github.com/annel0/voxel-lod/internal/priority"
	"github.com/annel0/voxel-lod/internal/stream"
	"github.com/annel0/voxel-lod/internal/tasks"
	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
)

var errBlockGone = errors.New("lod: block data is gone")

// blockTask - общая часть подзадач одного блока
type blockTask struct {
	data     *UpdateData
	registry *Registry
	lod      int
	pos      vec.Vec3
	lodCount int
	dep      priority.Dependency
	ran      bool
}

func (t *blockTask) Priority() tasks.Priority {
	p, _ := t.dep.Evaluate(t.lod, t.lodCount)
	return p
}

// IsCancelled - том удалён или блок ушёл дальше дистанции отбрасывания
// от наблюдателей последнего тика
func (t *blockTask) IsCancelled() bool {
	return !t.registry.IsAlive(t.data) || t.dep.WithViewers(t.data.viewers.Load()).ShouldDrop()
}

// alive проверяет том в основном потоке перед публикацией результата
func (t *blockTask) alive() bool {
	return t.registry.IsAlive(t.data)
}

func (t *blockTask) blockSize() int { return t.data.Map.BlockSize() }

func (t *blockTask) origin() vec.Vec3 {
	return voxel.BlockVoxelBox(t.pos, t.lod, t.data.Map.BlockSizePo2()).Pos
}

// streamingTask загружает блок из потока. При промахе ставит задачу генерации.
type streamingTask struct {
	blockTask
	deps *StreamingDependency

	voxels    *voxel.Buffer
	delegated bool
	err       error
}

func (t *streamingTask) Kind() tasks.Kind { return tasks.KindStreaming }

func (t *streamingTask) Run(ctx *tasks.TaskContext) {
	t.ran = true
	buf, err := t.deps.Stream.LoadBlock(ctx.Ctx, stream.BlockKey{Lod: t.lod, Position: t.pos}, t.blockSize())
	if errors.Is(err, stream.ErrBlockNotFound) {
		gen := &generationTask{blockTask: t.blockTask, deps: t.deps}
		gen.ran = false
		if err := ctx.Spawn(gen); err != nil {
			t.err = fmt.Errorf("не удалось поставить генерацию блока: %w", err)
			return
		}
		t.delegated = true
		return
	}
	if err != nil {
		logging.GetLodLogger().Warn("Ошибка загрузки блока %s LOD %d из %s: %v", t.pos, t.lod, t.deps.Stream.Name(), err)
		t.err = err
		return
	}
	t.voxels = buf
}

func (t *streamingTask) ApplyResult() {
	if t.delegated || !t.alive() {
		return
	}
	t.data.pushCompletion(completion{
		kind:      completionLoaded,
		lod:       t.lod,
		pos:       t.pos,
		voxels:    t.voxels,
		err:       t.err,
		cancelled: !t.ran,
	})
}

// generationTask заполняет блок генератором
type generationTask struct {
	blockTask
	deps *StreamingDependency

	voxels *voxel.Buffer
	err    error
}

func (t *generationTask) Kind() tasks.Kind { return tasks.KindGeneration }

func (t *generationTask) Run(ctx *tasks.TaskContext) {
	t.ran = true
	buf := voxel.NewBuffer(t.blockSize())
	if err := t.deps.Generator.GenerateBlock(ctx.Ctx, buf, t.origin(), t.lod); err != nil {
		t.err = err
		return
	}
	t.voxels = buf
}

func (t *generationTask) ApplyResult() {
	if !t.alive() {
		return
	}
	t.data.pushCompletion(completion{
		kind:      completionLoaded,
		lod:       t.lod,
		pos:       t.pos,
		voxels:    t.voxels,
		generated: true,
		err:       t.err,
		cancelled: !t.ran,
	})
}

// meshingTask строит меш по снимку вокселей блока и его соседей
type meshingTask struct {
	blockTask
	deps *MeshingDependency
	mask uint8

	mesh *mesher.Mesh
	err  error
}

func (t *meshingTask) Kind() tasks.Kind { return tasks.KindMeshing }

func (t *meshingTask) Run(ctx *tasks.TaskContext) {
	t.ran = true
	m := t.data.Map
	voxels := m.SnapshotVoxels(t.lod, t.pos)
	if voxels == nil {
		t.err = errBlockGone
		return
	}
	in := mesher.Input{Voxels: voxels, Lod: t.lod, TransitionMask: t.mask}
	for s := vec.Side(0); s < vec.SideCount; s++ {
		in.Neighbors[s] = m.SnapshotVoxels(t.lod, t.pos.Add(vec.SideNormals[s]))
	}
	t.mesh, t.err = t.deps.Mesher.Build(ctx.Ctx, in)
}

func (t *meshingTask) ApplyResult() {
	if !t.alive() {
		return
	}
	t.data.pushCompletion(completion{
		kind:      completionMeshed,
		lod:       t.lod,
		pos:       t.pos,
		mesh:      t.mesh,
		err:       t.err,
		cancelled: !t.ran,
	})
}

// saveTask сохраняет пачку блоков в поток
type saveTask struct {
	data     *UpdateData
	registry *Registry
	stream   stream.Stream
	blocks   []stream.BlockData
	attempt  int

	err error
}

func (t *saveTask) Kind() tasks.Kind { return tasks.KindStreaming }

func (t *saveTask) Priority() tasks.Priority {
	return tasks.NewPriority(tasks.BandSubTask, 0, 0)
}

func (t *saveTask) Run(ctx *tasks.TaskContext) {
	if err := t.stream.SaveBlocks(ctx.Ctx, t.blocks); err != nil {
		logging.GetLodLogger().Warn("Ошибка сохранения %d блоков в %s (попытка %d): %v",
			len(t.blocks), t.stream.Name(), t.attempt+1, err)
		t.err = err
	}
}

func (t *saveTask) ApplyResult() {
	// Сохранение выполняется и для удалённого тома, повтор - только для живого
	if t.err == nil || !t.registry.IsAlive(t.data) {
		return
	}
	t.data.pushCompletion(completion{kind: completionSaved, saved: t.blocks, attempt: t.attempt + 1, err: t.err})
}
