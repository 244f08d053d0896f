package lod

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/annel0/voxel-lod/internal/generator"
	"github.com/annel0/voxel-lod/internal/mesher"
	"github.com/annel0/voxel-lod/internal/priority"
	"github.com/annel0/voxel-lod/internal/stream"
	"github.com/annel0/voxel-lod/internal/tasks"
	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/annel0/voxel-lod/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testVolume - том с рантаймом, в котором задача обновления выполняется
// на горутине теста, а подзадачи - на воркерах
type testVolume struct {
	t         *testing.T
	rt        *tasks.Runtime
	registry  *Registry
	data      *UpdateData
	streaming *StreamingDependency
	meshing   *MeshingDependency
	viewers   []vec.Vec3Float
	transform vec.Transform3D
	results   []*UpdateResult
}

func newTestVolume(t *testing.T, settings Settings, s stream.Stream, gen generator.Generator) *testVolume {
	t.Helper()
	rt := tasks.NewRuntime(tasks.Config{Workers: 4})
	t.Cleanup(rt.Stop)

	registry := NewRegistry()
	data, err := registry.Create(settings)
	require.NoError(t, err)

	if gen == nil {
		gen = generator.Flat{Level: 0, Material: generator.Stone}
	}
	streaming, err := NewStreamingDependency(s, gen)
	require.NoError(t, err)
	meshing, err := NewMeshingDependency(mesher.Blocky{})
	require.NoError(t, err)

	return &testVolume{
		t:         t,
		rt:        rt,
		registry:  registry,
		data:      data,
		streaming: streaming,
		meshing:   meshing,
		transform: vec.IdentityTransform(),
	}
}

func (v *testVolume) newTask() *UpdateTask {
	v.t.Helper()
	task, err := NewUpdateTask(UpdateTaskParams{
		Data:      v.data,
		Registry:  v.registry,
		Streaming: v.streaming,
		Meshing:   v.meshing,
		Viewers:   priority.NewViewersData(v.viewers),
		Transform: v.transform,
		OnResult:  func(r *UpdateResult) { v.results = append(v.results, r) },
	})
	require.NoError(v.t, err)
	return task
}

// run выполняет один проход обновления и применяет его результат
func (v *testVolume) run() *UpdateResult {
	v.t.Helper()
	task := v.newTask()
	task.Run(v.rt.InlineContext())
	task.ApplyResult()
	require.NotNil(v.t, task.Result())
	return task.Result()
}

func (v *testVolume) drain() {
	v.t.Helper()
	require.NoError(v.t, v.rt.Drain(20*time.Second))
}

// settle крутит проходы, пока том не перестанет выдавать работу
func (v *testVolume) settle() {
	v.t.Helper()
	for i := 0; i < 30; i++ {
		res := v.run()
		v.drain()
		if res.Emitted.Total() == 0 && res.Emitted.Save == 0 && v.data.PendingCompletions() == 0 {
			return
		}
	}
	v.t.Fatal("том не пришёл в устойчивое состояние")
}

func (v *testVolume) assertInvariants() {
	v.t.Helper()
	state, m := v.data.State, v.data.Map
	for lod := 0; lod < state.LodCount(); lod++ {
		state.ForEach(lod, func(p vec.Vec3, st *BlockStatus) {
			if st.State == StateVisible {
				assert.True(v.t, m.HasBlock(lod, p), "видимый блок %s LOD %d без данных", p, lod)
			}
			if st.Active {
				assert.True(v.t, st.HasMesh, "активный блок %s LOD %d без меша", p, lod)
				if ps := state.Get(lod+1, p.Shr(1)); ps != nil {
					assert.False(v.t, ps.Active, "блок %s LOD %d и его родитель активны одновременно", p, lod)
				}
			}
		})
		if lod+1 < state.LodCount() {
			m.ForEachBlock(lod, func(b *voxel.Block) {
				assert.True(v.t, m.HasBlock(lod+1, b.Position.Shr(1)),
					"у блока %s LOD %d нет родителя", b.Position, lod)
			})
		}
	}
}

func radiiSettings() Settings {
	return Settings{LodCount: 3, BlockSizePo2: 4, Radii: []int{4, 2, 1}}
}

func TestUpdateTask_RadiiScenario(t *testing.T) {
	v := newTestVolume(t, radiiSettings(), nil, nil)
	v.viewers = []vec.Vec3Float{{}}

	res := v.run()
	assert.Equal(t, 729+125+27, res.Emitted.Generation, "без потока блоки генерируются")
	assert.Zero(t, res.Emitted.Streaming)
	assert.Equal(t, 729, v.data.State.Count(0))
	assert.Equal(t, 125, v.data.State.Count(1))
	assert.Equal(t, 27, v.data.State.Count(2))
	for lod, r := range []int{4, 2, 1} {
		v.data.State.ForEach(lod, func(p vec.Vec3, _ *BlockStatus) {
			assert.LessOrEqual(t, p.ChebyshevDistance(vec.Vec3{}), r)
		})
	}

	v.drain()
	v.settle()
	v.assertInvariants()

	// Сдвиг на один блок LOD 0 по X
	v.viewers = []vec.Vec3Float{{X: 16}}
	res = v.run()
	assert.Equal(t, 81, res.Emitted.Generation, "грузится только новая грань")
	assert.Equal(t, 81, res.Emitted.Unloaded, "выгружается только старая грань")
	assert.Equal(t, 729, v.data.State.Count(0))
	assert.Equal(t, 125, v.data.State.Count(1))
	assert.Equal(t, 27, v.data.State.Count(2))
	assert.Nil(t, v.data.State.Get(0, vec.Vec3{X: -4}))
	assert.NotNil(t, v.data.State.Get(0, vec.Vec3{X: 5}))

	v.drain()
	v.settle()
	v.assertInvariants()
}

func TestUpdateTask_Idempotent(t *testing.T) {
	v := newTestVolume(t, Settings{LodCount: 2, BlockSizePo2: 3, Radii: []int{2, 1}}, nil, nil)
	v.viewers = []vec.Vec3Float{{X: 3, Y: 3, Z: 3}}

	first := v.run()
	assert.NotZero(t, first.Emitted.Total())
	second := v.run()
	assert.Zero(t, second.Emitted.Total(), "повторный проход без изменений ничего не ставит")
	assert.Zero(t, second.Emitted.Unloaded)

	v.drain()
	v.settle()
	again := v.run()
	assert.Zero(t, again.Emitted.Total())
	assert.Zero(t, again.Emitted.Unloaded)
	assert.Empty(t, again.MeshUpdates)
	v.assertInvariants()
}

func TestUpdateTask_ActivityAndMeshes(t *testing.T) {
	v := newTestVolume(t, Settings{LodCount: 2, BlockSizePo2: 3, Radii: []int{1, 1}}, nil,
		generator.Flat{Level: 4, Material: generator.Stone})
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}
	v.settle()
	v.assertInvariants()

	// LOD 1 (0,0,0): все 8 детей загружены и имеют меш - узел разделён
	root := v.data.State.Get(1, vec.Vec3{})
	require.NotNil(t, root)
	assert.True(t, root.HasMesh)
	assert.False(t, root.Active)
	for _, c := range voxel.ChildPositions(vec.Vec3{}) {
		assert.True(t, v.data.State.Get(0, c).Active, "ребёнок %s", c)
	}

	var meshes, shown int
	for _, r := range v.results {
		meshes += len(r.MeshUpdates)
		shown += len(r.Shown)
	}
	assert.NotZero(t, meshes)
	assert.NotZero(t, shown)

	stats := v.data.Stats()
	require.Len(t, stats.Lods, 2)
	assert.Equal(t, v.data.State.Count(0), stats.Lods[0].Loaded)
	assert.NotZero(t, stats.Lods[0].Active)
	assert.NotZero(t, stats.MemoryBytes)
}

func TestUpdateTask_ConcurrentEditsAppliedOnce(t *testing.T) {
	v := newTestVolume(t, Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{1}}, nil,
		generator.Flat{Level: -100})
	v.viewers = []vec.Vec3Float{{X: 1, Y: 1, Z: 1}}
	v.settle()
	require.True(t, v.data.Map.HasBlock(0, vec.Vec3{}))

	increment := func(_ vec.Vec3, cur voxel.Voxel) voxel.Voxel { return cur + 1 }
	start := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for i := 0; i < 100; i++ {
				v.data.Edits.PushFunc(unitBox, increment)
			}
		}()
	}

	close(start)
	v.run() // проход идёт одновременно с правками
	wg.Wait()
	v.run()
	v.drain()

	assert.Zero(t, v.data.Edits.Len())
	assert.Equal(t, voxel.Voxel(1000), v.data.Map.GetBlock(0, vec.Vec3{}).Voxels.Get(0, 0, 0))

	v.run()
	assert.Equal(t, voxel.Voxel(1000), v.data.Map.GetBlock(0, vec.Vec3{}).Voxels.Get(0, 0, 0), "правки не применяются повторно")
}

// gatedMesher держит мешинг, пока тест не откроет release
type gatedMesher struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedMesher) Build(ctx context.Context, in mesher.Input) (*mesher.Mesh, error) {
	g.started <- struct{}{}
	<-g.release
	return mesher.Blocky{}.Build(ctx, in)
}

func TestUpdateTask_DestroyWithMeshingInFlight(t *testing.T) {
	settings := Settings{
		LodCount:     1,
		BlockSizePo2: 3,
		Radii:        []int{1},
		Bounds:       vec.Box{Size: vec.Vec3{X: 24, Y: 8, Z: 8}},
	}
	v := newTestVolume(t, settings, nil, generator.Flat{Level: 4, Material: generator.Stone})
	v.viewers = []vec.Vec3Float{{X: 12, Y: 4, Z: 4}}

	res := v.run()
	require.Equal(t, 3, res.Emitted.Generation)
	v.drain()

	gate := &gatedMesher{started: make(chan struct{}, 3), release: make(chan struct{})}
	v.meshing = &MeshingDependency{Mesher: gate}
	res = v.run()
	require.Equal(t, 3, res.Emitted.Meshing)

	for i := 0; i < 3; i++ {
		select {
		case <-gate.started:
		case <-time.After(10 * time.Second):
			t.Fatal("мешинг не стартовал")
		}
	}

	removed := v.registry.Remove(v.data.ID())
	require.Same(t, v.data, removed)
	close(gate.release)

	assert.NotPanics(t, v.drain)
	assert.True(t, v.data.Destroyed())
	assert.Zero(t, v.data.PendingCompletions(), "результаты удалённого тома отброшены")
	assert.Equal(t, uint64(3), v.rt.Stats().Kind(tasks.KindMeshing).Completed)

	// Проход для удалённого тома не публикует результат
	before := len(v.results)
	v.run()
	assert.Len(t, v.results, before)
}

func TestUpdateTask_StreamHitAndMiss(t *testing.T) {
	codec, err := stream.NewCodec(0)
	require.NoError(t, err)
	mem := stream.NewMemoryStream(codec)

	stored := voxel.NewBuffer(8)
	stored.Fill(7)
	require.NoError(t, mem.SaveBlocks(context.Background(), []stream.BlockData{
		{Key: stream.BlockKey{Lod: 0, Position: vec.Vec3{}}, Voxels: stored},
	}))

	v := newTestVolume(t, Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{1}}, mem, nil)
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}

	res := v.run()
	assert.Equal(t, 27, res.Emitted.Streaming)
	assert.Zero(t, res.Emitted.Generation)
	v.drain()
	v.settle()

	val, uniform := v.data.Map.GetBlock(0, vec.Vec3{}).Voxels.IsUniform()
	assert.True(t, uniform)
	assert.Equal(t, voxel.Voxel(7), val, "блок взят из потока")

	stats := v.rt.Stats()
	assert.Equal(t, uint64(26), stats.Kind(tasks.KindGeneration).Completed, "промахи ушли в генерацию")
	assert.Equal(t, int64(27), mem.Loads())
}

func TestUpdateTask_DeferredEditAndSaveOnUnload(t *testing.T) {
	codec, err := stream.NewCodec(0)
	require.NoError(t, err)
	mem := stream.NewMemoryStream(codec)

	v := newTestVolume(t, Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{0}}, mem, generator.Flat{Level: -100})
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}
	v.settle()

	// Правка незагруженного блока откладывается
	far := vec.Box{Pos: vec.Vec3{X: 100, Y: 4, Z: 4}, Size: vec.Vec3{X: 1, Y: 1, Z: 1}}
	v.data.Edits.Push(voxel.SetVoxels(far, 6))
	v.run()
	assert.Equal(t, 1, v.data.Stats().DeferredEdits)

	// Наблюдатель приходит к блоку - правка применяется после загрузки
	v.viewers = []vec.Vec3Float{{X: 100, Y: 4, Z: 4}}
	v.settle()
	farBlock := far.Pos.Shr(3)
	b := v.data.Map.GetBlock(0, farBlock)
	require.NotNil(t, b)
	assert.Equal(t, voxel.Voxel(6), b.Voxels.Get(4, 4, 4))
	assert.Zero(t, v.data.Stats().DeferredEdits)

	// Уходим - изменённый блок сохраняется в поток при выгрузке
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}
	res := v.run()
	assert.Equal(t, 1, res.Emitted.Save)
	v.drain()

	saved, err := mem.LoadBlock(context.Background(), stream.BlockKey{Position: farBlock}, 8)
	require.NoError(t, err)
	assert.Equal(t, voxel.Voxel(6), saved.Get(4, 4, 4))
}

func TestUpdateTask_UnloadWithoutStreamCountsDiscardedEdits(t *testing.T) {
	v := newTestVolume(t, Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{0}}, nil, nil)
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}
	v.settle()

	v.data.Edits.Push(voxel.SetVoxels(unitBox, 6))
	v.run()
	assert.Zero(t, v.data.Stats().DiscardedBlocks)

	v.viewers = []vec.Vec3Float{{X: 100, Y: 4, Z: 4}}
	res := v.run()
	assert.Zero(t, res.Emitted.Save)
	assert.Equal(t, uint64(1), v.data.Stats().DiscardedBlocks)
}

func TestUpdateTask_SaveAll(t *testing.T) {
	codec, err := stream.NewCodec(0)
	require.NoError(t, err)
	mem := stream.NewMemoryStream(codec)

	v := newTestVolume(t, Settings{LodCount: 2, BlockSizePo2: 3, Radii: []int{0, 0}}, mem, generator.Flat{Level: -100})
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}
	v.settle()

	v.data.Edits.Push(voxel.SetVoxels(unitBox, 2))
	v.data.RequestSaveAll()
	v.run()
	v.drain()
	v.run()

	// Сохранены блок LOD 0 и пересчитанный родитель LOD 1
	_, err = mem.LoadBlock(context.Background(), stream.BlockKey{Lod: 0}, 8)
	assert.NoError(t, err)
	_, err = mem.LoadBlock(context.Background(), stream.BlockKey{Lod: 1}, 8)
	assert.NoError(t, err)
}

// flakyStream отказывает на первых failures загрузках
type flakyStream struct {
	stream.Stream
	failures atomic.Int64
}

func (s *flakyStream) LoadBlock(ctx context.Context, key stream.BlockKey, size int) (*voxel.Buffer, error) {
	if s.failures.Add(-1) >= 0 {
		return nil, errors.New("диск недоступен")
	}
	return s.Stream.LoadBlock(ctx, key, size)
}

// failingSaveStream отказывает на первых failures сохранениях
type failingSaveStream struct {
	stream.Stream
	failures atomic.Int64
}

func (s *failingSaveStream) SaveBlocks(ctx context.Context, blocks []stream.BlockData) error {
	if s.failures.Add(-1) >= 0 {
		return errors.New("диск переполнен")
	}
	return s.Stream.SaveBlocks(ctx, blocks)
}

func newFailingSaveVolume(t *testing.T, failures int64) (*testVolume, *stream.MemoryStream) {
	t.Helper()
	codec, err := stream.NewCodec(0)
	require.NoError(t, err)
	mem := stream.NewMemoryStream(codec)
	fs := &failingSaveStream{Stream: mem}
	fs.failures.Store(failures)

	v := newTestVolume(t, Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{0}}, fs, generator.Flat{Level: -100})
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}
	v.settle()
	return v, mem
}

func TestUpdateTask_FailedSaveAllKeepsEditForUnload(t *testing.T) {
	v, mem := newFailingSaveVolume(t, 1)

	v.data.Edits.Push(voxel.SetVoxels(unitBox, 6))
	v.run()

	task, err := NewSaveAllTask(v.data, v.streaming.Stream)
	require.NoError(t, err)
	task.Run(tasks.NewTestContext(context.Background()))
	task.ApplyResult()
	require.Error(t, task.Err())
	assert.True(t, v.data.Map.GetBlock(0, vec.Vec3{}).Modified)

	v.viewers = []vec.Vec3Float{{X: 100, Y: 4, Z: 4}}
	res := v.run()
	assert.Equal(t, 1, res.Emitted.Save, "изменённый блок сохраняется при выгрузке")
	v.drain()

	saved, err := mem.LoadBlock(context.Background(), stream.BlockKey{}, 8)
	require.NoError(t, err)
	assert.Equal(t, voxel.Voxel(6), saved.Get(0, 0, 0))
}

func TestUpdateTask_ExhaustedSaveRetriesKeepBlockModified(t *testing.T) {
	v, mem := newFailingSaveVolume(t, maxSaveAttempts)

	v.data.Edits.Push(voxel.SetVoxels(unitBox, 6))
	v.data.RequestSaveAll()
	for i := 0; i < maxSaveAttempts; i++ {
		assert.Equal(t, 1, v.run().Emitted.Save, "попытка %d", i+1)
		v.drain()
	}
	assert.Zero(t, v.run().Emitted.Save, "попытки исчерпаны")
	assert.True(t, v.data.Map.GetBlock(0, vec.Vec3{}).Modified)

	v.viewers = []vec.Vec3Float{{X: 100, Y: 4, Z: 4}}
	assert.Equal(t, 1, v.run().Emitted.Save)
	v.drain()

	saved, err := mem.LoadBlock(context.Background(), stream.BlockKey{}, 8)
	require.NoError(t, err)
	assert.Equal(t, voxel.Voxel(6), saved.Get(0, 0, 0))
}

func TestUpdateTask_FailedStreamingIsRetried(t *testing.T) {
	codec, err := stream.NewCodec(0)
	require.NoError(t, err)
	flaky := &flakyStream{Stream: stream.NewMemoryStream(codec)}
	flaky.failures.Store(1)

	v := newTestVolume(t, Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{0}}, flaky, nil)
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}

	assert.Equal(t, 1, v.run().Emitted.Streaming)
	v.drain()

	res := v.run()
	st := v.data.State.Get(0, vec.Vec3{})
	require.NotNil(t, st)
	assert.Equal(t, 1, st.Retries)
	assert.Equal(t, uint64(1), res.Stats.Retries)
	assert.Equal(t, 1, res.Emitted.Streaming, "блок запрошен повторно в том же проходе")

	v.drain()
	v.settle()
	assert.True(t, v.data.Map.HasBlock(0, vec.Vec3{}))
}

func TestUpdateTask_PanicReturnsCompletions(t *testing.T) {
	v := newTestVolume(t, Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{1}}, nil, nil)
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}

	// Отложенная правка падает при применении к загруженному блоку
	v.data.Edits.Push(voxel.Edit{Box: unitBox, Fn: func(vec.Vec3, voxel.Voxel) voxel.Voxel {
		panic("сбой правки")
	}})
	assert.Equal(t, 27, v.run().Emitted.Generation)
	v.drain()
	require.Equal(t, 27, v.data.PendingCompletions())

	task := v.newTask()
	assert.Panics(t, func() { task.Run(v.rt.InlineContext()) })
	task.ApplyResult()
	assert.Nil(t, task.Result())
	assert.False(t, v.data.UpdateInFlight())

	v.settle()
	vec.Box{Pos: vec.Vec3{X: -1, Y: -1, Z: -1}, Size: vec.Vec3{X: 3, Y: 3, Z: 3}}.ForEach(func(p vec.Vec3) {
		st := v.data.State.Get(0, p)
		require.NotNil(t, st, "блок %s", p)
		assert.False(t, st.InFlight(), "блок %s завис", p)
		assert.Equal(t, StateVisible, st.State, "блок %s", p)
		assert.True(t, v.data.Map.HasBlock(0, p))
	})
	assert.Zero(t, v.data.PendingCompletions())
	v.assertInvariants()
}

func TestUpdateTask_DropDistanceLimitsRequiredBlocks(t *testing.T) {
	settings := Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{1}, DropDistance: 2}
	v := newTestVolume(t, settings, nil, nil)
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}

	assert.Equal(t, 1, v.run().Emitted.Generation, "соседи дальше дистанции отбрасывания")
	v.drain()
	v.settle()

	assert.True(t, v.data.Map.HasBlock(0, vec.Vec3{}), "центральный блок рядом с наблюдателем")
	assert.False(t, v.data.Map.HasBlock(0, vec.Vec3{X: 1}))

	res := v.run()
	assert.Zero(t, res.Emitted.Total(), "неподвижный наблюдатель не порождает работы")
	assert.Zero(t, res.Emitted.Unloaded)
	assert.Zero(t, v.data.Stats().Retries)
}

func TestBlockTask_CancelledWhenViewersMoveAway(t *testing.T) {
	registry := NewRegistry()
	data, err := registry.Create(Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{0}, DropDistance: 20})
	require.NoError(t, err)

	near := priority.NewViewersData([]vec.Vec3Float{{X: 4, Y: 4, Z: 4}})
	task := blockTask{
		data:     data,
		registry: registry,
		lodCount: 1,
		dep: priority.Dependency{
			Viewers:             near,
			WorldPosition:       vec.Vec3Float{X: 4, Y: 4, Z: 4},
			DropDistanceSquared: 20 * 20,
		},
	}
	data.SetViewers(near)
	assert.False(t, task.IsCancelled())

	// Следующий тик увидел наблюдателя далеко от блока
	data.SetViewers(priority.NewViewersData([]vec.Vec3Float{{X: 400, Y: 4, Z: 4}}))
	assert.True(t, task.IsCancelled())

	task.dep.DropDistanceSquared = 0
	assert.False(t, task.IsCancelled(), "без дистанции отбрасывания задача живёт")
}

func TestUpdateTask_VolumeTransform(t *testing.T) {
	v := newTestVolume(t, Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{0}}, nil, nil)
	// Том сдвинут на 80 по X: мировая точка 84 - это локальная 4
	v.transform = vec.Translation(vec.Vec3Float{X: 80})
	v.viewers = []vec.Vec3Float{{X: 84, Y: 4, Z: 4}}

	v.run()
	assert.NotNil(t, v.data.State.Get(0, vec.Vec3{}))
	assert.Equal(t, 1, v.data.State.Count(0))
}

func TestUpdateTask_FullLoadMode(t *testing.T) {
	settings := Settings{
		LodCount:     1,
		BlockSizePo2: 3,
		Radii:        []int{0},
		FullLoadMode: true,
		Bounds:       vec.Box{Size: vec.Vec3{X: 32, Y: 8, Z: 8}},
	}
	v := newTestVolume(t, settings, nil, generator.Flat{Level: 4, Material: generator.Stone})
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}

	res := v.run()
	assert.Equal(t, 4, res.Emitted.Generation, "все блоки внутри границ")
	v.drain()
	v.settle()

	assert.Equal(t, 4, v.data.Map.BlockCount(0))
	assert.True(t, v.data.State.Get(0, vec.Vec3{}).HasMesh)
	assert.False(t, v.data.State.Get(0, vec.Vec3{X: 3}).HasMesh, "дальний блок только с данными")
}

func TestUpdateTask_FullLoadEditDuringStreaming(t *testing.T) {
	codec, err := stream.NewCodec(0)
	require.NoError(t, err)
	mem := stream.NewMemoryStream(codec)

	stored := voxel.NewBuffer(8)
	stored.Fill(7)
	require.NoError(t, mem.SaveBlocks(context.Background(), []stream.BlockData{
		{Key: stream.BlockKey{Position: vec.Vec3{}}, Voxels: stored},
	}))

	settings := Settings{
		LodCount:     1,
		BlockSizePo2: 3,
		Radii:        []int{0},
		FullLoadMode: true,
		Bounds:       vec.Box{Size: vec.Vec3{X: 8, Y: 8, Z: 8}},
	}
	v := newTestVolume(t, settings, mem, generator.Flat{Level: -100})
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}

	assert.Equal(t, 1, v.run().Emitted.Streaming)

	// Загрузка ещё не учтена: правка ждёт данных из потока
	v.data.Edits.Push(voxel.SetVoxels(unitBox, 9))
	v.run()
	assert.Equal(t, 1, v.data.Stats().DeferredEdits)

	v.drain()
	v.settle()

	b := v.data.Map.GetBlock(0, vec.Vec3{})
	require.NotNil(t, b)
	assert.Equal(t, voxel.Voxel(9), b.Voxels.Get(0, 0, 0))
	assert.Equal(t, voxel.Voxel(7), b.Voxels.Get(1, 1, 1), "остальные вокселы из потока")
}

func TestUpdateTask_RequestInstances(t *testing.T) {
	settings := Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{0}, RequestInstances: true}
	v := newTestVolume(t, settings, nil, nil)
	v.viewers = []vec.Vec3Float{{X: 4, Y: 4, Z: 4}}
	v.settle()

	var loaded []vec.Vec3
	for _, r := range v.results {
		loaded = append(loaded, r.InstancesLoad...)
	}
	assert.Equal(t, []vec.Vec3{{}}, loaded)

	v.viewers = []vec.Vec3Float{{X: 100, Y: 4, Z: 4}}
	res := v.run()
	assert.Equal(t, []vec.Vec3{{}}, res.InstancesUnload)
}

func TestNewUpdateTask_Validation(t *testing.T) {
	_, err := NewStreamingDependency(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidDependency)
	_, err = NewMeshingDependency(nil)
	assert.ErrorIs(t, err, ErrInvalidDependency)

	registry := NewRegistry()
	data, err := registry.Create(Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{1}})
	require.NoError(t, err)
	streaming := &StreamingDependency{Generator: generator.Flat{}}
	meshing := &MeshingDependency{Mesher: mesher.Blocky{}}

	_, err = NewUpdateTask(UpdateTaskParams{Data: data, Registry: registry, Streaming: &StreamingDependency{}, Meshing: meshing})
	assert.ErrorIs(t, err, ErrInvalidDependency, "поток без генератора")
	_, err = NewUpdateTask(UpdateTaskParams{Data: data, Registry: registry, Streaming: streaming})
	assert.ErrorIs(t, err, ErrInvalidDependency, "нет мешера")

	task, err := NewUpdateTask(UpdateTaskParams{Data: data, Registry: registry, Streaming: streaming, Meshing: meshing})
	require.NoError(t, err)
	assert.True(t, data.UpdateInFlight())

	_, err = NewUpdateTask(UpdateTaskParams{Data: data, Registry: registry, Streaming: streaming, Meshing: meshing})
	assert.ErrorIs(t, err, ErrUpdateInFlight, "второй проход для того же тома")

	task.Abort()
	_, err = NewUpdateTask(UpdateTaskParams{Data: data, Registry: registry, Streaming: streaming, Meshing: meshing})
	assert.NoError(t, err)
}

func TestSettings_Validate(t *testing.T) {
	ok := Settings{LodCount: 2, BlockSizePo2: 4, Radii: []int{2, 2}}
	assert.NoError(t, ok.Validate())

	bad := []Settings{
		{LodCount: 0, BlockSizePo2: 4},
		{LodCount: 25, BlockSizePo2: 4, Radii: make([]int, 25)},
		{LodCount: 1, BlockSizePo2: 2, Radii: []int{1}},
		{LodCount: 2, BlockSizePo2: 4, Radii: []int{1}},
		{LodCount: 1, BlockSizePo2: 4, Radii: []int{-1}},
		{LodCount: 1, BlockSizePo2: 4, Radii: []int{1}, FullLoadMode: true},
	}
	for i, s := range bad {
		assert.ErrorIs(t, s.Validate(), ErrInvalidSettings, "случай %d", i)
	}

	assert.Equal(t, []int{3, 3, 3}, RadiiFromDistance(40, 3, 4))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a, err := r.Create(Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{0}})
	require.NoError(t, err)
	b, err := r.Create(Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{0}})
	require.NoError(t, err)

	assert.Equal(t, []uint32{a.ID(), b.ID()}, r.IDs())
	assert.True(t, r.IsAlive(a))
	assert.Same(t, a, r.Get(a.ID()))

	r.Remove(a.ID())
	assert.False(t, r.IsAlive(a))
	assert.True(t, a.Destroyed())
	assert.Nil(t, r.Remove(a.ID()))
	assert.Equal(t, 1, r.Len())
}

func TestSaveAllTask(t *testing.T) {
	codec, err := stream.NewCodec(0)
	require.NoError(t, err)
	mem := stream.NewMemoryStream(codec)

	_, err = NewSaveAllTask(nil, mem)
	assert.ErrorIs(t, err, ErrInvalidDependency)

	data, err := NewUpdateData(1, Settings{LodCount: 1, BlockSizePo2: 3, Radii: []int{0}})
	require.NoError(t, err)
	data.Map.GetOrCreateBlock(0, vec.Vec3{}, nil)
	data.Map.GetOrCreateBlock(0, vec.Vec3{X: 1}, nil)
	data.Map.ApplyEdit(voxel.SetVoxels(unitBox, 3))

	task, err := NewSaveAllTask(data, mem)
	require.NoError(t, err)
	task.Run(tasks.NewTestContext(context.Background()))
	task.ApplyResult()

	require.NoError(t, task.Err())
	assert.Equal(t, 1, task.Saved(), "сохраняются только изменённые блоки")
	assert.Equal(t, 1, mem.Len())
	assert.True(t, data.Map.GetBlock(0, vec.Vec3{}).Modified, "флаги меняет только задача обновления")
}
