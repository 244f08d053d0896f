package lod

import (
	"fmt"

	"github.com/annel0/voxel-lod/internal/logging"
	"github.com/annel0/voxel-lod/internal/stream"
	"github.com/annel0/voxel-lod/internal/tasks"
)

// SaveAllTask сохраняет все изменённые блоки тома, не дожидаясь прохода обновления.
// Используется при удалении тома и завершении работы. Флаги блоков не меняет:
// после неудачи блоки остаются изменёнными и сохранятся при выгрузке.
type SaveAllTask struct {
	data   *UpdateData
	stream stream.Stream

	saved int
	err   error
}

// NewSaveAllTask создаёт задачу сохранения
func NewSaveAllTask(data *UpdateData, s stream.Stream) (*SaveAllTask, error) {
	if data == nil || s == nil {
		return nil, fmt.Errorf("%w: save needs data and stream", ErrInvalidDependency)
	}
	return &SaveAllTask{data: data, stream: s}, nil
}

func (t *SaveAllTask) Kind() tasks.Kind { return tasks.KindStreaming }

func (t *SaveAllTask) Run(ctx *tasks.TaskContext) {
	modified := t.data.Map.SnapshotModified()
	if len(modified) == 0 {
		return
	}
	blocks := make([]stream.BlockData, len(modified))
	for i, b := range modified {
		blocks[i] = stream.BlockData{Key: stream.BlockKey{Lod: b.Lod, Position: b.Position}, Voxels: b.Voxels}
	}
	if err := t.stream.SaveBlocks(ctx.Ctx, blocks); err != nil {
		t.err = err
		return
	}
	t.saved = len(blocks)
}

func (t *SaveAllTask) ApplyResult() {
	if t.err != nil {
		logging.GetLodLogger().Error("Том %d: ошибка сохранения: %v", t.data.id, t.err)
		return
	}
	if t.saved > 0 {
		logging.GetLodLogger().Info("💾 Том %d: сохранено блоков: %d", t.data.id, t.saved)
	}
}

// Saved возвращает число сохранённых блоков
func (t *SaveAllTask) Saved() int { return t.saved }

// Err возвращает ошибку сохранения
func (t *SaveAllTask) Err() error { return t.err }
