package tasks

import (
	"context"
	"errors"
)

// ErrRuntimeStopped возвращается при постановке задачи в остановленный рантайм
var ErrRuntimeStopped = errors.New("tasks: runtime stopped")

// Kind - вид задачи, используется для статистики
type Kind int

const (
	KindUpdate Kind = iota
	KindStreaming
	KindGeneration
	KindMeshing
	KindOther
	kindCount
)

func (k Kind) String() string {
	switch k {
	case KindUpdate:
		return "update"
	case KindStreaming:
		return "streaming"
	case KindGeneration:
		return "generation"
	case KindMeshing:
		return "meshing"
	default:
		return "other"
	}
}

// Kinds перечисляет все виды задач
func Kinds() []Kind {
	return []Kind{KindUpdate, KindStreaming, KindGeneration, KindMeshing, KindOther}
}

// Task - двухфазная задача.
// Run выполняется на фоновой горутине и не должен трогать состояние,
// принадлежащее основному потоку. ApplyResult вызывается на горутине,
// которая вызывает Runtime.ProcessMainThread, строго после Run.
type Task interface {
	Kind() Kind
	Run(ctx *TaskContext)
	ApplyResult()
}

// Prioritized - задача с приоритетом. Задачи без него получают DefaultPriority.
type Prioritized interface {
	Priority() Priority
}

// Cancellable - задача, которую можно пропустить. Если IsCancelled() вернул true
// перед запуском, Run не вызывается, но ApplyResult всё равно будет вызван.
type Cancellable interface {
	IsCancelled() bool
}

// TaskContext передаётся в Run
type TaskContext struct {
	// Ctx отменяется при остановке рантайма
	Ctx      context.Context
	WorkerID int
	runtime  *Runtime
}

// Spawn ставит дочернюю задачу в тот же рантайм
func (c *TaskContext) Spawn(t Task) error {
	if c.runtime == nil {
		return ErrRuntimeStopped
	}
	return c.runtime.Submit(t)
}

// SpawnBatch ставит несколько дочерних задач
func (c *TaskContext) SpawnBatch(ts []Task) error {
	if c.runtime == nil {
		return ErrRuntimeStopped
	}
	return c.runtime.SubmitBatch(ts)
}

// Runtime возвращает рантайм, выполняющий задачу
func (c *TaskContext) Runtime() *Runtime {
	return c.runtime
}

// NewTestContext создаёт контекст без рантайма (Spawn вернёт ошибку)
func NewTestContext(ctx context.Context) *TaskContext {
	return &TaskContext{Ctx: ctx}
}
