package tasks

import (
	"container/heap"
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/annel0/voxel-lod/internal/logging"
)

// Config - параметры рантайма задач
type Config struct {
	Workers int // 0 - по числу CPU
}

// queuedTask - элемент очереди с приоритетом и порядковым номером (FIFO при равенстве)
type queuedTask struct {
	task     Task
	priority Priority
	seq      uint64
}

type taskHeap []queuedTask

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(queuedTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = queuedTask{}
	*h = old[:n-1]
	return it
}

// kindCounters - атомарные счётчики одного вида задач
type kindCounters struct {
	queued    atomic.Int64
	running   atomic.Int64
	completed atomic.Uint64
	failed    atomic.Uint64
	cancelled atomic.Uint64
}

// Runtime - пул фоновых воркеров с очередью по приоритету и очередью
// результатов для основного потока.
type Runtime struct {
	workerCount int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   taskHeap
	seq     uint64
	stopped bool

	mainMu    sync.Mutex
	mainQueue []Task

	counters    [kindCount]kindCounters
	mainPending atomic.Int64

	memory *memorySampler
	logger *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRuntime создаёт рантайм и запускает воркеров
func NewRuntime(cfg Config) *Runtime {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		workerCount: workers,
		memory:      newMemorySampler(),
		logger:      logging.GetTasksLogger(),
		ctx:         ctx,
		cancel:      cancel,
	}
	r.cond = sync.NewCond(&r.mu)

	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.logger.Debug("Рантайм задач запущен: %d воркеров", workers)
	return r
}

// InlineContext возвращает контекст для выполнения Run на вызывающей горутине.
// Дочерние задачи из такого Run уходят в этот рантайм.
func (r *Runtime) InlineContext() *TaskContext {
	return &TaskContext{Ctx: r.ctx, WorkerID: -1, runtime: r}
}

// WorkerCount возвращает число воркеров
func (r *Runtime) WorkerCount() int { return r.workerCount }

// Submit ставит задачу в очередь
func (r *Runtime) Submit(t Task) error {
	prio := DefaultPriority
	if p, ok := t.(Prioritized); ok {
		prio = p.Priority()
	}

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrRuntimeStopped
	}
	r.seq++
	heap.Push(&r.queue, queuedTask{task: t, priority: prio, seq: r.seq})
	r.counters[t.Kind()].queued.Add(1)
	r.mu.Unlock()

	r.cond.Signal()
	return nil
}

// SubmitBatch ставит несколько задач под одной блокировкой
func (r *Runtime) SubmitBatch(ts []Task) error {
	if len(ts) == 0 {
		return nil
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return ErrRuntimeStopped
	}
	for _, t := range ts {
		prio := DefaultPriority
		if p, ok := t.(Prioritized); ok {
			prio = p.Priority()
		}
		r.seq++
		heap.Push(&r.queue, queuedTask{task: t, priority: prio, seq: r.seq})
		r.counters[t.Kind()].queued.Add(1)
	}
	r.mu.Unlock()

	r.cond.Broadcast()
	return nil
}

// worker - цикл воркера: берёт задачу с наибольшим приоритетом
func (r *Runtime) worker(id int) {
	defer r.wg.Done()

	tctx := &TaskContext{Ctx: r.ctx, WorkerID: id, runtime: r}
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.stopped {
			r.cond.Wait()
		}
		if r.stopped {
			r.mu.Unlock()
			return
		}
		it := heap.Pop(&r.queue).(queuedTask)
		r.mu.Unlock()

		r.execute(tctx, it.task)
	}
}

func (r *Runtime) execute(tctx *TaskContext, t Task) {
	c := &r.counters[t.Kind()]
	c.queued.Add(-1)

	if ct, ok := t.(Cancellable); ok && ct.IsCancelled() {
		c.cancelled.Add(1)
		r.pushMainThread(t)
		return
	}

	c.running.Add(1)
	failed := r.runSafely(tctx, t)
	c.running.Add(-1)

	if failed {
		c.failed.Add(1)
	} else {
		c.completed.Add(1)
	}
	r.pushMainThread(t)
}

// runSafely выполняет Run, перехватывая панику. Паника считается сбоем задачи.
func (r *Runtime) runSafely(tctx *TaskContext, t Task) (failed bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Паника в задаче %s: %v", t.Kind(), rec)
			failed = true
		}
	}()
	t.Run(tctx)
	return false
}

func (r *Runtime) pushMainThread(t Task) {
	r.mainMu.Lock()
	r.mainQueue = append(r.mainQueue, t)
	r.mainMu.Unlock()
	r.mainPending.Add(1)
}

// ProcessMainThread вызывает ApplyResult завершённых задач в порядке завершения.
// Должен вызываться с одной и той же горутины ("основной поток").
// budget <= 0 - без ограничения по времени. Возвращает число обработанных задач.
func (r *Runtime) ProcessMainThread(budget time.Duration) int {
	start := time.Now()
	processed := 0
	for {
		r.mainMu.Lock()
		if len(r.mainQueue) == 0 {
			r.mainMu.Unlock()
			return processed
		}
		t := r.mainQueue[0]
		r.mainQueue[0] = nil
		r.mainQueue = r.mainQueue[1:]
		r.mainMu.Unlock()

		r.mainPending.Add(-1)
		r.applySafely(t)
		processed++

		if budget > 0 && time.Since(start) >= budget {
			return processed
		}
	}
}

func (r *Runtime) applySafely(t Task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Паника в ApplyResult задачи %s: %v", t.Kind(), rec)
		}
	}()
	t.ApplyResult()
}

// Idle сообщает, что нет задач в очереди, в работе и в ожидании основного потока
func (r *Runtime) Idle() bool {
	for i := range r.counters {
		if r.counters[i].queued.Load() != 0 || r.counters[i].running.Load() != 0 {
			return false
		}
	}
	return r.mainPending.Load() == 0
}

// Drain крутит ProcessMainThread до простоя рантайма или истечения таймаута.
// Используется при завершении и в тестах.
func (r *Runtime) Drain(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		r.ProcessMainThread(0)
		if r.Idle() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("tasks: drain timeout after %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// Stop останавливает воркеров. Задачи, не начавшие выполнение, отбрасываются;
// уже выполненные остаются в очереди основного потока.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	dropped := len(r.queue)
	for _, it := range r.queue {
		c := &r.counters[it.task.Kind()]
		c.queued.Add(-1)
		c.cancelled.Add(1)
	}
	r.queue = nil
	r.mu.Unlock()

	r.cancel()
	r.cond.Broadcast()
	r.wg.Wait()
	r.logger.Debug("Рантайм задач остановлен, отброшено задач: %d", dropped)
}
