package tasks

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// KindStats - статистика одного вида задач
type KindStats struct {
	Queued    int64  `json:"queued"`
	Running   int64  `json:"running"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
}

// Active - задачи в очереди и в работе
func (k KindStats) Active() int64 {
	return k.Queued + k.Running
}

// Stats - снимок состояния рантайма для индикатора и метрик
type Stats struct {
	Workers         int                  `json:"workers"`
	Kinds           map[string]KindStats `json:"kinds"`
	MainThreadTasks int64                `json:"main_thread_tasks"`
	MemoryBytes     int64                `json:"memory_bytes"`
}

// Kind возвращает статистику вида задач
func (s Stats) Kind(k Kind) KindStats {
	return s.Kinds[k.String()]
}

// StreamingTasks - активные задачи потоковой загрузки/сохранения
func (s Stats) StreamingTasks() int64 { return s.Kind(KindStreaming).Active() }

// GenerationTasks - активные задачи генерации
func (s Stats) GenerationTasks() int64 { return s.Kind(KindGeneration).Active() }

// MeshingTasks - активные задачи мешинга
func (s Stats) MeshingTasks() int64 { return s.Kind(KindMeshing).Active() }

// StatsProvider - источник статистики (рантайм или его заглушка в тестах)
type StatsProvider interface {
	Stats() Stats
}

// Stats возвращает снимок статистики
func (r *Runtime) Stats() Stats {
	s := Stats{
		Workers:         r.workerCount,
		Kinds:           make(map[string]KindStats, kindCount),
		MainThreadTasks: r.mainPending.Load(),
		MemoryBytes:     r.memory.Sample(),
	}
	for _, k := range Kinds() {
		c := &r.counters[k]
		s.Kinds[k.String()] = KindStats{
			Queued:    c.queued.Load(),
			Running:   c.running.Load(),
			Completed: c.completed.Load(),
			Failed:    c.failed.Load(),
			Cancelled: c.cancelled.Load(),
		}
	}
	return s
}

// memorySampler читает RSS процесса через gopsutil, не чаще раза в interval
type memorySampler struct {
	mu       sync.Mutex
	proc     *process.Process
	last     int64
	lastAt   time.Time
	interval time.Duration
}

func newMemorySampler() *memorySampler {
	ms := &memorySampler{interval: 500 * time.Millisecond}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		ms.proc = p
	}
	return ms
}

// Sample возвращает объём памяти процесса в байтах
func (ms *memorySampler) Sample() int64 {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if !ms.lastAt.IsZero() && time.Since(ms.lastAt) < ms.interval {
		return ms.last
	}
	ms.lastAt = time.Now()

	if ms.proc != nil {
		if info, err := ms.proc.MemoryInfo(); err == nil && info != nil {
			ms.last = int64(info.RSS)
			return ms.last
		}
	}

	// Если gopsutil недоступен, берём данные рантайма Go
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	ms.last = int64(m.Sys)
	return ms.last
}
