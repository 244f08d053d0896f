package tasks

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsExporter периодически переносит Stats рантайма в Prometheus.
// Счётчики обновляются приращениями относительно предыдущего снимка.
type MetricsExporter struct {
	src  StatsProvider
	quit chan struct{}
	done chan struct{}

	active    *prometheus.GaugeVec
	completed *prometheus.CounterVec
	failed    *prometheus.CounterVec
	cancelled *prometheus.CounterVec
	mainQueue prometheus.Gauge
	memory    prometheus.Gauge

	prev Stats
}

// NewMetricsExporter создаёт экспортер и регистрирует метрики в reg
// (nil - глобальный регистр Prometheus).
func NewMetricsExporter(src StatsProvider, reg prometheus.Registerer) *MetricsExporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	me := &MetricsExporter{
		src:  src,
		quit: make(chan struct{}),
		done: make(chan struct{}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "voxel",
			Subsystem: "tasks",
			Name:      "active",
			Help:      "Задачи в очереди и в работе по видам.",
		}, []string{"kind", "state"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxel",
			Subsystem: "tasks",
			Name:      "completed_total",
			Help:      "Завершённые задачи по видам.",
		}, []string{"kind"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxel",
			Subsystem: "tasks",
			Name:      "failed_total",
			Help:      "Задачи, завершившиеся паникой.",
		}, []string{"kind"}),
		cancelled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "voxel",
			Subsystem: "tasks",
			Name:      "cancelled_total",
			Help:      "Отменённые или отброшенные задачи.",
		}, []string{"kind"}),
		mainQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxel",
			Subsystem: "tasks",
			Name:      "main_thread_pending",
			Help:      "Результаты, ожидающие применения в основном потоке.",
		}),
		memory: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "voxel",
			Name:      "process_memory_bytes",
			Help:      "Память процесса (RSS).",
		}),
	}

	reg.MustRegister(me.active, me.completed, me.failed, me.cancelled, me.mainQueue, me.memory)
	return me
}

// Start запускает периодическое обновление
func (m *MetricsExporter) Start(interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	go m.loop(interval)
}

// Stop останавливает обновление
func (m *MetricsExporter) Stop() {
	close(m.quit)
	<-m.done
}

func (m *MetricsExporter) loop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(m.done)

	for {
		select {
		case <-ticker.C:
			m.Update()
		case <-m.quit:
			return
		}
	}
}

// Update выполняет один шаг переноса статистики
func (m *MetricsExporter) Update() {
	stats := m.src.Stats()

	for _, k := range Kinds() {
		name := k.String()
		cur := stats.Kind(k)
		prev := m.prev.Kind(k)

		m.active.WithLabelValues(name, "queued").Set(float64(cur.Queued))
		m.active.WithLabelValues(name, "running").Set(float64(cur.Running))

		if d := cur.Completed - prev.Completed; cur.Completed > prev.Completed {
			m.completed.WithLabelValues(name).Add(float64(d))
		}
		if d := cur.Failed - prev.Failed; cur.Failed > prev.Failed {
			m.failed.WithLabelValues(name).Add(float64(d))
		}
		if d := cur.Cancelled - prev.Cancelled; cur.Cancelled > prev.Cancelled {
			m.cancelled.WithLabelValues(name).Add(float64(d))
		}
	}
	m.mainQueue.Set(float64(stats.MainThreadTasks))
	m.memory.Set(float64(stats.MemoryBytes))

	m.prev = stats
}
