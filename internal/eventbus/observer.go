package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/annel0/voxel-lod/internal/logging"
	"github.com/annel0/voxel-lod/internal/tasks"
	"github.com/annel0/voxel-lod/internal/vec"
	"github.com/google/uuid"
)

// VolumeEditedEvent - полезная нагрузка TypeVolumeEdited
type VolumeEditedEvent struct {
	VolumeID uint32  `json:"volume_id"`
	Box      vec.Box `json:"box"`
}

// TaskStatsEvent - полезная нагрузка TypeTaskStats
type TaskStatsEvent struct {
	Streaming   int64  `json:"streaming"`
	Generation  int64  `json:"generation"`
	Meshing     int64  `json:"meshing"`
	MainThread  int64  `json:"main_thread"`
	MemoryBytes int64  `json:"memory_bytes"`
	Indicator   string `json:"indicator"`
}

// Observer публикует уведомления хоста террейна в шину.
// Правки публикуются с высоким приоритетом, статистика - с низким.
type Observer struct {
	bus     EventBus
	source  string
	timeout time.Duration
	logger  *logging.Logger
}

// NewObserver создаёт адаптер. source попадает в Envelope.Source.
func NewObserver(bus EventBus, source string) *Observer {
	if source == "" {
		source = "voxel-lod"
	}
	return &Observer{bus: bus, source: source, timeout: time.Second, logger: logging.GetEventBusLogger()}
}

func (o *Observer) OnVolumeEdited(volumeID uint32, box vec.Box) {
	o.publish(TypeVolumeEdited, 7, VolumeEditedEvent{VolumeID: volumeID, Box: box})
}

func (o *Observer) OnTaskStatsUpdated(stats tasks.Stats) {
	o.publish(TypeTaskStats, 1, TaskStatsEvent{
		Streaming:   stats.StreamingTasks(),
		Generation:  stats.GenerationTasks(),
		Meshing:     stats.MeshingTasks(),
		MainThread:  stats.MainThreadTasks,
		MemoryBytes: stats.MemoryBytes,
		Indicator:   tasks.FormatIndicator(stats),
	})
}

func (o *Observer) publish(eventType string, prio int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.Error("Не удалось сериализовать %s: %v", eventType, err)
		return
	}
	ev := &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    o.source,
		EventType: eventType,
		Version:   1,
		Priority:  prio,
		Payload:   data,
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()
	if err := o.bus.Publish(ctx, ev); err != nil {
		o.logger.Warn("Событие %s не опубликовано: %v", eventType, err)
	}
}
