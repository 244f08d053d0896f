package tasks

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestWithUnit(t *testing.T) {
	cases := map[int64]string{
		0:                     "0 b",
		999:                   "999 b",
		1000:                  "1.000 Kb",
		1234567:               "1.234 Mb",
		-2500:                 "-2.500 Kb",
		3_000_000_000:         "3.000 Gb",
		1_234_567_000_000:     "1.234 Tb",
		5_000_000_000_000_000: "5,000.000 Tb",
	}
	for n, want := range cases {
		assert.Equal(t, want, WithUnit(n, "b"), "n=%d", n)
	}
}

func sampleStats() Stats {
	return Stats{
		Workers: 4,
		Kinds: map[string]KindStats{
			KindStreaming.String():  {Queued: 1200, Running: 34},
			KindGeneration.String(): {Queued: 2, Running: 1},
			KindMeshing.String():    {Queued: 0, Running: 4, Completed: 10, Cancelled: 3},
		},
		MainThreadTasks: 7,
		MemoryBytes:     123_456_789,
	}
}

func TestFormatIndicator(t *testing.T) {
	assert.Equal(t,
		"Streaming 1,234 | Generation 3 | Meshing 4 | Main 7 | Memory 123.456 Mb",
		FormatIndicator(sampleStats()))
}

type staticStats struct{ s Stats }

func (s *staticStats) Stats() Stats { return s.s }

func TestMetricsExporter_Update(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := &staticStats{s: sampleStats()}
	me := NewMetricsExporter(src, reg)

	me.Update()
	assert.Equal(t, float64(1200), testutil.ToFloat64(me.active.WithLabelValues("streaming", "queued")))
	assert.Equal(t, float64(10), testutil.ToFloat64(me.completed.WithLabelValues("meshing")))
	assert.Equal(t, float64(123_456_789), testutil.ToFloat64(me.memory))

	// Второй снимок добавляет только приращение
	next := sampleStats()
	next.Kinds[KindMeshing.String()] = KindStats{Completed: 15, Cancelled: 3}
	src.s = next
	me.Update()
	assert.Equal(t, float64(15), testutil.ToFloat64(me.completed.WithLabelValues("meshing")))
	assert.Equal(t, float64(3), testutil.ToFloat64(me.cancelled.WithLabelValues("meshing")))
	assert.Equal(t, float64(0), testutil.ToFloat64(me.active.WithLabelValues("meshing", "running")))
}
