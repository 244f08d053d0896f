package tasks

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// IndicatorStat - одна ячейка индикатора задач
type IndicatorStat struct {
	ShortName string `json:"short_name"`
	LongName  string `json:"long_name"`
	Value     int64  `json:"value"`
	Text      string `json:"text"`
}

// Indicator возвращает ячейки индикатора: Streaming, Generation, Meshing, Main, Memory
func Indicator(s Stats) []IndicatorStat {
	return []IndicatorStat{
		countStat("Streaming", "Streaming tasks", s.StreamingTasks()),
		countStat("Generation", "Generation tasks", s.GenerationTasks()),
		countStat("Meshing", "Meshing tasks", s.MeshingTasks()),
		countStat("Main", "Main thread tasks", s.MainThreadTasks),
		{
			ShortName: "Memory",
			LongName:  "Memory usage (whole process)",
			Value:     s.MemoryBytes,
			Text:      WithUnit(s.MemoryBytes, "b"),
		},
	}
}

func countStat(short, long string, v int64) IndicatorStat {
	return IndicatorStat{ShortName: short, LongName: long, Value: v, Text: humanize.Comma(v)}
}

// FormatIndicator собирает строку индикатора: "Streaming 1,024 | ... | Memory 12.345 Mb"
func FormatIndicator(s Stats) string {
	cells := Indicator(s)
	parts := make([]string, 0, len(cells))
	for _, c := range cells {
		parts = append(parts, fmt.Sprintf("%s %s", c.ShortName, c.Text))
	}
	return strings.Join(parts, " | ")
}

// WithUnit форматирует число по основанию 1000 с тремя знаками после запятой
// и произвольной единицей: 1234567 -> "1.234 Mb". Отличается от humanize.Bytes
// тем, что не округляет и принимает любую единицу.
func WithUnit(n int64, unit string) string {
	sign := ""
	if n < 0 {
		sign = "-"
		n = -n
	}
	steps := []struct {
		div    int64
		prefix string
	}{
		{1_000_000_000_000, "T"},
		{1_000_000_000, "G"},
		{1_000_000, "M"},
		{1_000, "K"},
	}
	for _, st := range steps {
		if n >= st.div {
			whole := n / st.div
			frac := (n % st.div) / (st.div / 1000)
			return fmt.Sprintf("%s%s.%03d %s%s", sign, humanize.Comma(whole), frac, st.prefix, unit)
		}
	}
	return fmt.Sprintf("%s%d %s", sign, n, unit)
}
