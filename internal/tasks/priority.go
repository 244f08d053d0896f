package tasks

// Priority - ключ очереди: большее значение выполняется раньше.
// Биты 24-31: класс задачи, 16-23: полоса LOD, 0-15: близость к наблюдателю.
type Priority uint32

// Классы задач
const (
	BandSubTask uint8 = 1
	BandUpdate  uint8 = 3
)

// DefaultPriority - приоритет задач без Prioritized
var DefaultPriority = NewPriority(BandSubTask, 0, 0)

// NewPriority собирает приоритет из полос
func NewPriority(band, lodBand uint8, closeness uint16) Priority {
	return Priority(uint32(band)<<24 | uint32(lodBand)<<16 | uint32(closeness))
}

// Band возвращает класс задачи
func (p Priority) Band() uint8 { return uint8(p >> 24) }

// LodBand возвращает полосу LOD
func (p Priority) LodBand() uint8 { return uint8(p >> 16) }

// Closeness возвращает близость
func (p Priority) Closeness() uint16 { return uint16(p) }
