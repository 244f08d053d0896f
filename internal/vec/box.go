package vec

// Box - выровненный по осям параллелепипед в целочисленных координатах.
// Pos включительно, Pos+Size исключительно.
type Box struct {
	Pos  Vec3 `json:"pos"`
	Size Vec3 `json:"size"`
}

// NewBoxFromMinMax создаёт Box по углам [min, max)
func NewBoxFromMinMax(min, max Vec3) Box {
	return Box{Pos: min, Size: max.Sub(min)}
}

// End возвращает исключительный верхний угол
func (b Box) End() Vec3 {
	return b.Pos.Add(b.Size)
}

// IsEmpty сообщает, что хотя бы одна сторона не положительна
func (b Box) IsEmpty() bool {
	return b.Size.X <= 0 || b.Size.Y <= 0 || b.Size.Z <= 0
}

// Contains проверяет, что точка внутри
func (b Box) Contains(p Vec3) bool {
	e := b.End()
	return p.X >= b.Pos.X && p.Y >= b.Pos.Y && p.Z >= b.Pos.Z &&
		p.X < e.X && p.Y < e.Y && p.Z < e.Z
}

// Intersects проверяет пересечение двух боксов
func (b Box) Intersects(o Box) bool {
	be, oe := b.End(), o.End()
	return b.Pos.X < oe.X && o.Pos.X < be.X &&
		b.Pos.Y < oe.Y && o.Pos.Y < be.Y &&
		b.Pos.Z < oe.Z && o.Pos.Z < be.Z
}

// Clip возвращает пересечение двух боксов (может быть пустым)
func (b Box) Clip(o Box) Box {
	be, oe := b.End(), o.End()
	lo := Vec3{X: max(b.Pos.X, o.Pos.X), Y: max(b.Pos.Y, o.Pos.Y), Z: max(b.Pos.Z, o.Pos.Z)}
	hi := Vec3{X: min(be.X, oe.X), Y: min(be.Y, oe.Y), Z: min(be.Z, oe.Z)}
	res := NewBoxFromMinMax(lo, hi)
	if res.IsEmpty() {
		return Box{Pos: lo}
	}
	return res
}

// Padded расширяет бокс на n во все стороны
func (b Box) Padded(n int) Box {
	return Box{
		Pos:  b.Pos.Sub(Vec3{X: n, Y: n, Z: n}),
		Size: b.Size.Add(Vec3{X: 2 * n, Y: 2 * n, Z: 2 * n}),
	}
}

// Downscaled возвращает бокс в координатах сетки с шагом 2^po2,
// покрывающий все ячейки, которых касается исходный бокс.
func (b Box) Downscaled(po2 uint) Box {
	lo := b.Pos.Shr(po2)
	hi := b.End().Sub(Vec3{X: 1, Y: 1, Z: 1}).Shr(po2)
	return NewBoxFromMinMax(lo, hi.Add(Vec3{X: 1, Y: 1, Z: 1}))
}

// ForEach вызывает fn для каждой целой точки внутри бокса (порядок Z, Y, X)
func (b Box) ForEach(fn func(p Vec3)) {
	e := b.End()
	for z := b.Pos.Z; z < e.Z; z++ {
		for y := b.Pos.Y; y < e.Y; y++ {
			for x := b.Pos.X; x < e.X; x++ {
				fn(Vec3{X: x, Y: y, Z: z})
			}
		}
	}
}
