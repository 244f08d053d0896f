package vec

// Basis - матрица 3x3 (строки), описывающая поворот/масштаб/сдвиг осей
type Basis [3][3]float64

// IdentityBasis - единичный базис
var IdentityBasis = Basis{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}

// Transform3D - аффинное преобразование: p' = Basis*p + Origin
type Transform3D struct {
	Basis  Basis
	Origin Vec3Float
}

// IdentityTransform возвращает тождественное преобразование
func IdentityTransform() Transform3D {
	return Transform3D{Basis: IdentityBasis}
}

// Translation создаёт преобразование чистого переноса
func Translation(origin Vec3Float) Transform3D {
	return Transform3D{Basis: IdentityBasis, Origin: origin}
}

// Scaling создаёт преобразование равномерного масштаба
func Scaling(k float64) Transform3D {
	return Transform3D{Basis: Basis{{k, 0, 0}, {0, k, 0}, {0, 0, k}}}
}

// Xform применяет преобразование к точке
func (t Transform3D) Xform(p Vec3Float) Vec3Float {
	b := t.Basis
	return Vec3Float{
		X: b[0][0]*p.X + b[0][1]*p.Y + b[0][2]*p.Z + t.Origin.X,
		Y: b[1][0]*p.X + b[1][1]*p.Y + b[1][2]*p.Z + t.Origin.Y,
		Z: b[2][0]*p.X + b[2][1]*p.Y + b[2][2]*p.Z + t.Origin.Z,
	}
}

// Determinant возвращает определитель базиса
func (b Basis) Determinant() float64 {
	return b[0][0]*(b[1][1]*b[2][2]-b[1][2]*b[2][1]) -
		b[0][1]*(b[1][0]*b[2][2]-b[1][2]*b[2][0]) +
		b[0][2]*(b[1][0]*b[2][1]-b[1][1]*b[2][0])
}

// Inverse возвращает обратную матрицу. Для вырожденного базиса возвращает false.
func (b Basis) Inverse() (Basis, bool) {
	det := b.Determinant()
	if det == 0 {
		return Basis{}, false
	}
	inv := 1.0 / det
	var r Basis
	r[0][0] = (b[1][1]*b[2][2] - b[1][2]*b[2][1]) * inv
	r[0][1] = (b[0][2]*b[2][1] - b[0][1]*b[2][2]) * inv
	r[0][2] = (b[0][1]*b[1][2] - b[0][2]*b[1][1]) * inv
	r[1][0] = (b[1][2]*b[2][0] - b[1][0]*b[2][2]) * inv
	r[1][1] = (b[0][0]*b[2][2] - b[0][2]*b[2][0]) * inv
	r[1][2] = (b[0][2]*b[1][0] - b[0][0]*b[1][2]) * inv
	r[2][0] = (b[1][0]*b[2][1] - b[1][1]*b[2][0]) * inv
	r[2][1] = (b[0][1]*b[2][0] - b[0][0]*b[2][1]) * inv
	r[2][2] = (b[0][0]*b[1][1] - b[0][1]*b[1][0]) * inv
	return r, true
}

// AffineInverse возвращает обратное преобразование.
// Вырожденный базис даёт тождественное преобразование и false.
func (t Transform3D) AffineInverse() (Transform3D, bool) {
	inv, ok := t.Basis.Inverse()
	if !ok {
		return IdentityTransform(), false
	}
	r := Transform3D{Basis: inv}
	o := r.Xform(t.Origin)
	r.Origin = Vec3Float{X: -o.X, Y: -o.Y, Z: -o.Z}
	return r, true
}
