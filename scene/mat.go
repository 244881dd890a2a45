package scene

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Inverse returns the inverse of m.
func (m Mat4) Inverse() (Mat4, error) {
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(4, 4, m[:])); err != nil {
		return Mat4{}, fmt.Errorf("matrix is not invertible: %w", err)
	}
	var out Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			out[r*4+c] = inv.At(r, c)
		}
	}
	return out, nil
}

// Mul returns m·n.
func (m Mat4) Mul(n Mat4) Mat4 {
	var out Mat4
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += m[r*4+k] * n[k*4+c]
			}
			out[r*4+c] = s
		}
	}
	return out
}

// TransformPoint applies m to the homogeneous point (p, 1) and returns the
// first three coordinates.
func (m Mat4) TransformPoint(p [3]float64) [3]float64 {
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = m[r*4]*p[0] + m[r*4+1]*p[1] + m[r*4+2]*p[2] + m[r*4+3]
	}
	return out
}

// RotateVector applies the upper-left 3×3 block of m to v.
func (m Mat4) RotateVector(v [3]float64) [3]float64 {
	var out [3]float64
	for r := 0; r < 3; r++ {
		out[r] = m[r*4]*v[0] + m[r*4+1]*v[1] + m[r*4+2]*v[2]
	}
	return out
}
