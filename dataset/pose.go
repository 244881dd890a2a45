package dataset

import (
	"math"

	"gonum.org/v1/gonum/num/quat"

	"github.com/tsawler/go-hfs/scene"
)

// rotationToQuat converts a row-major rotation matrix to a unit quaternion.
func rotationToQuat(r [9]float64) quat.Number {
	trace := r[0] + r[4] + r[8]
	var q quat.Number
	switch {
	case trace > 0:
		s := math.Sqrt(trace+1) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (r[7] - r[5]) / s, Jmag: (r[2] - r[6]) / s, Kmag: (r[3] - r[1]) / s}
	case r[0] > r[4] && r[0] > r[8]:
		s := math.Sqrt(1+r[0]-r[4]-r[8]) * 2
		q = quat.Number{Real: (r[7] - r[5]) / s, Imag: 0.25 * s, Jmag: (r[1] + r[3]) / s, Kmag: (r[2] + r[6]) / s}
	case r[4] > r[8]:
		s := math.Sqrt(1+r[4]-r[0]-r[8]) * 2
		q = quat.Number{Real: (r[2] - r[6]) / s, Imag: (r[1] + r[3]) / s, Jmag: 0.25 * s, Kmag: (r[5] + r[7]) / s}
	default:
		s := math.Sqrt(1+r[8]-r[0]-r[4]) * 2
		q = quat.Number{Real: (r[3] - r[1]) / s, Imag: (r[2] + r[6]) / s, Jmag: (r[5] + r[7]) / s, Kmag: 0.25 * s}
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// quatToRotation converts a unit quaternion to a row-major rotation matrix.
func quatToRotation(q quat.Number) [9]float64 {
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return [9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w),
		2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w),
		2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y),
	}
}

// slerp interpolates unit quaternions along the shorter arc.
func slerp(q0, q1 quat.Number, t float64) quat.Number {
	d := quat.Mul(quat.Conj(q0), q1)
	if d.Real < 0 {
		d = quat.Scale(-1, d)
	}
	if quat.Abs(quat.Sub(d, quat.Number{Real: 1})) < 1e-12 {
		return q0
	}
	return quat.Mul(q0, quat.Exp(quat.Scale(t, quat.Log(d))))
}

// InterpolatePose blends two camera-to-world poses. The world-to-camera
// rotations are slerped and the world-to-camera translations are blended
// linearly, then the result is inverted back to camera-to-world.
func InterpolatePose(a, b scene.Mat4, ratio float64) (scene.Mat4, error) {
	wa, err := a.Inverse()
	if err != nil {
		return scene.Mat4{}, err
	}
	wb, err := b.Inverse()
	if err != nil {
		return scene.Mat4{}, err
	}

	rot := quatToRotation(slerp(rotationToQuat(wa.Rotation()), rotationToQuat(wb.Rotation()), ratio))
	ta, tb := wa.Translation(), wb.Translation()

	w := scene.Identity4()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			w[r*4+c] = rot[r*3+c]
		}
		w[r*4+3] = (1-ratio)*ta[r] + ratio*tb[r]
	}
	return w.Inverse()
}
