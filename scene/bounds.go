package scene

import (
	"github.com/tsawler/go-hfs/tensor"
)

// SphereBounds returns near/far distances (N×1) bracketing the unit
// sphere along each ray: the closest approach to the origin ± 1.
func SphereBounds(origins, directions *tensor.Tensor) (near, far *tensor.Tensor) {
	n := origins.Rows()
	near = tensor.Zeros(n, 1)
	far = tensor.Zeros(n, 1)
	for i := 0; i < n; i++ {
		o := origins.Row(i)
		d := directions.Row(i)
		a := d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
		b := 2 * (o[0]*d[0] + o[1]*d[1] + o[2]*d[2])
		mid := float32(0)
		if a > 0 {
			mid = -b / (2 * a)
		}
		near.Data[i] = mid - 1
		far.Data[i] = mid + 1
	}
	return near, far
}
