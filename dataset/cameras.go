package dataset

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-hfs/scene"
)

// CameraFile is the scene description stored next to the images.
type CameraFile struct {
	// ScaleMat maps the normalized unit-sphere frame to world space.
	ScaleMat []float64 `yaml:"scale_mat"`
	BBoxMin  []float64 `yaml:"object_bbox_min"`
	BBoxMax  []float64 `yaml:"object_bbox_max"`
	Views    []View    `yaml:"views"`
}

// View is one calibrated photograph.
type View struct {
	Image string `yaml:"image"`
	Mask  string `yaml:"mask,omitempty"`
	// Intrinsics and Pose are row-major 4×4 matrices; Pose is
	// camera-to-world in the normalized frame.
	Intrinsics []float64 `yaml:"intrinsics"`
	Pose       []float64 `yaml:"pose"`
	// Neighbors lists source views for photometric consistency. When
	// empty the closest cameras are used.
	Neighbors []int `yaml:"neighbors,omitempty"`
	// Points are sparse surface samples seen from this view.
	Points [][3]float64 `yaml:"points,omitempty"`
}

// LoadCameraFile reads and validates a camera file.
func LoadCameraFile(path string) (*CameraFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read camera file: %w", err)
	}
	var cf CameraFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("failed to parse camera file %s: %w", path, err)
	}
	if err := cf.validate(); err != nil {
		return nil, fmt.Errorf("invalid camera file %s: %w", path, err)
	}
	return &cf, nil
}

func (cf *CameraFile) validate() error {
	if len(cf.Views) == 0 {
		return fmt.Errorf("no views")
	}
	if cf.ScaleMat != nil && len(cf.ScaleMat) != 16 {
		return fmt.Errorf("scale_mat has %d values, expected 16", len(cf.ScaleMat))
	}
	if cf.BBoxMin != nil && len(cf.BBoxMin) != 3 || cf.BBoxMax != nil && len(cf.BBoxMax) != 3 {
		return fmt.Errorf("object bounding box needs 3 values per corner")
	}
	for i, v := range cf.Views {
		if v.Image == "" {
			return fmt.Errorf("view %d has no image", i)
		}
		if len(v.Intrinsics) != 16 || len(v.Pose) != 16 {
			return fmt.Errorf("view %d: intrinsics and pose need 16 values", i)
		}
		for _, n := range v.Neighbors {
			if n < 0 || n >= len(cf.Views) || n == i {
				return fmt.Errorf("view %d: invalid neighbor %d", i, n)
			}
		}
	}
	return nil
}

func toMat4(v []float64) scene.Mat4 {
	if len(v) != 16 {
		return scene.Identity4()
	}
	var m scene.Mat4
	copy(m[:], v)
	return m
}

func toVec3(v []float64, def float64) [3]float64 {
	if len(v) != 3 {
		return [3]float64{def, def, def}
	}
	return [3]float64{v[0], v[1], v[2]}
}
