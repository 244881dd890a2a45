package validation

import (
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
)

// gifDelay is the per-frame delay in hundredths of a second (about 30 fps).
const gifDelay = 3

// saveAnimation quantizes frames to the Plan9 palette and writes a
// looping GIF.
func saveAnimation(path string, frames []*image.RGBA) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to write")
	}
	out := &gif.GIF{
		Image:     make([]*image.Paletted, 0, len(frames)),
		Delay:     make([]int, 0, len(frames)),
		LoopCount: 0,
	}
	for _, f := range frames {
		p := image.NewPaletted(f.Bounds(), palette.Plan9)
		draw.FloydSteinberg.Draw(p, p.Bounds(), f, image.Point{})
		out.Image = append(out.Image, p)
		out.Delay = append(out.Delay, gifDelay)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create render directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := gif.EncodeAll(file, out); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return file.Close()
}
