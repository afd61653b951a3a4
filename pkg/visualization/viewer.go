// Package visualization renders scalar fields and traced paths as 2D images
// for inspection: single planes, maximum-intensity projections along an
// axis, and path overlays on top of either.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"tubulargeodesics/internal/models"
)

// PathColor is the default overlay color.
var PathColor = color.RGBA{R: 255, G: 40, B: 40, A: 255}

// Viewer extracts images from one scalar field. Intensities are windowed to
// the field's finite range.
type Viewer struct {
	field  *models.ScalarField
	lo, hi float64
}

// NewViewer creates a viewer over f.
func NewViewer(f *models.ScalarField) *Viewer {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range f.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		lo, hi = 0, 0
	}
	return &Viewer{field: f, lo: lo, hi: hi}
}

// plane describes the image layout for an axis: the image is w x h pixels,
// n planes deep, and voxel maps (u, v, k) to grid coordinates.
type plane struct {
	w, h, n int
	voxel   func(u, v, k int) (x, y, z int)
	project func(p models.Point) (u, v float64)
}

func (vw *Viewer) plane(axis string) (plane, error) {
	d := vw.field.Dims
	switch strings.ToLower(axis) {
	case "x":
		return plane{
			w: d.Depth, h: d.Height, n: d.Width,
			voxel:   func(u, v, k int) (int, int, int) { return k, v, u },
			project: func(p models.Point) (float64, float64) { return p.Z, p.Y },
		}, nil
	case "y":
		return plane{
			w: d.Width, h: d.Depth, n: d.Height,
			voxel:   func(u, v, k int) (int, int, int) { return u, k, v },
			project: func(p models.Point) (float64, float64) { return p.X, p.Z },
		}, nil
	case "z":
		return plane{
			w: d.Width, h: d.Height, n: d.Depth,
			voxel:   func(u, v, k int) (int, int, int) { return u, v, k },
			project: func(p models.Point) (float64, float64) { return p.X, p.Y },
		}, nil
	}
	return plane{}, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

func (vw *Viewer) gray(v float64) color.Gray16 {
	if vw.hi <= vw.lo || math.IsNaN(v) {
		return color.Gray16{}
	}
	t := (v - vw.lo) / (vw.hi - vw.lo)
	return color.Gray16{Y: uint16(math.Max(0, math.Min(1, t)) * 65535)}
}

// ExtractSlice returns the plane at position along axis.
func (vw *Viewer) ExtractSlice(axis string, position int) (*image.Gray16, error) {
	pl, err := vw.plane(axis)
	if err != nil {
		return nil, err
	}
	if position < 0 || position >= pl.n {
		return nil, fmt.Errorf("position %d outside [0, %d) along %s", position, pl.n, axis)
	}
	img := image.NewGray16(image.Rect(0, 0, pl.w, pl.h))
	for v := 0; v < pl.h; v++ {
		for u := 0; u < pl.w; u++ {
			img.SetGray16(u, v, vw.gray(vw.field.At(pl.voxel(u, v, position))))
		}
	}
	return img, nil
}

// Projection returns the maximum-intensity projection along axis.
func (vw *Viewer) Projection(axis string) (*image.Gray16, error) {
	pl, err := vw.plane(axis)
	if err != nil {
		return nil, err
	}
	img := image.NewGray16(image.Rect(0, 0, pl.w, pl.h))
	for v := 0; v < pl.h; v++ {
		for u := 0; u < pl.w; u++ {
			best := math.Inf(-1)
			for k := 0; k < pl.n; k++ {
				if x := vw.field.At(pl.voxel(u, v, k)); x > best {
					best = x
				}
			}
			img.SetGray16(u, v, vw.gray(best))
		}
	}
	return img, nil
}

// Overlay draws paths, projected along axis, onto a color copy of base.
func (vw *Viewer) Overlay(base image.Image, axis string, paths []models.Path, c color.Color) (*image.RGBA, error) {
	pl, err := vw.plane(axis)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(base.Bounds())
	draw.Draw(out, out.Bounds(), base, base.Bounds().Min, draw.Src)

	for _, path := range paths {
		for i, p := range path {
			u1, v1 := pl.project(p)
			if i == 0 {
				plot(out, u1, v1, c)
				continue
			}
			u0, v0 := pl.project(path[i-1])
			steps := int(math.Ceil(2 * math.Max(math.Abs(u1-u0), math.Abs(v1-v0))))
			for s := 1; s <= steps; s++ {
				t := float64(s) / float64(steps)
				plot(out, u0+t*(u1-u0), v0+t*(v1-v0), c)
			}
		}
	}
	return out, nil
}

func plot(img *image.RGBA, u, v float64, c color.Color) {
	pt := image.Pt(int(math.Round(u)), int(math.Round(v)))
	if pt.In(img.Bounds()) {
		img.Set(pt.X, pt.Y, c)
	}
}

// SaveImage writes img as PNG, or JPEG when the file name ends in .jpg or
// .jpeg.
func SaveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	}
	return png.Encode(file, img)
}

// SaveProjections writes one projection per axis into outputDir, with paths
// drawn on top when any are given. It returns the written file names.
func (vw *Viewer) SaveProjections(outputDir, prefix string, paths []models.Path) ([]string, error) {
	var written []string
	for _, axis := range []string{"x", "y", "z"} {
		proj, err := vw.Projection(axis)
		if err != nil {
			return written, err
		}
		var img image.Image = proj
		if len(paths) > 0 {
			if img, err = vw.Overlay(proj, axis, paths, PathColor); err != nil {
				return written, err
			}
		}
		name := filepath.Join(outputDir, fmt.Sprintf("%s_mip_%s.png", prefix, axis))
		if err := SaveImage(img, name); err != nil {
			return written, err
		}
		written = append(written, name)
	}
	return written, nil
}

// SaveSliceSequence extracts and saves every plane along axis.
func (vw *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	pl, err := vw.plane(axis)
	if err != nil {
		return err
	}
	for pos := 0; pos < pl.n; pos++ {
		img, err := vw.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := SaveImage(img, filename); err != nil {
			return err
		}
	}
	return nil
}
