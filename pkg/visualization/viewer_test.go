package visualization

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tubulargeodesics/internal/models"
)

// gradientField returns a 6x5x4 field whose value is x+10y+100z.
func gradientField() *models.ScalarField {
	dims := models.Dims{Width: 6, Height: 5, Depth: 4}
	f := models.NewScalarField(models.Grid{Dims: dims, Spacing: models.UnitSpacing})
	for i := range f.Data {
		x, y, z := dims.Coords(i)
		f.Data[i] = float64(x + 10*y + 100*z)
	}
	return f
}

func TestExtractSliceLayout(t *testing.T) {
	vw := NewViewer(gradientField())

	tests := []struct {
		axis string
		w, h int
	}{
		{"x", 4, 5},
		{"y", 6, 4},
		{"z", 6, 5},
	}
	for _, tt := range tests {
		img, err := vw.ExtractSlice(tt.axis, 1)
		require.NoError(t, err, tt.axis)
		assert.Equal(t, tt.w, img.Bounds().Dx(), tt.axis)
		assert.Equal(t, tt.h, img.Bounds().Dy(), tt.axis)
	}

	// The voxel (5, 4, 3) holds the maximum and renders white.
	img, err := vw.ExtractSlice("z", 3)
	require.NoError(t, err)
	assert.Equal(t, uint16(65535), img.Gray16At(5, 4).Y)
	img, err = vw.ExtractSlice("z", 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), img.Gray16At(0, 0).Y)

	_, err = vw.ExtractSlice("z", 4)
	assert.Error(t, err)
	_, err = vw.ExtractSlice("w", 0)
	assert.Error(t, err)
}

func TestProjectionTakesMaximum(t *testing.T) {
	f := gradientField()
	vw := NewViewer(f)

	proj, err := vw.Projection("z")
	require.NoError(t, err)
	last, err := vw.ExtractSlice("z", 3)
	require.NoError(t, err)
	assert.Equal(t, last.Pix, proj.Pix)
}

func TestConstantFieldRendersBlack(t *testing.T) {
	f := models.NewScalarField(models.Grid{Dims: models.Dims{Width: 2, Height: 2, Depth: 2}, Spacing: models.UnitSpacing})
	img, err := NewViewer(f).Projection("y")
	require.NoError(t, err)
	for _, p := range img.Pix {
		assert.Zero(t, p)
	}
}

func TestOverlayDrawsPath(t *testing.T) {
	vw := NewViewer(gradientField())
	proj, err := vw.Projection("z")
	require.NoError(t, err)

	path := models.Path{{X: 0, Y: 2, Z: 1}, {X: 5, Y: 2, Z: 1}}
	out, err := vw.Overlay(proj, "z", []models.Path{path}, PathColor)
	require.NoError(t, err)

	for x := 0; x < 6; x++ {
		assert.Equal(t, PathColor, out.RGBAAt(x, 2), "pixel (%d, 2)", x)
	}
	assert.NotEqual(t, PathColor, out.RGBAAt(0, 0))
}

func TestSaveProjections(t *testing.T) {
	dir := t.TempDir()
	vw := NewViewer(gradientField())

	files, err := vw.SaveProjections(dir, "tub", []models.Path{{{X: 1, Y: 1, Z: 1}}})
	require.NoError(t, err)
	require.Len(t, files, 3)

	f, err := os.Open(filepath.Join(dir, "tub_mip_x.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
}

func TestSaveSliceSequence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewViewer(gradientField()).SaveSliceSequence("y", dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	require.NoError(t, SaveImage(mustSlice(t), filepath.Join(dir, "one.jpg")))
	_, err = os.Stat(filepath.Join(dir, "one.jpg"))
	assert.NoError(t, err)
}

func mustSlice(t *testing.T) *image.Gray16 {
	t.Helper()
	img, err := NewViewer(gradientField()).ExtractSlice("x", 0)
	require.NoError(t, err)
	return img
}
