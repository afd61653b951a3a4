package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute(), out.String())
	return out.String()
}

func TestParsePoint(t *testing.T) {
	p, err := parsePoint("1.5, 2,3")
	require.NoError(t, err)
	assert.Equal(t, models.Point{X: 1.5, Y: 2, Z: 3}, p)

	_, err = parsePoint("1,2")
	assert.Error(t, err)
	_, err = parsePoint("1,b,3")
	assert.Error(t, err)

	d, err := parseDims("8,4,2")
	require.NoError(t, err)
	assert.Equal(t, models.Dims{Width: 8, Height: 4, Depth: 2}, d)
	_, err = parseDims("8,4.5,2")
	assert.Error(t, err)
	_, err = parseDims("8,0,2")
	assert.Error(t, err)
}

func TestParseScales(t *testing.T) {
	s, err := parseScales("1, 2.5")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5}, s)

	_, err = parseScales("1,-2")
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

// TestCommands runs the CLI end to end on a small synthetic line
func TestCommands(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tubegeo.yaml")
	vol := filepath.Join(dir, "line.yaml")

	out := run(t, "config", "init", cfgPath)
	assert.Contains(t, out, cfgPath)
	_, err := os.Stat(cfgPath)
	require.NoError(t, err)

	run(t, "synth", "line", vol, "--dims", "24,12,12", "--from", "3,6,6", "--to", "20,6,6")

	tubDir := filepath.Join(dir, "tub")
	out = run(t, "--config", cfgPath, "tubularity", vol, "--out", tubDir, "--scales", "1,2")
	assert.Contains(t, out, "2 scales")
	for _, name := range []string{"tubularity.yaml", "scale.yaml", "tubularity_mip_z.png"} {
		_, err := os.Stat(filepath.Join(tubDir, name))
		assert.NoError(t, err, name)
	}

	pathsFile := filepath.Join(dir, "paths.yaml")
	preview := filepath.Join(dir, "preview")
	out = run(t, "--config", cfgPath, "--log-level", "warn", "trace", vol,
		"--start", "3,6,6", "--end", "20,6,6", "--end", "14,6,6",
		"--out", pathsFile, "--preview", preview)
	assert.Contains(t, out, "completed")

	data, err := os.ReadFile(pathsFile)
	require.NoError(t, err)
	var pf pathFile
	require.NoError(t, yaml.Unmarshal(data, &pf))
	assert.Equal(t, "completed", pf.State)
	require.Len(t, pf.Paths, 2)
	assert.Equal(t, "reached", pf.Paths[0].Status)
	assert.Equal(t, models.Point{X: 20, Y: 6, Z: 6}, pf.Paths[0].Points[0])
	assert.Equal(t, models.Point{X: 14, Y: 6, Z: 6}, pf.Paths[1].Points[0])

	_, err = os.Stat(filepath.Join(preview, "paths_mip_y.png"))
	assert.NoError(t, err)
}
