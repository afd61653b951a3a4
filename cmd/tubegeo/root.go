package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/config"
	"tubulargeodesics/pkg/logging"
)

var rootCmd = &cobra.Command{
	Use:          "tubegeo",
	Short:        "Tubularity measurement and geodesic path extraction for 3D volumes",
	SilenceUsage: true,
	Long: `tubegeo scores how vessel-like every voxel of a volume is with a multiscale
oriented flux filter, then traces minimal-cost paths between points along
the tubular structures it found.`,
	PersistentPreRunE: setup,
}

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string

	// cfg and logger are ready once setup has run
	cfg    *config.Config
	logger *logging.Logger
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "tubegeo.yaml", "Configuration file; defaults apply when it does not exist")
	pf.StringVar(&flagLogLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	pf.StringVar(&flagLogFormat, "log-format", "", "Override the configured log format (text, json)")
}

func setup(cmd *cobra.Command, _ []string) error {
	loaded, err := config.LoadConfig(flagConfig)
	if err != nil {
		return err
	}
	if flagLogLevel != "" {
		loaded.Logging.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		loaded.Logging.Format = flagLogFormat
	}
	if err := loaded.Validate(); err != nil {
		return err
	}
	cfg = loaded
	logger = logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// parsePoint reads an "x,y,z" triple in voxel coordinates.
func parsePoint(s string) (models.Point, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return models.Point{}, fmt.Errorf("point %q: expected x,y,z", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return models.Point{}, fmt.Errorf("point %q: %w", s, err)
		}
		v[i] = f
	}
	return models.Point{X: v[0], Y: v[1], Z: v[2]}, nil
}

func parsePoints(values []string) ([]models.Point, error) {
	out := make([]models.Point, 0, len(values))
	for _, s := range values {
		p, err := parsePoint(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// parseDims reads a "width,height,depth" triple.
func parseDims(s string) (models.Dims, error) {
	p, err := parsePoint(s)
	if err != nil {
		return models.Dims{}, err
	}
	d := models.Dims{Width: int(p.X), Height: int(p.Y), Depth: int(p.Z)}
	if float64(d.Width) != p.X || float64(d.Height) != p.Y || float64(d.Depth) != p.Z {
		return models.Dims{}, fmt.Errorf("dims %q: expected integers", s)
	}
	return d, d.Validate()
}
