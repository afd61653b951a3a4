package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/volumeio"
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Generate synthetic test volumes",
}

var synthLineCmd = &cobra.Command{
	Use:   "line <out.yaml>",
	Short: "Write a volume holding one bright straight segment",
	Args:  cobra.ExactArgs(1),
	RunE:  runSynthLine,
}

var (
	flagSynthDims      string
	flagSynthFrom      string
	flagSynthTo        string
	flagSynthRadius    float64
	flagSynthIntensity float64
	flagSynthEncoding  string
)

func init() {
	f := synthLineCmd.Flags()
	f.StringVar(&flagSynthDims, "dims", "48,24,24", "Volume size as width,height,depth")
	f.StringVar(&flagSynthFrom, "from", "4,12,12", "Segment start as x,y,z")
	f.StringVar(&flagSynthTo, "to", "43,12,12", "Segment end as x,y,z")
	f.Float64Var(&flagSynthRadius, "radius", 0, "Segment radius in voxels; 0 draws a one-voxel line")
	f.Float64Var(&flagSynthIntensity, "intensity", 255, "Segment intensity")
	f.StringVar(&flagSynthEncoding, "encoding", volumeio.Zstd, "Payload encoding (raw, gzip, zstd)")
	synthCmd.AddCommand(synthLineCmd)
	rootCmd.AddCommand(synthCmd)
}

func runSynthLine(cmd *cobra.Command, args []string) error {
	dims, err := parseDims(flagSynthDims)
	if err != nil {
		return err
	}
	from, err := parsePoint(flagSynthFrom)
	if err != nil {
		return err
	}
	to, err := parsePoint(flagSynthTo)
	if err != nil {
		return err
	}
	vol, err := models.NewLineVolume(dims, from, to, flagSynthRadius, flagSynthIntensity)
	if err != nil {
		return err
	}
	if err := volumeio.SaveRaw(args[0], vol, volumeio.Uint8, flagSynthEncoding); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Line volume %s written to %s\n", dims, args[0])
	return nil
}
