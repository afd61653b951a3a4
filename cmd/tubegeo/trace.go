package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"tubulargeodesics/internal/models"
	"tubulargeodesics/pkg/logging"
	"tubulargeodesics/pkg/search"
	"tubulargeodesics/pkg/visualization"
	"tubulargeodesics/pkg/volumeio"
)

var traceCmd = &cobra.Command{
	Use:   "trace <volume>",
	Short: "Trace minimal paths from the start points to each end point",
	Long: `Run a search job on a volume: compute its tubularity, propagate the
arrival front from every --start point and trace one path back from each
--end point. Paths are written as YAML; Ctrl-C interrupts the job and keeps
the paths finished so far.`,
	Args: cobra.ExactArgs(1),
	RunE: runTrace,
}

var (
	flagTraceStarts  []string
	flagTraceEnds    []string
	flagTraceOut     string
	flagTracePreview string
)

func init() {
	f := traceCmd.Flags()
	f.StringArrayVar(&flagTraceStarts, "start", nil, "Start point as x,y,z (repeatable)")
	f.StringArrayVar(&flagTraceEnds, "end", nil, "End point as x,y,z (repeatable)")
	f.StringVar(&flagTraceOut, "out", "paths.yaml", "Path output file")
	f.StringVar(&flagTracePreview, "preview", "", "Directory for projection previews with the paths drawn in")
	_ = traceCmd.MarkFlagRequired("start")
	_ = traceCmd.MarkFlagRequired("end")
	rootCmd.AddCommand(traceCmd)
}

// pathRecord is the YAML form of one traced end point.
type pathRecord struct {
	EndPoint int            `yaml:"endPoint"`
	Status   string         `yaml:"status"`
	Steps    int            `yaml:"steps"`
	Arrival  float64        `yaml:"arrival"`
	Length   float64        `yaml:"length"`
	Points   []models.Point `yaml:"points"`
}

type pathFile struct {
	Job   string       `yaml:"job"`
	State string       `yaml:"state"`
	Error string       `yaml:"error,omitempty"`
	Paths []pathRecord `yaml:"paths"`
}

// progress logs job events from the worker goroutine.
type progress struct {
	log *logging.Logger
}

func (p progress) OnStage(_ search.JobID, stage search.Stage) {
	p.log.Info("stage started", "stage", string(stage))
}

func (p progress) OnPath(_ search.JobID, r search.PathResult) {
	p.log.Info("path traced",
		"end_point", r.EndPoint,
		"status", r.Status.String(),
		"points", r.Path.Len(),
	)
}

func (p progress) OnDone(snap search.Snapshot) {
	p.log.Info("search finished", "state", snap.State.String(), "paths", len(snap.Paths))
}

func runTrace(cmd *cobra.Command, args []string) error {
	starts, err := parsePoints(flagTraceStarts)
	if err != nil {
		return err
	}
	ends, err := parsePoints(flagTraceEnds)
	if err != nil {
		return err
	}
	vol, err := volumeio.Load(args[0])
	if err != nil {
		return err
	}

	ctrl := search.NewController(search.Options{
		MaxConcurrentJobs: cfg.Search.MaxConcurrentJobs,
		Logger:            logger,
	})
	defer ctrl.Close()

	id, err := ctrl.Submit(search.Request{
		Volume: vol,
		Config: cfg,
		Starts: starts,
		Ends:   ends,
		Sink:   progress{log: logger},
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = ctrl.Interrupt(id)
	}()

	snap, err := ctrl.Wait(context.Background(), id)
	if err != nil {
		return err
	}

	out := pathFile{Job: id.String(), State: snap.State.String()}
	if snap.Err != nil {
		out.Error = snap.Err.Error()
	}
	var paths []models.Path
	for _, r := range snap.Paths {
		out.Paths = append(out.Paths, pathRecord{
			EndPoint: r.EndPoint,
			Status:   r.Status.String(),
			Steps:    r.Steps,
			Arrival:  r.Arrival,
			Length:   r.Path.Length(),
			Points:   r.Path,
		})
		paths = append(paths, r.Path)
	}
	if err := writeYAML(flagTraceOut, out); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Search %s %s: %d of %d paths written to %s\n",
		id, snap.State, len(snap.Paths), len(ends), flagTraceOut)

	if flagTracePreview != "" {
		files, err := visualization.NewViewer(vol.Field()).SaveProjections(flagTracePreview, "paths", paths)
		if err != nil {
			return err
		}
		for _, f := range files {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", f)
		}
	}

	if snap.State == search.Failed {
		return snap.Err
	}
	return nil
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("error marshaling %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
