package cli

import (
	"fmt"
	"strings"

	"evm-stress/internal/config"
	"evm-stress/internal/image"
	"evm-stress/internal/pipeline"
	"evm-stress/internal/progress"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// paramFlags mirrors the processing record; only flags the user set override
// the configuration file.
type paramFlags struct {
	params     config.Params
	mode       string
	noStab     bool
	workers    int
	half       bool
	canonical  bool
	outDir     string
	figure     bool
	tiff       bool
	noProgress bool
}

func (f *paramFlags) register(fs *pflag.FlagSet) {
	def := config.DefaultParams()
	fs.IntVar(&f.params.MaxFrames, "max-frames", def.MaxFrames, "maximum frames to read (0 = all)")
	fs.BoolVar(&f.noStab, "no-stabilize", false, "disable camera-motion stabilization")
	fs.Float64Var(&f.params.FLow, "f-low", def.FLow, "band-pass lower edge, Hz")
	fs.Float64Var(&f.params.FHigh, "f-high", def.FHigh, "band-pass upper edge, Hz (must be below fps/2)")
	fs.Float64Var(&f.params.Alpha, "alpha", def.Alpha, "temporal amplification gain (>= 1)")
	fs.IntVar(&f.params.Order, "order", def.Order, "Butterworth filter order (1-10)")
	fs.IntVar(&f.params.PLow, "p-low", def.PLow, "lower normalization percentile (0-50)")
	fs.IntVar(&f.params.PHigh, "p-high", def.PHigh, "upper normalization percentile (50-100)")
	fs.StringVarP(&f.mode, "mode", "m", string(def.Mode), "output mode (heatmap|displacement)")
	fs.StringVar(&f.params.Colormap, "colormap", def.Colormap, "heatmap colormap ("+strings.Join(image.Names(), "|")+")")
	fs.Float64Var(&f.params.OverlayOpacity, "opacity", def.OverlayOpacity, "heatmap overlay opacity (0-1)")
	fs.Float64Var(&f.params.VisualGain, "gain", def.VisualGain, "visual gain applied to the RMS map (0.1-10)")
	fs.IntVar(&f.workers, "workers", 0, "worker goroutines (0 = all CPUs)")
	fs.BoolVar(&f.half, "half", false, "accumulate RMS in half precision")
	fs.BoolVar(&f.canonical, "canonical-vectors", false, "flip eigenvectors into the upper half plane")
	fs.StringVarP(&f.outDir, "out", "o", "", "output directory (default from config)")
	fs.BoolVar(&f.figure, "figure", true, "write the heatmap figure with a colorbar")
	fs.BoolVar(&f.tiff, "tiff", false, "write a 16-bit TIFF of the normalized heatmap")
	fs.BoolVar(&f.noProgress, "no-progress", false, "disable the progress bar")
}

// apply copies every flag the user set into cfg.
func (f *paramFlags) apply(fs *pflag.FlagSet, cfg *config.Config) error {
	set := func(name string, fn func()) {
		if fs.Changed(name) {
			fn()
		}
	}
	set("max-frames", func() { cfg.Params.MaxFrames = f.params.MaxFrames })
	set("no-stabilize", func() { cfg.Params.EnableStabilization = !f.noStab })
	set("f-low", func() { cfg.Params.FLow = f.params.FLow })
	set("f-high", func() { cfg.Params.FHigh = f.params.FHigh })
	set("alpha", func() { cfg.Params.Alpha = f.params.Alpha })
	set("order", func() { cfg.Params.Order = f.params.Order })
	set("p-low", func() { cfg.Params.PLow = f.params.PLow })
	set("p-high", func() { cfg.Params.PHigh = f.params.PHigh })
	set("colormap", func() { cfg.Params.Colormap = f.params.Colormap })
	set("opacity", func() { cfg.Params.OverlayOpacity = f.params.OverlayOpacity })
	set("gain", func() { cfg.Params.VisualGain = f.params.VisualGain })
	set("workers", func() { cfg.Processing.Workers = f.workers })
	set("half", func() { cfg.Processing.HalfPrecision = f.half })
	set("canonical-vectors", func() { cfg.Processing.CanonicalizeEigenvectors = f.canonical })
	set("out", func() { cfg.Output.Dir = f.outDir })
	set("figure", func() { cfg.Output.Figure = f.figure })
	set("tiff", func() { cfg.Output.TIFF = f.tiff })
	if fs.Changed("mode") {
		mode, err := config.ParseMode(f.mode)
		if err != nil {
			return err
		}
		cfg.Params.Mode = mode
	}
	return nil
}

func newProcessCmd(r *Root) *cobra.Command {
	var (
		flags paramFlags
		ext   string
	)

	cmd := &cobra.Command{
		Use:   "process <video|->",
		Short: "Run the magnification pipeline on a video",
		Long: `Decode the video, optionally stabilize it, band-pass filter every pixel and
write the output video plus, in heatmap mode, the RMS heatmap as PNG and CSV and a
report.json summary into the output directory. A video path of "-" reads the
container from stdin; --ext names its format.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.apply(cmd.Flags(), r.cfg); err != nil {
				return err
			}
			pipe, err := pipeline.New(r.cfg, r.log)
			if err != nil {
				return err
			}
			pipe.On(pipeline.EventStageStarted, func(d any) {
				r.log.Debug("stage started", "stage", d)
			})

			if !flags.noProgress {
				bar, finish := progress.NewBar(r.stderr, "processing")
				defer finish()
				pipe.OnProgress(bar)
			}

			var res *pipeline.Result
			if args[0] == "-" {
				res, err = pipe.ProcessReader(cmd.Context(), cmd.InOrStdin(), ext, r.cfg.Output.Dir)
			} else {
				res, err = pipe.ProcessFile(cmd.Context(), args[0], r.cfg.Output.Dir)
			}
			if err != nil {
				return err
			}
			return printResult(r, res)
		},
	}
	flags.register(cmd.Flags())
	cmd.Flags().StringVar(&ext, "ext", ".mp4", `container extension of a video read from stdin ("-")`)
	return cmd
}

func printResult(r *Root, res *pipeline.Result) error {
	w := r.stdout
	fmt.Fprintf(w, "run %s: %s mode, %d frames at %.2f fps\n", res.RunID, res.Mode, res.Frames.Len(), res.FPS)
	if c, ok := res.Points.CriticalPoint(); ok {
		fmt.Fprintf(w, "critical point: (%d, %d) |lambda|=%.6g dominant %.2f Hz\n", c.X, c.Y, c.Magnitude, res.DominantHz)
	}
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
	for _, a := range res.Artifacts {
		if _, err := fmt.Fprintf(w, "%-7s %s\n", a.Kind, a.Path); err != nil {
			return err
		}
	}
	return nil
}
