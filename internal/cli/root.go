// Package cli implements the xenium-tiler command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/soma-tiles/xenium-tiler/internal/config"
	"github.com/soma-tiles/xenium-tiler/internal/service"
)

// Options holds the raw flag values. Only flags the user set override the
// configuration file.
type Options struct {
	ConfigPath         string
	MinQV              float64
	Width              float64
	Height             float64
	Overlap            float64
	MinimalTranscripts int
	NucleusOnly        bool
	ExcludeGenes       []string
	OutDir             string
	Threads            int
	Compress           string
	Manifest           bool
	Preview            bool
	Verbose            bool
}

// NewRootCommand creates the xenium-tiler command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&Options{})
}

func newRootCommand(opts *Options) *cobra.Command {
	defaults := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "xenium-tiler [flags] <in_file>",
		Short: "Split a Xenium transcripts table into overlapping tiles",
		Long: `Split a Xenium transcripts table (CSV, CSV.GZ, CSV.ZST or Parquet) into
overlapping rectangular tiles, one CSV per tile.

Transcripts below the quality threshold or whose gene starts with an excluded
prefix are dropped. Cell ids are decoded to integers. Tiles that hold fewer
than --minimal-transcripts grow by --overlap until they do or cover the whole
section.

Example:
  xenium-tiler --out-dir tiles transcripts.parquet
  xenium-tiler --width 2000 --height 2000 --nucleus-only --compress zstd transcripts.csv.gz`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return NewExitError(ExitConfigError, fmt.Sprintf("expected exactly one input file, got %d", len(args)))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTiler(cmd, opts, args[0])
		},
	}

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return WrapExitError(ExitConfigError, "invalid flag", err)
	})

	fs := cmd.Flags()
	fs.StringVar(&opts.ConfigPath, "config", "", "YAML configuration file; explicit flags take precedence")
	fs.Float64Var(&opts.MinQV, "min-qv", defaults.Filter.MinQV, "minimum transcript quality value")
	fs.Float64Var(&opts.Width, "width", defaults.Tiling.Width, "tile width in microns")
	fs.Float64Var(&opts.Height, "height", defaults.Tiling.Height, "tile height in microns")
	fs.Float64Var(&opts.Overlap, "overlap", defaults.Tiling.Overlap, "overlap band and expansion step in microns")
	fs.IntVar(&opts.MinimalTranscripts, "minimal-transcripts", defaults.Tiling.MinimalTranscripts, "grow tiles until they hold this many transcripts")
	fs.BoolVar(&opts.NucleusOnly, "nucleus-only", defaults.Filter.NucleusOnly, "unassign transcripts outside a nucleus")
	fs.StringSliceVar(&opts.ExcludeGenes, "exclude-genes", defaults.Filter.ExcludeGenes, "gene name prefixes to drop")
	fs.StringVar(&opts.OutDir, "out-dir", defaults.Output.Dir, "output directory")
	fs.IntVar(&opts.Threads, "threads", defaults.Runtime.Threads, "worker threads, 0 uses all CPUs")
	fs.StringVar(&opts.Compress, "compress", defaults.Output.Compression, "tile compression (none|zstd)")
	fs.BoolVar(&opts.Manifest, "manifest", defaults.Output.Manifest, "record the run in tiles.sqlite")
	fs.BoolVar(&opts.Preview, "preview", defaults.Output.Preview, "draw the tile layout to tiles.png")
	fs.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	return cmd
}

// resolveConfig loads the configuration file, if any, and overlays the flags
// the user set explicitly.
func resolveConfig(fs *pflag.FlagSet, opts *Options, inFile string) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, &config.ConfigError{Field: "config", Reason: err.Error()}
	}
	cfg.Input.Path = inFile

	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("min-qv", func() { cfg.Filter.MinQV = opts.MinQV })
	set("width", func() { cfg.Tiling.Width = opts.Width })
	set("height", func() { cfg.Tiling.Height = opts.Height })
	set("overlap", func() { cfg.Tiling.Overlap = opts.Overlap })
	set("minimal-transcripts", func() { cfg.Tiling.MinimalTranscripts = opts.MinimalTranscripts })
	set("nucleus-only", func() { cfg.Filter.NucleusOnly = opts.NucleusOnly })
	set("exclude-genes", func() { cfg.Filter.ExcludeGenes = trimAll(opts.ExcludeGenes) })
	set("out-dir", func() { cfg.Output.Dir = opts.OutDir })
	set("threads", func() { cfg.Runtime.Threads = opts.Threads })
	set("compress", func() { cfg.Output.Compression = strings.ToLower(opts.Compress) })
	set("manifest", func() { cfg.Output.Manifest = opts.Manifest })
	set("preview", func() { cfg.Output.Preview = opts.Preview })
	set("verbose", func() { cfg.Runtime.Verbose = opts.Verbose })

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func runTiler(cmd *cobra.Command, opts *Options, inFile string) error {
	cfg, err := resolveConfig(cmd.Flags(), opts, inFile)
	if err != nil {
		return classify("invalid configuration", err)
	}

	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if cfg.Runtime.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel,
	}))

	svc, err := service.NewTilingService(cfg, logger)
	if err != nil {
		return classify("invalid configuration", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	sum, err := svc.Run(ctx)
	if err != nil {
		return classify("tiling failed", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d tiles, %s transcripts (%s) written to %s\n",
		sum.Tiles, humanize.Comma(int64(sum.Kept)), humanize.Bytes(uint64(sum.Bytes)), cfg.Output.Dir)
	return nil
}

// Execute runs the command with args and returns the process exit code.
// Interrupts cancel the run.
func Execute(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}
	return GetExitCode(err)
}
