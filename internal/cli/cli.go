// Package cli implements the evm-stress command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"evm-stress/internal/config"
	"evm-stress/internal/logging"
	"evm-stress/internal/version"

	"github.com/spf13/cobra"
)

// Root carries state shared by every subcommand.
type Root struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	logLevel   string
	logFormat  string

	cfg *config.Config
	log *slog.Logger
}

// NewRootCmd builds the command tree writing to the given streams.
func NewRootCmd(stdout, stderr io.Writer) *cobra.Command {
	r := &Root{stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "evm-stress",
		Short: "Estimate vibrational stress from video with Eulerian magnification",
		Long: `evm-stress amplifies sub-pixel periodic motion in a video and summarizes it
either as an RMS heatmap with principal stress directions or as a displacement
video highlighting the strongest motion.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return r.init()
		},
	}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&r.configPath, "config", "", "config file (default $EVM_STRESS_CONFIG or ~/.config/evm-stress/config.json)")
	pf.StringVar(&r.logLevel, "log-level", "", "log level (debug|info|warn|error), overrides the config file")
	pf.StringVar(&r.logFormat, "log-format", "", "log format (text|json), overrides the config file")

	rootCmd.AddCommand(newProcessCmd(r))
	rootCmd.AddCommand(newStabilizeCmd(r))
	rootCmd.AddCommand(newSynthCmd(r))
	rootCmd.AddCommand(newConfigCmd(r))
	rootCmd.AddCommand(newVersionCmd(r))
	return rootCmd
}

func (r *Root) init() error {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return err
	}
	if r.logLevel != "" {
		cfg.Logging.Level = r.logLevel
	}
	if r.logFormat != "" {
		cfg.Logging.Format = r.logFormat
	}
	r.cfg = cfg
	r.log = logging.NewWithWriter(r.stderr, cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cmd := NewRootCmd(os.Stdout, os.Stderr)
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, config.ErrConfig) {
			return 2
		}
		return 1
	}
	return 0
}

func newConfigCmd(r *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(r.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(r.cfg)
		},
	}
}

func newVersionCmd(r *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(r.stdout, version.String())
			return err
		},
	}
}
