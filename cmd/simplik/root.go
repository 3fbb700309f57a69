package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/sartorproj/simplik/limits"
	"github.com/sartorproj/simplik/model"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config      string
	CSV         string
	Format      string // "json" | "text"
	Verbose     bool
	Expected    string
	Marginalize bool
	Combine     bool
	Toys        int
	Seed        uint64
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "simplik",
		Short: "Simplified-likelihood limits",
		Long: `Compute profile and marginal likelihoods, best-fit signal strengths,
asymptotic CLs values and upper limits for counting experiments described by
observed counts, background expectations with their covariance, and a signal
hypothesis.

Regions are read from a YAML configuration (--config) or a CSV table
(--csv) with one uncorrelated region per row.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if cmd.Name() == "help" {
				return nil
			}
			if opts.Config == "" && opts.CSV == "" {
				return errors.New("one of --config or --csv is required")
			}
			if _, err := limits.ParseExpected(opts.Expected); err != nil {
				return err
			}
			slog.SetDefault(newLogger(cmd.ErrOrStderr(), opts.Verbose))
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "YAML configuration with settings and regions")
	cmd.PersistentFlags().StringVar(&opts.CSV, "csv", "", "CSV table of uncorrelated regions")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.Expected, "expected", "observed", "dataset: observed, apriori or aposteriori")
	cmd.PersistentFlags().BoolVar(&opts.Marginalize, "marginalize", false, "marginalize instead of profiling the nuisances")
	cmd.PersistentFlags().BoolVar(&opts.Combine, "combine", false, "evaluate all regions as one model")
	cmd.PersistentFlags().IntVar(&opts.Toys, "toys", 0, "Monte Carlo samples for marginalization")
	cmd.PersistentFlags().Uint64Var(&opts.Seed, "seed", 0, "seed of the Monte Carlo generator")

	cmd.AddCommand(newMuHatCommand(opts))
	cmd.AddCommand(newCLsCommand(opts))
	cmd.AddCommand(newULCommand(opts))

	return cmd
}

// setup holds what every command needs after reading its inputs.
type setup struct {
	models   []*model.Model
	solver   *limits.Solver
	expected limits.Expected
	file     *FileConfig
}

// load reads the configured inputs. Flags that were set on the command line
// override the file settings.
func load(cmd *cobra.Command, opts *RootOptions) (*setup, error) {
	file := &FileConfig{}
	if opts.Config != "" {
		var err error
		if file, err = loadConfig(opts.Config); err != nil {
			return nil, err
		}
	}
	if opts.CSV != "" {
		regions, err := model.LoadCSV(opts.CSV, nil)
		if err != nil {
			return nil, err
		}
		file.Regions = append(file.Regions, regions...)
	}

	flags := cmd.Flags()
	if flags.Changed("expected") || opts.Config == "" {
		e, err := limits.ParseExpected(opts.Expected)
		if err != nil {
			return nil, err
		}
		file.Expected = e
	}
	if flags.Changed("marginalize") {
		file.Marginalize = opts.Marginalize
	}
	if flags.Changed("combine") {
		file.Combine = opts.Combine
	}
	if flags.Changed("toys") {
		file.Toys = opts.Toys
	}
	if flags.Changed("seed") {
		file.Seed = opts.Seed
	}

	models, err := file.models()
	if err != nil {
		return nil, err
	}

	cfg := file.solverConfig()
	cfg.Logger = slog.Default()
	return &setup{
		models:   models,
		solver:   limits.New(cfg),
		expected: file.Expected,
		file:     file,
	}, nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05",
		NoColor:    !isTerminal(w),
	}))
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// writeJSON writes v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
