package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sartorproj/simplik/likelihood"
	"github.com/sartorproj/simplik/limits"
)

// MuHatResult holds the best fit of one model for JSON export
type MuHatResult struct {
	Name    string  `json:"name"`
	MuHat   float64 `json:"mu_hat"`
	SigmaMu float64 `json:"sigma_mu"`
	NLL     float64 `json:"nll"`
	Chi2    float64 `json:"chi2"`
	Error   string  `json:"error,omitempty"`
}

// CLsResult holds the exclusion level of one model for JSON export
type CLsResult struct {
	Name  string  `json:"name"`
	Mu    float64 `json:"mu"` // total signal yield of the hypothesis
	CL    float64 `json:"cl"` // 1-CLs
	Error string  `json:"error,omitempty"`
}

// ULResult holds the limits of one model for JSON export
type ULResult struct {
	limits.RegionResult
	SigmaTimesEff float64 `json:"sigma_times_eff,omitempty"`
}

func newMuHatCommand(opts *RootOptions) *cobra.Command {
	var allowNegative bool

	cmd := &cobra.Command{
		Use:   "muhat",
		Short: "Fit the signal strength that maximizes the profile likelihood",
		Long: `Fit the signal strength mu that maximizes the profile likelihood of
the nominal signal scaled by mu, and report its uncertainty together with the
chi2 of the nominal signal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}

			cfg := s.solver.Config()
			results := make([]MuHatResult, 0, len(s.models))
			for _, m := range s.models {
				res := MuHatResult{Name: m.Name}
				e := likelihood.New(m, cfg.Likelihood)

				fit, err := e.FindMuHat(m.Signal(), allowNegative)
				if err != nil {
					res.Error = err.Error()
					results = append(results, res)
					continue
				}
				res.MuHat, res.SigmaMu, res.NLL = fit.MuHat, fit.SigmaMu, fit.NLL

				if res.Chi2, err = e.Chi2(m.Signal(), cfg.Marginalize); err != nil {
					res.Error = err.Error()
				}
				results = append(results, res)
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, results)
			}
			for _, r := range results {
				if r.Error != "" {
					fmt.Fprintf(out, "%-20s error: %s\n", r.Name, r.Error)
					continue
				}
				fmt.Fprintf(out, "%-20s mu_hat=%.4f sigma_mu=%.4f nll=%.4f chi2=%.4f\n",
					r.Name, r.MuHat, r.SigmaMu, r.NLL, r.Chi2)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&allowNegative, "allow-negative", false, "allow a negative best-fit signal strength")
	return cmd
}

func newCLsCommand(opts *RootOptions) *cobra.Command {
	var mu float64

	cmd := &cobra.Command{
		Use:   "cls",
		Short: "Compute the exclusion level 1-CLs of a signal hypothesis",
		Long: `Compute the exclusion confidence level 1-CLs of a signal hypothesis.
Without --mu the nominal signal is tested; with --mu the signal shape is
scaled to a total yield of mu.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			results := make([]CLsResult, 0, len(s.models))
			for _, m := range s.models {
				res := CLsResult{Name: m.Name, Mu: mu}
				var cl float64
				if cmd.Flags().Changed("mu") {
					cl, err = s.solver.ComputeCLs(ctx, m, mu, s.expected)
				} else {
					res.Mu = sum(m.Signal())
					cl, err = s.solver.ExclusionCL(ctx, m, s.expected)
				}
				if err != nil {
					res.Error = err.Error()
				}
				res.CL = cl
				results = append(results, res)
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, results)
			}
			for _, r := range results {
				if r.Error != "" {
					fmt.Fprintf(out, "%-20s error: %s\n", r.Name, r.Error)
					continue
				}
				fmt.Fprintf(out, "%-20s mu=%.4f 1-CLs=%.4f\n", r.Name, r.Mu, r.CL)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&mu, "mu", 0, "total signal yield to test (default: the nominal signal)")
	return cmd
}

func newULCommand(opts *RootOptions) *cobra.Command {
	var lumi float64

	cmd := &cobra.Command{
		Use:   "ul",
		Short: "Compute upper limits on the signal yield",
		Long: `Compute the upper limit on the total signal yield of every region
together with the exclusion level of the nominal signal. When a luminosity is
known, from --lumi or the region's lumi field, the limit on the visible cross
section is reported too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := load(cmd, opts)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			batch, err := s.solver.Run(ctx, s.models, s.expected)
			if err != nil {
				return err
			}

			results := make([]ULResult, len(batch))
			for i, r := range batch {
				results[i].RegionResult = r
				m := s.models[i]
				if r.Err != nil || (lumi <= 0 && m.Lumi <= 0) {
					continue
				}
				l := lumi
				if l <= 0 {
					l = m.Lumi
				}
				results[i].SigmaTimesEff = r.Limit.Value / l
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, results)
			}
			writeULText(out, results)
			return nil
		},
	}

	cmd.Flags().Float64Var(&lumi, "lumi", 0, "integrated luminosity for limits on sigma x efficiency")
	return cmd
}

func writeULText(w io.Writer, results []ULResult) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintf(w, "%-20s %12s %10s %10s %10s\n", "Region", "UL", "mu_hat", "sigma_mu", "1-CLs")
	fmt.Fprintln(w, strings.Repeat("-", 72))
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(w, "%-20s %12s (%s: %s)\n", r.Name, "failed", r.Limit.State, r.Error)
			continue
		}
		fmt.Fprintf(w, "%-20s %12.4f %10.4f %10.4f %10.4f\n",
			r.Name, r.Limit.Value, r.Limit.MuHat, r.Limit.SigmaMu, r.ExclusionCL)
		if r.SigmaTimesEff > 0 {
			fmt.Fprintf(w, "%-20s %12.6g (sigma x eff)\n", "", r.SigmaTimesEff)
		}
	}
	fmt.Fprintln(w, strings.Repeat("=", 72))
}

func sum(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s
}
