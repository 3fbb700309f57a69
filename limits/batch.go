package limits

import (
	"context"

	"github.com/sartorproj/simplik/model"
	"golang.org/x/sync/errgroup"
)

// RegionResult is the best-effort outcome for one model of a batch.
type RegionResult struct {
	Name        string  `json:"name"`
	Limit       *Limit  `json:"limit"`
	ExclusionCL float64 `json:"exclusion_cl"` // 1-CLs of the nominal signal
	Err         error   `json:"-"`
	Error       string  `json:"error,omitempty"`
}

// Run computes the upper limit and the exclusion level of the nominal
// signal for every model, using up to Workers goroutines. A failure of one
// model is recorded in its result and does not stop the others; the
// returned error is non-nil only if ctx ends first.
func (s *Solver) Run(ctx context.Context, models []*model.Model, expected Expected) ([]RegionResult, error) {
	results := make([]RegionResult, len(models))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i, m := range models {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.runOne(gctx, m, expected)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, ctx.Err()
}

func (s *Solver) runOne(ctx context.Context, m *model.Model, expected Expected) RegionResult {
	res := RegionResult{Name: m.Name}

	l, err := s.ULOnYields(ctx, m, expected)
	res.Limit = l
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		s.log.Warn("upper limit failed", "model", m.Name, "state", l.State, "error", err)
		return res
	}

	cl, err := s.ExclusionCL(ctx, m, expected)
	if err != nil {
		res.Err = err
		res.Error = err.Error()
		return res
	}
	res.ExclusionCL = cl
	return res
}
