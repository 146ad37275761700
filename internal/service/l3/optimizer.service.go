package l3_service

import (
	"fmt"
	"math"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	l2_service "github.com/raymondino/PortfolioManagement/internal/service/l2"

	"gonum.org/v1/gonum/optimize"
)

// penalty weight for the Σw=1 equality constraint (and the optional
// pinned-risk constraint)
const constraintPenalty = 1000.0

// Optimizer solves constrained weight vectors over a covariance
// snapshot: box bounds [0,1] per weight, weights summing to 1, no
// short selling. Stateless - every call solves from an equal-weight
// starting point.
type Optimizer interface {
	// MinimizeRisk minimizes sqrt(wᵀΣw). The mean vector is unused.
	MinimizeRisk(snapshot *l2_service.Snapshot) (domain.Weights, error)
	// MaximizeSharpe maximizes (w·μ - rf) / sqrt(wᵀΣw).
	MaximizeSharpe(snapshot *l2_service.Snapshot, riskFreeDaily float64) (domain.Weights, error)
	// MaximizeSortino maximizes excess return over downside deviation,
	// computed from the realized weighted return path rather than the
	// covariance matrix.
	MaximizeSortino(returns *domain.ReturnMatrix, riskFreeDaily float64) (domain.Weights, error)
}

type OptimizerOption func(*optimizerHandler)

// WithTargetDailyRisk adds an equality constraint pinning portfolio
// risk sqrt(wᵀΣw) to the given value. It applies to the
// covariance-based objectives only; MaximizeSortino rejects it.
func WithTargetDailyRisk(risk float64) OptimizerOption {
	return func(h *optimizerHandler) {
		h.targetDailyRisk = &risk
	}
}

type optimizerHandler struct {
	targetDailyRisk *float64
}

func NewOptimizer(opts ...OptimizerOption) Optimizer {
	h := &optimizerHandler{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *optimizerHandler) MinimizeRisk(snapshot *l2_service.Snapshot) (domain.Weights, error) {
	n := len(snapshot.Symbols)
	if n == 1 {
		// nothing to solve, and a 1x1 covariance may be degenerate
		return domain.Weights{Symbols: snapshot.Symbols, Values: []float64{1}}, nil
	}

	objective := func(x []float64) float64 {
		w := projectToBounds(x)
		return snapshot.Risk(w) + h.penalties(w, snapshot)
	}

	values, err := h.solve(objective, n, "min-risk")
	if err != nil {
		return domain.Weights{}, err
	}
	return h.finish(snapshot.Symbols, values)
}

func (h *optimizerHandler) MaximizeSharpe(snapshot *l2_service.Snapshot, riskFreeDaily float64) (domain.Weights, error) {
	n := len(snapshot.Symbols)
	if n == 1 {
		if snapshot.Risk([]float64{1}) < riskFloor {
			return domain.Weights{}, domain.NonConvergenceError{
				Objective: "max-sharpe",
				Status:    "portfolio risk is ~0",
			}
		}
		return domain.Weights{Symbols: snapshot.Symbols, Values: []float64{1}}, nil
	}

	objective := func(x []float64) float64 {
		w := projectToBounds(x)
		risk := math.Max(snapshot.Risk(w), riskFloor)
		return -(snapshot.MeanReturn(w)-riskFreeDaily)/risk + h.penalties(w, snapshot)
	}

	values, err := h.solve(objective, n, "max-sharpe")
	if err != nil {
		return domain.Weights{}, err
	}
	if snapshot.Risk(values) < riskFloor {
		return domain.Weights{}, domain.NonConvergenceError{
			Objective: "max-sharpe",
			Status:    "optimal portfolio risk is ~0",
		}
	}
	return h.finish(snapshot.Symbols, values)
}

func (h *optimizerHandler) MaximizeSortino(returns *domain.ReturnMatrix, riskFreeDaily float64) (domain.Weights, error) {
	if h.targetDailyRisk != nil {
		// downside deviation has no covariance form to pin against
		return domain.Weights{}, fmt.Errorf("cannot pin target risk for the sortino objective")
	}
	n := len(returns.Symbols)
	if returns.NumObservations() < 2 {
		return domain.Weights{}, domain.InsufficientDataError{Observations: returns.NumObservations()}
	}
	if n == 1 {
		return domain.Weights{Symbols: returns.Symbols, Values: []float64{1}}, nil
	}

	series := make([]float64, returns.NumObservations())
	objective := func(x []float64) float64 {
		w := projectToBounds(x)
		mean := 0.0
		for t, row := range returns.Returns {
			series[t] = 0
			for j, v := range row {
				series[t] += w[j] * v
			}
			mean += series[t]
		}
		mean /= float64(len(series))
		downside := math.Max(DownsideDeviation(series, riskFreeDaily), riskFloor)
		return -(mean-riskFreeDaily)/downside + h.penalties(w, nil)
	}

	values, err := h.solve(objective, n, "max-sortino")
	if err != nil {
		return domain.Weights{}, err
	}
	return h.finish(returns.Symbols, values)
}

// penalties adds the quadratic penalty for Σw=1 and, when configured
// and a snapshot is available, for the pinned-risk equality.
func (h *optimizerHandler) penalties(w []float64, snapshot *l2_service.Snapshot) float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	p := constraintPenalty * (sum - 1) * (sum - 1)
	if h.targetDailyRisk != nil && snapshot != nil {
		d := snapshot.Risk(w) - *h.targetDailyRisk
		p += constraintPenalty * d * d
	}
	return p
}

func (h *optimizerHandler) solve(objective func([]float64) float64, n int, name string) ([]float64, error) {
	problem := optimize.Problem{Func: objective}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if err != nil || !converged(result.Status) {
		// retry with a gradient method (numeric gradient)
		result, err = optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.BFGS{})
		if err != nil {
			return nil, domain.NonConvergenceError{Objective: name, Status: err.Error()}
		}
		if !converged(result.Status) {
			return nil, domain.NonConvergenceError{Objective: name, Status: result.Status.String()}
		}
	}

	return projectToBounds(result.X), nil
}

func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.FunctionThreshold:
		return true
	}
	return false
}

// finish normalizes the projected solution onto the simplex and
// validates the weight invariants.
func (h *optimizerHandler) finish(symbols []string, values []float64) (domain.Weights, error) {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	if sum < riskFloor {
		return domain.Weights{}, domain.NonConvergenceError{
			Objective: "normalize",
			Status:    "solved weights sum to ~0",
		}
	}
	for i := range values {
		values[i] /= sum
	}
	w := domain.Weights{Symbols: symbols, Values: values}
	if err := w.Validate(); err != nil {
		return domain.Weights{}, domain.NonConvergenceError{Objective: "normalize", Status: err.Error()}
	}
	return w, nil
}

func projectToBounds(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(0, math.Min(1, v))
	}
	return out
}
