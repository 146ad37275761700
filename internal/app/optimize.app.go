package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	"github.com/raymondino/PortfolioManagement/internal/logger"
	l1_service "github.com/raymondino/PortfolioManagement/internal/service/l1"
	l2_service "github.com/raymondino/PortfolioManagement/internal/service/l2"
	l3_service "github.com/raymondino/PortfolioManagement/internal/service/l3"
)

type OptimizeHandler struct {
	PriceService      l1_service.PriceService
	CovarianceService l2_service.CovarianceService
	Optimizer         l3_service.Optimizer
}

type OptimizeInput struct {
	Symbols []string
	Start   *time.Time
	End     *time.Time

	RiskFreeAnnual float64

	// pins portfolio risk to this annualized value instead of solving
	// the unconstrained objective
	TargetAnnualRisk *float64
}

// OptimizedPortfolio is one objective's solution measured over the fit
// window.
type OptimizedPortfolio struct {
	Objective        l3_service.Objective
	Weights          domain.Weights
	AnnualizedReturn float64
	AnnualizedRisk   float64
	Ratio            float64
	// the ratio denominator was ~0 and Ratio carries no signal
	RatioDegenerate bool `json:",omitempty"`
}

// CapitalMarketLinePoint is a blend of the risk-free asset with the
// max-sharpe portfolio.
type CapitalMarketLinePoint struct {
	RiskyFraction    float64
	AnnualizedReturn float64
	AnnualizedRisk   float64
}

type OptimizeResponse struct {
	Start time.Time
	End   time.Time

	AssetStats  []l2_service.AssetStat
	Symbols     []string
	Correlation [][]float64

	Portfolios        []OptimizedPortfolio
	CapitalMarketLine []CapitalMarketLinePoint
}

func (h OptimizeHandler) Optimize(ctx context.Context, in OptimizeInput) (*OptimizeResponse, error) {
	log := logger.FromContext(ctx)

	history, err := h.PriceService.LoadPriceHistory(ctx, in.Symbols, in.Start, in.End)
	if err != nil {
		return nil, err
	}
	returns, err := history.Returns()
	if err != nil {
		return nil, err
	}
	snapshot, err := h.CovarianceService.Compute(returns)
	if err != nil {
		return nil, err
	}

	riskFreeDaily := domain.DailyRateFromAnnual(in.RiskFreeAnnual)

	optimizer := h.Optimizer
	if in.TargetAnnualRisk != nil {
		dailyRisk := *in.TargetAnnualRisk / math.Sqrt(252)
		optimizer = l3_service.NewOptimizer(l3_service.WithTargetDailyRisk(dailyRisk))
	}

	response := &OptimizeResponse{
		Start:       history.Inception(),
		End:         history.End(),
		AssetStats:  snapshot.AssetStats(),
		Symbols:     snapshot.Symbols,
		Correlation: correlationRows(snapshot),
	}

	type solver struct {
		objective l3_service.Objective
		fit       func() (domain.Weights, error)
	}
	solvers := []solver{
		{l3_service.ObjectiveMinRisk, func() (domain.Weights, error) {
			return optimizer.MinimizeRisk(snapshot)
		}},
		{l3_service.ObjectiveMaxSharpe, func() (domain.Weights, error) {
			return optimizer.MaximizeSharpe(snapshot, riskFreeDaily)
		}},
	}
	if in.TargetAnnualRisk == nil {
		solvers = append(solvers, solver{l3_service.ObjectiveMaxSortino, func() (domain.Weights, error) {
			return optimizer.MaximizeSortino(returns, riskFreeDaily)
		}})
	} else {
		log.Infow("skipping sortino objective, pinned risk applies to covariance objectives only")
	}

	for _, solver := range solvers {
		weights, err := solver.fit()
		if err != nil {
			var nonConvergence domain.NonConvergenceError
			if errors.As(err, &nonConvergence) {
				log.Warnw("objective did not converge", "objective", solver.objective, "error", err.Error())
				continue
			}
			return nil, fmt.Errorf("failed to optimize %s: %w", solver.objective, err)
		}
		portfolio, err := measurePortfolio(solver.objective, weights, returns, riskFreeDaily)
		if err != nil {
			return nil, err
		}
		if portfolio.RatioDegenerate {
			log.Warnw("ratio denominator is ~0, reporting 0", "objective", solver.objective)
		}
		response.Portfolios = append(response.Portfolios, *portfolio)

		if solver.objective == l3_service.ObjectiveMaxSharpe {
			response.CapitalMarketLine = capitalMarketLine(*portfolio, in.RiskFreeAnnual)
		}
	}

	if len(response.Portfolios) == 0 {
		return nil, domain.NonConvergenceError{Objective: "all", Status: "no objective converged"}
	}

	return response, nil
}

func measurePortfolio(objective l3_service.Objective, weights domain.Weights, returns *domain.ReturnMatrix, riskFreeDaily float64) (*OptimizedPortfolio, error) {
	series, err := returns.PortfolioSeries(weights)
	if err != nil {
		return nil, err
	}
	metrics, err := l3_service.CalculateMetrics(series)
	if err != nil {
		return nil, err
	}

	var ratio float64
	degenerateRatio := false
	if objective == l3_service.ObjectiveMaxSortino {
		ratio, err = l3_service.SortinoRatio(series, riskFreeDaily)
	} else {
		ratio, err = l3_service.SharpeRatio(metrics.DailyMeanReturn, metrics.DailyRisk, riskFreeDaily)
	}
	if err != nil {
		var degenerate domain.DegenerateInputError
		if !errors.As(err, &degenerate) {
			return nil, err
		}
		ratio = 0
		degenerateRatio = true
	}

	return &OptimizedPortfolio{
		Objective:        objective,
		Weights:          weights,
		AnnualizedReturn: metrics.AnnualizedReturn,
		AnnualizedRisk:   metrics.AnnualizedRisk,
		Ratio:            ratio,
		RatioDegenerate:  degenerateRatio,
	}, nil
}

// capitalMarketLine blends the risk-free asset with the tangency
// portfolio in 5% steps.
func capitalMarketLine(tangency OptimizedPortfolio, riskFreeAnnual float64) []CapitalMarketLinePoint {
	points := make([]CapitalMarketLinePoint, 0, 21)
	for step := 0; step <= 20; step++ {
		fraction := float64(step) / 20
		points = append(points, CapitalMarketLinePoint{
			RiskyFraction:    fraction,
			AnnualizedReturn: fraction*tangency.AnnualizedReturn + (1-fraction)*riskFreeAnnual,
			AnnualizedRisk:   fraction * tangency.AnnualizedRisk,
		})
	}
	return points
}

func correlationRows(snapshot *l2_service.Snapshot) [][]float64 {
	n := len(snapshot.Symbols)
	rows := make([][]float64, n)
	for i := 0; i < n; i++ {
		rows[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			rows[i][j] = snapshot.Correlation.At(i, j)
		}
	}
	return rows
}
