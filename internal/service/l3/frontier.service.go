package l3_service

import (
	"context"
	"errors"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	"github.com/raymondino/PortfolioManagement/internal/logger"
	l2_service "github.com/raymondino/PortfolioManagement/internal/service/l2"
)

type Objective string

const (
	ObjectiveMinRisk    Objective = "min-risk"
	ObjectiveMaxSharpe  Objective = "max-sharpe"
	ObjectiveMaxSortino Objective = "max-sortino"
)

var allObjectives = []Objective{ObjectiveMinRisk, ObjectiveMaxSharpe, ObjectiveMaxSortino}

// Checkpoint is one walk-forward evaluation interval [Start, End).
// Weights are fit on data strictly before Start and judged on the
// returns inside the interval.
type Checkpoint struct {
	Start   time.Time
	End     time.Time
	Partial bool
}

// GenerateCheckpoints builds yearly intervals from inception+1y onward,
// closing with a partial interval that ends at the last trading day.
// The first year of history is reserved as the initial fitting window.
func GenerateCheckpoints(inception, end time.Time) []Checkpoint {
	checkpoints := []Checkpoint{}
	cur := inception.AddDate(1, 0, 0)
	for {
		next := cur.AddDate(1, 0, 0)
		if next.After(end) {
			break
		}
		checkpoints = append(checkpoints, Checkpoint{Start: cur, End: next})
		cur = next
	}
	checkpoints = append(checkpoints, Checkpoint{Start: cur, End: end, Partial: true})
	return checkpoints
}

// PerformanceSample is how one weight vector performed over one
// realized window.
type PerformanceSample struct {
	Weights     domain.Weights
	DailyReturn float64
	DailyRisk   float64
	Ratio       float64
}

// YearComparison quantifies, for one evaluation year and objective, how
// weights predicted from history compare against the hindsight-optimal
// weights re-fit on that same year.
type YearComparison struct {
	Start     time.Time
	End       time.Time
	Partial   bool
	Objective Objective
	Predicted PerformanceSample
	Hindsight PerformanceSample
}

type FrontierService interface {
	Evaluate(ctx context.Context, history *domain.PriceHistory, riskFreeDaily float64) ([]YearComparison, error)
}

type frontierServiceHandler struct {
	CovarianceService l2_service.CovarianceService
	Optimizer         Optimizer
}

func NewFrontierService(covarianceService l2_service.CovarianceService, optimizer Optimizer) FrontierService {
	return frontierServiceHandler{
		CovarianceService: covarianceService,
		Optimizer:         optimizer,
	}
}

func (h frontierServiceHandler) Evaluate(ctx context.Context, history *domain.PriceHistory, riskFreeDaily float64) ([]YearComparison, error) {
	log := logger.FromContext(ctx)

	returns, err := history.Returns()
	if err != nil {
		return nil, err
	}

	inception := history.Inception()
	checkpoints := GenerateCheckpoints(inception, history.End())

	out := []YearComparison{}
	for _, cp := range checkpoints {
		fit := returns.Window(inception, cp.Start)
		realized := returns.Window(cp.Start, cp.End)
		if fit.NumObservations() < 2 || realized.NumObservations() < 2 {
			log.Infow("skipping checkpoint with insufficient data",
				"start", cp.Start.Format(time.DateOnly),
				"end", cp.End.Format(time.DateOnly),
				"fitObservations", fit.NumObservations(),
				"realizedObservations", realized.NumObservations(),
			)
			continue
		}

		for _, objective := range allObjectives {
			predictedWeights, err := h.fitWeights(objective, fit, riskFreeDaily)
			if err != nil {
				if recoverable(err) {
					log.Warnw("skipping objective for checkpoint",
						"objective", objective,
						"start", cp.Start.Format(time.DateOnly),
						"error", err.Error(),
					)
					continue
				}
				return nil, err
			}
			hindsightWeights, err := h.fitWeights(objective, realized, riskFreeDaily)
			if err != nil {
				if recoverable(err) {
					log.Warnw("skipping objective for checkpoint",
						"objective", objective,
						"start", cp.Start.Format(time.DateOnly),
						"error", err.Error(),
					)
					continue
				}
				return nil, err
			}

			predicted, err := measure(objective, predictedWeights, realized, riskFreeDaily)
			if err == nil {
				var hindsight *PerformanceSample
				hindsight, err = measure(objective, hindsightWeights, realized, riskFreeDaily)
				if err == nil {
					out = append(out, YearComparison{
						Start:     cp.Start,
						End:       cp.End,
						Partial:   cp.Partial,
						Objective: objective,
						Predicted: *predicted,
						Hindsight: *hindsight,
					})
					continue
				}
			}
			if recoverable(err) {
				log.Warnw("skipping objective for checkpoint",
					"objective", objective,
					"start", cp.Start.Format(time.DateOnly),
					"error", err.Error(),
				)
				continue
			}
			return nil, err
		}
	}

	return out, nil
}

func (h frontierServiceHandler) fitWeights(objective Objective, window *domain.ReturnMatrix, riskFreeDaily float64) (domain.Weights, error) {
	if objective == ObjectiveMaxSortino {
		return h.Optimizer.MaximizeSortino(window, riskFreeDaily)
	}
	snapshot, err := h.CovarianceService.Compute(window)
	if err != nil {
		return domain.Weights{}, err
	}
	if objective == ObjectiveMinRisk {
		return h.Optimizer.MinimizeRisk(snapshot)
	}
	return h.Optimizer.MaximizeSharpe(snapshot, riskFreeDaily)
}

// measure applies weights to the realized window. the ratio column is
// sortino for the sortino objective and sharpe otherwise. a degenerate
// denominator propagates so the caller can drop the row instead of
// reporting a fake 0 ratio.
func measure(objective Objective, weights domain.Weights, realized *domain.ReturnMatrix, riskFreeDaily float64) (*PerformanceSample, error) {
	series, err := realized.PortfolioSeries(weights)
	if err != nil {
		return nil, err
	}
	metrics, err := CalculateMetrics(series)
	if err != nil {
		return nil, err
	}

	var ratio float64
	if objective == ObjectiveMaxSortino {
		ratio, err = SortinoRatio(series, riskFreeDaily)
	} else {
		ratio, err = SharpeRatio(metrics.DailyMeanReturn, metrics.DailyRisk, riskFreeDaily)
	}
	if err != nil {
		return nil, err
	}

	return &PerformanceSample{
		Weights:     weights,
		DailyReturn: metrics.DailyMeanReturn,
		DailyRisk:   metrics.DailyRisk,
		Ratio:       ratio,
	}, nil
}

func recoverable(err error) bool {
	var insufficient domain.InsufficientDataError
	var nonConvergence domain.NonConvergenceError
	var degenerate domain.DegenerateInputError
	return errors.As(err, &insufficient) || errors.As(err, &nonConvergence) || errors.As(err, &degenerate)
}
