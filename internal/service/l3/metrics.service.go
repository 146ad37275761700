package l3_service

import (
	"math"

	"github.com/raymondino/PortfolioManagement/internal/domain"

	"github.com/montanaflynn/stats"
)

const tradingDaysPerYear = 252

// risk denominators below this are degenerate - ratios on top of them
// are meaningless
const riskFloor = 1e-9

type PerformanceMetrics struct {
	DailyMeanReturn  float64
	DailyRisk        float64
	AnnualizedReturn float64
	AnnualizedRisk   float64
}

// CalculateMetrics derives performance stats from a daily percentage
// change series: mean*252 for return, sample stdev*sqrt(252) for risk.
func CalculateMetrics(dailyChanges []float64) (*PerformanceMetrics, error) {
	if len(dailyChanges) < 2 {
		return nil, domain.InsufficientDataError{Observations: len(dailyChanges)}
	}

	mean, err := stats.Mean(dailyChanges)
	if err != nil {
		return nil, err
	}
	stdev, err := stats.StandardDeviationSample(dailyChanges)
	if err != nil {
		return nil, err
	}

	return &PerformanceMetrics{
		DailyMeanReturn:  mean,
		DailyRisk:        stdev,
		AnnualizedReturn: mean * tradingDaysPerYear,
		AnnualizedRisk:   stdev * math.Sqrt(tradingDaysPerYear),
	}, nil
}

// SharpeRatio is the annualized excess return over risk:
// sqrt(252) * (mean - rf) / stdev.
func SharpeRatio(dailyMeanReturn, dailyRisk, riskFreeDaily float64) (float64, error) {
	if dailyRisk < riskFloor {
		return 0, domain.DegenerateInputError{Reason: "cannot compute sharpe ratio: daily risk is ~0"}
	}
	return math.Sqrt(tradingDaysPerYear) * (dailyMeanReturn - riskFreeDaily) / dailyRisk, nil
}

// DownsideDeviation is sqrt(E[min(r - rf, 0)²]) over the realized
// series. It needs the full return path - covariance cannot express the
// asymmetry.
func DownsideDeviation(dailyChanges []float64, riskFreeDaily float64) float64 {
	if len(dailyChanges) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range dailyChanges {
		if d := r - riskFreeDaily; d < 0 {
			sum += d * d
		}
	}
	return math.Sqrt(sum / float64(len(dailyChanges)))
}

// SortinoRatio is the annualized excess return over downside deviation.
func SortinoRatio(dailyChanges []float64, riskFreeDaily float64) (float64, error) {
	if len(dailyChanges) < 2 {
		return 0, domain.InsufficientDataError{Observations: len(dailyChanges)}
	}
	downside := DownsideDeviation(dailyChanges, riskFreeDaily)
	if downside < riskFloor {
		return 0, domain.DegenerateInputError{Reason: "cannot compute sortino ratio: downside deviation is ~0"}
	}
	mean, err := stats.Mean(dailyChanges)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(tradingDaysPerYear) * (mean - riskFreeDaily) / downside, nil
}
