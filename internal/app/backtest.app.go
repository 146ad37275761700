package app

import (
	"context"
	"fmt"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	"github.com/raymondino/PortfolioManagement/internal/logger"
	"github.com/raymondino/PortfolioManagement/internal/repository"
	l1_service "github.com/raymondino/PortfolioManagement/internal/service/l1"
	l3_service "github.com/raymondino/PortfolioManagement/internal/service/l3"

	"github.com/shopspring/decimal"
)

type BacktestHandler struct {
	PriceService       l1_service.PriceService
	BacktestService    l3_service.BacktestService
	SnapshotRepository repository.SnapshotRepository
	Benchmark          BenchmarkHandler
}

type BacktestAppInput struct {
	Symbols []string
	Weights []float64
	Start   *time.Time
	End     *time.Time

	InitialFund          decimal.Decimal
	ContributionAmount   decimal.Decimal
	ContributionInterval int

	Policy         l3_service.Policy
	Rounding       l3_service.RoundingMode
	RiskFreeAnnual float64
	Label          string

	// optional buy-and-hold comparison series, e.g. SPY
	BenchmarkSymbol string
}

type BacktestAppResponse struct {
	Result    *l3_service.BacktestResult
	Benchmark *BenchmarkSummary
}

// benchmark % change from start is sampled weekly for the summary
const benchmarkSampleGranularity = 7 * 24 * time.Hour

// BenchmarkSummary is what a lump-sum buy of the benchmark over the
// same window would have done.
type BenchmarkSummary struct {
	Symbol       string
	FinalValue   decimal.Decimal
	TotalGain    decimal.Decimal
	Metrics      *l3_service.PerformanceMetrics
	SharpeRatio  *float64
	SortinoRatio *float64

	// cumulative % change from the window start, sampled weekly
	IntraPeriodChange map[time.Time]float64
}

func (h BacktestHandler) Backtest(ctx context.Context, in BacktestAppInput) (*BacktestAppResponse, error) {
	if len(in.Symbols) != len(in.Weights) {
		return nil, domain.DegenerateInputError{
			Reason: fmt.Sprintf("got %d symbols but %d weights", len(in.Symbols), len(in.Weights)),
		}
	}

	history, err := h.PriceService.LoadPriceHistory(ctx, in.Symbols, in.Start, in.End)
	if err != nil {
		return nil, err
	}
	weights := domain.Weights{Symbols: history.Symbols, Values: in.Weights}

	result, err := h.BacktestService.Run(ctx, l3_service.BacktestInput{
		History:              history,
		TargetWeights:        weights,
		InitialFund:          in.InitialFund,
		ContributionAmount:   in.ContributionAmount,
		ContributionInterval: in.ContributionInterval,
		Policy:               in.Policy,
		Rounding:             in.Rounding,
		RiskFreeDaily:        domain.DailyRateFromAnnual(in.RiskFreeAnnual),
		Label:                in.Label,
	})
	if err != nil {
		return nil, err
	}

	response := &BacktestAppResponse{Result: result}
	if in.BenchmarkSymbol != "" {
		summary, err := h.benchmarkLumpSum(ctx, in.BenchmarkSymbol, history.Inception(), history.End(), in.InitialFund, in.RiskFreeAnnual)
		if err != nil {
			return nil, fmt.Errorf("failed to compute benchmark comparison: %w", err)
		}
		response.Benchmark = summary
	}
	return response, nil
}

func (h BacktestHandler) benchmarkLumpSum(ctx context.Context, symbol string, start, end time.Time, fund decimal.Decimal, riskFreeAnnual float64) (*BenchmarkSummary, error) {
	log := logger.FromContext(ctx)

	prices, changes, err := h.Benchmark.DailyChanges(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}

	shares := fund.Div(decimal.NewFromFloat(prices[0].Price))
	finalValue := shares.Mul(decimal.NewFromFloat(prices[len(prices)-1].Price))

	intraPeriod, err := h.Benchmark.GetIntraPeriodChange(ctx, symbol, start, end, benchmarkSampleGranularity)
	if err != nil {
		return nil, err
	}

	summary := &BenchmarkSummary{
		Symbol:            symbol,
		FinalValue:        finalValue,
		TotalGain:         finalValue.Sub(fund),
		IntraPeriodChange: intraPeriod,
	}

	if len(changes) >= 2 {
		metrics, err := l3_service.CalculateMetrics(changes)
		if err != nil {
			return nil, err
		}
		summary.Metrics = metrics
		riskFreeDaily := domain.DailyRateFromAnnual(riskFreeAnnual)
		if sharpe, err := l3_service.SharpeRatio(metrics.DailyMeanReturn, metrics.DailyRisk, riskFreeDaily); err != nil {
			log.Warnw("benchmark sharpe ratio unavailable", "symbol", symbol, "error", err.Error())
		} else {
			summary.SharpeRatio = &sharpe
		}
		if sortino, err := l3_service.SortinoRatio(changes, riskFreeDaily); err != nil {
			log.Warnw("benchmark sortino ratio unavailable", "symbol", symbol, "error", err.Error())
		} else {
			summary.SortinoRatio = &sortino
		}
	}

	return summary, nil
}

type PerformanceInput struct {
	SnapshotPath    string
	RiskFreeAnnual  float64
	BenchmarkSymbol string
}

type PerformanceResponse struct {
	Start      time.Time
	End        time.Time
	TotalCost  decimal.Decimal
	FinalValue decimal.Decimal
	TotalGain  decimal.Decimal

	DailyChanges []float64
	Metrics      *l3_service.PerformanceMetrics
	SharpeRatio  *float64
	SortinoRatio *float64

	Benchmark *BenchmarkSummary
}

// Performance replays a recorded purchase snapshot against actual
// prices: holdings accumulate as the purchases occurred and each day's
// change is measured net of new money.
func (h BacktestHandler) Performance(ctx context.Context, in PerformanceInput) (*PerformanceResponse, error) {
	log := logger.FromContext(ctx)

	snapshot, err := h.SnapshotRepository.Load(in.SnapshotPath)
	if err != nil {
		return nil, err
	}
	start, err := snapshot.StartDate()
	if err != nil {
		return nil, err
	}

	history, err := h.PriceService.LoadPriceHistory(ctx, snapshot.Symbols(), &start, nil)
	if err != nil {
		return nil, err
	}

	// purchase events keyed by snapshot date; a purchase on a
	// non-trading day settles on the next trading day
	type pendingPurchase struct {
		date time.Time
		cost decimal.Decimal
		buys map[string]repository.PurchaseRecord
	}
	pending := []pendingPurchase{}
	dates, err := snapshot.Dates()
	if err != nil {
		return nil, err
	}
	for _, date := range dates {
		buys := snapshot.Purchases[date.Format(time.DateOnly)]
		cost := decimal.Zero
		for _, purchase := range buys {
			cost = cost.Add(decimal.NewFromFloat(purchase.Price).Mul(decimal.NewFromFloat(purchase.Share)))
		}
		pending = append(pending, pendingPurchase{date: date, cost: cost, buys: buys})
	}

	portfolio := domain.NewPortfolio()
	totalCost := decimal.Zero
	prevValue := decimal.Zero
	changes := []float64{}

	for i := 0; i < history.NumDays(); i++ {
		date := history.Dates[i]
		priceMap := history.Row(i)

		invested := decimal.Zero
		for len(pending) > 0 && !pending[0].date.After(date) {
			event := pending[0]
			pending = pending[1:]
			for symbol, purchase := range event.buys {
				position, ok := portfolio.Positions[symbol]
				if !ok {
					position = &domain.Position{Symbol: symbol}
					portfolio.Positions[symbol] = position
				}
				position.ExactQuantity = position.ExactQuantity.Add(decimal.NewFromFloat(purchase.Share))
			}
			invested = invested.Add(event.cost)
			totalCost = totalCost.Add(event.cost)
		}

		value, err := portfolio.TotalValue(priceMap)
		if err != nil {
			return nil, err
		}

		if i > 0 {
			denominator := prevValue.Add(invested)
			if denominator.IsPositive() {
				change, _ := value.Div(denominator).Sub(decimal.NewFromInt(1)).Float64()
				changes = append(changes, change)
			}
		}
		prevValue = value
	}

	response := &PerformanceResponse{
		Start:        history.Inception(),
		End:          history.End(),
		TotalCost:    totalCost,
		FinalValue:   prevValue,
		TotalGain:    prevValue.Sub(totalCost),
		DailyChanges: changes,
	}

	riskFreeDaily := domain.DailyRateFromAnnual(in.RiskFreeAnnual)
	if len(changes) >= 2 {
		metrics, err := l3_service.CalculateMetrics(changes)
		if err != nil {
			return nil, err
		}
		response.Metrics = metrics
		if sharpe, err := l3_service.SharpeRatio(metrics.DailyMeanReturn, metrics.DailyRisk, riskFreeDaily); err != nil {
			log.Warnw("sharpe ratio unavailable for snapshot replay", "error", err.Error())
		} else {
			response.SharpeRatio = &sharpe
		}
		if sortino, err := l3_service.SortinoRatio(changes, riskFreeDaily); err != nil {
			log.Warnw("sortino ratio unavailable for snapshot replay", "error", err.Error())
		} else {
			response.SortinoRatio = &sortino
		}
	}

	if in.BenchmarkSymbol != "" {
		summary, err := h.benchmarkLumpSum(ctx, in.BenchmarkSymbol, history.Inception(), history.End(), totalCost, in.RiskFreeAnnual)
		if err != nil {
			return nil, fmt.Errorf("failed to compute benchmark comparison: %w", err)
		}
		response.Benchmark = summary
	}

	return response, nil
}
