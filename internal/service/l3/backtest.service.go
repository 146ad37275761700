package l3_service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	"github.com/raymondino/PortfolioManagement/internal/logger"
	l2_service "github.com/raymondino/PortfolioManagement/internal/service/l2"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PolicyKind string

const (
	// buy-and-hold: day-0 allocation plus contributions, never traded
	PolicyNone PolicyKind = "none"
	// restore target weights whenever any asset drifts past the offset
	PolicyThresholdRebalance PolicyKind = "threshold-rebalance"
	// re-fit target weights on trailing data every N trading days
	PolicyPeriodicReoptimize PolicyKind = "periodic-reoptimize"
)

// RoundingMode controls share quantities on buys. Floor leaves the
// unspent remainder in the ledger's cash balance; ceil overdraws it,
// so cash can go negative.
type RoundingMode string

const (
	RoundFractional RoundingMode = "fractional"
	RoundFloor      RoundingMode = "floor"
	RoundCeil       RoundingMode = "ceil"
)

// Policy configures how holdings evolve after day 0. Fields apply per
// kind: RebalanceOffset to threshold-rebalance, ReoptimizeInterval and
// LookbackDays to periodic-reoptimize (LookbackDays -1 means all
// history to date).
type Policy struct {
	Kind               PolicyKind
	RebalanceOffset    float64
	ReoptimizeInterval int
	LookbackDays       int
}

type BacktestInput struct {
	History       *domain.PriceHistory
	TargetWeights domain.Weights
	InitialFund   decimal.Decimal

	// dollar-cost averaging: ContributionAmount added every
	// ContributionInterval trading days. 0 interval disables it.
	ContributionAmount   decimal.Decimal
	ContributionInterval int

	Policy        Policy
	Rounding      RoundingMode
	RiskFreeDaily float64
	Label         string
}

// LedgerDay is one row of the replayed ledger: holdings and valuation
// at that day's close. BookValue includes Cash, the uninvested residue
// of rounded buys.
type LedgerDay struct {
	Date        time.Time
	Shares      map[string]decimal.Decimal
	Cash        decimal.Decimal
	BookValue   decimal.Decimal
	CostBasis   decimal.Decimal
	Change      float64
	Rebalanced  bool
	Contributed bool
}

type BacktestResult struct {
	RunID uuid.UUID
	Label string
	Days  []LedgerDay

	TotalCost  decimal.Decimal
	FinalValue decimal.Decimal
	TotalGain  decimal.Decimal

	RebalanceCount int

	DailyChanges []float64
	Metrics      *PerformanceMetrics

	// nil when the change series is too flat to support the ratio
	SharpeRatio  *float64
	SortinoRatio *float64
}

type BacktestService interface {
	Run(ctx context.Context, in BacktestInput) (*BacktestResult, error)
}

type backtestServiceHandler struct {
	CovarianceService l2_service.CovarianceService
	Optimizer         Optimizer
}

func NewBacktestService(covarianceService l2_service.CovarianceService, optimizer Optimizer) BacktestService {
	return backtestServiceHandler{
		CovarianceService: covarianceService,
		Optimizer:         optimizer,
	}
}

func (h backtestServiceHandler) Run(ctx context.Context, in BacktestInput) (*BacktestResult, error) {
	log := logger.FromContext(ctx)

	if err := validateBacktestInput(in); err != nil {
		return nil, err
	}
	rounding := in.Rounding
	if rounding == "" {
		rounding = RoundFractional
	}

	history := in.History
	targetWeights := in.TargetWeights

	// needed for trailing reoptimization windows
	var returns *domain.ReturnMatrix
	if in.Policy.Kind == PolicyPeriodicReoptimize {
		var err error
		returns, err = history.Returns()
		if err != nil {
			return nil, err
		}
	}

	prices := history.Row(0)
	shares, err := allocate(in.InitialFund, targetWeights, prices, rounding, history.Inception())
	if err != nil {
		return nil, err
	}
	// whatever the rounded buys did not spend stays as cash, so the
	// book always opens at exactly the initial fund
	cash := in.InitialFund.Sub(bookValue(shares, prices))

	result := &BacktestResult{
		RunID:        uuid.New(),
		Label:        in.Label,
		TotalCost:    in.InitialFund,
		DailyChanges: []float64{},
	}
	book := bookValue(shares, prices).Add(cash)
	result.Days = append(result.Days, LedgerDay{
		Date:      history.Inception(),
		Shares:    copyShares(shares),
		Cash:      cash,
		BookValue: book,
		CostBasis: result.TotalCost,
	})

	for i := 1; i < history.NumDays(); i++ {
		date := history.Dates[i]
		prices = history.Row(i)
		for _, symbol := range history.Symbols {
			if prices[symbol] <= 0 {
				return nil, domain.DataGapError{Symbol: symbol, Date: date}
			}
		}
		prevBook := book
		book = bookValue(shares, prices).Add(cash)

		day := LedgerDay{Date: date}

		switch in.Policy.Kind {
		case PolicyThresholdRebalance:
			if drifted(shares, targetWeights, prices, book, in.Policy.RebalanceOffset) {
				book, cash, err = h.reallocate(&shares, targetWeights, prices, book, rounding, date, result)
				if err != nil {
					return nil, err
				}
				day.Rebalanced = true
			}
		case PolicyPeriodicReoptimize:
			if i%in.Policy.ReoptimizeInterval == 0 {
				refit, refitErr := h.refitWeights(returns, in.Policy.LookbackDays, date, in.RiskFreeDaily)
				if refitErr != nil {
					if !recoverable(refitErr) {
						return nil, refitErr
					}
					log.Warnw("keeping current weights, reoptimization failed",
						"date", date.Format(time.DateOnly),
						"error", refitErr.Error(),
					)
				} else {
					targetWeights = refit
					book, cash, err = h.reallocate(&shares, targetWeights, prices, book, rounding, date, result)
					if err != nil {
						return nil, err
					}
					day.Rebalanced = true
				}
			}
		}

		contribution := decimal.Zero
		if in.ContributionInterval > 0 && i%in.ContributionInterval == 0 && in.ContributionAmount.IsPositive() {
			added, err := allocate(in.ContributionAmount, targetWeights, prices, rounding, date)
			if err != nil {
				return nil, err
			}
			for symbol, quantity := range added {
				shares[symbol] = shares[symbol].Add(quantity)
			}
			cash = cash.Add(in.ContributionAmount.Sub(bookValue(added, prices)))
			contribution = in.ContributionAmount
			result.TotalCost = result.TotalCost.Add(contribution)
			book = bookValue(shares, prices).Add(cash)
			day.Contributed = true
		}

		// a contribution inflates the book without being a gain, so the
		// day's change is measured against prior book plus new money
		denominator := prevBook.Add(contribution)
		change := 0.0
		if denominator.IsPositive() {
			change, _ = book.Div(denominator).Sub(decimal.NewFromInt(1)).Float64()
		}
		day.Change = change
		result.DailyChanges = append(result.DailyChanges, change)

		day.Shares = copyShares(shares)
		day.Cash = cash
		day.BookValue = book
		day.CostBasis = result.TotalCost
		result.Days = append(result.Days, day)
	}

	result.FinalValue = book
	result.TotalGain = result.FinalValue.Sub(result.TotalCost)

	if len(result.DailyChanges) >= 2 {
		metrics, err := CalculateMetrics(result.DailyChanges)
		if err != nil {
			return nil, err
		}
		result.Metrics = metrics
		if sharpe, err := SharpeRatio(metrics.DailyMeanReturn, metrics.DailyRisk, in.RiskFreeDaily); err != nil {
			log.Warnw("sharpe ratio unavailable for run", "label", in.Label, "error", err.Error())
		} else {
			result.SharpeRatio = &sharpe
		}
		if sortino, err := SortinoRatio(result.DailyChanges, in.RiskFreeDaily); err != nil {
			log.Warnw("sortino ratio unavailable for run", "label", in.Label, "error", err.Error())
		} else {
			result.SortinoRatio = &sortino
		}
	}

	return result, nil
}

func validateBacktestInput(in BacktestInput) error {
	if in.History == nil || in.History.NumDays() == 0 {
		return domain.InsufficientDataError{}
	}
	if err := in.TargetWeights.Validate(); err != nil {
		return err
	}
	if len(in.TargetWeights.Symbols) != len(in.History.Symbols) {
		return domain.DegenerateInputError{Reason: "target weights do not cover the asset set"}
	}
	for i, symbol := range in.History.Symbols {
		if in.TargetWeights.Symbols[i] != symbol {
			return domain.DegenerateInputError{
				Reason: fmt.Sprintf("target weights are ordered %v, history is ordered %v", in.TargetWeights.Symbols, in.History.Symbols),
			}
		}
	}
	if !in.InitialFund.IsPositive() {
		return domain.DegenerateInputError{Reason: "initial fund must be positive"}
	}
	if in.ContributionInterval < 0 {
		return domain.DegenerateInputError{Reason: "contribution interval must be >= 0"}
	}
	switch in.Policy.Kind {
	case PolicyNone, "":
	case PolicyThresholdRebalance:
		if in.Policy.RebalanceOffset <= 0 {
			return domain.DegenerateInputError{Reason: "rebalance offset must be positive"}
		}
	case PolicyPeriodicReoptimize:
		if in.Policy.ReoptimizeInterval <= 0 {
			return domain.DegenerateInputError{Reason: "reoptimize interval must be positive"}
		}
	default:
		return domain.DegenerateInputError{Reason: fmt.Sprintf("unknown policy kind %q", in.Policy.Kind)}
	}
	switch in.Rounding {
	case RoundFractional, RoundFloor, RoundCeil, "":
	default:
		return domain.DegenerateInputError{Reason: fmt.Sprintf("unknown rounding mode %q", in.Rounding)}
	}
	return nil
}

// allocate splits an amount of cash across assets per the target
// weights at the given day's prices.
func allocate(amount decimal.Decimal, weights domain.Weights, prices map[string]float64, rounding RoundingMode, date time.Time) (map[string]decimal.Decimal, error) {
	shares := make(map[string]decimal.Decimal, len(weights.Symbols))
	for i, symbol := range weights.Symbols {
		price, ok := prices[symbol]
		if !ok || price <= 0 {
			return nil, domain.DataGapError{Symbol: symbol, Date: date}
		}
		quantity := amount.
			Mul(decimal.NewFromFloat(weights.Values[i])).
			Div(decimal.NewFromFloat(price))
		shares[symbol] = roundShares(quantity, rounding)
	}
	return shares, nil
}

func roundShares(quantity decimal.Decimal, rounding RoundingMode) decimal.Decimal {
	switch rounding {
	case RoundFloor:
		return quantity.Floor()
	case RoundCeil:
		return quantity.Ceil()
	}
	return quantity
}

func bookValue(shares map[string]decimal.Decimal, prices map[string]float64) decimal.Decimal {
	book := decimal.Zero
	for symbol, quantity := range shares {
		book = book.Add(quantity.Mul(decimal.NewFromFloat(prices[symbol])))
	}
	return book
}

// drifted reports whether any asset's share of book value has moved at
// least offset away from its target weight.
func drifted(shares map[string]decimal.Decimal, weights domain.Weights, prices map[string]float64, book decimal.Decimal, offset float64) bool {
	if !book.IsPositive() {
		return false
	}
	bookFloat, _ := book.Float64()
	for i, symbol := range weights.Symbols {
		quantity, _ := shares[symbol].Float64()
		current := quantity * prices[symbol] / bookFloat
		if math.Abs(current-weights.Values[i]) >= offset {
			return true
		}
	}
	return false
}

// reallocate sells everything and re-buys at the target weights. The
// swap is value neutral: whatever the rounded buys leave unspent (or
// overdraw) lands in cash, so the returned book equals the sold book.
func (h backtestServiceHandler) reallocate(shares *map[string]decimal.Decimal, weights domain.Weights, prices map[string]float64, book decimal.Decimal, rounding RoundingMode, date time.Time, result *BacktestResult) (decimal.Decimal, decimal.Decimal, error) {
	next, err := allocate(book, weights, prices, rounding, date)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	*shares = next
	invested := bookValue(next, prices)
	cash := book.Sub(invested)
	result.RebalanceCount++
	return invested.Add(cash), cash, nil
}

func (h backtestServiceHandler) refitWeights(returns *domain.ReturnMatrix, lookbackDays int, date time.Time, riskFreeDaily float64) (domain.Weights, error) {
	start := time.Time{}
	if lookbackDays > 0 {
		start = date.AddDate(0, 0, -lookbackDays)
	}
	window := returns.Window(start, date)
	snapshot, err := h.CovarianceService.Compute(window)
	if err != nil {
		return domain.Weights{}, err
	}
	return h.Optimizer.MaximizeSharpe(snapshot, riskFreeDaily)
}

func copyShares(shares map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(shares))
	for symbol, quantity := range shares {
		out[symbol] = quantity
	}
	return out
}
