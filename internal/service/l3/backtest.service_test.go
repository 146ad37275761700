package l3_service

import (
	"context"
	"testing"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	l2_service "github.com/raymondino/PortfolioManagement/internal/service/l2"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newBacktestService() BacktestService {
	return NewBacktestService(l2_service.NewCovarianceService(), NewOptimizer())
}

func flatHistory(days int) *domain.PriceHistory {
	history := &domain.PriceHistory{
		Symbols: []string{"AAPL", "MSFT"},
	}
	for i := 0; i < days; i++ {
		history.Dates = append(history.Dates, date(2023, 1, 2).AddDate(0, 0, i))
		history.Prices = append(history.Prices, []float64{100, 50})
	}
	return history
}

func halfAndHalf() domain.Weights {
	return domain.Weights{Symbols: []string{"AAPL", "MSFT"}, Values: []float64{0.5, 0.5}}
}

func Test_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("day zero allocation", func(t *testing.T) {
		result, err := newBacktestService().Run(ctx, BacktestInput{
			History:       flatHistory(2),
			TargetWeights: halfAndHalf(),
			InitialFund:   decimal.NewFromInt(10000),
		})
		require.NoError(t, err)

		day0 := result.Days[0]
		require.True(t, day0.Shares["AAPL"].Equal(decimal.NewFromInt(50)), day0.Shares["AAPL"].String())
		require.True(t, day0.Shares["MSFT"].Equal(decimal.NewFromInt(100)), day0.Shares["MSFT"].String())
		require.True(t, day0.BookValue.Equal(decimal.NewFromInt(10000)))
		require.Zero(t, day0.Change)
	})

	t.Run("flat prices round-trip to zero gain and zero risk", func(t *testing.T) {
		result, err := newBacktestService().Run(ctx, BacktestInput{
			History:       flatHistory(5),
			TargetWeights: halfAndHalf(),
			InitialFund:   decimal.NewFromInt(10000),
		})
		require.NoError(t, err)

		require.True(t, result.TotalGain.IsZero(), result.TotalGain.String())
		require.True(t, result.FinalValue.Equal(decimal.NewFromInt(10000)))
		for _, change := range result.DailyChanges {
			require.Zero(t, change)
		}
		require.NotNil(t, result.Metrics)
		require.Zero(t, result.Metrics.AnnualizedReturn)
		require.Zero(t, result.Metrics.AnnualizedRisk)
		// a zero-risk series cannot support either ratio
		require.Nil(t, result.SharpeRatio)
		require.Nil(t, result.SortinoRatio)
	})

	t.Run("contributions are not counted as gains", func(t *testing.T) {
		history := &domain.PriceHistory{
			Symbols: []string{"AAPL"},
			Dates:   []time.Time{date(2023, 1, 2), date(2023, 1, 3)},
			Prices:  [][]float64{{100}, {110}},
		}
		result, err := newBacktestService().Run(ctx, BacktestInput{
			History:              history,
			TargetWeights:        domain.Weights{Symbols: []string{"AAPL"}, Values: []float64{1}},
			InitialFund:          decimal.NewFromInt(10000),
			ContributionAmount:   decimal.NewFromInt(100),
			ContributionInterval: 1,
		})
		require.NoError(t, err)

		day1 := result.Days[1]
		require.True(t, day1.Contributed)
		require.True(t, result.TotalCost.Equal(decimal.NewFromInt(10100)))
		// 10% price move: book is 11000 + the 100 contribution, and the
		// day's change divides out the new money
		require.InDelta(t, 11100.0/10100.0-1, day1.Change, 1e-9)
		require.InDelta(t, 0.10, day1.Change, 2e-3)
	})

	t.Run("threshold rebalance restores target weights", func(t *testing.T) {
		history := &domain.PriceHistory{
			Symbols: []string{"AAPL", "MSFT"},
			Dates:   []time.Time{date(2023, 1, 2), date(2023, 1, 3)},
			Prices:  [][]float64{{100, 100}, {150, 100}},
		}
		result, err := newBacktestService().Run(ctx, BacktestInput{
			History:       history,
			TargetWeights: halfAndHalf(),
			InitialFund:   decimal.NewFromInt(10000),
			Policy: Policy{
				Kind:            PolicyThresholdRebalance,
				RebalanceOffset: 0.05,
			},
		})
		require.NoError(t, err)

		// AAPL drifted to 60% of a 12500 book
		day1 := result.Days[1]
		require.True(t, day1.Rebalanced)
		require.Equal(t, 1, result.RebalanceCount)
		require.True(t, day1.Shares["MSFT"].Equal(decimal.NewFromFloat(62.5)), day1.Shares["MSFT"].String())
		// the swap is value neutral, division residue lands in cash
		require.True(t, day1.BookValue.Equal(decimal.NewFromInt(12500)), day1.BookValue.String())
		require.InDelta(t, 0, day1.Cash.InexactFloat64(), 1e-9)
	})

	t.Run("no rebalance below the offset", func(t *testing.T) {
		history := &domain.PriceHistory{
			Symbols: []string{"AAPL", "MSFT"},
			Dates:   []time.Time{date(2023, 1, 2), date(2023, 1, 3)},
			Prices:  [][]float64{{100, 100}, {101, 100}},
		}
		result, err := newBacktestService().Run(ctx, BacktestInput{
			History:       history,
			TargetWeights: halfAndHalf(),
			InitialFund:   decimal.NewFromInt(10000),
			Policy: Policy{
				Kind:            PolicyThresholdRebalance,
				RebalanceOffset: 0.05,
			},
		})
		require.NoError(t, err)
		require.Zero(t, result.RebalanceCount)
		require.False(t, result.Days[1].Rebalanced)
	})

	t.Run("floor rounding buys whole shares and banks the remainder", func(t *testing.T) {
		history := &domain.PriceHistory{
			Symbols: []string{"AAPL"},
			Dates:   []time.Time{date(2023, 1, 2), date(2023, 1, 3)},
			Prices:  [][]float64{{333}, {333}},
		}
		result, err := newBacktestService().Run(ctx, BacktestInput{
			History:       history,
			TargetWeights: domain.Weights{Symbols: []string{"AAPL"}, Values: []float64{1}},
			InitialFund:   decimal.NewFromInt(10000),
			Rounding:      RoundFloor,
		})
		require.NoError(t, err)

		day0 := result.Days[0]
		require.True(t, day0.Shares["AAPL"].Equal(decimal.NewFromInt(30)), day0.Shares["AAPL"].String())
		// 30 shares cost 9990, the 10 left over is cash, not a loss
		require.True(t, day0.Cash.Equal(decimal.NewFromInt(10)), day0.Cash.String())
		require.True(t, day0.BookValue.Equal(decimal.NewFromInt(10000)))
		require.True(t, result.TotalGain.IsZero(), result.TotalGain.String())
	})

	t.Run("ceil rounding overdraws cash", func(t *testing.T) {
		history := &domain.PriceHistory{
			Symbols: []string{"AAPL"},
			Dates:   []time.Time{date(2023, 1, 2), date(2023, 1, 3)},
			Prices:  [][]float64{{333}, {333}},
		}
		result, err := newBacktestService().Run(ctx, BacktestInput{
			History:       history,
			TargetWeights: domain.Weights{Symbols: []string{"AAPL"}, Values: []float64{1}},
			InitialFund:   decimal.NewFromInt(10000),
			Rounding:      RoundCeil,
		})
		require.NoError(t, err)

		day0 := result.Days[0]
		require.True(t, day0.Shares["AAPL"].Equal(decimal.NewFromInt(31)), day0.Shares["AAPL"].String())
		// 31 shares cost 10323, cash goes 323 negative
		require.True(t, day0.Cash.Equal(decimal.NewFromInt(-323)), day0.Cash.String())
		require.True(t, day0.BookValue.Equal(decimal.NewFromInt(10000)))
		require.True(t, result.TotalGain.IsZero(), result.TotalGain.String())
	})

	t.Run("non-positive price is a data gap", func(t *testing.T) {
		history := &domain.PriceHistory{
			Symbols: []string{"AAPL", "MSFT"},
			Dates:   []time.Time{date(2023, 1, 2), date(2023, 1, 3)},
			Prices:  [][]float64{{100, 50}, {100, 0}},
		}
		_, err := newBacktestService().Run(ctx, BacktestInput{
			History:       history,
			TargetWeights: halfAndHalf(),
			InitialFund:   decimal.NewFromInt(10000),
		})
		target := domain.DataGapError{}
		require.ErrorAs(t, err, &target)
		require.Equal(t, "MSFT", target.Symbol)
	})

	t.Run("input validation", func(t *testing.T) {
		service := newBacktestService()

		_, err := service.Run(ctx, BacktestInput{
			History:       flatHistory(2),
			TargetWeights: halfAndHalf(),
			InitialFund:   decimal.NewFromInt(-5),
		})
		require.ErrorAs(t, err, &domain.DegenerateInputError{})

		_, err = service.Run(ctx, BacktestInput{
			History:       flatHistory(2),
			TargetWeights: domain.Weights{Symbols: []string{"MSFT", "AAPL"}, Values: []float64{0.5, 0.5}},
			InitialFund:   decimal.NewFromInt(10000),
		})
		require.ErrorAs(t, err, &domain.DegenerateInputError{})

		_, err = service.Run(ctx, BacktestInput{
			History:       flatHistory(2),
			TargetWeights: halfAndHalf(),
			InitialFund:   decimal.NewFromInt(10000),
			Policy:        Policy{Kind: PolicyThresholdRebalance},
		})
		require.ErrorAs(t, err, &domain.DegenerateInputError{})
	})

	t.Run("periodic reoptimize keeps running when a window cannot be fit", func(t *testing.T) {
		// flat prices give zero-variance returns, so every re-fit fails
		// recoverably and the run holds its original weights
		result, err := newBacktestService().Run(ctx, BacktestInput{
			History:       flatHistory(6),
			TargetWeights: halfAndHalf(),
			InitialFund:   decimal.NewFromInt(10000),
			Policy: Policy{
				Kind:               PolicyPeriodicReoptimize,
				ReoptimizeInterval: 2,
				LookbackDays:       -1,
			},
		})
		require.NoError(t, err)
		require.Zero(t, result.RebalanceCount)
		require.True(t, result.FinalValue.Equal(decimal.NewFromInt(10000)))
	})
}
