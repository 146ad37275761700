package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	"github.com/raymondino/PortfolioManagement/internal/repository"
	l1_service "github.com/raymondino/PortfolioManagement/internal/service/l1"
	l2_service "github.com/raymondino/PortfolioManagement/internal/service/l2"
	l3_service "github.com/raymondino/PortfolioManagement/internal/service/l3"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newBacktestHandler(repo repository.PriceRepository) BacktestHandler {
	covarianceService := l2_service.NewCovarianceService()
	optimizer := l3_service.NewOptimizer()
	return BacktestHandler{
		PriceService:       l1_service.NewPriceService(repo),
		BacktestService:    l3_service.NewBacktestService(covarianceService, optimizer),
		SnapshotRepository: repository.NewSnapshotRepository(),
		Benchmark:          BenchmarkHandler{PriceRepository: repo},
	}
}

func Test_Backtest(t *testing.T) {
	ctx := context.Background()
	repo := inMemoryPrices(60)
	handler := newBacktestHandler(repo)

	t.Run("with benchmark comparison", func(t *testing.T) {
		response, err := handler.Backtest(ctx, BacktestAppInput{
			Symbols:         []string{"GROWER", "CYCLER"},
			Weights:         []float64{0.5, 0.5},
			InitialFund:     decimal.NewFromInt(10000),
			BenchmarkSymbol: "GROWER",
			Label:           "even-split",
		})
		require.NoError(t, err)

		require.Equal(t, "even-split", response.Result.Label)
		require.Len(t, response.Result.Days, 60)
		require.True(t, response.Result.TotalCost.Equal(decimal.NewFromInt(10000)))

		require.NotNil(t, response.Benchmark)
		require.Equal(t, "GROWER", response.Benchmark.Symbol)
		// GROWER only goes up, so the lump sum must end in the black
		require.True(t, response.Benchmark.TotalGain.IsPositive(), response.Benchmark.TotalGain.String())

		// weekly sampled % change from start, anchored at 0
		require.NotEmpty(t, response.Benchmark.IntraPeriodChange)
		require.InDelta(t, 0, response.Benchmark.IntraPeriodChange[date(2023, 1, 2)], 1e-12)
	})

	t.Run("weight count mismatch", func(t *testing.T) {
		_, err := handler.Backtest(ctx, BacktestAppInput{
			Symbols:     []string{"GROWER", "CYCLER"},
			Weights:     []float64{1},
			InitialFund: decimal.NewFromInt(10000),
		})
		require.ErrorAs(t, err, &domain.DegenerateInputError{})
	})
}

func Test_BatchBacktest(t *testing.T) {
	ctx := context.Background()
	handler := newBacktestHandler(inMemoryPrices(60))

	response, err := handler.BatchBacktest(ctx, []BacktestAppInput{
		{
			Symbols:     []string{"GROWER", "CYCLER"},
			Weights:     []float64{0.5, 0.5},
			InitialFund: decimal.NewFromInt(10000),
		},
		{
			Symbols:     []string{"GROWER", "CYCLER"},
			Weights:     []float64{0.9, 0.9},
			InitialFund: decimal.NewFromInt(10000),
		},
	})
	require.NoError(t, err)
	require.Len(t, response.Runs, 2)

	// the bad run fails in place without sinking the good one
	require.NotNil(t, response.Runs[0])
	require.NoError(t, response.Errors[0])
	require.Nil(t, response.Runs[1])
	require.Error(t, response.Errors[1])
}

func Test_Performance(t *testing.T) {
	ctx := context.Background()

	repo := repository.InMemoryPriceRepository{Prices: map[string][]domain.AssetPrice{
		"AAPL": {
			{Symbol: "AAPL", Price: 100, Date: date(2023, 1, 2)},
			{Symbol: "AAPL", Price: 110, Date: date(2023, 1, 3)},
			{Symbol: "AAPL", Price: 121, Date: date(2023, 1, 4)},
		},
	}}
	handler := newBacktestHandler(repo)

	snapshotPath := filepath.Join(t.TempDir(), "snapshot.json")
	require.NoError(t, os.WriteFile(snapshotPath, []byte(`{
		"2023-01-02": {"AAPL": {"price": 100, "share": 10}},
		"2023-01-03": {"AAPL": {"price": 110, "share": 5}}
	}`), 0o644))

	response, err := handler.Performance(ctx, PerformanceInput{SnapshotPath: snapshotPath})
	require.NoError(t, err)

	// 10 shares at 100 plus 5 at 110
	require.True(t, response.TotalCost.Equal(decimal.NewFromInt(1550)), response.TotalCost.String())
	// 15 shares at the final price of 121
	require.True(t, response.FinalValue.Equal(decimal.NewFromInt(1815)), response.FinalValue.String())
	require.True(t, response.TotalGain.Equal(decimal.NewFromInt(265)))

	require.Len(t, response.DailyChanges, 2)
	// day 2: 15*110 / (1000 + 550) - 1
	require.InDelta(t, 1650.0/1550.0-1, response.DailyChanges[0], 1e-9)
	// day 3: no new money, pure 10% move
	require.InDelta(t, 0.10, response.DailyChanges[1], 1e-9)

	require.NotNil(t, response.Metrics)
	require.NotNil(t, response.SharpeRatio)
}
