package app

import (
	"context"
	"testing"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	"github.com/raymondino/PortfolioManagement/internal/repository"
	l1_service "github.com/raymondino/PortfolioManagement/internal/service/l1"
	l2_service "github.com/raymondino/PortfolioManagement/internal/service/l2"
	l3_service "github.com/raymondino/PortfolioManagement/internal/service/l3"

	"github.com/stretchr/testify/require"
)

func date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

// inMemoryPrices builds two deterministic daily series with enough
// texture for covariance fits to succeed.
func inMemoryPrices(days int) repository.InMemoryPriceRepository {
	repo := repository.InMemoryPriceRepository{Prices: map[string][]domain.AssetPrice{}}
	priceA, priceB := 100.0, 100.0
	for i := 0; i < days; i++ {
		if i%2 == 0 {
			priceA *= 1.002
			priceB *= 1.004
		} else {
			priceA *= 1.000
			priceB *= 0.998
		}
		day := date(2023, 1, 2).AddDate(0, 0, i)
		repo.Prices["GROWER"] = append(repo.Prices["GROWER"], domain.AssetPrice{Symbol: "GROWER", Price: priceA, Date: day})
		repo.Prices["CYCLER"] = append(repo.Prices["CYCLER"], domain.AssetPrice{Symbol: "CYCLER", Price: priceB, Date: day})
	}
	return repo
}

func newOptimizeHandler(repo repository.PriceRepository) OptimizeHandler {
	return OptimizeHandler{
		PriceService:      l1_service.NewPriceService(repo),
		CovarianceService: l2_service.NewCovarianceService(),
		Optimizer:         l3_service.NewOptimizer(),
	}
}

func Test_Optimize(t *testing.T) {
	ctx := context.Background()
	handler := newOptimizeHandler(inMemoryPrices(120))

	response, err := handler.Optimize(ctx, OptimizeInput{
		Symbols:        []string{"GROWER", "CYCLER"},
		RiskFreeAnnual: 0.04,
	})
	require.NoError(t, err)

	require.NotEmpty(t, response.Portfolios)
	for _, portfolio := range response.Portfolios {
		require.NoError(t, portfolio.Weights.Validate())
	}

	require.Len(t, response.AssetStats, 2)
	require.Equal(t, "GROWER", response.AssetStats[0].Symbol)

	require.Len(t, response.Correlation, 2)
	require.InDelta(t, 1.0, response.Correlation[0][0], 1e-9)
	require.InDelta(t, response.Correlation[0][1], response.Correlation[1][0], 1e-12)

	t.Run("capital market line spans cash to tangency", func(t *testing.T) {
		require.Len(t, response.CapitalMarketLine, 21)

		first := response.CapitalMarketLine[0]
		require.Zero(t, first.RiskyFraction)
		require.InDelta(t, 0.04, first.AnnualizedReturn, 1e-12)
		require.Zero(t, first.AnnualizedRisk)

		last := response.CapitalMarketLine[20]
		require.InDelta(t, 1.0, last.RiskyFraction, 1e-12)
		require.Greater(t, last.AnnualizedRisk, 0.0)
	})

	t.Run("constant-return assets cannot be optimized", func(t *testing.T) {
		// exact +10% movers have zero return variance, so the covariance
		// layer rejects the pair before any objective runs
		repo := repository.InMemoryPriceRepository{Prices: map[string][]domain.AssetPrice{
			"STOCKA": {
				{Symbol: "STOCKA", Price: 100, Date: date(2023, 1, 2)},
				{Symbol: "STOCKA", Price: 110, Date: date(2023, 1, 3)},
				{Symbol: "STOCKA", Price: 121, Date: date(2023, 1, 4)},
			},
			"STOCKB": {
				{Symbol: "STOCKB", Price: 50, Date: date(2023, 1, 2)},
				{Symbol: "STOCKB", Price: 55, Date: date(2023, 1, 3)},
				{Symbol: "STOCKB", Price: 60.5, Date: date(2023, 1, 4)},
			},
		}}

		_, err := newOptimizeHandler(repo).Optimize(ctx, OptimizeInput{
			Symbols: []string{"STOCKA", "STOCKB"},
		})
		require.ErrorAs(t, err, &domain.InsufficientDataError{})
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := handler.Optimize(ctx, OptimizeInput{Symbols: []string{"NOPE"}})
		require.Error(t, err)
	})

	t.Run("pinned risk drops the sortino objective", func(t *testing.T) {
		targetRisk := 0.03
		response, err := handler.Optimize(ctx, OptimizeInput{
			Symbols:          []string{"GROWER", "CYCLER"},
			TargetAnnualRisk: &targetRisk,
		})
		require.NoError(t, err)
		require.NotEmpty(t, response.Portfolios)
		for _, portfolio := range response.Portfolios {
			require.NotEqual(t, l3_service.ObjectiveMaxSortino, portfolio.Objective)
		}
	})
}
