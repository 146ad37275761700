package app

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	"github.com/raymondino/PortfolioManagement/internal/repository"
	"github.com/raymondino/PortfolioManagement/internal/util"
)

type BenchmarkHandler struct {
	PriceRepository repository.PriceRepository
}

// GetIntraPeriodChange gets historic prices for an asset and converts
// them to % change from start, sampled at the given granularity.
func (h BenchmarkHandler) GetIntraPeriodChange(
	ctx context.Context,
	symbol string,
	start,
	end time.Time,
	granularity time.Duration,
) (map[time.Time]float64, error) {
	prices, err := h.PriceRepository.List(ctx, symbol, &start, &end)
	if err != nil {
		return nil, err
	}
	if len(prices) == 0 {
		return nil, fmt.Errorf("no prices found for symbol %s between %v and %v", symbol, start, end)
	}
	return intraPeriodChangeIterator(prices, end, granularity), nil
}

func intraPeriodChangeIterator(
	prices []domain.AssetPrice,
	end time.Time,
	granularity time.Duration,
) map[time.Time]float64 {
	layout := time.DateOnly

	sort.Slice(prices, func(i, j int) bool {
		return prices[i].Date.Before(prices[j].Date)
	})

	i := 1
	out := map[time.Time]float64{
		prices[0].Date: 0,
	}
	nextTarget := prices[0].Date.Add(granularity)
	for i < len(prices) && util.DateLte(prices[i].Date, end) {
		for nextTarget.Format(layout) < prices[i].Date.Format(layout) {
			nextTarget = nextTarget.Add(24 * time.Hour)
		}
		if prices[i].Date.Format(layout) == nextTarget.Format(layout) {
			out[nextTarget] = 100 * (prices[i].Price - prices[0].Price) / prices[0].Price
			nextTarget = nextTarget.Add(granularity)
		}
		i++
	}

	return out
}

// DailyChanges returns the benchmark's day-over-day percentage change
// series on its trading days within [start, end].
func (h BenchmarkHandler) DailyChanges(ctx context.Context, symbol string, start, end time.Time) ([]domain.AssetPrice, []float64, error) {
	prices, err := h.PriceRepository.List(ctx, symbol, &start, &end)
	if err != nil {
		return nil, nil, err
	}
	if len(prices) < 2 {
		return nil, nil, domain.InsufficientDataError{Symbol: symbol, Observations: len(prices)}
	}
	sort.Slice(prices, func(i, j int) bool {
		return prices[i].Date.Before(prices[j].Date)
	})
	changes := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1].Price <= 0 {
			return nil, nil, domain.DataGapError{Symbol: symbol, Date: prices[i-1].Date}
		}
		changes = append(changes, prices[i].Price/prices[i-1].Price-1)
	}
	return prices, changes, nil
}
