package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	"github.com/raymondino/PortfolioManagement/internal/logger"

	"github.com/gocarina/gocsv"
	"github.com/piquette/finance-go/chart"
	"github.com/piquette/finance-go/datetime"
)

// PriceRepository fetches the daily price series for one symbol. The
// returned series is chronologically ascending, deduplicated, and holds
// strictly positive prices only.
type PriceRepository interface {
	List(ctx context.Context, symbol string, start, end *time.Time) ([]domain.AssetPrice, error)
}

// transient provider failures get a bounded retry before the symbol is
// marked failed
const maxFetchAttempts = 3

type yahooPriceRepositoryHandler struct{}

func NewYahooPriceRepository() PriceRepository {
	return yahooPriceRepositoryHandler{}
}

func (h yahooPriceRepositoryHandler) List(ctx context.Context, symbol string, start, end *time.Time) ([]domain.AssetPrice, error) {
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxFetchAttempts; attempt++ {
		prices, err := fetchDailyPrices(symbol, start, end)
		if err == nil {
			return prices, nil
		}
		lastErr = err
		log.Warnf("fetch attempt %d/%d for %s failed: %s", attempt, maxFetchAttempts, symbol, err.Error())
	}

	return nil, fmt.Errorf("failed to get prices for %s: %w", symbol, lastErr)
}

func fetchDailyPrices(symbol string, start, end *time.Time) ([]domain.AssetPrice, error) {
	s := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	if start != nil {
		s = *start
	}
	e := time.Now()
	if end != nil {
		e = *end
	}

	params := &chart.Params{
		Start:    datetime.New(&s),
		End:      datetime.New(&e),
		Symbol:   symbol,
		Interval: datetime.OneDay,
	}
	iter := chart.Get(params)

	prices := []domain.AssetPrice{}
	for iter.Next() {
		price := iter.Bar().AdjClose.InexactFloat64()
		if price <= 0 {
			continue
		}
		date := time.Unix(int64(iter.Bar().Timestamp), 0).UTC()
		prices = append(prices, domain.AssetPrice{
			Symbol: symbol,
			Date:   time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC),
			Price:  price,
		})
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	return normalizeSeries(prices), nil
}

type csvPriceRow struct {
	Date  string  `csv:"date"`
	Price float64 `csv:"price"`
}

type csvPriceRepositoryHandler struct {
	Dir string
}

// NewCSVPriceRepository reads per-symbol files named <SYMBOL>.csv with
// `date,price` columns - the offline alternative to the Yahoo provider.
func NewCSVPriceRepository(dir string) PriceRepository {
	return csvPriceRepositoryHandler{Dir: dir}
}

func (h csvPriceRepositoryHandler) List(ctx context.Context, symbol string, start, end *time.Time) ([]domain.AssetPrice, error) {
	f, err := os.Open(filepath.Join(h.Dir, symbol+".csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to open price file for %s: %w", symbol, err)
	}
	defer f.Close()

	rows := []*csvPriceRow{}
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse price file for %s: %w", symbol, err)
	}

	prices := []domain.AssetPrice{}
	for _, row := range rows {
		date, err := time.Parse(time.DateOnly, row.Date)
		if err != nil {
			return nil, fmt.Errorf("failed to parse date %q in price file for %s: %w", row.Date, symbol, err)
		}
		if row.Price <= 0 {
			continue
		}
		if start != nil && date.Before(*start) {
			continue
		}
		if end != nil && date.After(*end) {
			continue
		}
		prices = append(prices, domain.AssetPrice{
			Symbol: symbol,
			Date:   date,
			Price:  row.Price,
		})
	}

	return normalizeSeries(prices), nil
}

// InMemoryPriceRepository serves preloaded series, keyed by symbol.
type InMemoryPriceRepository struct {
	Prices map[string][]domain.AssetPrice
}

func (h InMemoryPriceRepository) List(ctx context.Context, symbol string, start, end *time.Time) ([]domain.AssetPrice, error) {
	series, ok := h.Prices[symbol]
	if !ok {
		return nil, domain.InsufficientDataError{Symbol: symbol}
	}
	prices := []domain.AssetPrice{}
	for _, p := range series {
		if p.Price <= 0 {
			continue
		}
		if start != nil && p.Date.Before(*start) {
			continue
		}
		if end != nil && p.Date.After(*end) {
			continue
		}
		prices = append(prices, p)
	}
	return normalizeSeries(prices), nil
}

// normalizeSeries sorts ascending and keeps the last price seen for a
// duplicated date.
func normalizeSeries(prices []domain.AssetPrice) []domain.AssetPrice {
	sort.SliceStable(prices, func(i, j int) bool {
		return prices[i].Date.Before(prices[j].Date)
	})
	out := prices[:0]
	for _, p := range prices {
		if len(out) > 0 && out[len(out)-1].Date.Equal(p.Date) {
			out[len(out)-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}
