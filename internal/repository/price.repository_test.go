package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"

	"github.com/stretchr/testify/require"
)

func date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}

func Test_CSVPriceRepository(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"), []byte(
		"date,price\n"+
			"2023-01-04,102.5\n"+
			"2023-01-02,100\n"+
			"2023-01-03,0\n"+
			"2023-01-04,103\n",
	), 0o644))

	t.Run("parses, sorts, filters and deduplicates", func(t *testing.T) {
		prices, err := NewCSVPriceRepository(dir).List(ctx, "AAPL", nil, nil)
		require.NoError(t, err)

		// zero price dropped, duplicate jan 4 keeps the later row
		require.Len(t, prices, 2)
		require.Equal(t, date(2023, 1, 2), prices[0].Date)
		require.Equal(t, 100.0, prices[0].Price)
		require.Equal(t, date(2023, 1, 4), prices[1].Date)
		require.Equal(t, 103.0, prices[1].Price)
	})

	t.Run("honors the date range", func(t *testing.T) {
		start := date(2023, 1, 3)
		prices, err := NewCSVPriceRepository(dir).List(ctx, "AAPL", &start, nil)
		require.NoError(t, err)
		require.Len(t, prices, 1)
		require.Equal(t, date(2023, 1, 4), prices[0].Date)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := NewCSVPriceRepository(dir).List(ctx, "MSFT", nil, nil)
		require.Error(t, err)
	})
}

func Test_InMemoryPriceRepository(t *testing.T) {
	ctx := context.Background()
	repo := InMemoryPriceRepository{Prices: map[string][]domain.AssetPrice{
		"AAPL": {
			{Symbol: "AAPL", Price: 100, Date: date(2023, 1, 2)},
			{Symbol: "AAPL", Price: 101, Date: date(2023, 1, 3)},
		},
	}}

	prices, err := repo.List(ctx, "AAPL", nil, nil)
	require.NoError(t, err)
	require.Len(t, prices, 2)

	t.Run("unknown symbol", func(t *testing.T) {
		_, err := repo.List(ctx, "MSFT", nil, nil)
		require.ErrorAs(t, err, &domain.InsufficientDataError{})
	})

	t.Run("end date is inclusive", func(t *testing.T) {
		end := date(2023, 1, 2)
		prices, err := repo.List(ctx, "AAPL", nil, &end)
		require.NoError(t, err)
		require.Len(t, prices, 1)
	})
}
