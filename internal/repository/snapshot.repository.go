package repository

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseRecord is one historical buy: the price paid and shares
// bought for a ticker on a given day.
type PurchaseRecord struct {
	Price float64 `json:"price"`
	Share float64 `json:"share"`
}

// PortfolioSnapshot is the persisted record of an actual portfolio:
// a date-keyed mapping to ticker -> purchase. It reconstructs the real
// cost-basis ledger for comparison against simulated runs.
type PortfolioSnapshot struct {
	Purchases map[string]map[string]PurchaseRecord
}

func (s PortfolioSnapshot) Symbols() []string {
	seen := map[string]bool{}
	symbols := []string{}
	for _, byTicker := range s.Purchases {
		for symbol := range byTicker {
			if !seen[symbol] {
				seen[symbol] = true
				symbols = append(symbols, symbol)
			}
		}
	}
	sort.Strings(symbols)
	return symbols
}

// Dates returns purchase dates ascending.
func (s PortfolioSnapshot) Dates() ([]time.Time, error) {
	dates := make([]time.Time, 0, len(s.Purchases))
	for key := range s.Purchases {
		date, err := time.Parse(time.DateOnly, key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse snapshot date %q: %w", key, err)
		}
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j])
	})
	return dates, nil
}

func (s PortfolioSnapshot) StartDate() (time.Time, error) {
	dates, err := s.Dates()
	if err != nil {
		return time.Time{}, err
	}
	if len(dates) == 0 {
		return time.Time{}, fmt.Errorf("snapshot holds no purchase events")
	}
	return dates[0], nil
}

func (s PortfolioSnapshot) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, byTicker := range s.Purchases {
		for _, purchase := range byTicker {
			cost := decimal.NewFromFloat(purchase.Price).Mul(decimal.NewFromFloat(purchase.Share))
			total = total.Add(cost)
		}
	}
	return total
}

type SnapshotRepository interface {
	Load(path string) (*PortfolioSnapshot, error)
}

type fileSnapshotRepositoryHandler struct{}

func NewSnapshotRepository() SnapshotRepository {
	return fileSnapshotRepositoryHandler{}
}

func (h fileSnapshotRepositoryHandler) Load(path string) (*PortfolioSnapshot, error) {
	bytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	purchases := map[string]map[string]PurchaseRecord{}
	if err := json.Unmarshal(bytes, &purchases); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot file %s: %w", path, err)
	}

	for key, byTicker := range purchases {
		if _, err := time.Parse(time.DateOnly, key); err != nil {
			return nil, fmt.Errorf("invalid snapshot date %q: %w", key, err)
		}
		for symbol, purchase := range byTicker {
			if purchase.Price <= 0 {
				return nil, fmt.Errorf("non-positive purchase price for %s on %s", symbol, key)
			}
			if purchase.Share < 0 {
				return nil, fmt.Errorf("negative share count for %s on %s", symbol, key)
			}
		}
	}

	return &PortfolioSnapshot{Purchases: purchases}, nil
}
