package l1_service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	"github.com/raymondino/PortfolioManagement/internal/repository"
)

/**

behavior - when i ask for a price history, it should fetch each symbol's
series once and answer repeat requests for the same (symbols, range) from
the cache. alignment drops any date where at least one asset has no trade,
so downstream consumers never see a partial row.

*/

type PriceService interface {
	LoadPriceHistory(ctx context.Context, symbols []string, start, end *time.Time) (*domain.PriceHistory, error)
}

type priceServiceHandler struct {
	PriceRepository repository.PriceRepository

	mu    sync.Mutex
	cache map[string]*domain.PriceHistory
}

func NewPriceService(priceRepository repository.PriceRepository) PriceService {
	return &priceServiceHandler{
		PriceRepository: priceRepository,
		cache:           map[string]*domain.PriceHistory{},
	}
}

// column order matters to everything downstream, so the key preserves
// the caller's symbol order
func historyCacheKey(symbols []string, start, end *time.Time) string {
	startStr, endStr := "max", "max"
	if start != nil {
		startStr = start.Format(time.DateOnly)
	}
	if end != nil {
		endStr = end.Format(time.DateOnly)
	}
	return fmt.Sprintf("%s|%s|%s", strings.Join(symbols, ","), startStr, endStr)
}

func (h *priceServiceHandler) LoadPriceHistory(ctx context.Context, symbols []string, start, end *time.Time) (*domain.PriceHistory, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("cannot load price history for 0 symbols")
	}

	key := historyCacheKey(symbols, start, end)
	h.mu.Lock()
	if cached, ok := h.cache[key]; ok {
		h.mu.Unlock()
		return cached, nil
	}
	h.mu.Unlock()

	assets := make([]domain.Asset, 0, len(symbols))
	for _, symbol := range symbols {
		prices, err := h.PriceRepository.List(ctx, symbol, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to load prices for %s: %w", symbol, err)
		}
		if len(prices) == 0 {
			return nil, domain.InsufficientDataError{Symbol: symbol}
		}
		assets = append(assets, domain.Asset{Symbol: symbol, Prices: prices})
	}

	history, err := domain.NewPriceHistory(assets)
	if err != nil {
		return nil, fmt.Errorf("failed to align price history: %w", err)
	}

	h.mu.Lock()
	h.cache[key] = history
	h.mu.Unlock()

	return history, nil
}
