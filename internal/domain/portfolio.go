package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Portfolio is a set of held positions, accumulated share by share when
// a purchase snapshot is replayed. Target allocations hold no cash, so
// the book is entirely in Positions.
type Portfolio struct {
	Positions map[string]*Position
}

func NewPortfolio() *Portfolio {
	return &Portfolio{
		Positions: map[string]*Position{},
	}
}

func (p Portfolio) TotalValue(priceMap map[string]float64) (decimal.Decimal, error) {
	totalValue := decimal.Zero
	for symbol, position := range p.Positions {
		price, ok := priceMap[symbol]
		if !ok || price <= 0 {
			return decimal.Zero, fmt.Errorf("cannot compute portfolio total value: price map missing %s", symbol)
		}
		totalValue = totalValue.Add(position.ExactQuantity.Mul(decimal.NewFromFloat(price)))
	}
	return totalValue, nil
}

type Position struct {
	Symbol        string
	ExactQuantity decimal.Decimal
}
