package domain

import "time"

type AssetPrice struct {
	Symbol string
	Price  float64
	Date   time.Time
}

// Asset is a ticker plus its externally fetched price series. The series
// is chronologically ascending with at most one price per date; prices
// are strictly positive (invalid quotes are filtered upstream).
type Asset struct {
	Symbol string
	Prices []AssetPrice
}

func (a Asset) FirstTradeDate() (time.Time, error) {
	if len(a.Prices) == 0 {
		return time.Time{}, InsufficientDataError{Symbol: a.Symbol}
	}
	return a.Prices[0].Date, nil
}
