package domain

import (
	"sort"
	"time"
)

// PriceHistory is a date-indexed price matrix over a fixed asset set.
// Rows align with Dates (ascending), columns with Symbols. Only dates
// where every asset has a trade are kept - a row with any missing asset
// is dropped during construction.
type PriceHistory struct {
	Symbols []string
	Dates   []time.Time
	Prices  [][]float64
}

// NewPriceHistory merges per-asset series into an aligned matrix,
// keeping only dates on which all assets traded.
func NewPriceHistory(assets []Asset) (*PriceHistory, error) {
	if len(assets) == 0 {
		return nil, InsufficientDataError{}
	}

	symbols := make([]string, len(assets))
	bySymbol := make([]map[string]float64, len(assets))
	for i, a := range assets {
		symbols[i] = a.Symbol
		if len(a.Prices) == 0 {
			return nil, InsufficientDataError{Symbol: a.Symbol}
		}
		m := make(map[string]float64, len(a.Prices))
		for _, p := range a.Prices {
			if p.Price <= 0 {
				continue
			}
			m[p.Date.Format(time.DateOnly)] = p.Price
		}
		bySymbol[i] = m
	}

	type row struct {
		date   time.Time
		prices []float64
	}
	rows := []row{}
	for _, p := range assets[0].Prices {
		key := p.Date.Format(time.DateOnly)
		prices := make([]float64, len(assets))
		complete := true
		for i := range assets {
			v, ok := bySymbol[i][key]
			if !ok {
				complete = false
				break
			}
			prices[i] = v
		}
		if complete {
			rows = append(rows, row{date: midnightUTC(p.Date), prices: prices})
		}
	}
	if len(rows) == 0 {
		return nil, InsufficientDataError{Symbol: symbols[0]}
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].date.Before(rows[j].date)
	})

	h := &PriceHistory{
		Symbols: symbols,
		Dates:   make([]time.Time, len(rows)),
		Prices:  make([][]float64, len(rows)),
	}
	for i, r := range rows {
		h.Dates[i] = r.date
		h.Prices[i] = r.prices
	}
	return h, nil
}

func midnightUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (h *PriceHistory) NumDays() int {
	return len(h.Dates)
}

// Inception is the first date on which every asset has a trade - the
// earliest day the portfolio could exist.
func (h *PriceHistory) Inception() time.Time {
	return h.Dates[0]
}

func (h *PriceHistory) End() time.Time {
	return h.Dates[len(h.Dates)-1]
}

// Row returns the symbol -> price map for day i.
func (h *PriceHistory) Row(i int) map[string]float64 {
	out := make(map[string]float64, len(h.Symbols))
	for j, symbol := range h.Symbols {
		out[symbol] = h.Prices[i][j]
	}
	return out
}

// Returns derives the percentage-change matrix: row t holds
// price[t]/price[t-1] - 1 per asset, so it has one fewer row than the
// price matrix.
func (h *PriceHistory) Returns() (*ReturnMatrix, error) {
	if len(h.Dates) < 2 {
		return nil, InsufficientDataError{Observations: len(h.Dates)}
	}
	r := &ReturnMatrix{
		Symbols: h.Symbols,
		Dates:   make([]time.Time, 0, len(h.Dates)-1),
		Returns: make([][]float64, 0, len(h.Dates)-1),
	}
	for t := 1; t < len(h.Dates); t++ {
		changes := make([]float64, len(h.Symbols))
		for j := range h.Symbols {
			changes[j] = h.Prices[t][j]/h.Prices[t-1][j] - 1
		}
		r.Dates = append(r.Dates, h.Dates[t])
		r.Returns = append(r.Returns, changes)
	}
	return r, nil
}

// ReturnMatrix holds per-period percentage changes, aligned like the
// price matrix it was derived from.
type ReturnMatrix struct {
	Symbols []string
	Dates   []time.Time
	Returns [][]float64
}

func (r *ReturnMatrix) NumObservations() int {
	return len(r.Returns)
}

// Window slices observations to [start, end). The slice shares backing
// arrays with the receiver and must not be mutated.
func (r *ReturnMatrix) Window(start, end time.Time) *ReturnMatrix {
	lo := sort.Search(len(r.Dates), func(i int) bool {
		return !r.Dates[i].Before(start)
	})
	hi := sort.Search(len(r.Dates), func(i int) bool {
		return !r.Dates[i].Before(end)
	})
	// an inverted range is empty, not a panic
	if hi < lo {
		hi = lo
	}
	return &ReturnMatrix{
		Symbols: r.Symbols,
		Dates:   r.Dates[lo:hi],
		Returns: r.Returns[lo:hi],
	}
}

// PortfolioSeries collapses the matrix into the weighted per-period
// return series for the given weights.
func (r *ReturnMatrix) PortfolioSeries(w Weights) ([]float64, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if len(w.Values) != len(r.Symbols) {
		return nil, DegenerateInputError{Reason: "weight vector length does not match asset count"}
	}
	series := make([]float64, len(r.Returns))
	for t, row := range r.Returns {
		for j, v := range row {
			series[t] += w.Values[j] * v
		}
	}
	return series, nil
}
