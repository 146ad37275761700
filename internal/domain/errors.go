package domain

import (
	"fmt"
	"time"
)

// InsufficientDataError indicates a requested window holds too few return
// observations to compute statistics on, or that an asset has no usable
// data in the range. Callers may recover by widening the window or
// excluding the asset.
type InsufficientDataError struct {
	Symbol       string
	Observations int
}

func (e InsufficientDataError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("insufficient data for %s: %d return observations", e.Symbol, e.Observations)
	}
	return fmt.Sprintf("insufficient data: %d return observations", e.Observations)
}

// NonConvergenceError indicates the constrained solver failed to find a
// feasible optimum within its iteration and tolerance budget.
type NonConvergenceError struct {
	Objective string
	Status    string
}

func (e NonConvergenceError) Error() string {
	return fmt.Sprintf("%s optimization did not converge: %s", e.Objective, e.Status)
}

// DataGapError indicates a simulated day is missing a price, or carries a
// non-positive price, for a held asset. Fatal for the backtest run.
type DataGapError struct {
	Symbol string
	Date   time.Time
}

func (e DataGapError) Error() string {
	return fmt.Sprintf("missing or non-positive price for %s on %s", e.Symbol, e.Date.Format(time.DateOnly))
}

// DegenerateInputError indicates a zero or near-zero denominator in a
// risk-adjusted ratio.
type DegenerateInputError struct {
	Reason string
}

func (e DegenerateInputError) Error() string {
	return e.Reason
}
