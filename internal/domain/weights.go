package domain

import "fmt"

// WeightTolerance is the slack allowed on the sum-to-one and box
// constraints when validating a solved weight vector.
const WeightTolerance = 1e-6

// Weights is an allocation across assets, aligned positionally with the
// Symbols of the PriceHistory it was solved against. Components are in
// [0,1] and sum to 1 - no cash residual and no short positions.
type Weights struct {
	Symbols []string
	Values  []float64
}

func EqualWeights(symbols []string) Weights {
	values := make([]float64, len(symbols))
	for i := range values {
		values[i] = 1 / float64(len(symbols))
	}
	return Weights{Symbols: symbols, Values: values}
}

func (w Weights) Validate() error {
	if len(w.Symbols) != len(w.Values) {
		return fmt.Errorf("weight vector has %d values for %d symbols", len(w.Values), len(w.Symbols))
	}
	if len(w.Values) == 0 {
		return fmt.Errorf("empty weight vector")
	}
	sum := 0.0
	for i, v := range w.Values {
		if v < -WeightTolerance || v > 1+WeightTolerance {
			return fmt.Errorf("weight %f for %s outside [0,1]", v, w.Symbols[i])
		}
		sum += v
	}
	if sum < 1-WeightTolerance || sum > 1+WeightTolerance {
		return fmt.Errorf("weights sum to %f, expected 1", sum)
	}
	return nil
}

func (w Weights) Map() map[string]float64 {
	out := make(map[string]float64, len(w.Symbols))
	for i, symbol := range w.Symbols {
		out[symbol] = w.Values[i]
	}
	return out
}
