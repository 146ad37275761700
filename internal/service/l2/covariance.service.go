package l2_service

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"

	"gonum.org/v1/gonum/mat"
)

// variances below this are treated as zero - the asset carries no
// usable signal and poisons ratio denominators downstream
const varianceFloor = 1e-12

// Snapshot holds the mean-return vector and sample covariance matrix
// (ddof=1) of one return window. Snapshots are immutable; a changed
// window produces a new snapshot.
type Snapshot struct {
	Symbols      []string
	Mean         []float64
	Cov          *mat.SymDense
	Correlation  *mat.SymDense
	Observations int
}

// Variance is wᵀΣw.
func (s *Snapshot) Variance(w []float64) float64 {
	v := 0.0
	for i := range w {
		for j := range w {
			v += w[i] * w[j] * s.Cov.At(i, j)
		}
	}
	return v
}

// Risk is sqrt(wᵀΣw), the portfolio's per-period standard deviation.
func (s *Snapshot) Risk(w []float64) float64 {
	return math.Sqrt(math.Max(s.Variance(w), 0))
}

// MeanReturn is w·μ, the portfolio's expected per-period return.
func (s *Snapshot) MeanReturn(w []float64) float64 {
	r := 0.0
	for i := range w {
		r += w[i] * s.Mean[i]
	}
	return r
}

type AssetStat struct {
	Symbol          string
	DailyMeanReturn float64
	DailyRisk       float64
}

func (s *Snapshot) AssetStats() []AssetStat {
	out := make([]AssetStat, len(s.Symbols))
	for i, symbol := range s.Symbols {
		out[i] = AssetStat{
			Symbol:          symbol,
			DailyMeanReturn: s.Mean[i],
			DailyRisk:       math.Sqrt(s.Cov.At(i, i)),
		}
	}
	return out
}

type CovarianceService interface {
	Compute(returns *domain.ReturnMatrix) (*Snapshot, error)
}

type covarianceServiceHandler struct {
	mu    sync.Mutex
	cache map[string]*Snapshot
}

func NewCovarianceService() CovarianceService {
	return &covarianceServiceHandler{
		cache: map[string]*Snapshot{},
	}
}

func windowKey(returns *domain.ReturnMatrix) string {
	if len(returns.Dates) == 0 {
		return fmt.Sprintf("%v|empty", returns.Symbols)
	}
	return fmt.Sprintf("%v|%s|%s|%d",
		returns.Symbols,
		returns.Dates[0].Format(time.DateOnly),
		returns.Dates[len(returns.Dates)-1].Format(time.DateOnly),
		len(returns.Dates),
	)
}

// Compute is referentially transparent: an identical window yields an
// identical snapshot, served from the (symbols, window) keyed cache on
// repeat calls.
func (h *covarianceServiceHandler) Compute(returns *domain.ReturnMatrix) (*Snapshot, error) {
	key := windowKey(returns)
	h.mu.Lock()
	if cached, ok := h.cache[key]; ok {
		h.mu.Unlock()
		return cached, nil
	}
	h.mu.Unlock()

	n := len(returns.Symbols)
	obs := returns.NumObservations()
	if obs < 2 {
		return nil, domain.InsufficientDataError{Observations: obs}
	}

	mean := make([]float64, n)
	for _, row := range returns.Returns {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(obs)
	}

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sum := 0.0
			for t := 0; t < obs; t++ {
				sum += (returns.Returns[t][i] - mean[i]) * (returns.Returns[t][j] - mean[j])
			}
			cov.SetSym(i, j, sum/float64(obs-1))
		}
	}

	for i := 0; i < n; i++ {
		if cov.At(i, i) < varianceFloor {
			return nil, domain.InsufficientDataError{Symbol: returns.Symbols[i], Observations: obs}
		}
	}

	correlation := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			correlation.SetSym(i, j, cov.At(i, j)/math.Sqrt(cov.At(i, i)*cov.At(j, j)))
		}
	}

	snapshot := &Snapshot{
		Symbols:      returns.Symbols,
		Mean:         mean,
		Cov:          cov,
		Correlation:  correlation,
		Observations: obs,
	}

	h.mu.Lock()
	h.cache[key] = snapshot
	h.mu.Unlock()

	return snapshot, nil
}
