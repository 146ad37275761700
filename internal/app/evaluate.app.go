package app

import (
	"context"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/domain"
	l1_service "github.com/raymondino/PortfolioManagement/internal/service/l1"
	l3_service "github.com/raymondino/PortfolioManagement/internal/service/l3"
)

type EvaluateHandler struct {
	PriceService    l1_service.PriceService
	FrontierService l3_service.FrontierService
}

type EvaluateInput struct {
	Symbols        []string
	Start          *time.Time
	End            *time.Time
	RiskFreeAnnual float64
}

type EvaluateResponse struct {
	Inception   time.Time
	End         time.Time
	Comparisons []l3_service.YearComparison
}

// Evaluate walks the history year by year, fitting weights on the past
// and scoring them against the hindsight-optimal fit for the same year.
func (h EvaluateHandler) Evaluate(ctx context.Context, in EvaluateInput) (*EvaluateResponse, error) {
	history, err := h.PriceService.LoadPriceHistory(ctx, in.Symbols, in.Start, in.End)
	if err != nil {
		return nil, err
	}

	riskFreeDaily := domain.DailyRateFromAnnual(in.RiskFreeAnnual)
	comparisons, err := h.FrontierService.Evaluate(ctx, history, riskFreeDaily)
	if err != nil {
		return nil, err
	}

	return &EvaluateResponse{
		Inception:   history.Inception(),
		End:         history.End(),
		Comparisons: comparisons,
	}, nil
}
