package app

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const maxConcurrentRuns = 4

type BatchBacktestResponse struct {
	Runs   []*BacktestAppResponse
	Errors []error
}

// BatchBacktest runs several configurations concurrently. One run
// failing never aborts the batch - its error is captured at the same
// index instead.
func (h BacktestHandler) BatchBacktest(ctx context.Context, inputs []BacktestAppInput) (*BatchBacktestResponse, error) {
	response := &BatchBacktestResponse{
		Runs:   make([]*BacktestAppResponse, len(inputs)),
		Errors: make([]error, len(inputs)),
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentRuns)
	for i, in := range inputs {
		i, in := i, in
		group.Go(func() error {
			run, err := h.Backtest(groupCtx, in)
			response.Runs[i] = run
			response.Errors[i] = err
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return response, nil
}
