package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raymondino/PortfolioManagement/internal/app"
	"github.com/raymondino/PortfolioManagement/internal/logger"
	"github.com/raymondino/PortfolioManagement/internal/repository"
	l1_service "github.com/raymondino/PortfolioManagement/internal/service/l1"
	l2_service "github.com/raymondino/PortfolioManagement/internal/service/l2"
	l3_service "github.com/raymondino/PortfolioManagement/internal/service/l3"
	"github.com/raymondino/PortfolioManagement/internal/util"
	treasury_client "github.com/raymondino/PortfolioManagement/pkg/treasury"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

type cliFlags struct {
	symbols  []string
	start    string
	end      string
	csvDir   string
	riskFree float64
}

func main() {
	flags := &cliFlags{}

	root := &cobra.Command{
		Use:           "pm",
		Short:         "portfolio optimization and backtesting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringSliceVarP(&flags.symbols, "symbols", "s", nil, "asset tickers, comma separated")
	root.PersistentFlags().StringVar(&flags.start, "start", "", "history start date (YYYY-MM-DD, default max)")
	root.PersistentFlags().StringVar(&flags.end, "end", "", "history end date (YYYY-MM-DD, default max)")
	root.PersistentFlags().StringVar(&flags.csvDir, "csv-dir", "", "load prices from <dir>/<SYMBOL>.csv instead of yahoo finance")
	root.PersistentFlags().Float64Var(&flags.riskFree, "risk-free", 0, "annual risk-free rate, e.g. 0.04")

	root.AddCommand(
		optimizeCommand(flags),
		evaluateCommand(flags),
		backtestCommand(flags),
		performanceCommand(flags),
		ratesCommand(),
	)

	if err := root.Execute(); err != nil {
		log := logger.New()
		log.Error(err)
		os.Exit(1)
	}
}

func (f *cliFlags) priceService() l1_service.PriceService {
	var priceRepository repository.PriceRepository
	if f.csvDir != "" {
		priceRepository = repository.NewCSVPriceRepository(f.csvDir)
	} else {
		priceRepository = repository.NewYahooPriceRepository()
	}
	return l1_service.NewPriceService(priceRepository)
}

func (f *cliFlags) priceRepository() repository.PriceRepository {
	if f.csvDir != "" {
		return repository.NewCSVPriceRepository(f.csvDir)
	}
	return repository.NewYahooPriceRepository()
}

func (f *cliFlags) dateRange() (*time.Time, *time.Time, error) {
	parse := func(s string) (*time.Time, error) {
		if s == "" {
			return nil, nil
		}
		t, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
		}
		return &t, nil
	}
	start, err := parse(f.start)
	if err != nil {
		return nil, nil, err
	}
	end, err := parse(f.end)
	if err != nil {
		return nil, nil, err
	}
	return start, end, nil
}

func optimizeCommand(flags *cliFlags) *cobra.Command {
	var targetRisk float64

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "solve min-risk, max-sharpe and max-sortino weights over a price history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logger.AddToContext(cmd.Context(), logger.New())
			start, end, err := flags.dateRange()
			if err != nil {
				return err
			}

			handler := app.OptimizeHandler{
				PriceService:      flags.priceService(),
				CovarianceService: l2_service.NewCovarianceService(),
				Optimizer:         l3_service.NewOptimizer(),
			}
			in := app.OptimizeInput{
				Symbols:        flags.symbols,
				Start:          start,
				End:            end,
				RiskFreeAnnual: flags.riskFree,
			}
			if cmd.Flags().Changed("target-risk") {
				in.TargetAnnualRisk = &targetRisk
			}

			response, err := handler.Optimize(ctx, in)
			if err != nil {
				return err
			}
			util.Pprint(response)
			return nil
		},
	}
	cmd.Flags().Float64Var(&targetRisk, "target-risk", 0, "pin portfolio risk to this annualized value")
	return cmd
}

func evaluateCommand(flags *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate",
		Short: "walk-forward comparison of predicted weights against hindsight-optimal weights",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logger.AddToContext(cmd.Context(), logger.New())
			start, end, err := flags.dateRange()
			if err != nil {
				return err
			}

			covarianceService := l2_service.NewCovarianceService()
			optimizer := l3_service.NewOptimizer()
			handler := app.EvaluateHandler{
				PriceService:    flags.priceService(),
				FrontierService: l3_service.NewFrontierService(covarianceService, optimizer),
			}

			response, err := handler.Evaluate(ctx, app.EvaluateInput{
				Symbols:        flags.symbols,
				Start:          start,
				End:            end,
				RiskFreeAnnual: flags.riskFree,
			})
			if err != nil {
				return err
			}
			util.Pprint(response)
			return nil
		},
	}
}

func backtestCommand(flags *cliFlags) *cobra.Command {
	var (
		weightsArg           string
		fund                 float64
		contribution         float64
		contributionInterval int
		policyKind           string
		rebalanceOffset      float64
		reoptimizeInterval   int
		lookbackDays         int
		rounding             string
		benchmark            string
		label                string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "replay a target allocation over history with contributions and a rebalance policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logger.AddToContext(cmd.Context(), logger.New())
			start, end, err := flags.dateRange()
			if err != nil {
				return err
			}
			weights, err := parseWeights(weightsArg)
			if err != nil {
				return err
			}

			covarianceService := l2_service.NewCovarianceService()
			optimizer := l3_service.NewOptimizer()
			handler := app.BacktestHandler{
				PriceService:       flags.priceService(),
				BacktestService:    l3_service.NewBacktestService(covarianceService, optimizer),
				SnapshotRepository: repository.NewSnapshotRepository(),
				Benchmark:          app.BenchmarkHandler{PriceRepository: flags.priceRepository()},
			}

			response, err := handler.Backtest(ctx, app.BacktestAppInput{
				Symbols:              flags.symbols,
				Weights:              weights,
				Start:                start,
				End:                  end,
				InitialFund:          decimal.NewFromFloat(fund),
				ContributionAmount:   decimal.NewFromFloat(contribution),
				ContributionInterval: contributionInterval,
				Policy: l3_service.Policy{
					Kind:               l3_service.PolicyKind(policyKind),
					RebalanceOffset:    rebalanceOffset,
					ReoptimizeInterval: reoptimizeInterval,
					LookbackDays:       lookbackDays,
				},
				Rounding:        l3_service.RoundingMode(rounding),
				RiskFreeAnnual:  flags.riskFree,
				Label:           label,
				BenchmarkSymbol: benchmark,
			})
			if err != nil {
				return err
			}
			util.Pprint(response)
			return nil
		},
	}
	cmd.Flags().StringVarP(&weightsArg, "weights", "w", "", "target weights, comma separated, summing to 1")
	cmd.Flags().Float64Var(&fund, "fund", 10000, "initial investment")
	cmd.Flags().Float64Var(&contribution, "contribution", 0, "recurring contribution amount")
	cmd.Flags().IntVar(&contributionInterval, "contribution-interval", 0, "trading days between contributions, 0 disables")
	cmd.Flags().StringVar(&policyKind, "policy", string(l3_service.PolicyNone), "none | threshold-rebalance | periodic-reoptimize")
	cmd.Flags().Float64Var(&rebalanceOffset, "rebalance-offset", 0.05, "weight drift that triggers a rebalance")
	cmd.Flags().IntVar(&reoptimizeInterval, "reoptimize-interval", 63, "trading days between weight re-fits")
	cmd.Flags().IntVar(&lookbackDays, "lookback-days", -1, "calendar days of history per re-fit, -1 for all")
	cmd.Flags().StringVar(&rounding, "rounding", string(l3_service.RoundFractional), "fractional | floor | ceil")
	cmd.Flags().StringVar(&benchmark, "benchmark", "", "benchmark ticker for comparison, e.g. SPY")
	cmd.Flags().StringVar(&label, "label", "", "label for this run")
	return cmd
}

func performanceCommand(flags *cliFlags) *cobra.Command {
	var (
		snapshotPath string
		benchmark    string
	)

	cmd := &cobra.Command{
		Use:   "performance",
		Short: "replay a recorded purchase snapshot against actual prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := logger.AddToContext(cmd.Context(), logger.New())

			covarianceService := l2_service.NewCovarianceService()
			optimizer := l3_service.NewOptimizer()
			handler := app.BacktestHandler{
				PriceService:       flags.priceService(),
				BacktestService:    l3_service.NewBacktestService(covarianceService, optimizer),
				SnapshotRepository: repository.NewSnapshotRepository(),
				Benchmark:          app.BenchmarkHandler{PriceRepository: flags.priceRepository()},
			}

			response, err := handler.Performance(ctx, app.PerformanceInput{
				SnapshotPath:    snapshotPath,
				RiskFreeAnnual:  flags.riskFree,
				BenchmarkSymbol: benchmark,
			})
			if err != nil {
				return err
			}
			util.Pprint(response)
			return nil
		},
	}
	cmd.Flags().StringVar(&snapshotPath, "snapshot", "", "path to the purchase snapshot json")
	cmd.Flags().StringVar(&benchmark, "benchmark", "", "benchmark ticker for comparison, e.g. SPY")
	cmd.MarkFlagRequired("snapshot")
	return cmd
}

func ratesCommand() *cobra.Command {
	var dateArg string

	cmd := &cobra.Command{
		Use:   "rates",
		Short: "print the treasury yield curve for a day",
		RunE: func(cmd *cobra.Command, args []string) error {
			date := time.Now().UTC()
			if dateArg != "" {
				parsed, err := time.Parse(time.DateOnly, dateArg)
				if err != nil {
					return fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", dateArg, err)
				}
				date = parsed
			}
			rates, err := treasury_client.GetInterestRatesOnDay(date)
			if err != nil {
				return err
			}
			riskFree, err := treasury_client.RiskFreeAnnualYield(date)
			if err != nil {
				return err
			}
			util.Pprint(map[string]interface{}{
				"date":             date.Format(time.DateOnly),
				"ratesByMonths":    rates.Rates,
				"riskFree3mAnnual": riskFree,
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&dateArg, "date", "", "curve date (YYYY-MM-DD, default today)")
	return cmd
}

func parseWeights(in string) ([]float64, error) {
	if strings.TrimSpace(in) == "" {
		return nil, fmt.Errorf("weights are required, e.g. -w 0.6,0.4")
	}
	parts := strings.Split(in, ",")
	weights := make([]float64, 0, len(parts))
	for _, part := range parts {
		w, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q: %w", part, err)
		}
		weights = append(weights, w)
	}
	return weights, nil
}
