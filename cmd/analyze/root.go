package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	httpserver "github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/adapter/observability"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/app"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/config"
	"github.com/fairyhunter13/ai-purchase-advisor/internal/domain"
)

// Analyzer is the part of the analysis service the command needs.
type Analyzer interface {
	AnalyzePurchase(ctx domain.Context, req domain.AnalysisRequest) domain.AnalysisResult
}

type analyzeFlags struct {
	name          string
	price         float64
	currency      string
	originalPrice float64
	category      string
	urgency       []string
	goals         []string
	budget        float64
	savings       float64
	envFile       string
	pretty        bool
}

// buildAnalyzer is replaced in tests.
var buildAnalyzer = func(cfg config.Config) (Analyzer, func() error, error) {
	advisor, err := app.BuildAdvisor(cfg)
	if err != nil {
		return nil, nil, err
	}
	return advisor.Service, advisor.Close, nil
}

func newRootCommand() *cobra.Command {
	var f analyzeFlags

	cmd := &cobra.Command{
		Use:           "analyze",
		Short:         "Ask the purchase advisor whether a product is worth buying",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := f.request(cmd)
			if verrs := httpserver.ValidateAnalysisRequest(req); len(verrs) > 0 {
				msgs := make([]string, 0, len(verrs))
				for _, v := range verrs {
					msgs = append(msgs, v.Field+": "+v.Message)
				}
				return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, strings.Join(msgs, "; "))
			}

			if f.envFile != "" {
				if err := godotenv.Load(f.envFile); err != nil {
					return fmt.Errorf("load env file: %w", err)
				}
			} else {
				_ = godotenv.Load()
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			slog.SetDefault(observability.NewLogger(cfg, cmd.ErrOrStderr()))

			analyzer, closeFn, err := buildAnalyzer(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = closeFn() }()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			result := analyzer.AnalyzePurchase(ctx, req)
			return writeResult(cmd.OutOrStdout(), result, f.pretty)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "Product name")
	fl.Float64Var(&f.price, "price", 0, "Current price")
	fl.StringVar(&f.currency, "currency", "USD", "ISO currency code")
	fl.Float64Var(&f.originalPrice, "original-price", 0, "Advertised original price")
	fl.StringVar(&f.category, "category", "", "Product category")
	fl.StringArrayVar(&f.urgency, "urgency", nil, "Urgency cue shown by the seller (repeatable)")
	fl.StringArrayVar(&f.goals, "goal", nil, "Financial goal (repeatable)")
	fl.Float64Var(&f.budget, "budget", 0, "Monthly discretionary budget")
	fl.Float64Var(&f.savings, "savings", 0, "Savings goal")
	fl.StringVar(&f.envFile, "env-file", "", "Load environment from this file instead of .env")
	fl.BoolVar(&f.pretty, "pretty", false, "Indent the JSON output")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("price")

	return cmd
}

// request maps flags to an analysis request. Optional numbers are only set
// when their flag was given.
func (f analyzeFlags) request(cmd *cobra.Command) domain.AnalysisRequest {
	changed := cmd.Flags().Changed
	req := domain.AnalysisRequest{Product: domain.Product{
		Name:              f.name,
		Price:             f.price,
		Currency:          f.currency,
		Category:          f.category,
		UrgencyIndicators: f.urgency,
	}}
	if changed("original-price") {
		v := f.originalPrice
		req.Product.OriginalPrice = &v
	}

	if len(f.goals) == 0 && !changed("budget") && !changed("savings") {
		return req
	}
	profile := &domain.UserProfile{FinancialGoals: f.goals}
	if changed("budget") {
		v := f.budget
		profile.MonthlyBudget = &v
	}
	if changed("savings") {
		v := f.savings
		profile.SavingsGoal = &v
	}
	req.UserProfile = profile
	return req
}

func writeResult(w io.Writer, result domain.AnalysisResult, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	return nil
}
