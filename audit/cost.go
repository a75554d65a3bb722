package audit

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	cetypes "github.com/aws/aws-sdk-go-v2/service/costexplorer/types"

	"github.com/musterops/muster/telemetry"
)

// CostAuditor analyzes account spend through Cost Explorer and Budgets.
type CostAuditor struct {
	ce      CostExplorerAPI
	budgets BudgetsAPI
	logger  *telemetry.Logger

	// test seam
	now func() time.Time
}

// NewCostAuditor creates a spend auditor.
func NewCostAuditor(ce CostExplorerAPI, budgetsClient BudgetsAPI, logger *telemetry.Logger) *CostAuditor {
	return &CostAuditor{ce: ce, budgets: budgetsClient, logger: logger, now: time.Now}
}

// GroupCost is spend attributed to one grouping key.
type GroupCost struct {
	Key  string  `json:"key"`
	Cost float64 `json:"cost"`
}

// BudgetStatus is the state of one configured budget.
type BudgetStatus struct {
	Name     string  `json:"name"`
	Limit    float64 `json:"limit"`
	Actual   float64 `json:"actual"`
	Forecast float64 `json:"forecast"`
	OverRun  bool    `json:"overrun"`
}

// CostReport is the output of one spend analysis.
type CostReport struct {
	CurrentMonth  float64        `json:"current_month"`
	PreviousMonth float64        `json:"previous_month"`
	Delta         float64        `json:"delta"`
	DeltaPercent  float64        `json:"delta_percent"`
	ByService     []GroupCost    `json:"by_service"`
	ByAccount     []GroupCost    `json:"by_account"`
	Budgets       []BudgetStatus `json:"budgets"`
	GeneratedAt   time.Time      `json:"generated_at"`
}

// Analyze compares this month's spend against last month's, broken down by
// service and linked account, with budget status attached. Budget lookup is
// best-effort since many accounts have none configured.
func (a *CostAuditor) Analyze(ctx context.Context, accountID string) (*CostReport, error) {
	now := a.now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	prevStart := monthStart.AddDate(0, -1, 0)

	current, err := a.totalForPeriod(ctx, monthStart, now.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("current month spend: %w", err)
	}
	previous, err := a.totalForPeriod(ctx, prevStart, monthStart)
	if err != nil {
		return nil, fmt.Errorf("previous month spend: %w", err)
	}

	byService, err := a.groupedCosts(ctx, monthStart, now.AddDate(0, 0, 1), "SERVICE")
	if err != nil {
		return nil, fmt.Errorf("spend by service: %w", err)
	}
	byAccount, err := a.groupedCosts(ctx, monthStart, now.AddDate(0, 0, 1), "LINKED_ACCOUNT")
	if err != nil {
		return nil, fmt.Errorf("spend by account: %w", err)
	}

	report := &CostReport{
		CurrentMonth:  current,
		PreviousMonth: previous,
		Delta:         current - previous,
		ByService:     byService,
		ByAccount:     byAccount,
		Budgets:       a.budgetStatus(ctx, accountID),
		GeneratedAt:   now,
	}
	if previous > 0 {
		report.DeltaPercent = report.Delta / previous * 100
	}

	return report, nil
}

func (a *CostAuditor) totalForPeriod(ctx context.Context, start, end time.Time) (float64, error) {
	output, err := a.ce.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: awssdk.String(start.Format("2006-01-02")),
			End:   awssdk.String(end.Format("2006-01-02")),
		},
		Granularity: cetypes.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
	})
	if err != nil {
		return 0, err
	}

	var total float64
	for _, result := range output.ResultsByTime {
		if val, ok := result.Total["UnblendedCost"]; ok {
			cost, _ := strconv.ParseFloat(awssdk.ToString(val.Amount), 64)
			total += cost
		}
	}
	return total, nil
}

func (a *CostAuditor) groupedCosts(ctx context.Context, start, end time.Time, dimension string) ([]GroupCost, error) {
	output, err := a.ce.GetCostAndUsage(ctx, &costexplorer.GetCostAndUsageInput{
		TimePeriod: &cetypes.DateInterval{
			Start: awssdk.String(start.Format("2006-01-02")),
			End:   awssdk.String(end.Format("2006-01-02")),
		},
		Granularity: cetypes.GranularityMonthly,
		Metrics:     []string{"UnblendedCost"},
		GroupBy: []cetypes.GroupDefinition{
			{Type: cetypes.GroupDefinitionTypeDimension, Key: awssdk.String(dimension)},
		},
	})
	if err != nil {
		return nil, err
	}

	var costs []GroupCost
	for _, result := range output.ResultsByTime {
		for _, group := range result.Groups {
			cost, _ := strconv.ParseFloat(awssdk.ToString(group.Metrics["UnblendedCost"].Amount), 64)
			if cost <= 0.001 || len(group.Keys) == 0 {
				continue
			}
			costs = append(costs, GroupCost{Key: group.Keys[0], Cost: cost})
		}
	}

	sort.Slice(costs, func(i, j int) bool { return costs[i].Cost > costs[j].Cost })
	return costs, nil
}

func (a *CostAuditor) budgetStatus(ctx context.Context, accountID string) []BudgetStatus {
	output, err := a.budgets.DescribeBudgets(ctx, &budgets.DescribeBudgetsInput{
		AccountId: awssdk.String(accountID),
	})
	if err != nil {
		a.logger.WithContext(ctx).Debug().
			Err(err).
			Str("account_id", accountID).
			Msg("budget lookup skipped")
		return nil
	}

	var statuses []BudgetStatus
	for _, b := range output.Budgets {
		status := BudgetStatus{Name: awssdk.ToString(b.BudgetName)}
		if b.BudgetLimit != nil {
			status.Limit, _ = strconv.ParseFloat(awssdk.ToString(b.BudgetLimit.Amount), 64)
		}
		if b.CalculatedSpend != nil {
			if b.CalculatedSpend.ActualSpend != nil {
				status.Actual, _ = strconv.ParseFloat(awssdk.ToString(b.CalculatedSpend.ActualSpend.Amount), 64)
			}
			if b.CalculatedSpend.ForecastedSpend != nil {
				status.Forecast, _ = strconv.ParseFloat(awssdk.ToString(b.CalculatedSpend.ForecastedSpend.Amount), 64)
			}
		}
		status.OverRun = status.Limit > 0 && status.Actual > status.Limit
		statuses = append(statuses, status)
	}
	return statuses
}
