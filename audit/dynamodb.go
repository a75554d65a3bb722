package audit

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/musterops/muster/telemetry"
)

const (
	dynamoStoragePerGBMonth = 0.25
	rcuHourly               = 0.00013
	wcuHourly               = 0.00065

	capacityWindow = 7 * 24 * time.Hour

	// Provisioned tables running under this utilization get a downsizing
	// recommendation.
	lowUtilization = 0.2

	hoursPerMonth = 24 * 30
)

// TableAudit is the capacity and cost picture of one DynamoDB table.
type TableAudit struct {
	Name            string  `json:"name"`
	SizeGB          float64 `json:"size_gb"`
	ProvisionedRCU  int64   `json:"provisioned_rcu"`
	ProvisionedWCU  int64   `json:"provisioned_wcu"`
	ConsumedRCUAvg  float64 `json:"consumed_rcu_avg"`
	ConsumedWCUAvg  float64 `json:"consumed_wcu_avg"`
	MonthlyCost     float64 `json:"monthly_cost"`
	Recommendation  string  `json:"recommendation,omitempty"`
	EstimatedSaving float64 `json:"estimated_saving,omitempty"`
}

// DynamoAuditor sizes table spend against actual consumption.
type DynamoAuditor struct {
	db      DynamoAdminAPI
	metrics MetricsAPI
	logger  *telemetry.Logger
}

// NewDynamoAuditor creates a DynamoDB capacity auditor.
func NewDynamoAuditor(db DynamoAdminAPI, metrics MetricsAPI, logger *telemetry.Logger) *DynamoAuditor {
	return &DynamoAuditor{db: db, metrics: metrics, logger: logger}
}

// Audit inspects every table in the region.
func (a *DynamoAuditor) Audit(ctx context.Context) ([]TableAudit, error) {
	names, err := a.listTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	audits := make([]TableAudit, 0, len(names))
	for _, name := range names {
		audit, err := a.auditTable(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("audit table %s: %w", name, err)
		}
		audits = append(audits, audit)
	}
	return audits, nil
}

func (a *DynamoAuditor) listTables(ctx context.Context) ([]string, error) {
	var names []string
	var start *string

	for {
		output, err := a.db.ListTables(ctx, &dynamodb.ListTablesInput{
			ExclusiveStartTableName: start,
		})
		if err != nil {
			return nil, err
		}
		names = append(names, output.TableNames...)

		if output.LastEvaluatedTableName == nil {
			return names, nil
		}
		start = output.LastEvaluatedTableName
	}
}

func (a *DynamoAuditor) auditTable(ctx context.Context, name string) (TableAudit, error) {
	described, err := a.db.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: awssdk.String(name),
	})
	if err != nil {
		return TableAudit{}, err
	}

	table := described.Table
	audit := TableAudit{
		Name:   name,
		SizeGB: float64(awssdk.ToInt64(table.TableSizeBytes)) / (1024 * 1024 * 1024),
	}
	if table.ProvisionedThroughput != nil {
		audit.ProvisionedRCU = awssdk.ToInt64(table.ProvisionedThroughput.ReadCapacityUnits)
		audit.ProvisionedWCU = awssdk.ToInt64(table.ProvisionedThroughput.WriteCapacityUnits)
	}

	audit.ConsumedRCUAvg = a.consumedAverage(ctx, name, "ConsumedReadCapacityUnits")
	audit.ConsumedWCUAvg = a.consumedAverage(ctx, name, "ConsumedWriteCapacityUnits")

	audit.MonthlyCost = audit.SizeGB*dynamoStoragePerGBMonth +
		float64(audit.ProvisionedRCU)*rcuHourly*hoursPerMonth +
		float64(audit.ProvisionedWCU)*wcuHourly*hoursPerMonth

	a.recommend(&audit)
	return audit, nil
}

// consumedAverage returns the 7-day per-second consumption average.
// Missing metrics read as zero consumption.
func (a *DynamoAuditor) consumedAverage(ctx context.Context, table, metricName string) float64 {
	now := time.Now().UTC()
	output, err := a.metrics.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  awssdk.String("AWS/DynamoDB"),
		MetricName: awssdk.String(metricName),
		Dimensions: []cwtypes.Dimension{
			{Name: awssdk.String("TableName"), Value: awssdk.String(table)},
		},
		StartTime:  awssdk.Time(now.Add(-capacityWindow)),
		EndTime:    awssdk.Time(now),
		Period:     awssdk.Int32(int32(capacityWindow / time.Second)),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticSum},
	})
	if err != nil {
		a.logger.WithContext(ctx).Debug().
			Err(err).
			Str("table", table).
			Str("metric", metricName).
			Msg("capacity metric lookup degraded")
		return 0
	}

	var sum float64
	for _, dp := range output.Datapoints {
		sum += awssdk.ToFloat64(dp.Sum)
	}
	return sum / capacityWindow.Seconds()
}

// recommend suggests halving grossly over-provisioned capacity down to
// double the observed consumption.
func (a *DynamoAuditor) recommend(audit *TableAudit) {
	if audit.ProvisionedRCU == 0 && audit.ProvisionedWCU == 0 {
		return // on-demand
	}

	savedRCU := recommendedCut(audit.ProvisionedRCU, audit.ConsumedRCUAvg)
	savedWCU := recommendedCut(audit.ProvisionedWCU, audit.ConsumedWCUAvg)
	if savedRCU == 0 && savedWCU == 0 {
		return
	}

	audit.Recommendation = fmt.Sprintf("reduce provisioned capacity by %d RCU and %d WCU", savedRCU, savedWCU)
	audit.EstimatedSaving = float64(savedRCU)*rcuHourly*hoursPerMonth +
		float64(savedWCU)*wcuHourly*hoursPerMonth
}

func recommendedCut(provisioned int64, consumedAvg float64) int64 {
	if provisioned == 0 {
		return 0
	}
	if consumedAvg/float64(provisioned) >= lowUtilization {
		return 0
	}

	target := int64(consumedAvg * 2)
	if target < 1 {
		target = 1
	}
	if target >= provisioned {
		return 0
	}
	return provisioned - target
}
