package audit

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"

	"github.com/musterops/muster/telemetry"
)

const (
	lambdaStatsWindow = 7 * 24 * time.Hour

	// Functions finishing this fast with generous memory get a halving
	// recommendation.
	fastDurationMS = 100
	minMemoryMB    = 128
)

// FunctionAudit is the runtime profile and recommendation for one function.
type FunctionAudit struct {
	Name                string  `json:"name"`
	MemoryMB            int32   `json:"memory_mb"`
	AvgDurationMS       float64 `json:"avg_duration_ms"`
	Invocations         float64 `json:"invocations_7d"`
	RecommendedMemoryMB int32   `json:"recommended_memory_mb,omitempty"`
	Note                string  `json:"note,omitempty"`
}

// LambdaAuditor recommends memory settings from observed durations.
type LambdaAuditor struct {
	lambdaClient LambdaAPI
	metrics      MetricsAPI
	logger       *telemetry.Logger
}

// NewLambdaAuditor creates a Lambda memory auditor.
func NewLambdaAuditor(lambdaClient LambdaAPI, metrics MetricsAPI, logger *telemetry.Logger) *LambdaAuditor {
	return &LambdaAuditor{lambdaClient: lambdaClient, metrics: metrics, logger: logger}
}

// Audit profiles every function in the region.
func (a *LambdaAuditor) Audit(ctx context.Context) ([]FunctionAudit, error) {
	var audits []FunctionAudit
	var marker *string

	for {
		output, err := a.lambdaClient.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list functions: %w", err)
		}

		for _, fn := range output.Functions {
			name := awssdk.ToString(fn.FunctionName)
			audit := FunctionAudit{
				Name:          name,
				MemoryMB:      awssdk.ToInt32(fn.MemorySize),
				AvgDurationMS: a.metricStat(ctx, name, "Duration", cwtypes.StatisticAverage),
				Invocations:   a.metricStat(ctx, name, "Invocations", cwtypes.StatisticSum),
			}
			a.recommend(&audit)
			audits = append(audits, audit)
		}

		if output.NextMarker == nil {
			return audits, nil
		}
		marker = output.NextMarker
	}
}

func (a *LambdaAuditor) metricStat(ctx context.Context, name, metricName string, stat cwtypes.Statistic) float64 {
	now := time.Now().UTC()
	output, err := a.metrics.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  awssdk.String("AWS/Lambda"),
		MetricName: awssdk.String(metricName),
		Dimensions: []cwtypes.Dimension{
			{Name: awssdk.String("FunctionName"), Value: awssdk.String(name)},
		},
		StartTime:  awssdk.Time(now.Add(-lambdaStatsWindow)),
		EndTime:    awssdk.Time(now),
		Period:     awssdk.Int32(int32(lambdaStatsWindow / time.Second)),
		Statistics: []cwtypes.Statistic{stat},
	})
	if err != nil {
		a.logger.WithContext(ctx).Debug().
			Err(err).
			Str("function", name).
			Str("metric", metricName).
			Msg("function stat lookup degraded")
		return 0
	}

	var value float64
	for _, dp := range output.Datapoints {
		switch stat {
		case cwtypes.StatisticAverage:
			value = awssdk.ToFloat64(dp.Average)
		case cwtypes.StatisticSum:
			value += awssdk.ToFloat64(dp.Sum)
		}
	}
	return value
}

func (a *LambdaAuditor) recommend(audit *FunctionAudit) {
	if audit.Invocations == 0 {
		audit.Note = "no invocations in window"
		return
	}
	if audit.AvgDurationMS >= fastDurationMS || audit.MemoryMB <= minMemoryMB*2 {
		return
	}

	recommended := audit.MemoryMB / 2
	if recommended < minMemoryMB {
		recommended = minMemoryMB
	}
	audit.RecommendedMemoryMB = recommended
	audit.Note = fmt.Sprintf("avg duration %.0fms, memory likely oversized", audit.AvgDurationMS)
}
