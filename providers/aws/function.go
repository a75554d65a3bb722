package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"

	"github.com/musterops/muster/pricing"
	"github.com/musterops/muster/types"
)

// invocationWindow is the lookback for function activity metrics.
const invocationWindow = 30 * 24 * time.Hour

// CollectFunctions lists Lambda functions with 30-day activity metrics.
func (c *Collector) CollectFunctions(ctx context.Context) ([]types.Record, error) {
	var records []types.Record
	var marker *string

	for {
		output, err := c.lambdaClient.ListFunctions(ctx, &lambda.ListFunctionsInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("list functions: %w", err)
		}

		for _, fn := range output.Functions {
			records = append(records, c.convertFunction(ctx, fn))
		}

		if output.NextMarker == nil {
			break
		}
		marker = output.NextMarker
	}

	return records, nil
}

func (c *Collector) convertFunction(ctx context.Context, fn lambdatypes.FunctionConfiguration) types.Record {
	name := awssdk.ToString(fn.FunctionName)
	r := c.newRecord(types.KindFunction, name)

	memoryMB := awssdk.ToInt32(fn.MemorySize)

	r.Attrs["runtime"] = string(fn.Runtime)
	r.Attrs["handler"] = awssdk.ToString(fn.Handler)
	r.Attrs["last_modified"] = awssdk.ToString(fn.LastModified)
	r.Metrics["memory_mb"] = float64(memoryMB)
	r.Metrics["timeout_seconds"] = float64(awssdk.ToInt32(fn.Timeout))
	r.Metrics["code_size_bytes"] = float64(fn.CodeSize)

	invocations := c.functionMetricSum(ctx, name, "Invocations")
	errors := c.functionMetricSum(ctx, name, "Errors")
	r.Metrics["invocations_30d"] = invocations
	r.Metrics["errors_30d"] = errors

	r.MonthlyCost = pricing.LambdaMonthly(invocations, memoryMB)

	return r
}

// functionMetricSum returns the 30-day sum for one function metric.
// Metric lookups are best-effort; a failure reads as zero activity.
func (c *Collector) functionMetricSum(ctx context.Context, name, metricName string) float64 {
	now := time.Now().UTC()
	output, err := c.metricsClient.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  awssdk.String("AWS/Lambda"),
		MetricName: awssdk.String(metricName),
		Dimensions: []cwtypes.Dimension{
			{Name: awssdk.String("FunctionName"), Value: awssdk.String(name)},
		},
		StartTime:  awssdk.Time(now.Add(-invocationWindow)),
		EndTime:    awssdk.Time(now),
		Period:     awssdk.Int32(int32(invocationWindow / time.Second)),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticSum},
	})
	if err != nil {
		c.logger.WithContext(ctx).Debug().
			Err(err).
			Str("function", name).
			Str("metric", metricName).
			Msg("function metric lookup degraded")
		return 0
	}

	var sum float64
	for _, dp := range output.Datapoints {
		sum += awssdk.ToFloat64(dp.Sum)
	}
	return sum
}
