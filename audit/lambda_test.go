package audit

import (
	"context"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musterops/muster/telemetry"
)

type mockLambdaAuditClient struct {
	ListFunctionsFunc func(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error)
}

func (m *mockLambdaAuditClient) ListFunctions(ctx context.Context, params *lambda.ListFunctionsInput, optFns ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
	return m.ListFunctionsFunc(ctx, params, optFns...)
}

func lambdaMetrics(durations map[string]float64, invocations map[string]float64) *mockMetricsClient {
	return &mockMetricsClient{
		GetMetricStatisticsFunc: func(_ context.Context, params *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
			name := awssdk.ToString(params.Dimensions[0].Value)
			if awssdk.ToString(params.MetricName) == "Duration" {
				return &cloudwatch.GetMetricStatisticsOutput{
					Datapoints: []cwtypes.Datapoint{{Average: awssdk.Float64(durations[name])}},
				}, nil
			}
			return &cloudwatch.GetMetricStatisticsOutput{
				Datapoints: []cwtypes.Datapoint{{Sum: awssdk.Float64(invocations[name])}},
			}, nil
		},
	}
}

func TestLambdaAudit(t *testing.T) {
	lambdaClient := &mockLambdaAuditClient{
		ListFunctionsFunc: func(_ context.Context, _ *lambda.ListFunctionsInput, _ ...func(*lambda.Options)) (*lambda.ListFunctionsOutput, error) {
			return &lambda.ListFunctionsOutput{
				Functions: []lambdatypes.FunctionConfiguration{
					{FunctionName: awssdk.String("oversized"), MemorySize: awssdk.Int32(1024)},
					{FunctionName: awssdk.String("right-sized"), MemorySize: awssdk.Int32(1024)},
					{FunctionName: awssdk.String("dormant"), MemorySize: awssdk.Int32(512)},
				},
			}, nil
		},
	}
	metrics := lambdaMetrics(
		map[string]float64{"oversized": 20, "right-sized": 800, "dormant": 0},
		map[string]float64{"oversized": 5000, "right-sized": 5000, "dormant": 0},
	)

	auditor := NewLambdaAuditor(lambdaClient, metrics, telemetry.NewLogger("test"))
	audits, err := auditor.Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, audits, 3)

	// Fast function with lots of memory gets a halving recommendation.
	assert.Equal(t, int32(512), audits[0].RecommendedMemoryMB)
	assert.Contains(t, audits[0].Note, "oversized")

	// Slow function is left alone.
	assert.Zero(t, audits[1].RecommendedMemoryMB)
	assert.Empty(t, audits[1].Note)

	// Uninvoked function is noted, not resized.
	assert.Zero(t, audits[2].RecommendedMemoryMB)
	assert.Equal(t, "no invocations in window", audits[2].Note)
}
