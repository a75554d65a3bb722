package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musterops/muster/telemetry"
	"github.com/musterops/muster/types"
)

type mockDynamoClient struct {
	BatchWriteItemFunc func(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

func (m *mockDynamoClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return m.BatchWriteItemFunc(ctx, params, optFns...)
}

func testSink(client DynamoAPI) *Sink {
	s := NewSink(client, "aws-inventory", telemetry.NewLogger("test"))
	s.sleep = func(_ context.Context, _ time.Duration) error { return nil }
	return s
}

func sampleRecord(id string) types.Record {
	r := types.NewRecord(types.KindComputeInstance, id, "123456789012", "platform", "us-east-1")
	r.Attrs["state"] = "running"
	r.Metrics["cpu_avg"] = 12.5
	r.MonthlyCost = 29.952
	return r
}

func TestSave(t *testing.T) {
	var got []map[string][]ddbtypes.WriteRequest
	client := &mockDynamoClient{
		BatchWriteItemFunc: func(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			got = append(got, params.RequestItems)
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}

	err := testSink(client).Save(context.Background(), []types.Record{sampleRecord("i-1")})
	require.NoError(t, err)
	require.Len(t, got, 1)

	requests := got[0]["aws-inventory"]
	require.Len(t, requests, 1)

	item := requests[0].PutRequest.Item
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "compute_instance#i-1"}, item["pk"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "i-1"}, item["resource_id"])
	assert.Equal(t, &ddbtypes.AttributeValueMemberS{Value: "platform"}, item["account_name"])

	// Costs land as clean decimal strings, not float artifacts.
	assert.Equal(t, &ddbtypes.AttributeValueMemberN{Value: "29.952"}, item["estimated_monthly_cost"])
	metrics := item["metrics"].(*ddbtypes.AttributeValueMemberM)
	assert.Equal(t, &ddbtypes.AttributeValueMemberN{Value: "12.5"}, metrics.Value["cpu_avg"])
}

func TestSave_Chunks(t *testing.T) {
	var sizes []int
	client := &mockDynamoClient{
		BatchWriteItemFunc: func(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			sizes = append(sizes, len(params.RequestItems["aws-inventory"]))
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}

	records := make([]types.Record, 60)
	for i := range records {
		records[i] = sampleRecord("i-" + string(rune('a'+i%26)))
	}

	err := testSink(client).Save(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, []int{25, 25, 10}, sizes)
}

func TestSave_Empty(t *testing.T) {
	client := &mockDynamoClient{
		BatchWriteItemFunc: func(_ context.Context, _ *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			t.Fatal("no write expected for empty input")
			return nil, nil
		},
	}

	require.NoError(t, testSink(client).Save(context.Background(), nil))
}

func TestSave_UnprocessedRedriven(t *testing.T) {
	calls := 0
	client := &mockDynamoClient{
		BatchWriteItemFunc: func(_ context.Context, params *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			calls++
			if calls == 1 {
				// First call leaves one item unprocessed.
				return &dynamodb.BatchWriteItemOutput{
					UnprocessedItems: map[string][]ddbtypes.WriteRequest{
						"aws-inventory": params.RequestItems["aws-inventory"][:1],
					},
				}, nil
			}
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}

	err := testSink(client).Save(context.Background(), []types.Record{sampleRecord("i-1"), sampleRecord("i-2")})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestUnmarshalRecord(t *testing.T) {
	item, err := marshalRecord(sampleRecord("i-1"))
	require.NoError(t, err)

	r, err := UnmarshalRecord(item)
	require.NoError(t, err)
	assert.Equal(t, types.KindComputeInstance, r.Kind)
	assert.Equal(t, "i-1", r.ID)
	assert.Equal(t, "running", r.Attrs["state"])
	assert.Equal(t, 12.5, r.Metrics["cpu_avg"])
	assert.Equal(t, 29.952, r.MonthlyCost)
}

func TestSave_Error(t *testing.T) {
	client := &mockDynamoClient{
		BatchWriteItemFunc: func(_ context.Context, _ *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
			return nil, errors.New("throttled")
		},
	}

	err := testSink(client).Save(context.Background(), []types.Record{sampleRecord("i-1")})
	require.Error(t, err)

	var perr *types.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "batch_write", perr.Op)
}
