// Package storage persists inventory records to DynamoDB.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/musterops/muster/telemetry"
	"github.com/musterops/muster/types"
)

const (
	// DynamoDB caps BatchWriteItem at 25 items.
	batchMax = 25

	unprocessedRetries = 3
	unprocessedBackoff = time.Second
)

// DynamoAPI is the subset of the DynamoDB client the sink needs.
type DynamoAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Sink writes collection results into a DynamoDB table. Writes are upserts
// keyed by pk (resource_type#resource_id); the run timestamp is a plain
// attribute, so each run overwrites the previous snapshot of a resource.
type Sink struct {
	client DynamoAPI
	table  string
	logger *telemetry.Logger

	// test seam
	sleep func(ctx context.Context, d time.Duration) error
}

// NewSink creates a sink for the given table.
func NewSink(client DynamoAPI, table string, logger *telemetry.Logger) *Sink {
	return &Sink{
		client: client,
		table:  table,
		logger: logger,
		sleep:  sleepCtx,
	}
}

// Save persists all records in chunks of 25. A write failure aborts the run
// with a PersistenceError; already-written chunks stay written.
func (s *Sink) Save(ctx context.Context, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}

	ctx, span := telemetry.Tracer.Start(ctx, "storage.save",
		trace.WithAttributes(
			attribute.String("table", s.table),
			attribute.Int("records", len(records)),
		))
	defer span.End()

	for start := 0; start < len(records); start += batchMax {
		end := start + batchMax
		if end > len(records) {
			end = len(records)
		}

		requests := make([]ddbtypes.WriteRequest, 0, end-start)
		for _, r := range records[start:end] {
			item, err := marshalRecord(r)
			if err != nil {
				perr := &types.PersistenceError{Op: "marshal", Err: err}
				s.logger.LogSpanEnd(ctx, "storage.save", perr)
				return perr
			}
			requests = append(requests, ddbtypes.WriteRequest{
				PutRequest: &ddbtypes.PutRequest{Item: item},
			})
		}

		s.logger.LogBatchWrite(ctx, s.table, len(requests))
		if err := s.writeBatch(ctx, requests); err != nil {
			s.logger.LogSpanEnd(ctx, "storage.save", err)
			return err
		}
	}

	s.logger.LogSpanEnd(ctx, "storage.save", nil)
	return nil
}

// writeBatch pushes one chunk, re-driving any unprocessed items a few times
// before giving up.
func (s *Sink) writeBatch(ctx context.Context, requests []ddbtypes.WriteRequest) error {
	remaining := requests
	for attempt := 0; ; attempt++ {
		output, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]ddbtypes.WriteRequest{s.table: remaining},
		})
		if err != nil {
			return &types.PersistenceError{Op: "batch_write", Err: err}
		}

		remaining = output.UnprocessedItems[s.table]
		if len(remaining) == 0 {
			return nil
		}
		if attempt >= unprocessedRetries {
			return &types.PersistenceError{
				Op:  "batch_write",
				Err: fmt.Errorf("%d unprocessed items remain after retries", len(remaining)),
			}
		}

		s.logger.WithContext(ctx).Warn().
			Int("unprocessed", len(remaining)).
			Int("attempt", attempt+1).
			Msg("re-driving unprocessed items")
		if err := s.sleep(ctx, time.Duration(attempt+1)*unprocessedBackoff); err != nil {
			return &types.PersistenceError{Op: "batch_write", Err: err}
		}
	}
}

// dynamoItem is the table shape for the scalar attributes. Numeric fields are
// attached separately so they land as exact decimal strings.
type dynamoItem struct {
	PK          string            `dynamodbav:"pk"`
	Kind        string            `dynamodbav:"resource_type"`
	ID          string            `dynamodbav:"resource_id"`
	AccountID   string            `dynamodbav:"account_id"`
	AccountName string            `dynamodbav:"account_name"`
	Region      string            `dynamodbav:"region"`
	Timestamp   string            `dynamodbav:"timestamp"`
	Attrs       map[string]string `dynamodbav:"attrs,omitempty"`
}

func marshalRecord(r types.Record) (map[string]ddbtypes.AttributeValue, error) {
	item, err := attributevalue.MarshalMap(dynamoItem{
		PK:          r.Key(),
		Kind:        string(r.Kind),
		ID:          r.ID,
		AccountID:   r.AccountID,
		AccountName: r.AccountName,
		Region:      r.Region,
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339),
		Attrs:       r.Attrs,
	})
	if err != nil {
		return nil, err
	}

	item["estimated_monthly_cost"] = numberAttr(r.MonthlyCost)
	if len(r.Metrics) > 0 {
		metrics := make(map[string]ddbtypes.AttributeValue, len(r.Metrics))
		for k, v := range r.Metrics {
			metrics[k] = numberAttr(v)
		}
		item["metrics"] = &ddbtypes.AttributeValueMemberM{Value: metrics}
	}

	return item, nil
}

// numberAttr renders a float as a DynamoDB number via decimal, avoiding
// binary float artifacts like 29.951999999999998.
func numberAttr(v float64) ddbtypes.AttributeValue {
	return &ddbtypes.AttributeValueMemberN{Value: decimal.NewFromFloat(v).Round(6).String()}
}

// storedRecord mirrors dynamoItem plus the numeric attributes for reads.
type storedRecord struct {
	Kind        string             `dynamodbav:"resource_type"`
	ID          string             `dynamodbav:"resource_id"`
	AccountID   string             `dynamodbav:"account_id"`
	AccountName string             `dynamodbav:"account_name"`
	Region      string             `dynamodbav:"region"`
	Timestamp   string             `dynamodbav:"timestamp"`
	Attrs       map[string]string  `dynamodbav:"attrs"`
	Metrics     map[string]float64 `dynamodbav:"metrics"`
	MonthlyCost float64            `dynamodbav:"estimated_monthly_cost"`
}

// UnmarshalRecord converts a table item back into a record.
func UnmarshalRecord(item map[string]ddbtypes.AttributeValue) (types.Record, error) {
	var stored storedRecord
	if err := attributevalue.UnmarshalMap(item, &stored); err != nil {
		return types.Record{}, fmt.Errorf("unmarshal item: %w", err)
	}

	r := types.NewRecord(types.Kind(stored.Kind), stored.ID,
		stored.AccountID, stored.AccountName, stored.Region)
	if stored.Attrs != nil {
		r.Attrs = stored.Attrs
	}
	if stored.Metrics != nil {
		r.Metrics = stored.Metrics
	}
	r.MonthlyCost = stored.MonthlyCost
	if ts, err := time.Parse(time.RFC3339, stored.Timestamp); err == nil {
		r.Timestamp = ts
	}
	return r, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
