// Package query reads stored inventory back out of DynamoDB and summarizes
// it.
package query

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/musterops/muster/report"
	"github.com/musterops/muster/storage"
	"github.com/musterops/muster/telemetry"
	"github.com/musterops/muster/types"
)

// accountIndex is the optional GSI keyed by account_id.
const accountIndex = "account-index"

// DynamoAPI is the subset of the DynamoDB client the engine needs.
type DynamoAPI interface {
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// Engine answers read-only questions against the inventory table.
type Engine struct {
	client DynamoAPI
	table  string
	logger *telemetry.Logger
}

// NewEngine creates a query engine for the given table.
func NewEngine(client DynamoAPI, table string, logger *telemetry.Logger) *Engine {
	return &Engine{client: client, table: table, logger: logger}
}

// All returns every stored record, following scan pagination.
func (e *Engine) All(ctx context.Context) ([]types.Record, error) {
	return e.scan(ctx, &dynamodb.ScanInput{TableName: awssdk.String(e.table)})
}

// ByKind returns records of one resource kind via a filtered scan.
func (e *Engine) ByKind(ctx context.Context, kind types.Kind) ([]types.Record, error) {
	return e.scan(ctx, &dynamodb.ScanInput{
		TableName:        awssdk.String(e.table),
		FilterExpression: awssdk.String("resource_type = :kind"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":kind": &ddbtypes.AttributeValueMemberS{Value: string(kind)},
		},
	})
}

// ByAccount returns one account's records. It tries the account GSI first
// and falls back to a filtered scan when the index does not exist.
func (e *Engine) ByAccount(ctx context.Context, accountID string) ([]types.Record, error) {
	records, err := e.queryAccountIndex(ctx, accountID)
	if err == nil {
		return records, nil
	}

	e.logger.WithContext(ctx).Debug().
		Err(err).
		Str("index", accountIndex).
		Msg("account index unavailable, falling back to scan")

	return e.scan(ctx, &dynamodb.ScanInput{
		TableName:        awssdk.String(e.table),
		FilterExpression: awssdk.String("account_id = :account"),
		ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
			":account": &ddbtypes.AttributeValueMemberS{Value: accountID},
		},
	})
}

// Filtered fetches through the most selective server-side path for the
// filter, then narrows the remaining criteria client-side.
func (e *Engine) Filtered(ctx context.Context, filter types.Filter) ([]types.Record, error) {
	var (
		records []types.Record
		err     error
	)
	switch {
	case filter.AccountID != "":
		records, err = e.ByAccount(ctx, filter.AccountID)
	case filter.Kind != "":
		records, err = e.ByKind(ctx, filter.Kind)
	default:
		records, err = e.All(ctx)
	}
	if err != nil {
		return nil, err
	}

	matched := records[:0]
	for _, r := range records {
		if r.Matches(filter) {
			matched = append(matched, r)
		}
	}
	return matched, nil
}

func (e *Engine) queryAccountIndex(ctx context.Context, accountID string) ([]types.Record, error) {
	var records []types.Record
	var startKey map[string]ddbtypes.AttributeValue

	for {
		output, err := e.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              awssdk.String(e.table),
			IndexName:              awssdk.String(accountIndex),
			KeyConditionExpression: awssdk.String("account_id = :account"),
			ExpressionAttributeValues: map[string]ddbtypes.AttributeValue{
				":account": &ddbtypes.AttributeValueMemberS{Value: accountID},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", accountIndex, err)
		}

		for _, item := range output.Items {
			r, err := storage.UnmarshalRecord(item)
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}

		if output.LastEvaluatedKey == nil {
			return records, nil
		}
		startKey = output.LastEvaluatedKey
	}
}

func (e *Engine) scan(ctx context.Context, input *dynamodb.ScanInput) ([]types.Record, error) {
	var records []types.Record

	for {
		output, err := e.client.Scan(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", e.table, err)
		}

		for _, item := range output.Items {
			r, err := storage.UnmarshalRecord(item)
			if err != nil {
				return nil, err
			}
			records = append(records, r)
		}

		if output.LastEvaluatedKey == nil {
			return records, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// GroupStat is a count and cost sum for one grouping value.
type GroupStat struct {
	Count       int     `json:"count"`
	MonthlyCost float64 `json:"monthly_cost"`
}

// Summary aggregates an inventory snapshot.
type Summary struct {
	TotalRecords     int                  `json:"total_records"`
	TotalMonthlyCost float64              `json:"total_monthly_cost"`
	ByKind           map[string]GroupStat `json:"by_kind"`
	ByAccount        map[string]GroupStat `json:"by_account"`
	ByRegion         map[string]GroupStat `json:"by_region"`
	GeneratedAt      time.Time            `json:"generated_at"`
}

// Summarize aggregates records in a single pass.
func Summarize(records []types.Record) Summary {
	s := Summary{
		ByKind:      make(map[string]GroupStat),
		ByAccount:   make(map[string]GroupStat),
		ByRegion:    make(map[string]GroupStat),
		GeneratedAt: time.Now().UTC(),
	}

	for _, r := range records {
		s.TotalRecords++
		s.TotalMonthlyCost += r.MonthlyCost
		bump(s.ByKind, string(r.Kind), r.MonthlyCost)
		bump(s.ByAccount, r.AccountName, r.MonthlyCost)
		bump(s.ByRegion, r.Region, r.MonthlyCost)
	}

	return s
}

func bump(m map[string]GroupStat, key string, cost float64) {
	stat := m[key]
	stat.Count++
	stat.MonthlyCost += cost
	m[key] = stat
}

// Export writes the records as timestamped JSON and CSV artifacts and
// returns both paths.
func Export(dir string, records []types.Record) (jsonPath, csvPath string, err error) {
	jsonPath = report.Timestamped(dir, "inventory", "json")
	if err := report.WriteJSON(jsonPath, records); err != nil {
		return "", "", err
	}

	csvPath = report.Timestamped(dir, "inventory", "csv")
	if err := report.WriteRecordsCSV(csvPath, records); err != nil {
		return "", "", err
	}

	return jsonPath, csvPath, nil
}
