package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/musterops/muster/analyzer"
	"github.com/musterops/muster/journal"
	"github.com/musterops/muster/query"
	"github.com/musterops/muster/types"
)

var (
	queryAccount string
	queryKind    string
	queryRegion  string
	queryDays    int
	queryOut     string
	queryJournal string
)

// queryCmd represents the query command
var queryCmd = &cobra.Command{
	Use:   "query [summary|cost|stale|security|export|recent]",
	Short: "Query the stored inventory",
	Long: `Query the DynamoDB inventory table and report on it.

Actions:
  summary   Record counts and monthly cost by kind, account, and region
  cost      Top spenders, idle and oversized resources, saving estimate
  stale     Resources unused beyond the staleness window
  security  Unencrypted databases and publicly accessible buckets
  export    Write the matching records to timestamped JSON and CSV files
  recent    Resources added or removed between the last two journal runs`,
	Example: `  muster query summary
  muster query cost --account 123456789012
  muster query stale --days 60
  muster query export --kind managed_db_instance --out ./reports
  muster query recent --journal ./journal`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	rootCmd.AddCommand(queryCmd)

	queryCmd.Flags().StringVar(&queryAccount, "account", "", "Filter by account ID")
	queryCmd.Flags().StringVar(&queryKind, "kind", "", "Filter by resource type (compute_instance, managed_db_instance, managed_db_cluster, storage_bucket, function)")
	queryCmd.Flags().StringVar(&queryRegion, "region", "", "Filter by region")
	queryCmd.Flags().IntVar(&queryDays, "days", analyzer.DefaultStaleDays, "Staleness window in days")
	queryCmd.Flags().StringVar(&queryOut, "out", ".", "Output directory for export")
	queryCmd.Flags().StringVar(&queryJournal, "journal", "", "Journal directory for recent")
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	action := args[0]

	if action == "recent" {
		return queryRecent()
	}

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	engine := query.NewEngine(dynamodb.NewFromConfig(rt.awsCfg), rt.settings.Table, rt.logger)

	records, err := engine.Filtered(ctx, types.Filter{
		Kind:      types.Kind(queryKind),
		AccountID: queryAccount,
		Region:    queryRegion,
	})
	if err != nil {
		return err
	}

	switch action {
	case "summary":
		return printJSON(query.Summarize(records))
	case "cost":
		return printJSON(analyzer.AnalyzeCosts(records, time.Now().UTC()))
	case "stale":
		return printJSON(analyzer.FindStale(records, queryDays, time.Now().UTC()))
	case "security":
		return printJSON(map[string]any{
			"unencrypted":    analyzer.FindUnencrypted(records),
			"public_buckets": analyzer.FindPublicBuckets(records),
		})
	case "export":
		jsonPath, csvPath, err := query.Export(queryOut, records)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %s\nWrote %s\n", jsonPath, csvPath)
		return nil
	default:
		return fmt.Errorf("unknown action: %s", action)
	}
}

func queryRecent() error {
	dir := queryJournal
	if dir == "" {
		return fmt.Errorf("recent requires --journal")
	}

	j, err := journal.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	current := j.CurrentRevision()
	if current < 2 {
		return fmt.Errorf("journal has %d runs, need at least 2 to diff", current)
	}

	added, removed, err := j.Diff(current-1, current)
	if err != nil {
		return err
	}
	return printJSON(map[string]any{
		"from_revision": current - 1,
		"to_revision":   current,
		"added":         added,
		"removed":       removed,
	})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
