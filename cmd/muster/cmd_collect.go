package main

import (
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/spf13/cobra"

	"github.com/musterops/muster/coordinator"
	"github.com/musterops/muster/journal"
	"github.com/musterops/muster/notify"
	"github.com/musterops/muster/storage"
	"github.com/musterops/muster/telemetry"
	"github.com/musterops/muster/types"
)

var (
	collectDryRun      bool
	collectJournalPath string
)

// collectCmd represents the collect command
var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect inventory from all configured accounts",
	Long: `Collect inventory from every account in the accounts file.

Each account is entered by assuming its configured role, then EC2
instances, RDS instances and clusters, Lambda functions, and S3
buckets are collected from all enabled regions in parallel. Records
are written to the DynamoDB inventory table and, when a journal path
is configured, appended to the local run journal.

An account whose role cannot be assumed is reported as a failure;
the rest of the run proceeds.`,
	Example: `  muster collect                          # Collect and persist
  muster collect --dry-run                # Collect and print counts only
  muster collect --journal ./journal      # Also append to local journal`,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)

	collectCmd.Flags().BoolVar(&collectDryRun, "dry-run", false, "Collect but do not persist or notify")
	collectCmd.Flags().StringVar(&collectJournalPath, "journal", "", "Directory for the local run journal")
}

func runCollect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}
	accounts, err := loadAccounts()
	if err != nil {
		return err
	}

	result := coordinator.New(rt.awsCfg, rt.settings, rt.logger).Run(ctx, accounts)

	fmt.Printf("Collected %d records from %d accounts in %s\n",
		len(result.Records), len(accounts), result.Duration.Round(time.Second))
	for _, f := range result.Failures {
		fmt.Printf("  FAILED %s (%s): %s\n", f.AccountName, f.AccountID, f.Error)
	}
	if result.CollectorErrors > 0 {
		fmt.Printf("  %d region/kind lookups failed and were skipped\n", result.CollectorErrors)
	}

	if collectDryRun {
		return nil
	}

	sink := storage.NewSink(dynamodb.NewFromConfig(rt.awsCfg), rt.settings.Table, rt.logger)
	if err := sink.Save(ctx, result.Records); err != nil {
		return fmt.Errorf("persist records: %w", err)
	}
	if telemetry.RecordsStored != nil {
		telemetry.RecordsStored.Record(ctx, int64(len(result.Records)))
	}

	journalDir := collectJournalPath
	if journalDir == "" {
		journalDir = rt.settings.JournalPath
	}
	if journalDir != "" {
		if err := appendJournal(journalDir, result.Records); err != nil {
			rt.logger.WithContext(ctx).Warn().Err(err).Msg("journal append failed")
		}
	}

	notifier := notify.New(sns.NewFromConfig(rt.awsCfg), rt.settings.SNSTopic, rt.settings.CostThreshold, rt.logger)
	notifier.NotifyRun(ctx, notify.RunSummary{
		Records:          len(result.Records),
		Failures:         result.Failures,
		CollectorErrors:  result.CollectorErrors,
		TotalMonthlyCost: totalMonthlyCost(result.Records),
		Duration:         result.Duration,
	})
	return nil
}

func appendJournal(dir string, records []types.Record) error {
	j, err := journal.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = j.Close() }()

	rev, err := j.AppendRun(records)
	if err != nil {
		return err
	}
	fmt.Printf("Journal revision %d written\n", rev)
	return nil
}

func totalMonthlyCost(records []types.Record) float64 {
	var total float64
	for _, r := range records {
		total += r.MonthlyCost
	}
	return total
}
