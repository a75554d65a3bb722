package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/spf13/cobra"

	"github.com/musterops/muster/coordinator"
	"github.com/musterops/muster/internal/daemon"
	"github.com/musterops/muster/notify"
	"github.com/musterops/muster/storage"
	"github.com/musterops/muster/telemetry"
)

var (
	daemonInterval    time.Duration
	daemonMetricsAddr string
)

// daemonCmd represents the daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run continuous collection on an interval",
	Long: `Run Muster as a long-lived daemon, collecting and persisting
inventory from all accounts on a fixed interval.

Prometheus metrics are served on /metrics and a health summary on
/health. OpenTelemetry export is enabled when an endpoint is set in
the settings file. Shuts down cleanly on SIGTERM/SIGINT.`,
	Example: `  muster daemon                       # Collect hourly
  muster daemon --interval 15m        # Collect every 15 minutes
  muster daemon --metrics-addr :9090  # Custom metrics address`,
	RunE: runDaemonCmd,
}

func init() {
	rootCmd.AddCommand(daemonCmd)

	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", time.Hour, "Collection interval")
	daemonCmd.Flags().StringVar(&daemonMetricsAddr, "metrics-addr", ":2112", "Metrics HTTP server address")
}

func runDaemonCmd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    rt.settings.OTEL.ServiceName,
		ServiceVersion: version,
		OTELEndpoint:   rt.settings.OTEL.Endpoint,
		Insecure:       rt.settings.OTEL.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	sink := storage.NewSink(dynamodb.NewFromConfig(rt.awsCfg), rt.settings.Table, rt.logger)
	notifier := notify.New(sns.NewFromConfig(rt.awsCfg), rt.settings.SNSTopic, rt.settings.CostThreshold, rt.logger)
	coord := coordinator.New(rt.awsCfg, rt.settings, rt.logger)

	cycle := func(ctx context.Context) error {
		accounts, err := loadAccounts()
		if err != nil {
			return err
		}
		result := coord.Run(ctx, accounts)
		if err := sink.Save(ctx, result.Records); err != nil {
			return err
		}
		if telemetry.RecordsStored != nil {
			telemetry.RecordsStored.Record(ctx, int64(len(result.Records)))
		}
		notifier.NotifyRun(ctx, notify.RunSummary{
			Records:          len(result.Records),
			Failures:         result.Failures,
			CollectorErrors:  result.CollectorErrors,
			TotalMonthlyCost: totalMonthlyCost(result.Records),
			Duration:         result.Duration,
		})
		return nil
	}

	fmt.Printf("Starting daemon: interval %s, metrics %s\n", daemonInterval, daemonMetricsAddr)
	return daemon.New(daemon.Config{
		Interval:    daemonInterval,
		MetricsAddr: daemonMetricsAddr,
	}, cycle, rt.logger).Run(ctx)
}
