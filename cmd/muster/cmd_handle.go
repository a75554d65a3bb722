package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"github.com/musterops/muster/coordinator"
	"github.com/musterops/muster/handler"
	"github.com/musterops/muster/query"
	"github.com/musterops/muster/storage"
	"github.com/musterops/muster/types"
)

var handleEventPath string

// handleCmd represents the handle command
var handleCmd = &cobra.Command{
	Use:   "handle",
	Short: "Process one event as the serverless entrypoint would",
	Long: `Process a single JSON event through the action dispatcher and print
the response. The event is read from --event or stdin.

Actions: collect, cost_analysis, security_check, cleanup.`,
	Example: `  echo '{"action": "collect"}' | muster handle
  muster handle --event event.json
  echo '{"action": "cleanup", "stale_days": 60}' | muster handle`,
	RunE: runHandle,
}

func init() {
	rootCmd.AddCommand(handleCmd)

	handleCmd.Flags().StringVar(&handleEventPath, "event", "", "Event file (default: stdin)")
}

func runHandle(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	payload, err := readEvent()
	if err != nil {
		return err
	}

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	dynamoClient := dynamodb.NewFromConfig(rt.awsCfg)
	sink := storage.NewSink(dynamoClient, rt.settings.Table, rt.logger)
	engine := query.NewEngine(dynamoClient, rt.settings.Table, rt.logger)

	collect := func(ctx context.Context) (records, failures int, err error) {
		accounts, err := loadAccounts()
		if err != nil {
			return 0, 0, err
		}
		result := coordinator.New(rt.awsCfg, rt.settings, rt.logger).Run(ctx, accounts)
		if err := sink.Save(ctx, result.Records); err != nil {
			return 0, 0, err
		}
		return len(result.Records), len(result.Failures), nil
	}
	records := func(ctx context.Context) ([]types.Record, error) {
		return engine.All(ctx)
	}

	resp := handler.New(collect, records, rt.logger).HandleRaw(ctx, payload)
	fmt.Printf("%d %s\n", resp.StatusCode, resp.Body)
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
	return nil
}

func readEvent() ([]byte, error) {
	if handleEventPath != "" {
		data, err := os.ReadFile(handleEventPath) // #nosec G304 -- path is intentional user input
		if err != nil {
			return nil, fmt.Errorf("read event: %w", err)
		}
		return data, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return data, nil
}
