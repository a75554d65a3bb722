package main

import (
	"context"
	"fmt"
	"os"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/musterops/muster/config"
	"github.com/musterops/muster/telemetry"
)

var (
	version = "0.1.0"

	accountsPath string
	settingsPath string
	debugLog     bool

	rootCmd = &cobra.Command{
		Use:   "muster",
		Short: "Multi-account AWS inventory and audit",
		Long: `Muster - Multi-account AWS inventory and audit

Muster assumes a role in each configured account, collects EC2, RDS,
S3 and Lambda inventory across all regions in parallel, and persists
it to DynamoDB with estimated monthly costs attached.

Query the stored inventory for cost, security, and staleness reports,
or run the standalone auditors against a single account.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Muster {{.Version}} - Multi-account AWS inventory and audit
`)
	rootCmd.PersistentFlags().StringVar(&accountsPath, "accounts", "accounts.json", "Accounts file (JSON)")
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Settings file (YAML, optional)")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "Enable debug logging")
}

// runtime bundles what every subcommand needs: settings, a logger, and a
// base AWS config carrying the management account's credentials.
type runtime struct {
	settings config.Settings
	logger   *telemetry.Logger
	awsCfg   awssdk.Config
}

func loadRuntime(ctx context.Context) (*runtime, error) {
	if debugLog {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(settings.DefaultRegion))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &runtime{
		settings: settings,
		logger:   telemetry.NewLogger("muster"),
		awsCfg:   awsCfg,
	}, nil
}

func loadAccounts() ([]config.Account, error) {
	accounts, err := config.LoadAccounts(accountsPath)
	if err != nil {
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	return accounts, nil
}
