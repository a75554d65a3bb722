package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/budgets"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/costexplorer"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/musterops/muster/audit"
	"github.com/musterops/muster/report"
)

var (
	auditAccount string
	auditOut     string
	auditUpload  bool
)

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit [cost|unused|dynamodb|lambda|logs]",
	Short: "Run a standalone audit against the current account",
	Long: `Run one of the standalone auditors against the account the
current credentials resolve to.

Tools:
  cost      Month-over-month spend by service and linked account, with budgets
  unused    Detached EBS volumes, idle Elastic IPs, targetless load balancers
  dynamodb  Table cost versus consumed capacity, with downsizing suggestions
  lambda    Function memory sizing from observed durations
  logs      Log groups without a retention policy

Each run writes a timestamped JSON report and an HTML rendering to the
output directory. With --upload the artifacts are also pushed to the
configured report bucket.`,
	Example: `  muster audit cost --account 123456789012
  muster audit unused --out ./reports
  muster audit dynamodb --upload`,
	Args: cobra.ExactArgs(1),
	RunE: runAudit,
}

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.Flags().StringVar(&auditAccount, "account", "", "Account ID for budget lookup (cost tool)")
	auditCmd.Flags().StringVar(&auditOut, "out", ".", "Output directory for report artifacts")
	auditCmd.Flags().BoolVar(&auditUpload, "upload", false, "Upload artifacts to the report bucket")
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	tool := args[0]

	rt, err := loadRuntime(ctx)
	if err != nil {
		return err
	}

	payload, header, rows, err := runAuditTool(ctx, rt, tool)
	if err != nil {
		return err
	}
	return writeAuditReport(ctx, rt, tool, payload, header, rows)
}

func runAuditTool(ctx context.Context, rt *runtime, tool string) (payload any, header []string, rows [][]string, err error) {
	metrics := cloudwatch.NewFromConfig(rt.awsCfg)

	switch tool {
	case "cost":
		auditor := audit.NewCostAuditor(costexplorer.NewFromConfig(rt.awsCfg), budgets.NewFromConfig(rt.awsCfg), rt.logger)
		rep, err := auditor.Analyze(ctx, auditAccount)
		if err != nil {
			return nil, nil, nil, err
		}
		header = []string{"service", "monthly_cost"}
		for _, g := range rep.ByService {
			rows = append(rows, []string{g.Key, fmt.Sprintf("%.2f", g.Cost)})
		}
		return rep, header, rows, nil

	case "unused":
		auditor := audit.NewUnusedAuditor(ec2.NewFromConfig(rt.awsCfg), elasticloadbalancingv2.NewFromConfig(rt.awsCfg), rt.logger)
		found, err := auditor.Find(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		header = []string{"type", "id", "note", "monthly_cost"}
		for _, u := range found {
			rows = append(rows, []string{u.Type, u.ID, u.Note, fmt.Sprintf("%.2f", u.MonthlyCost)})
		}
		return found, header, rows, nil

	case "dynamodb":
		auditor := audit.NewDynamoAuditor(dynamodb.NewFromConfig(rt.awsCfg), metrics, rt.logger)
		audits, err := auditor.Audit(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		header = []string{"table", "monthly_cost", "recommendation", "estimated_saving"}
		for _, t := range audits {
			rows = append(rows, []string{t.Name, fmt.Sprintf("%.2f", t.MonthlyCost), t.Recommendation, fmt.Sprintf("%.2f", t.EstimatedSaving)})
		}
		return audits, header, rows, nil

	case "lambda":
		auditor := audit.NewLambdaAuditor(lambda.NewFromConfig(rt.awsCfg), metrics, rt.logger)
		audits, err := auditor.Audit(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		header = []string{"function", "memory_mb", "avg_duration_ms", "note"}
		for _, f := range audits {
			rows = append(rows, []string{f.Name, fmt.Sprintf("%d", f.MemoryMB), fmt.Sprintf("%.0f", f.AvgDurationMS), f.Note})
		}
		return audits, header, rows, nil

	case "logs":
		auditor := audit.NewLogsAuditor(cloudwatchlogs.NewFromConfig(rt.awsCfg), rt.logger)
		audits, err := auditor.Audit(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		header = []string{"log_group", "stored_gb", "monthly_cost"}
		for _, g := range audits {
			rows = append(rows, []string{g.Name, fmt.Sprintf("%.2f", g.StoredGB), fmt.Sprintf("%.2f", g.MonthlyCost)})
		}
		return audits, header, rows, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown tool: %s", tool)
	}
}

func writeAuditReport(ctx context.Context, rt *runtime, tool string, payload any, header []string, rows [][]string) error {
	jsonPath := report.Timestamped(auditOut, "audit-"+tool, "json")
	if err := report.WriteJSON(jsonPath, payload); err != nil {
		return err
	}
	mdPath := report.Timestamped(auditOut, "audit-"+tool, "md")
	if err := report.WriteMarkdown(mdPath, markdownTable(tool, header, rows)); err != nil {
		return err
	}
	htmlPath := report.Timestamped(auditOut, "audit-"+tool, "html")
	if err := report.WriteHTML(htmlPath, "Audit: "+tool, header, rows); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\nWrote %s\nWrote %s\n", jsonPath, mdPath, htmlPath)

	if !auditUpload {
		return nil
	}
	if rt.settings.ReportBucket == "" {
		return fmt.Errorf("upload requires report_bucket in settings or MUSTER_REPORT_BUCKET")
	}
	client := s3.NewFromConfig(rt.awsCfg)
	for _, path := range []string{jsonPath, mdPath, htmlPath} {
		if err := report.Upload(ctx, client, rt.settings.ReportBucket, path); err != nil {
			return fmt.Errorf("upload %s: %w", path, err)
		}
	}
	fmt.Printf("Uploaded to s3://%s/reports/\n", rt.settings.ReportBucket)
	return nil
}

func markdownTable(tool string, header []string, rows [][]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Audit: %s\n\n", tool)
	b.WriteString("| " + strings.Join(header, " | ") + " |\n")
	b.WriteString("|" + strings.Repeat(" --- |", len(header)) + "\n")
	for _, row := range rows {
		b.WriteString("| " + strings.Join(row, " | ") + " |\n")
	}
	return b.String()
}
