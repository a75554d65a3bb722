package audit

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"

	"github.com/musterops/muster/telemetry"
)

// CloudWatch Logs archival storage per GB-month.
const logStoragePerGBMonth = 0.03

// LogGroupAudit is one log group retaining data forever.
type LogGroupAudit struct {
	Name        string  `json:"name"`
	StoredGB    float64 `json:"stored_gb"`
	MonthlyCost float64 `json:"monthly_cost"`
}

// LogsAuditor finds log groups without a retention policy, which accumulate
// storage cost indefinitely.
type LogsAuditor struct {
	logs   LogsAPI
	logger *telemetry.Logger
}

// NewLogsAuditor creates a log retention auditor.
func NewLogsAuditor(logs LogsAPI, logger *telemetry.Logger) *LogsAuditor {
	return &LogsAuditor{logs: logs, logger: logger}
}

// Audit lists every retention-less log group with its storage spend.
func (a *LogsAuditor) Audit(ctx context.Context) ([]LogGroupAudit, error) {
	var audits []LogGroupAudit
	var nextToken *string

	for {
		output, err := a.logs.DescribeLogGroups(ctx, &cloudwatchlogs.DescribeLogGroupsInput{
			NextToken: nextToken,
		})
		if err != nil {
			return nil, fmt.Errorf("describe log groups: %w", err)
		}

		for _, group := range output.LogGroups {
			if group.RetentionInDays != nil {
				continue
			}
			storedGB := float64(awssdk.ToInt64(group.StoredBytes)) / (1024 * 1024 * 1024)
			audits = append(audits, LogGroupAudit{
				Name:        awssdk.ToString(group.LogGroupName),
				StoredGB:    storedGB,
				MonthlyCost: storedGB * logStoragePerGBMonth,
			})
		}

		if output.NextToken == nil {
			return audits, nil
		}
		nextToken = output.NextToken
	}
}
