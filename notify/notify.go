// Package notify publishes collection run alerts to SNS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/musterops/muster/telemetry"
	"github.com/musterops/muster/types"
)

// SNSAPI is the subset of the SNS client the notifier needs.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Notifier sends run summaries when something needs attention: any account
// failed, or total monthly cost crossed the threshold. Publishing is
// best-effort; a delivery failure never fails the run.
type Notifier struct {
	client        SNSAPI
	topicARN      string
	costThreshold float64
	logger        *telemetry.Logger
}

// New creates a notifier. An empty topic ARN disables it.
func New(client SNSAPI, topicARN string, costThreshold float64, logger *telemetry.Logger) *Notifier {
	return &Notifier{client: client, topicARN: topicARN, costThreshold: costThreshold, logger: logger}
}

// RunSummary is what a finished collection run reports.
type RunSummary struct {
	Records          int             `json:"records"`
	Failures         []types.Failure `json:"failures,omitempty"`
	CollectorErrors  int             `json:"collector_errors,omitempty"`
	TotalMonthlyCost float64         `json:"total_monthly_cost"`
	Duration         time.Duration   `json:"-"`
}

// NotifyRun publishes the summary if it warrants attention.
func (n *Notifier) NotifyRun(ctx context.Context, summary RunSummary) {
	if n.topicARN == "" {
		return
	}
	if len(summary.Failures) == 0 && summary.TotalMonthlyCost <= n.costThreshold {
		return
	}

	subject := fmt.Sprintf("muster: %d records, %d account failures, $%.2f/month",
		summary.Records, len(summary.Failures), summary.TotalMonthlyCost)
	body, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		n.logger.WithContext(ctx).Warn().Err(err).Msg("notification payload marshal failed")
		return
	}

	_, err = n.client.Publish(ctx, &sns.PublishInput{
		TopicArn: awssdk.String(n.topicARN),
		Subject:  awssdk.String(subject),
		Message:  awssdk.String(string(body)),
	})
	if err != nil {
		n.logger.WithContext(ctx).Warn().
			Err(err).
			Str("topic_arn", n.topicARN).
			Msg("notification publish failed")
		return
	}

	n.logger.WithContext(ctx).Info().
		Str("topic_arn", n.topicARN).
		Msg("run notification published")
}
