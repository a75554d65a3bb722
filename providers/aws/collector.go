// Package aws collects resource inventory from one AWS account and region.
package aws

import (
	"regexp"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/musterops/muster/config"
	"github.com/musterops/muster/telemetry"
	"github.com/musterops/muster/types"
)

// Collector gathers resource records for one account in one region.
type Collector struct {
	account config.Account
	region  string

	// AWS clients (interfaces for testability)
	ec2Client     EC2API
	rdsClient     RDSAPI
	s3Client      S3API
	lambdaClient  LambdaAPI
	metricsClient MetricsAPI

	logger *telemetry.Logger
}

// NewCollector builds a collector over an assumed-role session config.
func NewCollector(cfg awssdk.Config, account config.Account, region string, logger *telemetry.Logger) *Collector {
	regional := cfg.Copy()
	regional.Region = region

	return &Collector{
		account:       account,
		region:        region,
		ec2Client:     ec2.NewFromConfig(regional),
		rdsClient:     rds.NewFromConfig(regional),
		s3Client:      s3.NewFromConfig(regional),
		lambdaClient:  lambda.NewFromConfig(regional),
		metricsClient: cloudwatch.NewFromConfig(regional),
		logger:        logger,
	}
}

// newRecord creates a record with account and region context filled in.
func (c *Collector) newRecord(kind types.Kind, id string) types.Record {
	return types.NewRecord(kind, id, c.account.AccountID, c.account.Name, c.region)
}

func extractNameTag(tags []ec2types.Tag) string {
	for _, tag := range tags {
		if awssdk.ToString(tag.Key) == "Name" {
			return awssdk.ToString(tag.Value)
		}
	}
	return ""
}

// StateTransitionReason carries the stop time in parentheses, e.g.
// "User initiated (2024-03-01 18:22:41 GMT)".
var stopTimeRe = regexp.MustCompile(`\((\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}) GMT\)`)

func parseStopTime(reason string) string {
	m := stopTimeRe.FindStringSubmatch(reason)
	if m == nil {
		return types.Unknown
	}
	t, err := time.Parse("2006-01-02 15:04:05", m[1])
	if err != nil {
		return types.Unknown
	}
	return t.UTC().Format(time.RFC3339)
}
