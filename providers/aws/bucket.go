package aws

import (
	"context"
	"fmt"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/musterops/muster/pricing"
	"github.com/musterops/muster/types"
)

// CollectBuckets lists all S3 buckets. Buckets are a global listing, so the
// records carry the "global" region regardless of the collector's region.
// Each per-bucket enrichment lookup is independently best-effort: a failure
// degrades that one field to "unknown" without dropping the bucket record.
func (c *Collector) CollectBuckets(ctx context.Context) ([]types.Record, error) {
	output, err := c.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, fmt.Errorf("list buckets: %w", err)
	}

	records := make([]types.Record, 0, len(output.Buckets))
	for _, bucket := range output.Buckets {
		name := awssdk.ToString(bucket.Name)
		r := c.newRecord(types.KindBucket, name)
		r.Region = types.RegionGlobal

		if bucket.CreationDate != nil {
			r.Attrs["created_at"] = bucket.CreationDate.UTC().Format(time.RFC3339)
		} else {
			r.Attrs["created_at"] = types.Unknown
		}

		c.enrichBucketLocation(ctx, name, &r)
		c.enrichBucketVersioning(ctx, name, &r)
		c.enrichBucketEncryption(ctx, name, &r)
		c.enrichBucketTags(ctx, name, &r)
		c.enrichBucketACL(ctx, name, &r)
		c.enrichBucketSize(ctx, name, &r)

		sizeGB := r.Metrics["size_gb"]
		r.MonthlyCost = sizeGB * pricing.S3MonthlyGB("standard")

		records = append(records, r)
	}

	return records, nil
}

func (c *Collector) enrichBucketLocation(ctx context.Context, name string, r *types.Record) {
	output, err := c.s3Client.GetBucketLocation(ctx, &s3.GetBucketLocationInput{Bucket: awssdk.String(name)})
	if err != nil {
		c.logBucketLookup(ctx, name, "location", err)
		r.Attrs["bucket_region"] = types.Unknown
		return
	}
	region := string(output.LocationConstraint)
	if region == "" {
		// The API reports us-east-1 as an empty constraint.
		region = "us-east-1"
	}
	r.Attrs["bucket_region"] = region
}

func (c *Collector) enrichBucketVersioning(ctx context.Context, name string, r *types.Record) {
	output, err := c.s3Client.GetBucketVersioning(ctx, &s3.GetBucketVersioningInput{Bucket: awssdk.String(name)})
	if err != nil {
		c.logBucketLookup(ctx, name, "versioning", err)
		r.Attrs["versioning"] = types.Unknown
		return
	}
	if output.Status == "" {
		r.Attrs["versioning"] = "Disabled"
		return
	}
	r.Attrs["versioning"] = string(output.Status)
}

func (c *Collector) enrichBucketEncryption(ctx context.Context, name string, r *types.Record) {
	output, err := c.s3Client.GetBucketEncryption(ctx, &s3.GetBucketEncryptionInput{Bucket: awssdk.String(name)})
	if err != nil {
		// Buckets without a policy return an error; treat as no encryption
		// only when the API says so, otherwise unknown.
		if strings.Contains(err.Error(), "ServerSideEncryptionConfigurationNotFound") {
			r.Attrs["encryption"] = "None"
			return
		}
		c.logBucketLookup(ctx, name, "encryption", err)
		r.Attrs["encryption"] = types.Unknown
		return
	}

	if output.ServerSideEncryptionConfiguration == nil {
		r.Attrs["encryption"] = "None"
		return
	}
	rules := output.ServerSideEncryptionConfiguration.Rules
	if len(rules) == 0 || rules[0].ApplyServerSideEncryptionByDefault == nil {
		r.Attrs["encryption"] = "None"
		return
	}
	r.Attrs["encryption"] = string(rules[0].ApplyServerSideEncryptionByDefault.SSEAlgorithm)
}

func (c *Collector) enrichBucketTags(ctx context.Context, name string, r *types.Record) {
	output, err := c.s3Client.GetBucketTagging(ctx, &s3.GetBucketTaggingInput{Bucket: awssdk.String(name)})
	if err != nil {
		// NoSuchTagSet is the normal "no tags" answer.
		if !strings.Contains(err.Error(), "NoSuchTagSet") {
			c.logBucketLookup(ctx, name, "tagging", err)
			r.Attrs["tags"] = types.Unknown
		}
		return
	}
	for _, tag := range output.TagSet {
		r.Attrs["tag:"+awssdk.ToString(tag.Key)] = awssdk.ToString(tag.Value)
	}
}

func (c *Collector) enrichBucketACL(ctx context.Context, name string, r *types.Record) {
	output, err := c.s3Client.GetBucketAcl(ctx, &s3.GetBucketAclInput{Bucket: awssdk.String(name)})
	if err != nil {
		c.logBucketLookup(ctx, name, "acl", err)
		r.Attrs["public"] = types.Unknown
		return
	}

	public := "false"
	for _, grant := range output.Grants {
		if grant.Grantee == nil {
			continue
		}
		uri := awssdk.ToString(grant.Grantee.URI)
		if strings.Contains(uri, "AllUsers") || strings.Contains(uri, "AuthenticatedUsers") {
			public = "true"
			break
		}
	}
	r.Attrs["public"] = public
}

func (c *Collector) enrichBucketSize(ctx context.Context, name string, r *types.Record) {
	now := time.Now().UTC()
	output, err := c.metricsClient.GetMetricStatistics(ctx, &cloudwatch.GetMetricStatisticsInput{
		Namespace:  awssdk.String("AWS/S3"),
		MetricName: awssdk.String("BucketSizeBytes"),
		Dimensions: []cwtypes.Dimension{
			{Name: awssdk.String("BucketName"), Value: awssdk.String(name)},
			{Name: awssdk.String("StorageType"), Value: awssdk.String("StandardStorage")},
		},
		StartTime:  awssdk.Time(now.Add(-48 * time.Hour)),
		EndTime:    awssdk.Time(now),
		Period:     awssdk.Int32(86400),
		Statistics: []cwtypes.Statistic{cwtypes.StatisticAverage},
	})
	if err != nil {
		c.logBucketLookup(ctx, name, "size", err)
		return
	}

	var latest float64
	var latestTime time.Time
	for _, dp := range output.Datapoints {
		if dp.Timestamp != nil && dp.Timestamp.After(latestTime) {
			latestTime = *dp.Timestamp
			latest = awssdk.ToFloat64(dp.Average)
		}
	}

	r.Metrics["size_bytes"] = latest
	r.Metrics["size_gb"] = latest / (1024 * 1024 * 1024)
}

func (c *Collector) logBucketLookup(ctx context.Context, bucket, lookup string, err error) {
	c.logger.WithContext(ctx).Debug().
		Err(err).
		Str("bucket", bucket).
		Str("lookup", lookup).
		Msg("bucket enrichment degraded")
}
