package aws

import (
	"context"
	"errors"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musterops/muster/types"
)

type mockS3Client struct {
	ListBucketsFunc         func(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	GetBucketLocationFunc   func(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error)
	GetBucketVersioningFunc func(ctx context.Context, params *s3.GetBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error)
	GetBucketEncryptionFunc func(ctx context.Context, params *s3.GetBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error)
	GetBucketTaggingFunc    func(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error)
	GetBucketAclFunc        func(ctx context.Context, params *s3.GetBucketAclInput, optFns ...func(*s3.Options)) (*s3.GetBucketAclOutput, error)
}

func (m *mockS3Client) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	return m.ListBucketsFunc(ctx, params, optFns...)
}

func (m *mockS3Client) GetBucketLocation(ctx context.Context, params *s3.GetBucketLocationInput, optFns ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
	return m.GetBucketLocationFunc(ctx, params, optFns...)
}

func (m *mockS3Client) GetBucketVersioning(ctx context.Context, params *s3.GetBucketVersioningInput, optFns ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error) {
	return m.GetBucketVersioningFunc(ctx, params, optFns...)
}

func (m *mockS3Client) GetBucketEncryption(ctx context.Context, params *s3.GetBucketEncryptionInput, optFns ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error) {
	return m.GetBucketEncryptionFunc(ctx, params, optFns...)
}

func (m *mockS3Client) GetBucketTagging(ctx context.Context, params *s3.GetBucketTaggingInput, optFns ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
	return m.GetBucketTaggingFunc(ctx, params, optFns...)
}

func (m *mockS3Client) GetBucketAcl(ctx context.Context, params *s3.GetBucketAclInput, optFns ...func(*s3.Options)) (*s3.GetBucketAclOutput, error) {
	return m.GetBucketAclFunc(ctx, params, optFns...)
}

type mockMetricsClient struct {
	GetMetricStatisticsFunc func(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error)
}

func (m *mockMetricsClient) GetMetricStatistics(ctx context.Context, params *cloudwatch.GetMetricStatisticsInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
	return m.GetMetricStatisticsFunc(ctx, params, optFns...)
}

// healthyS3Mock answers every sub-lookup successfully.
func healthyS3Mock() *mockS3Client {
	return &mockS3Client{
		ListBucketsFunc: func(_ context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
			return &s3.ListBucketsOutput{
				Buckets: []s3types.Bucket{
					{Name: awssdk.String("data-lake"), CreationDate: awssdk.Time(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))},
				},
			}, nil
		},
		GetBucketLocationFunc: func(_ context.Context, _ *s3.GetBucketLocationInput, _ ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
			return &s3.GetBucketLocationOutput{LocationConstraint: s3types.BucketLocationConstraintEuWest1}, nil
		},
		GetBucketVersioningFunc: func(_ context.Context, _ *s3.GetBucketVersioningInput, _ ...func(*s3.Options)) (*s3.GetBucketVersioningOutput, error) {
			return &s3.GetBucketVersioningOutput{Status: s3types.BucketVersioningStatusEnabled}, nil
		},
		GetBucketEncryptionFunc: func(_ context.Context, _ *s3.GetBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error) {
			return &s3.GetBucketEncryptionOutput{
				ServerSideEncryptionConfiguration: &s3types.ServerSideEncryptionConfiguration{
					Rules: []s3types.ServerSideEncryptionRule{
						{ApplyServerSideEncryptionByDefault: &s3types.ServerSideEncryptionByDefault{
							SSEAlgorithm: s3types.ServerSideEncryptionAes256,
						}},
					},
				},
			}, nil
		},
		GetBucketTaggingFunc: func(_ context.Context, _ *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
			return &s3.GetBucketTaggingOutput{
				TagSet: []s3types.Tag{{Key: awssdk.String("team"), Value: awssdk.String("data")}},
			}, nil
		},
		GetBucketAclFunc: func(_ context.Context, _ *s3.GetBucketAclInput, _ ...func(*s3.Options)) (*s3.GetBucketAclOutput, error) {
			return &s3.GetBucketAclOutput{
				Grants: []s3types.Grant{
					{Grantee: &s3types.Grantee{URI: awssdk.String("http://acs.amazonaws.com/groups/global/AllUsers")}},
				},
			}, nil
		},
	}
}

func sizeMetricsMock(bytes float64) *mockMetricsClient {
	return &mockMetricsClient{
		GetMetricStatisticsFunc: func(_ context.Context, _ *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
			return &cloudwatch.GetMetricStatisticsOutput{
				Datapoints: []cwtypes.Datapoint{
					{Average: awssdk.Float64(bytes), Timestamp: awssdk.Time(time.Now())},
				},
			}, nil
		},
	}
}

func TestCollectBuckets(t *testing.T) {
	c := testCollector()
	c.s3Client = healthyS3Mock()
	c.metricsClient = sizeMetricsMock(10 * 1024 * 1024 * 1024) // 10 GB

	records, err := c.CollectBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, types.KindBucket, r.Kind)
	assert.Equal(t, "data-lake", r.ID)
	assert.Equal(t, types.RegionGlobal, r.Region)
	assert.Equal(t, "eu-west-1", r.Attrs["bucket_region"])
	assert.Equal(t, "Enabled", r.Attrs["versioning"])
	assert.Equal(t, "AES256", r.Attrs["encryption"])
	assert.Equal(t, "true", r.Attrs["public"])
	assert.Equal(t, "data", r.Attrs["tag:team"])
	assert.InDelta(t, 10.0, r.Metrics["size_gb"], 1e-9)
	assert.InDelta(t, 10*0.023, r.MonthlyCost, 1e-9)
}

func TestCollectBuckets_DegradedLookups(t *testing.T) {
	mock := healthyS3Mock()
	mock.GetBucketLocationFunc = func(_ context.Context, _ *s3.GetBucketLocationInput, _ ...func(*s3.Options)) (*s3.GetBucketLocationOutput, error) {
		return nil, errors.New("access denied")
	}
	mock.GetBucketAclFunc = func(_ context.Context, _ *s3.GetBucketAclInput, _ ...func(*s3.Options)) (*s3.GetBucketAclOutput, error) {
		return nil, errors.New("access denied")
	}
	mock.GetBucketTaggingFunc = func(_ context.Context, _ *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
		return nil, errors.New("NoSuchTagSet: no tags")
	}

	c := testCollector()
	c.s3Client = mock
	c.metricsClient = &mockMetricsClient{
		GetMetricStatisticsFunc: func(_ context.Context, _ *cloudwatch.GetMetricStatisticsInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.GetMetricStatisticsOutput, error) {
			return nil, errors.New("no metrics access")
		},
	}

	records, err := c.CollectBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	// One failed lookup degrades its field, not the record. NoSuchTagSet
	// just means an untagged bucket, so no marker is written for it.
	r := records[0]
	assert.Equal(t, types.Unknown, r.Attrs["bucket_region"])
	assert.Equal(t, types.Unknown, r.Attrs["public"])
	assert.Equal(t, "Enabled", r.Attrs["versioning"])
	assert.NotContains(t, r.Attrs, "tags")
	assert.Zero(t, r.Metrics["size_gb"])
	assert.Zero(t, r.MonthlyCost)
}

func TestCollectBuckets_TaggingErrorMarked(t *testing.T) {
	mock := healthyS3Mock()
	mock.GetBucketTaggingFunc = func(_ context.Context, _ *s3.GetBucketTaggingInput, _ ...func(*s3.Options)) (*s3.GetBucketTaggingOutput, error) {
		return nil, errors.New("access denied")
	}

	c := testCollector()
	c.s3Client = mock
	c.metricsClient = sizeMetricsMock(0)

	records, err := c.CollectBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, types.Unknown, records[0].Attrs["tags"])
}

func TestCollectBuckets_NoEncryptionConfig(t *testing.T) {
	mock := healthyS3Mock()
	mock.GetBucketEncryptionFunc = func(_ context.Context, _ *s3.GetBucketEncryptionInput, _ ...func(*s3.Options)) (*s3.GetBucketEncryptionOutput, error) {
		return nil, errors.New("ServerSideEncryptionConfigurationNotFoundError: not found")
	}

	c := testCollector()
	c.s3Client = mock
	c.metricsClient = sizeMetricsMock(0)

	records, err := c.CollectBuckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "None", records[0].Attrs["encryption"])
}

func TestCollectBuckets_ListError(t *testing.T) {
	c := testCollector()
	c.s3Client = &mockS3Client{
		ListBucketsFunc: func(_ context.Context, _ *s3.ListBucketsInput, _ ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
			return nil, errors.New("denied")
		},
	}

	_, err := c.CollectBuckets(context.Background())
	require.Error(t, err)
}
