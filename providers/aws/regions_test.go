package aws

import (
	"context"
	"errors"
	"testing"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/stretchr/testify/assert"

	"github.com/musterops/muster/telemetry"
)

type mockEC2Client struct {
	DescribeInstancesFunc func(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeRegionsFunc   func(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

func (m *mockEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	return m.DescribeInstancesFunc(ctx, params, optFns...)
}

func (m *mockEC2Client) DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	return m.DescribeRegionsFunc(ctx, params, optFns...)
}

func TestListRegions(t *testing.T) {
	mock := &mockEC2Client{
		DescribeRegionsFunc: func(_ context.Context, _ *ec2.DescribeRegionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
			return &ec2.DescribeRegionsOutput{
				Regions: []ec2types.Region{
					{RegionName: awssdk.String("us-east-1")},
					{RegionName: awssdk.String("eu-west-1")},
				},
			}, nil
		},
	}

	regions := ListRegions(context.Background(), mock, telemetry.NewLogger("test"))
	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, regions)
}

func TestListRegions_FallbackOnError(t *testing.T) {
	mock := &mockEC2Client{
		DescribeRegionsFunc: func(_ context.Context, _ *ec2.DescribeRegionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
			return nil, errors.New("not authorized")
		},
	}

	regions := ListRegions(context.Background(), mock, telemetry.NewLogger("test"))
	assert.Equal(t, []string{FallbackRegion}, regions)
}

func TestListRegions_FallbackOnEmpty(t *testing.T) {
	mock := &mockEC2Client{
		DescribeRegionsFunc: func(_ context.Context, _ *ec2.DescribeRegionsInput, _ ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
			return &ec2.DescribeRegionsOutput{}, nil
		},
	}

	regions := ListRegions(context.Background(), mock, telemetry.NewLogger("test"))
	assert.Equal(t, []string{FallbackRegion}, regions)
}
