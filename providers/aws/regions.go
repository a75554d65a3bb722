package aws

import (
	"context"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/musterops/muster/telemetry"
)

// FallbackRegion is used when region enumeration fails. Collection proceeds
// degraded rather than aborting the account.
const FallbackRegion = "us-east-1"

// ListRegions returns the account's enabled regions under the given session.
func ListRegions(ctx context.Context, client EC2API, logger *telemetry.Logger) []string {
	output, err := client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{
		AllRegions: awssdk.Bool(false),
	})
	if err != nil {
		logger.WithContext(ctx).Warn().
			Err(err).
			Str("fallback", FallbackRegion).
			Msg("describe regions failed, using fallback")
		return []string{FallbackRegion}
	}

	regions := make([]string, 0, len(output.Regions))
	for _, region := range output.Regions {
		regions = append(regions, awssdk.ToString(region.RegionName))
	}
	if len(regions) == 0 {
		return []string{FallbackRegion}
	}
	return regions
}
