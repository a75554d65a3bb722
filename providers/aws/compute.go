package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/musterops/muster/pricing"
	"github.com/musterops/muster/types"
)

// CollectCompute lists all EC2 instances in the region.
func (c *Collector) CollectCompute(ctx context.Context) ([]types.Record, error) {
	var records []types.Record
	var nextToken *string

	for {
		output, err := c.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{NextToken: nextToken})
		if err != nil {
			return nil, fmt.Errorf("describe instances: %w", err)
		}

		for _, reservation := range output.Reservations {
			for _, instance := range reservation.Instances {
				records = append(records, c.convertInstance(instance))
			}
		}

		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return records, nil
}

func (c *Collector) convertInstance(instance ec2types.Instance) types.Record {
	r := c.newRecord(types.KindComputeInstance, awssdk.ToString(instance.InstanceId))

	state := string(instance.State.Name)
	instanceType := string(instance.InstanceType)

	r.Attrs["state"] = state
	r.Attrs["instance_type"] = instanceType
	r.Attrs["name"] = extractNameTag(instance.Tags)
	r.Attrs["private_ip"] = awssdk.ToString(instance.PrivateIpAddress)
	r.Attrs["public_ip"] = awssdk.ToString(instance.PublicIpAddress)
	if instance.LaunchTime != nil {
		r.Attrs["launch_time"] = instance.LaunchTime.UTC().Format(time.RFC3339)
	} else {
		r.Attrs["launch_time"] = types.Unknown
	}
	if state == "stopped" {
		r.Attrs["stopped_at"] = parseStopTime(awssdk.ToString(instance.StateTransitionReason))
	}
	for _, tag := range instance.Tags {
		r.Attrs["tag:"+awssdk.ToString(tag.Key)] = awssdk.ToString(tag.Value)
	}

	// Only running instances accrue compute cost.
	if state == "running" {
		r.MonthlyCost = pricing.Monthly(pricing.EC2Hourly(instanceType))
	}

	return r
}
