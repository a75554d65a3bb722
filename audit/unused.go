package audit

import (
	"context"
	"fmt"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	elbv2 "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2"
	elbv2types "github.com/aws/aws-sdk-go-v2/service/elasticloadbalancingv2/types"

	"github.com/musterops/muster/telemetry"
)

// Ballpark monthly prices for resources that bill while doing nothing.
const (
	ebsMonthlyPerGB = 0.10
	eipMonthly      = 3.60
	albMonthly      = 16.20
	nlbMonthly      = 21.60
)

// UnusedResource is one resource that costs money without serving traffic.
type UnusedResource struct {
	Type        string  `json:"type"`
	ID          string  `json:"id"`
	Note        string  `json:"note"`
	MonthlyCost float64 `json:"monthly_cost"`
}

// UnusedAuditor finds detached volumes, idle addresses, and targetless load
// balancers in one region.
type UnusedAuditor struct {
	ec2Client EC2AuditAPI
	elbClient ELBAPI
	logger    *telemetry.Logger
}

// NewUnusedAuditor creates an unused-resource auditor.
func NewUnusedAuditor(ec2Client EC2AuditAPI, elbClient ELBAPI, logger *telemetry.Logger) *UnusedAuditor {
	return &UnusedAuditor{ec2Client: ec2Client, elbClient: elbClient, logger: logger}
}

// Find runs all unused-resource checks.
func (a *UnusedAuditor) Find(ctx context.Context) ([]UnusedResource, error) {
	var found []UnusedResource

	volumes, err := a.availableVolumes(ctx)
	if err != nil {
		return nil, fmt.Errorf("available volumes: %w", err)
	}
	found = append(found, volumes...)

	addresses, err := a.unassociatedAddresses(ctx)
	if err != nil {
		return nil, fmt.Errorf("unassociated addresses: %w", err)
	}
	found = append(found, addresses...)

	balancers, err := a.targetlessLoadBalancers(ctx)
	if err != nil {
		return nil, fmt.Errorf("targetless load balancers: %w", err)
	}
	found = append(found, balancers...)

	return found, nil
}

func (a *UnusedAuditor) availableVolumes(ctx context.Context) ([]UnusedResource, error) {
	var found []UnusedResource
	var nextToken *string

	for {
		output, err := a.ec2Client.DescribeVolumes(ctx, &ec2.DescribeVolumesInput{
			Filters: []ec2types.Filter{
				{Name: awssdk.String("status"), Values: []string{"available"}},
			},
			NextToken: nextToken,
		})
		if err != nil {
			return nil, err
		}

		for _, v := range output.Volumes {
			size := float64(awssdk.ToInt32(v.Size))
			found = append(found, UnusedResource{
				Type:        "ebs_volume",
				ID:          awssdk.ToString(v.VolumeId),
				Note:        fmt.Sprintf("%.0f GB, not attached", size),
				MonthlyCost: size * ebsMonthlyPerGB,
			})
		}

		if output.NextToken == nil {
			return found, nil
		}
		nextToken = output.NextToken
	}
}

func (a *UnusedAuditor) unassociatedAddresses(ctx context.Context) ([]UnusedResource, error) {
	output, err := a.ec2Client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{})
	if err != nil {
		return nil, err
	}

	var found []UnusedResource
	for _, addr := range output.Addresses {
		if addr.AssociationId != nil {
			continue
		}
		found = append(found, UnusedResource{
			Type:        "elastic_ip",
			ID:          awssdk.ToString(addr.PublicIp),
			Note:        "not associated",
			MonthlyCost: eipMonthly,
		})
	}
	return found, nil
}

// targetlessLoadBalancers flags load balancers none of whose target groups
// have a single registered target.
func (a *UnusedAuditor) targetlessLoadBalancers(ctx context.Context) ([]UnusedResource, error) {
	output, err := a.elbClient.DescribeLoadBalancers(ctx, &elbv2.DescribeLoadBalancersInput{})
	if err != nil {
		return nil, err
	}

	var found []UnusedResource
	for _, lb := range output.LoadBalancers {
		arn := awssdk.ToString(lb.LoadBalancerArn)
		hasTargets, err := a.hasRegisteredTargets(ctx, arn)
		if err != nil {
			a.logger.WithContext(ctx).Debug().
				Err(err).
				Str("load_balancer", arn).
				Msg("target lookup skipped")
			continue
		}
		if hasTargets {
			continue
		}

		cost := albMonthly
		if lb.Type == elbv2types.LoadBalancerTypeEnumNetwork {
			cost = nlbMonthly
		}
		found = append(found, UnusedResource{
			Type:        "load_balancer",
			ID:          awssdk.ToString(lb.LoadBalancerName),
			Note:        string(lb.Type) + ", no registered targets",
			MonthlyCost: cost,
		})
	}
	return found, nil
}

func (a *UnusedAuditor) hasRegisteredTargets(ctx context.Context, lbARN string) (bool, error) {
	groups, err := a.elbClient.DescribeTargetGroups(ctx, &elbv2.DescribeTargetGroupsInput{
		LoadBalancerArn: awssdk.String(lbARN),
	})
	if err != nil {
		return false, err
	}

	for _, tg := range groups.TargetGroups {
		health, err := a.elbClient.DescribeTargetHealth(ctx, &elbv2.DescribeTargetHealthInput{
			TargetGroupArn: tg.TargetGroupArn,
		})
		if err != nil {
			return false, err
		}
		if len(health.TargetHealthDescriptions) > 0 {
			return true, nil
		}
	}
	return false, nil
}
