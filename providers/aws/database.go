package aws

import (
	"context"
	"fmt"
	"strconv"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"

	"github.com/musterops/muster/pricing"
	"github.com/musterops/muster/types"
)

// CollectDatabases lists RDS instances and clusters in the region.
func (c *Collector) CollectDatabases(ctx context.Context) ([]types.Record, error) {
	instances, err := c.collectDBInstances(ctx)
	if err != nil {
		return nil, err
	}

	clusters, err := c.collectDBClusters(ctx)
	if err != nil {
		return nil, err
	}

	return append(instances, clusters...), nil
}

func (c *Collector) collectDBInstances(ctx context.Context) ([]types.Record, error) {
	var records []types.Record
	var marker *string

	for {
		output, err := c.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe db instances: %w", err)
		}

		for _, instance := range output.DBInstances {
			records = append(records, c.convertDBInstance(instance))
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return records, nil
}

func (c *Collector) convertDBInstance(instance rdstypes.DBInstance) types.Record {
	r := c.newRecord(types.KindDBInstance, awssdk.ToString(instance.DBInstanceIdentifier))

	status := awssdk.ToString(instance.DBInstanceStatus)
	class := awssdk.ToString(instance.DBInstanceClass)

	r.Attrs["status"] = status
	r.Attrs["engine"] = awssdk.ToString(instance.Engine)
	r.Attrs["engine_version"] = awssdk.ToString(instance.EngineVersion)
	r.Attrs["instance_class"] = class
	r.Attrs["multi_az"] = strconv.FormatBool(awssdk.ToBool(instance.MultiAZ))
	r.Attrs["encrypted"] = strconv.FormatBool(awssdk.ToBool(instance.StorageEncrypted))
	if instance.Endpoint != nil {
		r.Attrs["endpoint"] = awssdk.ToString(instance.Endpoint.Address)
	}
	if instance.InstanceCreateTime != nil {
		r.Attrs["created_at"] = instance.InstanceCreateTime.UTC().Format(time.RFC3339)
	}
	r.Metrics["allocated_storage_gb"] = float64(awssdk.ToInt32(instance.AllocatedStorage))

	// Only available instances accrue cost.
	if status == "available" {
		r.MonthlyCost = pricing.Monthly(pricing.RDSHourly(class))
	}

	return r
}

func (c *Collector) collectDBClusters(ctx context.Context) ([]types.Record, error) {
	var records []types.Record
	var marker *string

	for {
		output, err := c.rdsClient.DescribeDBClusters(ctx, &rds.DescribeDBClustersInput{Marker: marker})
		if err != nil {
			return nil, fmt.Errorf("describe db clusters: %w", err)
		}

		for _, cluster := range output.DBClusters {
			records = append(records, c.convertDBCluster(cluster))
		}

		if output.Marker == nil {
			break
		}
		marker = output.Marker
	}

	return records, nil
}

func (c *Collector) convertDBCluster(cluster rdstypes.DBCluster) types.Record {
	r := c.newRecord(types.KindDBCluster, awssdk.ToString(cluster.DBClusterIdentifier))

	r.Attrs["status"] = awssdk.ToString(cluster.Status)
	r.Attrs["engine"] = awssdk.ToString(cluster.Engine)
	r.Attrs["engine_version"] = awssdk.ToString(cluster.EngineVersion)
	r.Attrs["encrypted"] = strconv.FormatBool(awssdk.ToBool(cluster.StorageEncrypted))
	r.Attrs["multi_az"] = strconv.FormatBool(awssdk.ToBool(cluster.MultiAZ))
	r.Metrics["member_count"] = float64(len(cluster.DBClusterMembers))

	// Cluster cost is billed through its member instances.
	return r
}
