// Package pricing holds the static rate tables used for cost estimation.
// Rates are rough on-demand us-east-1 figures; estimates are advisory,
// not billing data.
package pricing

import "strings"

// Hourly on-demand rates by EC2 instance type.
var ec2Hourly = map[string]float64{
	"t2.micro":   0.0116,
	"t2.small":   0.023,
	"t2.medium":  0.0464,
	"t3.micro":   0.0104,
	"t3.small":   0.0208,
	"t3.medium":  0.0416,
	"m5.large":   0.096,
	"m5.xlarge":  0.192,
	"m5.2xlarge": 0.384,
}

const ec2DefaultHourly = 0.05

// Hourly rates by RDS instance class.
var rdsHourly = map[string]float64{
	"db.t2.micro":  0.017,
	"db.t3.micro":  0.017,
	"db.t3.small":  0.034,
	"db.m5.large":  0.171,
	"db.m5.xlarge": 0.342,
}

const rdsDefaultHourly = 0.10

// Per GB-month storage rates by S3 storage class.
var s3GBMonth = map[string]float64{
	"standard":     0.023,
	"standard_ia":  0.0125,
	"glacier":      0.004,
	"deep_archive": 0.00099,
}

const s3DefaultGBMonth = 0.023

// Lambda billing constants.
const (
	LambdaPerRequest  = 0.0000002
	LambdaPerGBSecond = 0.0000166667
	// Average duration assumed per invocation when deriving GB-seconds
	// from invocation counts alone.
	LambdaAssumedDurationSeconds = 0.1
)

// HoursPerMonth is the flat 24x30 convention used across all estimates.
const HoursPerMonth = 24 * 30

// Monthly converts an hourly rate to a monthly estimate.
func Monthly(hourly float64) float64 {
	return hourly * HoursPerMonth
}

// EC2Hourly returns the hourly rate for an instance type, falling back to a
// default rate for unrecognized types.
func EC2Hourly(instanceType string) float64 {
	if rate, ok := ec2Hourly[instanceType]; ok {
		return rate
	}
	return ec2DefaultHourly
}

// RDSHourly returns the hourly rate for a DB instance class.
func RDSHourly(instanceClass string) float64 {
	if rate, ok := rdsHourly[instanceClass]; ok {
		return rate
	}
	return rdsDefaultHourly
}

// S3MonthlyGB returns the per GB-month rate for a storage class.
func S3MonthlyGB(storageClass string) float64 {
	key := strings.ToLower(strings.ReplaceAll(storageClass, "-", "_"))
	if rate, ok := s3GBMonth[key]; ok {
		return rate
	}
	return s3DefaultGBMonth
}

// LambdaMonthly estimates monthly cost from 30-day invocations and the
// configured memory size.
func LambdaMonthly(invocations float64, memoryMB int32) float64 {
	if invocations <= 0 {
		return 0
	}
	requestCost := invocations * LambdaPerRequest
	gbSeconds := float64(memoryMB) / 1024 * invocations * LambdaAssumedDurationSeconds
	return requestCost + gbSeconds*LambdaPerGBSecond
}
