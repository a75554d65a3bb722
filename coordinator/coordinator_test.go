package coordinator

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musterops/muster/config"
	"github.com/musterops/muster/telemetry"
	"github.com/musterops/muster/types"
)

type stubBroker struct {
	failAccounts map[string]error
	calls        int
}

func (b *stubBroker) Assume(_ context.Context, accountID, _ string) (awssdk.CredentialsProvider, error) {
	b.calls++
	if err, ok := b.failAccounts[accountID]; ok {
		return nil, err
	}
	return awssdk.AnonymousCredentials{}, nil
}

type stubCollector struct {
	account config.Account
	region  string

	computeErr error
}

func stubRecord(kind types.Kind, id string, account config.Account, region string) []types.Record {
	return []types.Record{types.NewRecord(kind, id, account.AccountID, account.Name, region)}
}

func (s *stubCollector) CollectCompute(_ context.Context) ([]types.Record, error) {
	if s.computeErr != nil {
		return nil, s.computeErr
	}
	return stubRecord(types.KindComputeInstance, "i-"+s.region, s.account, s.region), nil
}

func (s *stubCollector) CollectDatabases(_ context.Context) ([]types.Record, error) {
	return stubRecord(types.KindDBInstance, "db-"+s.region, s.account, s.region), nil
}

func (s *stubCollector) CollectFunctions(_ context.Context) ([]types.Record, error) {
	return stubRecord(types.KindFunction, "fn-"+s.region, s.account, s.region), nil
}

func (s *stubCollector) CollectBuckets(_ context.Context) ([]types.Record, error) {
	return stubRecord(types.KindBucket, "bucket-"+s.account.AccountID, s.account, types.RegionGlobal), nil
}

func testCoordinator(broker *stubBroker, regions []string, computeErr map[string]error) *Coordinator {
	settings := config.DefaultSettings()
	settings.CollectTimeout = 5 * time.Second

	return &Coordinator{
		settings: settings,
		broker:   broker,
		logger:   telemetry.NewLogger("test"),
		listRegions: func(_ context.Context, _ awssdk.Config) []string {
			return regions
		},
		newCollector: func(_ awssdk.Config, account config.Account, region string) regionCollector {
			return &stubCollector{account: account, region: region, computeErr: computeErr[account.AccountID+"/"+region]}
		},
	}
}

func TestRun(t *testing.T) {
	broker := &stubBroker{}
	c := testCoordinator(broker, []string{"us-east-1", "eu-west-1"}, nil)

	accounts := []config.Account{
		{Name: "platform", AccountID: "111111111111", RoleName: config.DefaultRoleName},
		{Name: "staging", AccountID: "222222222222", RoleName: config.DefaultRoleName},
	}

	result := c.Run(context.Background(), accounts)

	require.Empty(t, result.Failures)
	assert.Equal(t, 2, broker.calls)

	// 2 regions x 3 kinds + 1 global bucket, per account.
	assert.Len(t, result.Records, 2*(2*3+1))

	ids := make([]string, 0, len(result.Records))
	for _, r := range result.Records {
		ids = append(ids, r.AccountID+"/"+r.ID)
	}
	sort.Strings(ids)
	assert.Contains(t, ids, "111111111111/i-us-east-1")
	assert.Contains(t, ids, "222222222222/fn-eu-west-1")
	assert.Contains(t, ids, "111111111111/bucket-111111111111")
}

func TestRun_AccountFailureIsolated(t *testing.T) {
	broker := &stubBroker{
		failAccounts: map[string]error{
			"222222222222": &types.CredentialError{AccountID: "222222222222", RoleName: "r", Err: errors.New("denied")},
		},
	}
	c := testCoordinator(broker, []string{"us-east-1"}, nil)

	accounts := []config.Account{
		{Name: "platform", AccountID: "111111111111"},
		{Name: "locked-out", AccountID: "222222222222"},
	}

	result := c.Run(context.Background(), accounts)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "locked-out", result.Failures[0].AccountName)
	assert.Equal(t, "222222222222", result.Failures[0].AccountID)
	assert.Contains(t, result.Failures[0].Error, "denied")

	// The healthy account still contributes its full set.
	assert.Len(t, result.Records, 3+1)
	for _, r := range result.Records {
		assert.Equal(t, "111111111111", r.AccountID)
	}
}

func TestRun_CollectorFailureDegrades(t *testing.T) {
	broker := &stubBroker{}
	c := testCoordinator(broker, []string{"us-east-1", "eu-west-1"},
		map[string]error{"111111111111/eu-west-1": errors.New("throttled")})

	result := c.Run(context.Background(), []config.Account{
		{Name: "platform", AccountID: "111111111111"},
	})

	// A failed region/kind task drops only its own records; the account
	// itself does not count as failed, but the task failure is counted.
	require.Empty(t, result.Failures)
	assert.Equal(t, 1, result.CollectorErrors)
	assert.Len(t, result.Records, 2*3+1-1)
	for _, r := range result.Records {
		if r.Kind == types.KindComputeInstance {
			assert.Equal(t, "us-east-1", r.Region)
		}
	}
}

func TestRun_CollectorErrorCountedAcrossAccounts(t *testing.T) {
	broker := &stubBroker{}
	c := testCoordinator(broker, []string{"us-east-1", "eu-west-1"},
		map[string]error{"222222222222/eu-west-1": errors.New("listing failed")})

	accounts := []config.Account{
		{Name: "platform", AccountID: "111111111111"},
		{Name: "staging", AccountID: "222222222222"},
	}

	result := c.Run(context.Background(), accounts)

	// Two accounts, two regions, one compute listing failing: every other
	// task's records are merged and exactly one failure is counted.
	require.Empty(t, result.Failures)
	assert.Equal(t, 1, result.CollectorErrors)
	assert.Len(t, result.Records, 2*(2*3+1)-1)
}

func TestRun_NoAccounts(t *testing.T) {
	c := testCoordinator(&stubBroker{}, []string{"us-east-1"}, nil)

	result := c.Run(context.Background(), nil)

	assert.Empty(t, result.Records)
	assert.Empty(t, result.Failures)
}
