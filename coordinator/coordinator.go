// Package coordinator fans collection out across accounts and regions.
package coordinator

import (
	"context"
	"sync"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/musterops/muster/config"
	providersaws "github.com/musterops/muster/providers/aws"
	"github.com/musterops/muster/telemetry"
	"github.com/musterops/muster/types"
)

// Result is the outcome of one collection run. CollectorErrors counts
// region/kind tasks that failed inside otherwise healthy accounts.
type Result struct {
	Records         []types.Record
	Failures        []types.Failure
	CollectorErrors int
	Duration        time.Duration
}

// regionCollector is what the coordinator needs from a per-region collector.
type regionCollector interface {
	CollectCompute(ctx context.Context) ([]types.Record, error)
	CollectDatabases(ctx context.Context) ([]types.Record, error)
	CollectFunctions(ctx context.Context) ([]types.Record, error)
	CollectBuckets(ctx context.Context) ([]types.Record, error)
}

type credentialBroker interface {
	Assume(ctx context.Context, accountID, roleName string) (awssdk.CredentialsProvider, error)
}

// Coordinator runs bounded collection across many accounts. The outer
// semaphore bounds concurrent accounts; within each account an inner
// semaphore bounds concurrent region/kind tasks.
type Coordinator struct {
	baseCfg  awssdk.Config
	settings config.Settings
	broker   credentialBroker
	logger   *telemetry.Logger

	// seams for tests
	listRegions  func(ctx context.Context, cfg awssdk.Config) []string
	newCollector func(cfg awssdk.Config, account config.Account, region string) regionCollector
}

// New creates a coordinator over the caller's base AWS config.
func New(baseCfg awssdk.Config, settings config.Settings, logger *telemetry.Logger) *Coordinator {
	c := &Coordinator{
		baseCfg:  baseCfg,
		settings: settings,
		broker:   providersaws.NewBroker(sts.NewFromConfig(baseCfg), settings.ExternalID, logger),
		logger:   logger,
	}
	c.listRegions = func(ctx context.Context, cfg awssdk.Config) []string {
		return providersaws.ListRegions(ctx, ec2.NewFromConfig(cfg), logger)
	}
	c.newCollector = func(cfg awssdk.Config, account config.Account, region string) regionCollector {
		return providersaws.NewCollector(cfg, account, region, logger)
	}
	return c
}

// Run collects inventory from every account. An account whose credentials
// cannot be assumed contributes a Failure entry and no records; sibling
// accounts are unaffected. Never returns an error: degradation is reported
// through Result.Failures and Result.CollectorErrors.
func (c *Coordinator) Run(ctx context.Context, accounts []config.Account) Result {
	start := time.Now()

	ctx, span := telemetry.Tracer.Start(ctx, "collect.run",
		trace.WithAttributes(attribute.Int("accounts", len(accounts))))
	c.logger.LogSpanStart(ctx, "collect.run", attribute.Int("accounts", len(accounts)))

	sem := make(chan struct{}, c.settings.AccountWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var result Result

	for _, account := range accounts {
		wg.Add(1)
		go func(account config.Account) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			records, collectorErrs, err := c.collectAccount(ctx, account)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.LogAccountFailure(ctx, account.Name, account.AccountID, err)
				recordAccountFailure(ctx)
				result.Failures = append(result.Failures, types.Failure{
					AccountName: account.Name,
					AccountID:   account.AccountID,
					Error:       err.Error(),
				})
				return
			}
			result.Records = append(result.Records, records...)
			result.CollectorErrors += collectorErrs
		}(account)
	}
	wg.Wait()

	result.Duration = time.Since(start)
	recordRun(ctx, len(result.Records), result.Duration)
	c.logger.LogRunComplete(ctx, len(result.Records), len(result.Failures),
		result.CollectorErrors, float64(result.Duration.Milliseconds()))
	c.logger.LogSpanEnd(ctx, "collect.run", nil)
	span.End()

	return result
}

// collectTask is one unit of the inner fan-out.
type collectTask struct {
	region  string
	kind    types.Kind
	collect func(ctx context.Context) ([]types.Record, error)
}

func (c *Coordinator) collectAccount(ctx context.Context, account config.Account) ([]types.Record, int, error) {
	ctx, span := telemetry.Tracer.Start(ctx, "collect.account",
		trace.WithAttributes(
			attribute.String("account_id", account.AccountID),
			attribute.String("account_name", account.Name),
		))
	defer span.End()

	creds, err := c.broker.Assume(ctx, account.AccountID, account.RoleName)
	if err != nil {
		c.logger.LogSpanEnd(ctx, "collect.account", err)
		return nil, 0, err
	}

	cfg := c.baseCfg.Copy()
	cfg.Credentials = creds
	cfg.Region = c.settings.DefaultRegion

	regions := c.listRegions(ctx, cfg)
	tasks := c.buildTasks(cfg, account, regions)

	sem := make(chan struct{}, c.settings.RegionWorkers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var merged []types.Record
	var collectorErrs int

	for _, t := range tasks {
		wg.Add(1)
		go func(t collectTask) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			tctx, cancel := context.WithTimeout(ctx, c.settings.CollectTimeout)
			defer cancel()

			records, err := t.collect(tctx)
			if err != nil {
				// One failed task degrades to zero records for that
				// region/kind; siblings keep going.
				c.logger.LogCollectorError(ctx, account.AccountID, t.region, t.kind, err)
				recordCollectorError(ctx)
				mu.Lock()
				collectorErrs++
				mu.Unlock()
				return
			}

			mu.Lock()
			merged = append(merged, records...)
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	c.logger.LogSpanEnd(ctx, "collect.account", nil)
	return merged, collectorErrs, nil
}

// buildTasks produces one task per region and resource kind, plus a single
// bucket task since the bucket listing is account-global.
func (c *Coordinator) buildTasks(cfg awssdk.Config, account config.Account, regions []string) []collectTask {
	var tasks []collectTask
	for _, region := range regions {
		collector := c.newCollector(cfg, account, region)
		tasks = append(tasks,
			collectTask{region: region, kind: types.KindComputeInstance, collect: collector.CollectCompute},
			collectTask{region: region, kind: types.KindDBInstance, collect: collector.CollectDatabases},
			collectTask{region: region, kind: types.KindFunction, collect: collector.CollectFunctions},
		)
	}

	if len(regions) > 0 {
		global := c.newCollector(cfg, account, regions[0])
		tasks = append(tasks, collectTask{
			region:  types.RegionGlobal,
			kind:    types.KindBucket,
			collect: global.CollectBuckets,
		})
	}

	return tasks
}

func recordAccountFailure(ctx context.Context) {
	if telemetry.AccountFailures != nil {
		telemetry.AccountFailures.Add(ctx, 1)
	}
}

func recordCollectorError(ctx context.Context) {
	if telemetry.CollectorErrors != nil {
		telemetry.CollectorErrors.Add(ctx, 1)
	}
}

func recordRun(ctx context.Context, records int, d time.Duration) {
	if telemetry.CollectionRuns != nil {
		telemetry.CollectionRuns.Add(ctx, 1)
	}
	if telemetry.RecordsCollected != nil {
		telemetry.RecordsCollected.Add(ctx, int64(records))
	}
	if telemetry.CollectDuration != nil {
		telemetry.CollectDuration.Record(ctx, d.Seconds())
	}
}
