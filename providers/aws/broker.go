package aws

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/musterops/muster/telemetry"
	"github.com/musterops/muster/types"
)

const (
	assumeAttempts = 3
	backoffStep    = 2 * time.Second
)

// Broker exchanges an account id and role name for temporary credentials.
// Credentials are not cached; each collection cycle re-assumes.
type Broker struct {
	client     STSAPI
	externalID string
	logger     *telemetry.Logger

	// test seam
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBroker creates a credential broker.
func NewBroker(client STSAPI, externalID string, logger *telemetry.Logger) *Broker {
	return &Broker{
		client:     client,
		externalID: externalID,
		logger:     logger,
		sleep:      sleepCtx,
	}
}

// Assume assumes the named role in the target account. A transient failure is
// retried with linear backoff (attempt x 2s); exhaustion yields a
// CredentialError wrapping the last underlying error.
func (b *Broker) Assume(ctx context.Context, accountID, roleName string) (awssdk.CredentialsProvider, error) {
	roleARN := fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
	sessionName := fmt.Sprintf("muster-%d", time.Now().Unix())

	var lastErr error
	for attempt := 1; attempt <= assumeAttempts; attempt++ {
		output, err := b.client.AssumeRole(ctx, &sts.AssumeRoleInput{
			RoleArn:         awssdk.String(roleARN),
			RoleSessionName: awssdk.String(sessionName),
			ExternalId:      awssdk.String(b.externalID),
		})
		if err == nil {
			creds := output.Credentials
			return credentials.NewStaticCredentialsProvider(
				awssdk.ToString(creds.AccessKeyId),
				awssdk.ToString(creds.SecretAccessKey),
				awssdk.ToString(creds.SessionToken),
			), nil
		}

		lastErr = err
		b.logger.WithContext(ctx).Warn().
			Err(err).
			Str("account_id", accountID).
			Str("role_arn", roleARN).
			Int("attempt", attempt).
			Msg("assume role failed")

		if attempt < assumeAttempts {
			if err := b.sleep(ctx, time.Duration(attempt)*backoffStep); err != nil {
				return nil, &types.CredentialError{AccountID: accountID, RoleName: roleName, Err: err}
			}
		}
	}

	return nil, &types.CredentialError{AccountID: accountID, RoleName: roleName, Err: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
