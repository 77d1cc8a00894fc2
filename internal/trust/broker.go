package trust

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscreds "github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/telemetry"
)

// Sentinel errors for common error conditions
var (
	// ErrTrustDenied means the target account rejected the role assumption.
	// Not retryable.
	ErrTrustDenied = errors.New("target account denied role assumption")

	// ErrTrustUnavailable means STS could not be reached or throttled the
	// request. Retryable.
	ErrTrustUnavailable = errors.New("trust service unavailable")
)

const (
	// DefaultRoleName is the cross-account role each target account is
	// expected to expose to the control plane.
	DefaultRoleName = "tenantctl-provisioner"

	sessionPrefix          = "tenantctl"
	credentialLifetimeSecs = 3600
)

// Credential holds short-lived keys scoped to one tenant account. It is held
// in memory for the duration of a single operation and never persisted.
type Credential struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Provider returns a static credentials provider for building AWS clients
// that operate inside the target account.
func (c *Credential) Provider() aws.CredentialsProvider {
	return awscreds.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)
}

// STSAPI is the subset of the STS client used by the broker.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// Broker exchanges a target account id and tenant id for short-lived
// credentials valid only in the target account.
type Broker struct {
	client   STSAPI
	roleName string
}

// NewBroker creates a new trust broker. An empty roleName selects
// DefaultRoleName.
func NewBroker(client STSAPI, roleName string) *Broker {
	if roleName == "" {
		roleName = DefaultRoleName
	}
	return &Broker{
		client:   client,
		roleName: roleName,
	}
}

// AssumeScopedRole assumes the provisioning role in the target account. The
// session name and tags carry the tenant id for traceability in the target
// account's audit logs.
func (b *Broker) AssumeScopedRole(ctx context.Context, targetAccountID, tenantID string) (*Credential, error) {
	if targetAccountID == "" {
		return nil, fmt.Errorf("%w: target account id is required", ErrTrustDenied)
	}
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrTrustDenied)
	}

	roleArn := fmt.Sprintf("arn:aws:iam::%s:role/%s", targetAccountID, b.roleName)

	result, err := b.client.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleArn),
		RoleSessionName: aws.String(fmt.Sprintf("%s-%s", sessionPrefix, tenantID)),
		DurationSeconds: aws.Int32(credentialLifetimeSecs),
		Tags: []ststypes.Tag{
			{Key: aws.String("tenant_id"), Value: aws.String(tenantID)},
		},
	})
	if err != nil {
		classified := classifyAssumeError(err, roleArn)
		if errors.Is(classified, ErrTrustDenied) {
			telemetry.GetMetrics().RoleAssumptionDenials.Add(ctx, 1)
		}
		return nil, classified
	}

	creds := result.Credentials
	if creds == nil {
		return nil, fmt.Errorf("%w: empty credentials in response", ErrTrustUnavailable)
	}

	telemetry.GetMetrics().RoleAssumptions.Add(ctx, 1)

	log.Debug().
		Str("tenant_id", tenantID).
		Str("role_arn", roleArn).
		Time("expiration", aws.ToTime(creds.Expiration)).
		Msg("assumed scoped role")

	return &Credential{
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		SecretAccessKey: aws.ToString(creds.SecretAccessKey),
		SessionToken:    aws.ToString(creds.SessionToken),
		Expiration:      aws.ToTime(creds.Expiration),
	}, nil
}

// classifyAssumeError splits STS failures into denied (terminal) and
// unavailable (retryable).
func classifyAssumeError(err error, roleArn string) error {
	errMsg := err.Error()

	// STS reports rejected assumptions as AccessDenied; a missing role or a
	// role that does not trust the caller looks the same from outside the
	// account, and none of them will succeed on retry.
	if strings.Contains(errMsg, "AccessDenied") ||
		strings.Contains(errMsg, "is not authorized to perform") ||
		strings.Contains(errMsg, "MalformedPolicyDocument") {
		return fmt.Errorf("%w: %s: %v", ErrTrustDenied, roleArn, err)
	}

	return fmt.Errorf("%w: %v", ErrTrustUnavailable, err)
}
