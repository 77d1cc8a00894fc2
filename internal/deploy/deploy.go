package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/wolfeidau/tenantctl/internal/registry"
	"github.com/wolfeidau/tenantctl/internal/trust"
)

// Sentinel errors for common error conditions
var (
	ErrValidation         = errors.New("invalid deployment request")
	ErrSubmissionRejected = errors.New("deployment submission rejected")
	ErrThrottled          = errors.New("AWS request throttled")
)

// Tier selects the provisioning mode for a tenant.
type Tier string

const (
	TierPublic  Tier = "public"
	TierPrivate Tier = "private"
)

// ParseTier validates a tier string.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierPublic, TierPrivate:
		return Tier(s), nil
	}
	return "", fmt.Errorf("%w: unknown tier %q", ErrValidation, s)
}

// Request carries the tenant data a deployment needs. Credentials are passed
// separately per call and never stored.
type Request struct {
	TenantID    string
	TenantName  string
	Tier        Tier
	Email       string
	StackHandle string // optional: private-tier DELETE of a known stack
}

// Validate checks the request has the fields its tier requires.
func (r *Request) Validate() error {
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if _, err := ParseTier(string(r.Tier)); err != nil {
		return err
	}
	return nil
}

// Result is the outcome of a deployment submission. For the public tier the
// status is terminal and PollRequired is false; for the private tier the
// status is in-progress and the caller must poll the stack handle.
type Result struct {
	StackHandle  string
	StackName    string
	TableName    string
	Status       registry.Status
	PollRequired bool

	// Public-tier DELETE partial success counts.
	RowsDeleted int
	RowsFailed  int
}

// DynamoDBAPI is the subset of the DynamoDB client used by the public-tier
// deployer inside the target account.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// CloudFormationAPI is the subset of the CloudFormation client used by the
// private-tier deployer inside the target account.
type CloudFormationAPI interface {
	CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error)
	DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error)
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// ClientFactory builds target-account service clients from a scoped
// credential. The production implementation wraps the AWS SDK; tests supply
// fakes.
type ClientFactory interface {
	DynamoDB(cred *trust.Credential) DynamoDBAPI
	CloudFormation(cred *trust.Credential) CloudFormationAPI
}

// AWSClientFactory builds real SDK clients against the target account.
type AWSClientFactory struct {
	cfg aws.Config
}

// NewAWSClientFactory creates a client factory from the control-plane AWS
// config. Credentials are swapped per call for the assumed role.
func NewAWSClientFactory(cfg aws.Config) *AWSClientFactory {
	return &AWSClientFactory{cfg: cfg}
}

func (f *AWSClientFactory) DynamoDB(cred *trust.Credential) DynamoDBAPI {
	cfg := f.cfg.Copy()
	cfg.Credentials = cred.Provider()
	return dynamodb.NewFromConfig(cfg)
}

func (f *AWSClientFactory) CloudFormation(cred *trust.Credential) CloudFormationAPI {
	cfg := f.cfg.Copy()
	cfg.Credentials = cred.Provider()
	return cloudformation.NewFromConfig(cfg)
}

// Config holds deployer settings shared across tenants.
type Config struct {
	// SharedTableName is the public-tier table in the target account.
	SharedTableName string

	// Workspace qualifies derived stack and table names so multiple
	// environments can share an account.
	Workspace string

	// BatchRetry bounds retries of unprocessed public-tier batch deletes.
	BatchRetry RetryConfig
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.SharedTableName == "" {
		c.SharedTableName = "tenant-shared"
	}
	if c.Workspace == "" {
		c.Workspace = "prod"
	}
	c.BatchRetry.ApplyDefaults()
}

// Deployer submits tenant infrastructure changes, dispatching on tier.
type Deployer struct {
	clients ClientFactory
	cfg     Config
}

// NewDeployer creates a new deployer
func NewDeployer(clients ClientFactory, cfg Config) *Deployer {
	cfg.ApplyDefaults()
	return &Deployer{
		clients: clients,
		cfg:     cfg,
	}
}

// Create provisions tenant infrastructure in the target account.
func (d *Deployer) Create(ctx context.Context, req *Request, cred *trust.Credential) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch req.Tier {
	case TierPublic:
		return d.createPublic(ctx, req, cred)
	case TierPrivate:
		return d.createPrivate(ctx, req, cred)
	}
	return nil, fmt.Errorf("%w: unknown tier %q", ErrValidation, req.Tier)
}

// Delete removes tenant infrastructure from the target account. Deleting
// infrastructure that is already gone is a success.
func (d *Deployer) Delete(ctx context.Context, req *Request, cred *trust.Credential) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	switch req.Tier {
	case TierPublic:
		return d.deletePublic(ctx, req, cred)
	case TierPrivate:
		return d.deletePrivate(ctx, req, cred)
	}
	return nil, fmt.Errorf("%w: unknown tier %q", ErrValidation, req.Tier)
}

// wrapAWSError wraps AWS SDK errors, identifying throttling errors
// Returns ErrThrottled for throttling errors, otherwise wraps the original error
func wrapAWSError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var provisionedErr *dynamodbtypes.ProvisionedThroughputExceededException
	if errors.As(err, &provisionedErr) {
		return fmt.Errorf("%s: %w: %v", msg, ErrThrottled, err)
	}

	// AWS SDK v2 doesn't always use typed errors for all services
	errMsg := err.Error()
	if strings.Contains(errMsg, "ThrottlingException") ||
		strings.Contains(errMsg, "RequestLimitExceeded") ||
		strings.Contains(errMsg, "TooManyRequestsException") ||
		strings.Contains(errMsg, "Throttling") {
		return fmt.Errorf("%s: %w: %v", msg, ErrThrottled, err)
	}

	return fmt.Errorf("%s: %w", msg, err)
}
