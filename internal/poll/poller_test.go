package poll

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenantctl/internal/trust"
)

const testStackID = "arn:aws:cloudformation:us-east-1:123456789012:stack/tenant-test-acme/abc123"

type fakeCloudFormation struct {
	describeFn func(ctx context.Context, params *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error)
}

func (f *fakeCloudFormation) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	return f.describeFn(ctx, params)
}

func newTestPoller(cfn *fakeCloudFormation) *Poller {
	return NewPoller(func(cred *trust.Credential) CloudFormationAPI {
		return cfn
	})
}

func stackOutput(status cfntypes.StackStatus, reason string) *cloudformation.DescribeStacksOutput {
	stack := cfntypes.Stack{
		StackId:     aws.String(testStackID),
		StackStatus: status,
	}
	if reason != "" {
		stack.StackStatusReason = aws.String(reason)
	}
	return &cloudformation.DescribeStacksOutput{Stacks: []cfntypes.Stack{stack}}
}

func TestPollNormalizesProviderStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  cfntypes.StackStatus
		reason  string
		outcome Outcome
		detail  string
	}{
		{
			name:    "create complete",
			status:  cfntypes.StackStatusCreateComplete,
			outcome: OutcomeComplete,
			detail:  "CREATE_COMPLETE",
		},
		{
			name:    "delete complete",
			status:  cfntypes.StackStatusDeleteComplete,
			outcome: OutcomeComplete,
			detail:  "DELETE_COMPLETE",
		},
		{
			name:    "create in progress",
			status:  cfntypes.StackStatusCreateInProgress,
			outcome: OutcomeInProgress,
			detail:  "CREATE_IN_PROGRESS",
		},
		{
			name:    "rollback carries the reason",
			status:  cfntypes.StackStatusRollbackComplete,
			reason:  "Resource creation cancelled",
			outcome: OutcomeFailed,
			detail:  "ROLLBACK_COMPLETE: Resource creation cancelled",
		},
		{
			name:    "delete failed",
			status:  cfntypes.StackStatusDeleteFailed,
			outcome: OutcomeFailed,
			detail:  "DELETE_FAILED",
		},
		{
			name:    "unrecognized status stays in progress",
			status:  cfntypes.StackStatus("IMPORT_IN_PROGRESS"),
			outcome: OutcomeInProgress,
			detail:  "IMPORT_IN_PROGRESS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfn := &fakeCloudFormation{
				describeFn: func(ctx context.Context, params *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
					require.Equal(t, testStackID, aws.ToString(params.StackName))
					return stackOutput(tt.status, tt.reason), nil
				},
			}

			result, err := newTestPoller(cfn).Poll(context.Background(), testStackID, OperationCreate, &trust.Credential{})
			require.NoError(t, err)
			require.Equal(t, tt.outcome, result.Outcome)
			require.Equal(t, tt.detail, result.Detail)
		})
	}
}

func TestPollStackNotFound(t *testing.T) {
	cfn := &fakeCloudFormation{
		describeFn: func(ctx context.Context, params *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return nil, errors.New("ValidationError: Stack with id " + testStackID + " does not exist")
		},
	}
	poller := newTestPoller(cfn)

	// A vanished stack means the delete finished.
	result, err := poller.Poll(context.Background(), testStackID, OperationDelete, &trust.Credential{})
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)

	// The same answer during a create means the deployment is gone.
	result, err = poller.Poll(context.Background(), testStackID, OperationCreate, &trust.Credential{})
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, result.Outcome)
}

func TestPollEmptyStackList(t *testing.T) {
	cfn := &fakeCloudFormation{
		describeFn: func(ctx context.Context, params *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return &cloudformation.DescribeStacksOutput{}, nil
		},
	}

	result, err := newTestPoller(cfn).Poll(context.Background(), testStackID, OperationDelete, &trust.Credential{})
	require.NoError(t, err)
	require.Equal(t, OutcomeComplete, result.Outcome)
}

func TestPollServiceError(t *testing.T) {
	cfn := &fakeCloudFormation{
		describeFn: func(ctx context.Context, params *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error) {
			return nil, errors.New("ThrottlingException: rate exceeded")
		},
	}

	_, err := newTestPoller(cfn).Poll(context.Background(), testStackID, OperationCreate, &trust.Credential{})
	require.Error(t, err)
}

func TestPollRequiresHandle(t *testing.T) {
	_, err := newTestPoller(&fakeCloudFormation{}).Poll(context.Background(), "", OperationCreate, &trust.Credential{})
	require.Error(t, err)
}
