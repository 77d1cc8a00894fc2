package poll

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/trust"
)

// Outcome is the normalized deployment status.
type Outcome string

const (
	OutcomeComplete   Outcome = "COMPLETE"
	OutcomeFailed     Outcome = "FAILED"
	OutcomeInProgress Outcome = "IN_PROGRESS"
)

// Operation tells the poller which direction the deployment is moving, which
// decides how a vanished stack is interpreted.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationDelete Operation = "DELETE"
)

// Result is one poll observation.
type Result struct {
	Outcome Outcome
	Detail  string
}

// CloudFormationAPI is the subset of the CloudFormation client used by the
// poller.
type CloudFormationAPI interface {
	DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error)
}

// ClientFactory builds a target-account CloudFormation client from a scoped
// credential.
type ClientFactory func(cred *trust.Credential) CloudFormationAPI

// NewAWSClientFactory builds real SDK clients against the target account.
func NewAWSClientFactory(cfg aws.Config) ClientFactory {
	return func(cred *trust.Credential) CloudFormationAPI {
		copied := cfg.Copy()
		copied.Credentials = cred.Provider()
		return cloudformation.NewFromConfig(copied)
	}
}

// Poller queries deployment status and normalizes provider states to a
// 3-valued outcome.
type Poller struct {
	clients ClientFactory
}

// NewPoller creates a new poller
func NewPoller(clients ClientFactory) *Poller {
	return &Poller{clients: clients}
}

// Poll observes the stack once. A stack that cannot be found is COMPLETE for
// DELETE (already gone) and FAILED for CREATE (deployment vanished).
func (p *Poller) Poll(ctx context.Context, stackHandle string, op Operation, cred *trust.Credential) (*Result, error) {
	if stackHandle == "" {
		return nil, fmt.Errorf("stack handle is required")
	}

	client := p.clients(cred)

	out, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackHandle),
	})
	if err != nil {
		if isStackNotFound(err) {
			return notFoundResult(op), nil
		}
		return nil, fmt.Errorf("failed to describe stack: %w", err)
	}

	if len(out.Stacks) == 0 {
		return notFoundResult(op), nil
	}

	stack := out.Stacks[0]
	result := normalizeStatus(stack.StackStatus, aws.ToString(stack.StackStatusReason))

	log.Debug().
		Str("stack_handle", stackHandle).
		Str("provider_status", string(stack.StackStatus)).
		Str("outcome", string(result.Outcome)).
		Msg("polled stack status")

	return result, nil
}

func notFoundResult(op Operation) *Result {
	if op == OperationDelete {
		return &Result{Outcome: OutcomeComplete, Detail: "stack already deleted"}
	}
	return &Result{Outcome: OutcomeFailed, Detail: "stack not found"}
}

// normalizeStatus folds CloudFormation's status set into the 3-valued
// outcome the orchestrator branches on.
func normalizeStatus(status cfntypes.StackStatus, reason string) *Result {
	switch status {
	case cfntypes.StackStatusCreateComplete,
		cfntypes.StackStatusUpdateComplete,
		cfntypes.StackStatusDeleteComplete:
		return &Result{Outcome: OutcomeComplete, Detail: string(status)}

	case cfntypes.StackStatusCreateFailed,
		cfntypes.StackStatusDeleteFailed,
		cfntypes.StackStatusRollbackComplete,
		cfntypes.StackStatusRollbackFailed,
		cfntypes.StackStatusUpdateRollbackComplete,
		cfntypes.StackStatusUpdateRollbackFailed:
		detail := string(status)
		if reason != "" {
			detail = fmt.Sprintf("%s: %s", status, reason)
		}
		return &Result{Outcome: OutcomeFailed, Detail: detail}

	case cfntypes.StackStatusCreateInProgress,
		cfntypes.StackStatusDeleteInProgress,
		cfntypes.StackStatusUpdateInProgress,
		cfntypes.StackStatusRollbackInProgress,
		cfntypes.StackStatusReviewInProgress:
		return &Result{Outcome: OutcomeInProgress, Detail: string(status)}
	}

	// Anything unrecognized is reported as in-progress with the raw status;
	// the orchestrator's poll budget stops this from looping forever.
	return &Result{Outcome: OutcomeInProgress, Detail: string(status)}
}

// isStackNotFound detects CloudFormation's "stack does not exist" answer.
func isStackNotFound(err error) bool {
	return strings.Contains(err.Error(), "does not exist")
}
