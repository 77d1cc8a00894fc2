package deploy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	cfntypes "github.com/aws/aws-sdk-go-v2/service/cloudformation/types"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/registry"
	"github.com/wolfeidau/tenantctl/internal/telemetry"
	"github.com/wolfeidau/tenantctl/internal/trust"
)

// createPrivate submits a CloudFormation stack for the tenant's dedicated
// table. The call returns as soon as the deployment is accepted; the caller
// polls the returned stack handle until it reaches a terminal state.
func (d *Deployer) createPrivate(ctx context.Context, req *Request, cred *trust.Credential) (*Result, error) {
	client := d.clients.CloudFormation(cred)

	stackName := StackName(req.TenantID, d.cfg.Workspace)
	tableName := TableName(req.TenantID, d.cfg.Workspace)

	body, err := RenderTemplate(req.TenantID, d.cfg.Workspace).Body()
	if err != nil {
		return nil, err
	}

	out, err := client.CreateStack(ctx, &cloudformation.CreateStackInput{
		StackName:    aws.String(stackName),
		TemplateBody: aws.String(body),
		OnFailure:    cfntypes.OnFailureDelete,
		Tags: []cfntypes.Tag{
			{Key: aws.String("tenant_id"), Value: aws.String(req.TenantID)},
			{Key: aws.String("workspace"), Value: aws.String(d.cfg.Workspace)},
		},
	})
	if err != nil {
		var existsErr *cfntypes.AlreadyExistsException
		if errors.As(err, &existsErr) {
			// A previous attempt already submitted this stack; pick up its
			// handle instead of failing.
			handle, derr := d.describeStackID(ctx, client, stackName)
			if derr != nil {
				return nil, derr
			}
			log.Info().
				Str("tenant_id", req.TenantID).
				Str("stack_handle", handle).
				Msg("stack already exists, resuming")
			return &Result{
				StackHandle:  handle,
				StackName:    stackName,
				TableName:    tableName,
				Status:       registry.StatusCreateInProgress,
				PollRequired: true,
			}, nil
		}
		return nil, classifySubmissionError(err, "failed to create stack")
	}

	telemetry.GetMetrics().StacksSubmitted.Add(ctx, 1)

	log.Info().
		Str("tenant_id", req.TenantID).
		Str("stack_name", stackName).
		Str("stack_handle", aws.ToString(out.StackId)).
		Msg("stack deployment submitted")

	return &Result{
		StackHandle:  aws.ToString(out.StackId),
		StackName:    stackName,
		TableName:    tableName,
		Status:       registry.StatusCreateInProgress,
		PollRequired: true,
	}, nil
}

// deletePrivate requests deletion of the tenant's stack. A missing stack
// handle is reconstructed from the tenant id, and a stack that no longer
// exists is a success, so repeated deletes converge.
func (d *Deployer) deletePrivate(ctx context.Context, req *Request, cred *trust.Credential) (*Result, error) {
	client := d.clients.CloudFormation(cred)

	stackName := StackName(req.TenantID, d.cfg.Workspace)
	tableName := TableName(req.TenantID, d.cfg.Workspace)

	handle := req.StackHandle
	if handle == "" {
		// Recovering from a partially-completed earlier request. The stack
		// name is deterministic, so look it up before issuing the delete.
		log.Info().Str("tenant_id", req.TenantID).Str("stack_name", stackName).Msg("no stack handle supplied, deriving from tenant id")

		derived, err := d.describeStackID(ctx, client, stackName)
		if err != nil {
			if isStackNotFound(err) {
				log.Info().Str("tenant_id", req.TenantID).Msg("stack already deleted")
				return &Result{
					StackName:    stackName,
					TableName:    tableName,
					Status:       registry.StatusDeleteComplete,
					PollRequired: false,
				}, nil
			}
			return nil, err
		}
		handle = derived
	}

	_, err := client.DeleteStack(ctx, &cloudformation.DeleteStackInput{
		StackName: aws.String(handle),
	})
	if err != nil {
		if isStackNotFound(err) {
			log.Info().Str("tenant_id", req.TenantID).Str("stack_handle", handle).Msg("stack already deleted")
			return &Result{
				StackName:    stackName,
				TableName:    tableName,
				Status:       registry.StatusDeleteComplete,
				PollRequired: false,
			}, nil
		}
		return nil, classifySubmissionError(err, "failed to delete stack")
	}

	log.Info().
		Str("tenant_id", req.TenantID).
		Str("stack_handle", handle).
		Msg("stack deletion submitted")

	return &Result{
		StackHandle:  handle,
		StackName:    stackName,
		TableName:    tableName,
		Status:       registry.StatusDeleteInProgress,
		PollRequired: true,
	}, nil
}

// describeStackID resolves a stack name to its unique stack id.
func (d *Deployer) describeStackID(ctx context.Context, client CloudFormationAPI, stackName string) (string, error) {
	out, err := client.DescribeStacks(ctx, &cloudformation.DescribeStacksInput{
		StackName: aws.String(stackName),
	})
	if err != nil {
		return "", wrapAWSError(err, "failed to describe stack")
	}
	if len(out.Stacks) == 0 {
		return "", fmt.Errorf("failed to describe stack: no stacks named %s", stackName)
	}
	return aws.ToString(out.Stacks[0].StackId), nil
}

// isStackNotFound detects CloudFormation's "stack does not exist" answer,
// which arrives as a generic ValidationError rather than a typed error.
func isStackNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "does not exist") ||
		strings.Contains(msg, "no stacks named")
}

// classifySubmissionError separates rejected templates (terminal) from
// transient service failures (retryable).
func classifySubmissionError(err error, msg string) error {
	errMsg := err.Error()
	if strings.Contains(errMsg, "ValidationError") && !strings.Contains(errMsg, "does not exist") {
		return fmt.Errorf("%s: %w: %v", msg, ErrSubmissionRejected, err)
	}
	if strings.Contains(errMsg, "InsufficientCapabilitiesException") ||
		strings.Contains(errMsg, "LimitExceededException") {
		return fmt.Errorf("%s: %w: %v", msg, ErrSubmissionRejected, err)
	}
	return wrapAWSError(err, msg)
}
