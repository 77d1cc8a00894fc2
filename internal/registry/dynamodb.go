package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/telemetry"
)

// DynamoDBAPI is the subset of the DynamoDB client used by the registry.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDBRegistry is a DynamoDB implementation of Registry backed by the
// control-plane account's registry table.
type DynamoDBRegistry struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoDBRegistry creates a new DynamoDB registry
func NewDynamoDBRegistry(client DynamoDBAPI, tableName string) *DynamoDBRegistry {
	return &DynamoDBRegistry{
		client:    client,
		tableName: tableName,
	}
}

// Get retrieves the infrastructure record for a tenant
func (r *DynamoDBRegistry) Get(ctx context.Context, tenantID string) (*Record, error) {
	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"tenant_id": &types.AttributeValueMemberS{Value: tenantID},
		},
	})
	if err != nil {
		return nil, wrapAWSError(err, "failed to get infrastructure record")
	}

	if result.Item == nil {
		return nil, ErrRecordNotFound
	}

	var record Record
	if err := attributevalue.UnmarshalMap(result.Item, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal infrastructure record: %w", err)
	}

	return &record, nil
}

// BeginOperation marks the tenant record as in-progress for a new operation.
// The conditional write refuses to stack a second operation on top of one
// that has not reached a terminal status.
func (r *DynamoDBRegistry) BeginOperation(ctx context.Context, tenantID string, status Status) error {
	if !status.InProgress() {
		return fmt.Errorf("begin operation requires an in-progress status, got %s", status)
	}

	cond := expression.Or(
		expression.AttributeNotExists(expression.Name("tenant_id")),
		expression.Not(expression.Name("status").In(
			expression.Value(StatusCreateInProgress),
			expression.Value(StatusDeleteInProgress),
		)),
	)
	update := expression.Set(
		expression.Name("status"),
		expression.Value(status),
	).Set(
		expression.Name("last_modified"),
		expression.Value(time.Now().Unix()),
	)

	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("failed to build begin operation expression: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"tenant_id": &types.AttributeValueMemberS{Value: tenantID},
		},
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %s", ErrOperationInFlight, tenantID)
		}
		return recordWriteFailure(ctx, wrapAWSError(err, "failed to begin operation"))
	}

	telemetry.GetMetrics().RegistryWrites.Add(ctx, 1)

	log.Debug().
		Str("tenant_id", tenantID).
		Str("status", string(status)).
		Msg("operation started")

	return nil
}

// Update applies a partial update to the tenant record, stamping
// last_modified. Attributes absent from the patch are left untouched.
func (r *DynamoDBRegistry) Update(ctx context.Context, tenantID string, patch Patch) error {
	update := expression.Set(
		expression.Name("last_modified"),
		expression.Value(time.Now().Unix()),
	)
	if patch.TenantName != nil {
		update = update.Set(expression.Name("tenant_name"), expression.Value(*patch.TenantName))
	}
	if patch.Tier != nil {
		update = update.Set(expression.Name("tier"), expression.Value(*patch.Tier))
	}
	if patch.StackHandle != nil {
		update = update.Set(expression.Name("stack_handle"), expression.Value(*patch.StackHandle))
	}
	if patch.StackName != nil {
		update = update.Set(expression.Name("stack_name"), expression.Value(*patch.StackName))
	}
	if patch.Status != nil {
		update = update.Set(expression.Name("status"), expression.Value(*patch.Status))
	}
	if patch.Detail != nil {
		update = update.Set(expression.Name("detail"), expression.Value(*patch.Detail))
	}

	cond := expression.AttributeExists(expression.Name("tenant_id"))

	expr, err := expression.NewBuilder().WithCondition(cond).WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("failed to build update expression: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"tenant_id": &types.AttributeValueMemberS{Value: tenantID},
		},
		ConditionExpression:       expr.Condition(),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, tenantID)
		}
		return recordWriteFailure(ctx, wrapAWSError(err, "failed to update infrastructure record"))
	}

	telemetry.GetMetrics().RegistryWrites.Add(ctx, 1)

	log.Debug().
		Str("tenant_id", tenantID).
		Msg("infrastructure record updated")

	return nil
}

// recordWriteFailure counts a failed registry write, separating out
// throttling events, and passes the error through.
func recordWriteFailure(ctx context.Context, err error) error {
	telemetry.GetMetrics().RegistryWriteFailures.Add(ctx, 1)
	if errors.Is(err, ErrThrottled) {
		telemetry.GetMetrics().ThrottlesTotal.Add(ctx, 1)
	}
	return err
}

// wrapAWSError wraps AWS SDK errors, identifying throttling errors
// Returns ErrThrottled for throttling errors, otherwise wraps the original error
func wrapAWSError(err error, msg string) error {
	if err == nil {
		return nil
	}

	var provisionedErr *types.ProvisionedThroughputExceededException
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
