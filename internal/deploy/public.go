package deploy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/registry"
	"github.com/wolfeidau/tenantctl/internal/telemetry"
	"github.com/wolfeidau/tenantctl/internal/trust"
)

// DynamoDB limits BatchWriteItem to 25 requests per call.
const batchWriteMax = 25

// RetryConfig bounds retries of transient failures with multiplicative
// backoff. Tests shrink the delays.
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *RetryConfig) ApplyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = 500 * time.Millisecond
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 2.0
	}
}

// backOff builds the exponential backoff for one retry sequence.
func (c *RetryConfig) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.BaseDelay
	b.Multiplier = c.BackoffFactor
	return b
}

// createPublic writes the tenant's row into the shared table. The
// conditional put makes a repeated CREATE a recognized no-op rather than a
// duplicate row.
func (d *Deployer) createPublic(ctx context.Context, req *Request, cred *trust.Credential) (*Result, error) {
	client := d.clients.DynamoDB(cred)

	item := map[string]dynamodbtypes.AttributeValue{
		"tenant_id":   &dynamodbtypes.AttributeValueMemberS{Value: req.TenantID},
		"sk":          &dynamodbtypes.AttributeValueMemberS{Value: "TENANT"},
		"tenant_name": &dynamodbtypes.AttributeValueMemberS{Value: req.TenantName},
		"email":       &dynamodbtypes.AttributeValueMemberS{Value: req.Email},
		"created_at":  &dynamodbtypes.AttributeValueMemberN{Value: fmt.Sprintf("%d", time.Now().UnixMilli())},
	}

	_, err := client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(d.cfg.SharedTableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(tenant_id)"),
	})
	if err != nil {
		var condErr *dynamodbtypes.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			log.Info().Str("tenant_id", req.TenantID).Msg("tenant row already present in shared table")
		} else {
			return nil, wrapAWSError(err, "failed to write shared table row")
		}
	}

	log.Info().
		Str("tenant_id", req.TenantID).
		Str("table", d.cfg.SharedTableName).
		Msg("public tenant provisioned")

	return &Result{
		TableName:    d.cfg.SharedTableName,
		Status:       registry.StatusCreateComplete,
		PollRequired: false,
	}, nil
}

// deletePublic removes every row the shared table holds for the tenant. The
// table can carry multiple rows per tenant under different sort keys, so the
// partition is queried first and then deleted in batches, retrying
// unprocessed items with backoff before reporting partial counts.
func (d *Deployer) deletePublic(ctx context.Context, req *Request, cred *trust.Credential) (*Result, error) {
	client := d.clients.DynamoDB(cred)

	keys, err := d.queryTenantKeys(ctx, client, req.TenantID)
	if err != nil {
		return nil, err
	}

	if len(keys) == 0 {
		log.Info().Str("tenant_id", req.TenantID).Msg("no shared table rows for tenant, delete is a no-op")
		return &Result{
			TableName:    d.cfg.SharedTableName,
			Status:       registry.StatusDeleteComplete,
			PollRequired: false,
		}, nil
	}

	deleted, failed := d.batchDeleteKeys(ctx, client, keys)
	telemetry.GetMetrics().SharedRowsDeleted.Add(ctx, int64(deleted))

	status := registry.StatusDeleteComplete
	if failed > 0 {
		status = registry.StatusDeleteFailed
		log.Warn().
			Str("tenant_id", req.TenantID).
			Int("deleted", deleted).
			Int("failed", failed).
			Msg("shared table delete completed partially")
	} else {
		log.Info().
			Str("tenant_id", req.TenantID).
			Int("deleted", deleted).
			Msg("shared table rows deleted")
	}

	return &Result{
		TableName:    d.cfg.SharedTableName,
		Status:       status,
		PollRequired: false,
		RowsDeleted:  deleted,
		RowsFailed:   failed,
	}, nil
}

// queryTenantKeys pages through the tenant's partition collecting primary
// keys for deletion.
func (d *Deployer) queryTenantKeys(ctx context.Context, client DynamoDBAPI, tenantID string) ([]map[string]dynamodbtypes.AttributeValue, error) {
	var keys []map[string]dynamodbtypes.AttributeValue
	var startKey map[string]dynamodbtypes.AttributeValue

	for {
		out, err := client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(d.cfg.SharedTableName),
			KeyConditionExpression: aws.String("tenant_id = :tenant_id"),
			ExpressionAttributeValues: map[string]dynamodbtypes.AttributeValue{
				":tenant_id": &dynamodbtypes.AttributeValueMemberS{Value: tenantID},
			},
			ProjectionExpression: aws.String("tenant_id, sk"),
			ExclusiveStartKey:    startKey,
		})
		if err != nil {
			return nil, wrapAWSError(err, "failed to query shared table rows")
		}

		for _, item := range out.Items {
			keys = append(keys, map[string]dynamodbtypes.AttributeValue{
				"tenant_id": item["tenant_id"],
				"sk":        item["sk"],
			})
		}

		if out.LastEvaluatedKey == nil {
			return keys, nil
		}
		startKey = out.LastEvaluatedKey
	}
}

// batchDeleteKeys deletes keys in chunks of 25, retrying unprocessed items
// with exponential backoff up to the configured attempt budget. Returns the
// number of rows deleted and the number given up on.
func (d *Deployer) batchDeleteKeys(ctx context.Context, client DynamoDBAPI, keys []map[string]dynamodbtypes.AttributeValue) (deleted, failed int) {
	for start := 0; start < len(keys); start += batchWriteMax {
		end := min(start+batchWriteMax, len(keys))
		batch := keys[start:end]

		remaining, err := d.writeBatchWithRetry(ctx, client, batch)
		if err != nil {
			log.Error().Err(err).Int("batch_size", len(batch)).Msg("batch delete failed")
			failed += len(batch)
			continue
		}

		failed += remaining
		deleted += len(batch) - remaining
	}
	return deleted, failed
}

// writeBatchWithRetry issues one BatchWriteItem, retrying unprocessed items
// until they drain or the attempt budget is spent. Returns the count of
// items still unprocessed.
func (d *Deployer) writeBatchWithRetry(ctx context.Context, client DynamoDBAPI, batch []map[string]dynamodbtypes.AttributeValue) (int, error) {
	pending := make([]dynamodbtypes.WriteRequest, 0, len(batch))
	for _, key := range batch {
		pending = append(pending, dynamodbtypes.WriteRequest{
			DeleteRequest: &dynamodbtypes.DeleteRequest{Key: key},
		})
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		out, err := client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]dynamodbtypes.WriteRequest{
				d.cfg.SharedTableName: pending,
			},
		})
		if err != nil {
			wrapped := wrapAWSError(err, "failed to batch delete shared table rows")
			if errors.Is(wrapped, ErrThrottled) {
				return struct{}{}, wrapped
			}
			return struct{}{}, backoff.Permanent(wrapped)
		}

		unprocessed := out.UnprocessedItems[d.cfg.SharedTableName]
		if len(unprocessed) > 0 {
			pending = unprocessed
			return struct{}{}, fmt.Errorf("%d items unprocessed", len(unprocessed))
		}
		pending = nil
		return struct{}{}, nil
	},
		backoff.WithBackOff(d.cfg.BatchRetry.backOff()),
		backoff.WithMaxTries(uint(d.cfg.BatchRetry.MaxAttempts)), //nolint:gosec // small positive config value
	)
	if err != nil && len(pending) == len(batch) {
		// Nothing in the batch landed, surface the error.
		return len(pending), err
	}

	// Budget spent with some items still pending; report them as failed
	// counts rather than erroring the rows that did delete.
	return len(pending), nil
}
