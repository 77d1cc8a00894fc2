package deploy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/tenantctl/internal/registry"
)

func newPublicDeployer(ddb *fakeDynamoDB) *Deployer {
	return NewDeployer(&fakeClientFactory{ddb: ddb}, Config{
		SharedTableName: "tenant-shared",
		Workspace:       "test",
		BatchRetry:      fastRetry,
	})
}

func tenantKeys(tenantID string, sortKeys ...string) []map[string]dynamodbtypes.AttributeValue {
	var items []map[string]dynamodbtypes.AttributeValue
	for _, sk := range sortKeys {
		items = append(items, map[string]dynamodbtypes.AttributeValue{
			"tenant_id": &dynamodbtypes.AttributeValueMemberS{Value: tenantID},
			"sk":        &dynamodbtypes.AttributeValueMemberS{Value: sk},
		})
	}
	return items
}

func TestCreatePublic(t *testing.T) {
	var captured *dynamodb.PutItemInput
	ddb := &fakeDynamoDB{
		putFn: func(ctx context.Context, params *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			captured = params
			return &dynamodb.PutItemOutput{}, nil
		},
	}

	d := newPublicDeployer(ddb)
	result, err := d.Create(context.Background(), &Request{
		TenantID:   "acme",
		TenantName: "Acme Corp",
		Tier:       TierPublic,
		Email:      "ops@acme.example",
	}, testCredential())
	require.NoError(t, err)

	require.Equal(t, registry.StatusCreateComplete, result.Status)
	require.False(t, result.PollRequired)
	require.Equal(t, "tenant-shared", result.TableName)
	require.Empty(t, result.StackHandle)

	require.Equal(t, "tenant-shared", aws.ToString(captured.TableName))
	require.Equal(t, "attribute_not_exists(tenant_id)", aws.ToString(captured.ConditionExpression))

	id, ok := captured.Item["tenant_id"].(*dynamodbtypes.AttributeValueMemberS)
	require.True(t, ok)
	require.Equal(t, "acme", id.Value)
}

func TestCreatePublicIdempotent(t *testing.T) {
	ddb := &fakeDynamoDB{
		putFn: func(ctx context.Context, params *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &dynamodbtypes.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
		},
	}

	d := newPublicDeployer(ddb)
	result, err := d.Create(context.Background(), &Request{TenantID: "acme", Tier: TierPublic}, testCredential())

	// An existing row means an earlier CREATE already ran; not an error.
	require.NoError(t, err)
	require.Equal(t, registry.StatusCreateComplete, result.Status)
}

func TestCreatePublicThrottled(t *testing.T) {
	ddb := &fakeDynamoDB{
		putFn: func(ctx context.Context, params *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error) {
			return nil, &dynamodbtypes.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
		},
	}

	d := newPublicDeployer(ddb)
	_, err := d.Create(context.Background(), &Request{TenantID: "acme", Tier: TierPublic}, testCredential())
	require.ErrorIs(t, err, ErrThrottled)
}

func TestDeletePublicNoRows(t *testing.T) {
	ddb := &fakeDynamoDB{
		queryFn: func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{}, nil
		},
	}

	d := newPublicDeployer(ddb)
	result, err := d.Delete(context.Background(), &Request{TenantID: "acme", Tier: TierPublic}, testCredential())
	require.NoError(t, err)

	require.Equal(t, registry.StatusDeleteComplete, result.Status)
	require.Zero(t, result.RowsDeleted)
	require.Zero(t, result.RowsFailed)
	require.Equal(t, 0, ddb.batchCalls)
}

func TestDeletePublicAllRows(t *testing.T) {
	ddb := &fakeDynamoDB{
		queryFn: func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: tenantKeys("acme", "TENANT", "SETTINGS", "USAGE")}, nil
		},
		batchFn: func(ctx context.Context, params *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
			return &dynamodb.BatchWriteItemOutput{}, nil
		},
	}

	d := newPublicDeployer(ddb)
	result, err := d.Delete(context.Background(), &Request{TenantID: "acme", Tier: TierPublic}, testCredential())
	require.NoError(t, err)

	require.Equal(t, registry.StatusDeleteComplete, result.Status)
	require.Equal(t, 3, result.RowsDeleted)
	require.Zero(t, result.RowsFailed)
}

func TestDeletePublicPaginatesAndChunks(t *testing.T) {
	// 30 rows across two query pages forces two BatchWriteItem calls.
	page1 := tenantKeys("acme", manySortKeys(0, 20)...)
	page2 := tenantKeys("acme", manySortKeys(20, 10)...)

	ddb := &fakeDynamoDB{}
	ddb.queryFn = func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
		if params.ExclusiveStartKey == nil {
			return &dynamodb.QueryOutput{
				Items:            page1,
				LastEvaluatedKey: page1[len(page1)-1],
			}, nil
		}
		return &dynamodb.QueryOutput{Items: page2}, nil
	}

	var batchSizes []int
	ddb.batchFn = func(ctx context.Context, params *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		batchSizes = append(batchSizes, len(params.RequestItems["tenant-shared"]))
		return &dynamodb.BatchWriteItemOutput{}, nil
	}

	d := newPublicDeployer(ddb)
	result, err := d.Delete(context.Background(), &Request{TenantID: "acme", Tier: TierPublic}, testCredential())
	require.NoError(t, err)

	require.Equal(t, 2, ddb.queryCalls)
	require.Equal(t, []int{25, 5}, batchSizes)
	require.Equal(t, 30, result.RowsDeleted)
	require.Zero(t, result.RowsFailed)
}

func TestDeletePublicRetriesUnprocessed(t *testing.T) {
	keys := tenantKeys("acme", "TENANT", "SETTINGS")

	ddb := &fakeDynamoDB{
		queryFn: func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: keys}, nil
		},
	}
	ddb.batchFn = func(ctx context.Context, params *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
		if ddb.batchCalls == 1 {
			// First call leaves one item unprocessed.
			return &dynamodb.BatchWriteItemOutput{
				UnprocessedItems: map[string][]dynamodbtypes.WriteRequest{
					"tenant-shared": {
						{DeleteRequest: &dynamodbtypes.DeleteRequest{Key: keys[1]}},
					},
				},
			}, nil
		}
		return &dynamodb.BatchWriteItemOutput{}, nil
	}

	d := newPublicDeployer(ddb)
	result, err := d.Delete(context.Background(), &Request{TenantID: "acme", Tier: TierPublic}, testCredential())
	require.NoError(t, err)

	require.Equal(t, 2, ddb.batchCalls)
	require.Equal(t, registry.StatusDeleteComplete, result.Status)
	require.Equal(t, 2, result.RowsDeleted)
	require.Zero(t, result.RowsFailed)
}

func TestDeletePublicPartialFailure(t *testing.T) {
	keys := tenantKeys("acme", "TENANT", "SETTINGS", "USAGE")

	ddb := &fakeDynamoDB{
		queryFn: func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return &dynamodb.QueryOutput{Items: keys}, nil
		},
		batchFn: func(ctx context.Context, params *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error) {
			// One item never drains no matter how often it is retried.
			return &dynamodb.BatchWriteItemOutput{
				UnprocessedItems: map[string][]dynamodbtypes.WriteRequest{
					"tenant-shared": {
						{DeleteRequest: &dynamodbtypes.DeleteRequest{Key: keys[2]}},
					},
				},
			}, nil
		},
	}

	d := newPublicDeployer(ddb)
	result, err := d.Delete(context.Background(), &Request{TenantID: "acme", Tier: TierPublic}, testCredential())
	require.NoError(t, err)

	// Partial success is reported in counts, not as an error.
	require.Equal(t, registry.StatusDeleteFailed, result.Status)
	require.Equal(t, 2, result.RowsDeleted)
	require.Equal(t, 1, result.RowsFailed)
}

func TestDeletePublicQueryFails(t *testing.T) {
	ddb := &fakeDynamoDB{
		queryFn: func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error) {
			return nil, errors.New("ThrottlingException: rate exceeded")
		},
	}

	d := newPublicDeployer(ddb)
	_, err := d.Delete(context.Background(), &Request{TenantID: "acme", Tier: TierPublic}, testCredential())
	require.ErrorIs(t, err, ErrThrottled)
}

func manySortKeys(start, n int) []string {
	out := make([]string, 0, n)
	for i := start; i < start+n; i++ {
		out = append(out, fmt.Sprintf("ROW#%d", i))
	}
	return out
}
