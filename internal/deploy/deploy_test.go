package deploy

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/wolfeidau/tenantctl/internal/trust"
)

// fastRetry keeps test retries quick.
var fastRetry = RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, BackoffFactor: 1.5}

type fakeDynamoDB struct {
	putFn   func(ctx context.Context, params *dynamodb.PutItemInput) (*dynamodb.PutItemOutput, error)
	queryFn func(ctx context.Context, params *dynamodb.QueryInput) (*dynamodb.QueryOutput, error)
	batchFn func(ctx context.Context, params *dynamodb.BatchWriteItemInput) (*dynamodb.BatchWriteItemOutput, error)

	putCalls   int
	queryCalls int
	batchCalls int
}

func (f *fakeDynamoDB) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putCalls++
	return f.putFn(ctx, params)
}

func (f *fakeDynamoDB) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryCalls++
	return f.queryFn(ctx, params)
}

func (f *fakeDynamoDB) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.batchCalls++
	return f.batchFn(ctx, params)
}

type fakeCloudFormation struct {
	createFn   func(ctx context.Context, params *cloudformation.CreateStackInput) (*cloudformation.CreateStackOutput, error)
	deleteFn   func(ctx context.Context, params *cloudformation.DeleteStackInput) (*cloudformation.DeleteStackOutput, error)
	describeFn func(ctx context.Context, params *cloudformation.DescribeStacksInput) (*cloudformation.DescribeStacksOutput, error)

	createCalls   int
	deleteCalls   int
	describeCalls int
}

func (f *fakeCloudFormation) CreateStack(ctx context.Context, params *cloudformation.CreateStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.CreateStackOutput, error) {
	f.createCalls++
	return f.createFn(ctx, params)
}

func (f *fakeCloudFormation) DeleteStack(ctx context.Context, params *cloudformation.DeleteStackInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DeleteStackOutput, error) {
	f.deleteCalls++
	return f.deleteFn(ctx, params)
}

func (f *fakeCloudFormation) DescribeStacks(ctx context.Context, params *cloudformation.DescribeStacksInput, optFns ...func(*cloudformation.Options)) (*cloudformation.DescribeStacksOutput, error) {
	f.describeCalls++
	return f.describeFn(ctx, params)
}

type fakeClientFactory struct {
	ddb *fakeDynamoDB
	cfn *fakeCloudFormation
}

func (f *fakeClientFactory) DynamoDB(cred *trust.Credential) DynamoDBAPI {
	return f.ddb
}

func (f *fakeClientFactory) CloudFormation(cred *trust.Credential) CloudFormationAPI {
	return f.cfn
}

func testCredential() *trust.Credential {
	return &trust.Credential{
		AccessKeyID:     "AKIAFAKE",
		SecretAccessKey: "fake",
		SessionToken:    "fake",
		Expiration:      time.Now().Add(time.Hour),
	}
}
