package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// CreateOperationsQueue creates the tenant operations queue for an
// environment. If cleanResources is true, an existing queue is deleted first
// to ensure clean state; otherwise it is reused.
func CreateOperationsQueue(ctx context.Context, client *sqs.Client, env string, cleanResources bool) (string, error) {
	queueName := fmt.Sprintf("%s-tenant-operations", env)

	if cleanResources {
		if err := deleteQueueIfExists(ctx, client, queueName); err != nil {
			return "", fmt.Errorf("failed to delete existing queue %s: %w", queueName, err)
		}
	}

	createResp, err := client.CreateQueue(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(queueName),
		Attributes: map[string]string{
			string(types.QueueAttributeNameVisibilityTimeout): "300", // 5 minutes
		},
	})
	if err != nil {
		// If queue already exists and we're not cleaning, get its URL instead
		if !cleanResources && (strings.Contains(err.Error(), "QueueAlreadyExists") || strings.Contains(err.Error(), "already exists")) {
			getURLResp, getErr := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
				QueueName: aws.String(queueName),
			})
			if getErr != nil {
				return "", fmt.Errorf("failed to get existing queue %s: %w", queueName, getErr)
			}
			return *getURLResp.QueueUrl, nil
		}
		return "", fmt.Errorf("failed to create queue %s: %w", queueName, err)
	}

	return *createResp.QueueUrl, nil
}

// deleteQueueIfExists attempts to delete a queue if it exists
func deleteQueueIfExists(ctx context.Context, client *sqs.Client, queueName string) error {
	getURLResp, err := client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NonExistentQueue") || strings.Contains(err.Error(), "does not exist") {
			return nil
		}
		return err
	}

	_, err = client.DeleteQueue(ctx, &sqs.DeleteQueueInput{
		QueueUrl: getURLResp.QueueUrl,
	})
	if err != nil {
		return err
	}

	// SQS queue deletion is eventually consistent
	time.Sleep(2 * time.Second)

	return nil
}
