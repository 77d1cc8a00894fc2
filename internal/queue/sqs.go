package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/util"
)

// SQSAPI is the subset of the SQS client used by the queue.
type SQSAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSQueue implements OperationQueue on an SQS queue in the control-plane
// account.
type SQSQueue struct {
	client   SQSAPI
	queueURL string
}

// NewSQSQueue creates a new SQS-backed operation queue
func NewSQSQueue(client SQSAPI, queueURL string) *SQSQueue {
	return &SQSQueue{
		client:   client,
		queueURL: queueURL,
	}
}

// Enqueue sends an envelope, optionally delayed. SQS caps delays at 15
// minutes which is far above the orchestrator's 30s poll wait.
func (q *SQSQueue) Enqueue(ctx context.Context, body string, delay time.Duration) error {
	if q.queueURL == "" {
		return ErrQueueNotConfigured
	}
	if delay > MaxDelay {
		delay = MaxDelay
	}

	_, err := q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURL),
		MessageBody:  aws.String(body),
		DelaySeconds: util.AsInt32(int(delay / time.Second)),
	})
	if err != nil {
		return wrapAWSError(err, "failed to send message to SQS")
	}

	log.Debug().Dur("delay", delay).Msg("envelope enqueued")

	return nil
}

// Receive fetches up to max messages, long-polling up to waitSeconds.
func (q *SQSQueue) Receive(ctx context.Context, max int, waitSeconds int) ([]Message, error) {
	if q.queueURL == "" {
		return nil, ErrQueueNotConfigured
	}

	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: util.AsInt32(min(max, MaxReceiveMessages)),
		WaitTimeSeconds:     util.AsInt32(min(waitSeconds, 20)), // SQS long-poll cap
	})
	if err != nil {
		return nil, wrapAWSError(err, "failed to receive messages from SQS")
	}

	if len(out.Messages) == 0 {
		return nil, nil
	}

	messages := make([]Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		messages = append(messages, Message{
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		})
	}
	return messages, nil
}

// Delete removes a processed message.
func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if q.queueURL == "" {
		return ErrQueueNotConfigured
	}

	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return wrapAWSError(err, "failed to delete message from SQS")
	}
	return nil
}

// wrapAWSError wraps AWS SDK errors, identifying throttling errors
func wrapAWSError(err error, msg string) error {
	if err == nil {
		return nil
	}

	errMsg := err.Error()
	if strings.Contains(errMsg, "ThrottlingException") ||
		strings.Contains(errMsg, "RequestLimitExceeded") ||
		strings.Contains(errMsg, "TooManyRequestsException") ||
		strings.Contains(errMsg, "Throttling") {
		return fmt.Errorf("%s: %w: %v", msg, ErrThrottled, err)
	}

	var qne interface{ ErrorCode() string }
	if errors.As(err, &qne) && qne.ErrorCode() == "AWS.SimpleQueueService.NonExistentQueue" {
		return fmt.Errorf("%s: %w: %v", msg, ErrQueueNotConfigured, err)
	}

	return fmt.Errorf("%s: %w", msg, err)
}
