package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for common error conditions
var (
	ErrQueueNotConfigured = errors.New("operation queue not configured")
	ErrThrottled          = errors.New("AWS request throttled")
)

// SQS limits
const (
	MaxReceiveMessages = 10  // SQS maximum messages per ReceiveMessage call
	MaxDelay           = 900 * time.Second // SQS maximum message delay (15 minutes)
)

// Message is one received operation envelope with the handle needed to
// delete it once processed.
type Message struct {
	Body          string
	ReceiptHandle string
}

// OperationQueue carries tenant operation envelopes to the worker. A delayed
// enqueue is how a workflow instance waits between polls without holding a
// worker goroutine.
type OperationQueue interface {
	// Enqueue sends an envelope, optionally delaying its visibility.
	Enqueue(ctx context.Context, body string, delay time.Duration) error

	// Receive fetches up to max messages, long-polling up to waitSeconds.
	// Returns nil when the queue is empty.
	Receive(ctx context.Context, max int, waitSeconds int) ([]Message, error)

	// Delete removes a processed message.
	Delete(ctx context.Context, receiptHandle string) error
}
