package flow

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/wolfeidau/tenantctl/internal/deploy"
)

// Sentinel errors for common error conditions
var (
	ErrInvalidInput  = errors.New("invalid workflow input")
	ErrPollExhausted = errors.New("poll budget exhausted")
)

// Operation is the requested lifecycle change.
type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationDelete Operation = "DELETE"
)

// State marks where a workflow instance resumes. An empty state starts at
// DetermineOperation; StatePoll resumes the polling loop after a wait.
type State string

const (
	StateStart State = ""
	StatePoll  State = "POLL"
)

// Input is the normalized workflow input.
type Input struct {
	Operation        string `json:"operation"`
	TenantID         string `json:"tenantId"`
	TenantName       string `json:"tenantName"`
	SubscriptionTier string `json:"subscriptionTier"`
	TargetAccountID  string `json:"targetAccountId"`
	Email            string `json:"email"`
	Actor            string `json:"actor"`
	Timestamp        string `json:"timestamp"`
	StackHandle      string `json:"stackHandle,omitempty"`
}

// nestedTenant is the tenant object of the nested input shape.
type nestedTenant struct {
	TenantID         string `json:"tenantId"`
	TenantName       string `json:"tenantName"`
	Name             string `json:"name"`
	SubscriptionTier string `json:"subscriptionTier"`
	TargetAccountID  string `json:"targetAccountId"`
	Email            string `json:"email"`
	StackHandle      string `json:"stackHandle"`
}

// merge folds nested tenant fields into the input. Fields already present at
// the top level win over nested duplicates.
func (in *Input) merge(nested *nestedTenant) {
	if nested == nil {
		return
	}
	if in.TenantID == "" {
		in.TenantID = nested.TenantID
	}
	if in.TenantName == "" {
		in.TenantName = nested.TenantName
	}
	if in.TenantName == "" {
		in.TenantName = nested.Name
	}
	if in.SubscriptionTier == "" {
		in.SubscriptionTier = nested.SubscriptionTier
	}
	if in.TargetAccountID == "" {
		in.TargetAccountID = nested.TargetAccountID
	}
	if in.Email == "" {
		in.Email = nested.Email
	}
	if in.StackHandle == "" {
		in.StackHandle = nested.StackHandle
	}
}

// Validate checks the fields every operation requires. Unknown operations
// and tiers fail the workflow before any step runs.
func (in *Input) Validate() error {
	switch Operation(in.Operation) {
	case OperationCreate, OperationDelete:
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidInput, in.Operation)
	}
	if in.TenantID == "" {
		return fmt.Errorf("%w: tenantId is required", ErrInvalidInput)
	}
	if _, err := deploy.ParseTier(in.SubscriptionTier); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.TargetAccountID == "" {
		return fmt.Errorf("%w: targetAccountId is required", ErrInvalidInput)
	}
	return nil
}

// Infrastructure is the infrastructure block of the workflow output. The
// stack handle is null unless a private-tier deployment was submitted.
type Infrastructure struct {
	StackHandle *string `json:"stackHandle"`
	StackName   string  `json:"stackName"`
	Status      string  `json:"status"`
}

// OperationResult is the result block of the workflow output.
type OperationResult struct {
	Success          bool    `json:"success"`
	Operation        string  `json:"operation"`
	TenantID         string  `json:"tenantId"`
	TableName        string  `json:"tableName"`
	StackHandle      *string `json:"stackHandle"`
	SubscriptionTier string  `json:"subscriptionTier"`
	CompletedAt      string  `json:"completedAt"`
	ExecutionTimeMs  int64   `json:"executionTimeMs"`
	Error            string  `json:"error,omitempty"`
}

// Output mirrors the workflow input and adds the infrastructure and result
// blocks.
type Output struct {
	Input
	Infrastructure Infrastructure  `json:"infrastructure"`
	Result         OperationResult `json:"result"`
}

// OperationError is raised on unrecoverable failure. It embeds the full
// result object so the calling engine can inspect result.error and
// result.operation rather than just a message.
type OperationError struct {
	Result OperationResult `json:"result"`

	cause error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s failed for tenant %s: %s", e.Result.Operation, e.Result.TenantID, e.Result.Error)
}

// Unwrap exposes the underlying cause so callers can branch on sentinel
// errors such as ErrPollExhausted.
func (e *OperationError) Unwrap() error {
	return e.cause
}

// Envelope is the workflow instance state passed between step invocations
// through the operation queue. No shared memory is assumed between steps;
// everything a resumed instance needs rides here.
type Envelope struct {
	Input

	State          State  `json:"state,omitempty"`
	ExecutionID    string `json:"executionId,omitempty"`
	StartedAtMs    int64  `json:"startedAtMs,omitempty"`
	PollIterations int    `json:"pollIterations,omitempty"`
	PollStartedMs  int64  `json:"pollStartedMs,omitempty"`

	// Populated after submission, used by the polling loop and the final
	// registry write.
	StackName string `json:"stackName,omitempty"`
	TableName string `json:"tableName,omitempty"`
}

// envelopeWire is the full wire shape the queue can carry: the flattened
// envelope plus the optional nested tenant object from the route layer.
type envelopeWire struct {
	Envelope
	Tenant *nestedTenant `json:"tenant,omitempty"`
}

// Encode serializes the envelope for the operation queue.
func (e *Envelope) Encode() (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("failed to encode envelope: %w", err)
	}
	return string(data), nil
}

// DecodeEnvelope parses an envelope received from the operation queue. Both
// the nested and flattened input shapes are accepted and normalized.
func DecodeEnvelope(body string) (*Envelope, error) {
	var wire envelopeWire
	if err := json.Unmarshal([]byte(body), &wire); err != nil {
		return nil, fmt.Errorf("failed to decode envelope: %w", err)
	}

	env := wire.Envelope
	env.merge(wire.Tenant)

	return &env, nil
}
