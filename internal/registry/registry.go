package registry

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for common error conditions
var (
	ErrRecordNotFound    = errors.New("infrastructure record not found")
	ErrOperationInFlight = errors.New("another operation is in flight for tenant")
	ErrThrottled         = errors.New("AWS request throttled")
)

// Status is the provisioning state recorded for a tenant.
type Status string

const (
	StatusUnknown          Status = "UNKNOWN"
	StatusCreateInProgress Status = "CREATE_IN_PROGRESS"
	StatusCreateComplete   Status = "CREATE_COMPLETE"
	StatusCreateFailed     Status = "CREATE_FAILED"
	StatusDeleteInProgress Status = "DELETE_IN_PROGRESS"
	StatusDeleteComplete   Status = "DELETE_COMPLETE"
	StatusDeleteFailed     Status = "DELETE_FAILED"
)

// InProgress reports whether the status is a non-terminal operation state.
func (s Status) InProgress() bool {
	return s == StatusCreateInProgress || s == StatusDeleteInProgress
}

// Terminal reports whether the status is a completed or failed state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCreateComplete, StatusCreateFailed, StatusDeleteComplete, StatusDeleteFailed:
		return true
	}
	return false
}

// Record is the control-plane infrastructure record for one tenant. Records
// are created on the first CREATE request and retained after deletion as an
// audit trail.
type Record struct {
	TenantID     string    `dynamodbav:"tenant_id"`
	TenantName   string    `dynamodbav:"tenant_name,omitempty"`
	Tier         string    `dynamodbav:"tier,omitempty"`
	StackHandle  string    `dynamodbav:"stack_handle,omitempty"`
	StackName    string    `dynamodbav:"stack_name,omitempty"`
	Status       Status    `dynamodbav:"status"`
	Detail       string    `dynamodbav:"detail,omitempty"`
	LastModified time.Time `dynamodbav:"last_modified,unixtime"`
}

// Patch is a partial update to a Record. Nil fields are left untouched so a
// later write never clobbers fields recorded by an earlier one. LastModified
// is always stamped by the store.
type Patch struct {
	TenantName  *string
	Tier        *string
	StackHandle *string
	StackName   *string
	Status      *Status
	Detail      *string
}

// Registry persists infrastructure records in the control-plane account. It
// never crosses the trust boundary into a tenant account.
type Registry interface {
	// Get retrieves the record for a tenant, or ErrRecordNotFound.
	Get(ctx context.Context, tenantID string) (*Record, error)

	// BeginOperation transitions the tenant record into the given in-progress
	// status, creating the record if needed. It fails with
	// ErrOperationInFlight when the record already carries an in-progress
	// status, which serializes CREATE/DELETE per tenant.
	BeginOperation(ctx context.Context, tenantID string, status Status) error

	// Update applies a partial update, stamping LastModified. Fields not set
	// in the patch keep their previously recorded values.
	Update(ctx context.Context, tenantID string, patch Patch) error
}

// String returns a pointer to s, for building patches.
func String(s string) *string { return &s }

// StatusPtr returns a pointer to st, for building patches.
func StatusPtr(st Status) *Status { return &st }
