package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/tenantctl/internal/deploy"
	"github.com/wolfeidau/tenantctl/internal/logger"
	"github.com/wolfeidau/tenantctl/internal/poll"
	"github.com/wolfeidau/tenantctl/internal/queue"
	"github.com/wolfeidau/tenantctl/internal/registry"
	"github.com/wolfeidau/tenantctl/internal/telemetry"
	"github.com/wolfeidau/tenantctl/internal/trust"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TrustBroker exchanges a target account id and tenant id for short-lived
// scoped credentials.
type TrustBroker interface {
	AssumeScopedRole(ctx context.Context, targetAccountID, tenantID string) (*trust.Credential, error)
}

// StackDeployer submits tenant infrastructure changes.
type StackDeployer interface {
	Create(ctx context.Context, req *deploy.Request, cred *trust.Credential) (*deploy.Result, error)
	Delete(ctx context.Context, req *deploy.Request, cred *trust.Credential) (*deploy.Result, error)
}

// StatusPoller observes an asynchronous deployment.
type StatusPoller interface {
	Poll(ctx context.Context, stackHandle string, op poll.Operation, cred *trust.Credential) (*poll.Result, error)
}

// PollBudget caps the polling loop so a stuck deployment cannot hold an
// instance forever. Exhausting either bound is a terminal failure.
type PollBudget struct {
	MaxIterations int
	MaxWallClock  time.Duration
}

// Config holds the orchestrator's retry and polling policies.
type Config struct {
	DeployRetry RetryPolicy
	PollRetry   RetryPolicy

	// PollWait is the fixed delay between polls of an in-progress
	// deployment.
	PollWait time.Duration

	// StepTimeout bounds each downstream call so a stuck service fails fast
	// and is retried instead of hanging the instance.
	StepTimeout time.Duration

	PollBudget PollBudget
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *Config) ApplyDefaults() {
	if c.DeployRetry.MaxAttempts == 0 {
		c.DeployRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: 30 * time.Second, BackoffFactor: 2.0}
	}
	if c.PollRetry.MaxAttempts == 0 {
		c.PollRetry = RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Second, BackoffFactor: 1.5}
	}
	if c.PollWait == 0 {
		c.PollWait = 30 * time.Second
	}
	if c.StepTimeout == 0 {
		c.StepTimeout = 60 * time.Second
	}
	if c.PollBudget.MaxIterations == 0 {
		c.PollBudget.MaxIterations = 60
	}
	if c.PollBudget.MaxWallClock == 0 {
		c.PollBudget.MaxWallClock = 45 * time.Minute
	}
}

// Execution is the outcome of running one step invocation of a workflow
// instance. Suspended means the instance re-enqueued itself and will resume
// later; otherwise Output carries the terminal result.
type Execution struct {
	Suspended bool
	Output    *Output
}

// Orchestrator sequences the tenant infrastructure lifecycle: trust broker,
// stack deployer, registry writer, and the polling loop. One Execute call is
// one step invocation; state between invocations travels in the envelope.
type Orchestrator struct {
	broker   TrustBroker
	deployer StackDeployer
	poller   StatusPoller
	registry registry.Registry
	queue    queue.OperationQueue
	cfg      Config
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(broker TrustBroker, deployer StackDeployer, poller StatusPoller, reg registry.Registry, q queue.OperationQueue, cfg Config) *Orchestrator {
	cfg.ApplyDefaults()
	return &Orchestrator{
		broker:   broker,
		deployer: deployer,
		poller:   poller,
		registry: reg,
		queue:    q,
		cfg:      cfg,
	}
}

// Execute resumes a workflow instance at its recorded state.
func (o *Orchestrator) Execute(ctx context.Context, env *Envelope) (*Execution, error) {
	if env.ExecutionID == "" {
		env.ExecutionID = uuid.Must(uuid.NewV7()).String()
	}
	if env.StartedAtMs == 0 {
		env.StartedAtMs = time.Now().UnixMilli()
	}

	ctx = logger.WithOperation(ctx, env.Operation, env.TenantID, env.ExecutionID)

	switch env.State {
	case StateStart:
		return o.start(ctx, env)
	case StatePoll:
		return o.pollStep(ctx, env)
	}

	return o.failTerminal(ctx, env, fmt.Errorf("unknown workflow state %q", env.State))
}

// start runs DetermineOperation and the deploy step, then either finishes
// (public tier) or hands off to the polling loop (private tier).
func (o *Orchestrator) start(ctx context.Context, env *Envelope) (*Execution, error) {
	if err := env.Validate(); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("workflow input rejected")
		o.recordFailure(ctx, env, failedStatus(Operation(env.Operation)), err.Error())
		return o.failTerminal(ctx, env, err)
	}

	op := Operation(env.Operation)
	tier := deploy.Tier(env.SubscriptionTier)

	telemetry.GetMetrics().OperationsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", env.Operation),
		attribute.String("tier", env.SubscriptionTier),
	))

	// Serialize operations per tenant before any cross-boundary call.
	if err := o.registry.BeginOperation(ctx, env.TenantID, inProgressStatus(op)); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to begin operation")
		return o.failTerminal(ctx, env, err)
	}

	if err := o.registry.Update(ctx, env.TenantID, registry.Patch{
		TenantName: registry.String(env.TenantName),
		Tier:       registry.String(env.SubscriptionTier),
		Detail:     registry.String(""),
	}); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to record tenant details")
	}

	result, err := o.deployStep(ctx, env, op, tier)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("deploy step failed")
		o.recordFailure(ctx, env, failedStatus(op), err.Error())
		return o.failTerminal(ctx, env, err)
	}

	env.StackHandle = result.StackHandle
	env.StackName = result.StackName
	env.TableName = result.TableName

	patch := registry.Patch{
		Status:    registry.StatusPtr(result.Status),
		StackName: registry.String(result.StackName),
	}
	if result.StackHandle != "" {
		patch.StackHandle = registry.String(result.StackHandle)
	}
	if err := o.registry.Update(ctx, env.TenantID, patch); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to record submission")
		return o.failTerminal(ctx, env, err)
	}

	if result.PollRequired {
		env.State = StatePoll
		env.PollStartedMs = time.Now().UnixMilli()
		env.PollIterations = 0
		return o.suspend(ctx, env, 0)
	}

	// Public tier finished synchronously; the deployer already produced a
	// terminal status.
	if result.Status == failedStatus(op) {
		err := fmt.Errorf("shared table delete incomplete: %d rows deleted, %d rows failed",
			result.RowsDeleted, result.RowsFailed)
		o.recordFailure(ctx, env, failedStatus(op), err.Error())
		return o.failTerminal(ctx, env, err)
	}

	return o.succeed(ctx, env, result.Status)
}

// deployStep assumes the scoped role and submits the deployment, retrying
// transient failures under the deploy policy. The credential lives only for
// the duration of this step.
func (o *Orchestrator) deployStep(ctx context.Context, env *Envelope, op Operation, tier deploy.Tier) (*deploy.Result, error) {
	req := &deploy.Request{
		TenantID:    env.TenantID,
		TenantName:  env.TenantName,
		Tier:        tier,
		Email:       env.Email,
		StackHandle: env.StackHandle,
	}

	return retryStep(ctx, o.cfg.DeployRetry, func() (*deploy.Result, error) {
		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()

		cred, err := o.broker.AssumeScopedRole(stepCtx, env.TargetAccountID, env.TenantID)
		if err != nil {
			return nil, permanent(err)
		}

		var result *deploy.Result
		if op == OperationDelete {
			result, err = o.deployer.Delete(stepCtx, req, cred)
		} else {
			result, err = o.deployer.Create(stepCtx, req, cred)
		}
		if err != nil {
			return nil, permanent(err)
		}
		return result, nil
	})
}

// pollStep runs one iteration of the polling loop: observe the deployment,
// branch on the outcome, and either finish, fail, or wait and poll again.
func (o *Orchestrator) pollStep(ctx context.Context, env *Envelope) (*Execution, error) {
	op := Operation(env.Operation)

	if env.StackHandle == "" {
		return o.failTerminal(ctx, env, fmt.Errorf("cannot poll without a stack handle"))
	}

	telemetry.GetMetrics().PollIterations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", env.Operation),
	))

	result, err := retryStep(ctx, o.cfg.PollRetry, func() (*poll.Result, error) {
		stepCtx, cancel := context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()

		cred, err := o.broker.AssumeScopedRole(stepCtx, env.TargetAccountID, env.TenantID)
		if err != nil {
			return nil, permanent(err)
		}

		return o.poller.Poll(stepCtx, env.StackHandle, pollOperation(op), cred)
	})
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("poll step failed")
		o.recordFailure(ctx, env, failedStatus(op), err.Error())
		return o.failTerminal(ctx, env, err)
	}

	zerolog.Ctx(ctx).Info().
		Str("outcome", string(result.Outcome)).
		Str("detail", result.Detail).
		Int("iteration", env.PollIterations+1).
		Msg("deployment status polled")

	switch result.Outcome {
	case poll.OutcomeComplete:
		status := completeStatus(op)
		if err := o.registry.Update(ctx, env.TenantID, registry.Patch{
			Status: registry.StatusPtr(status),
			Detail: registry.String(result.Detail),
		}); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("failed to record terminal status")
			return o.failTerminal(ctx, env, err)
		}
		return o.succeed(ctx, env, status)

	case poll.OutcomeFailed:
		err := fmt.Errorf("deployment failed: %s", result.Detail)
		o.recordFailure(ctx, env, failedStatus(op), result.Detail)
		return o.failTerminal(ctx, env, err)

	case poll.OutcomeInProgress:
		env.PollIterations++
		if exhausted, reason := o.pollExhausted(env); exhausted {
			telemetry.GetMetrics().PollExhausted.Add(ctx, 1, metric.WithAttributes(
				attribute.String("operation", env.Operation),
			))
			err := fmt.Errorf("%w: %s", ErrPollExhausted, reason)
			// The deployment may still complete out of band; the record
			// must say the outcome was not confirmed, never a false
			// complete.
			o.recordFailure(ctx, env, failedStatus(op), err.Error())
			return o.failTerminal(ctx, env, err)
		}
		return o.suspend(ctx, env, o.cfg.PollWait)
	}

	err = fmt.Errorf("unrecognized poll outcome %q", result.Outcome)
	o.recordFailure(ctx, env, failedStatus(op), err.Error())
	return o.failTerminal(ctx, env, err)
}

// pollExhausted checks the iteration and wall-clock budgets.
func (o *Orchestrator) pollExhausted(env *Envelope) (bool, string) {
	if env.PollIterations >= o.cfg.PollBudget.MaxIterations {
		return true, fmt.Sprintf("%d iterations", env.PollIterations)
	}
	if env.PollStartedMs > 0 {
		elapsed := time.Since(time.UnixMilli(env.PollStartedMs))
		if elapsed >= o.cfg.PollBudget.MaxWallClock {
			return true, fmt.Sprintf("%s elapsed", elapsed.Round(time.Second))
		}
	}
	return false, ""
}

// suspend re-enqueues the envelope so the instance resumes after the delay
// without holding a worker.
func (o *Orchestrator) suspend(ctx context.Context, env *Envelope, delay time.Duration) (*Execution, error) {
	body, err := env.Encode()
	if err != nil {
		return o.failTerminal(ctx, env, err)
	}

	if err := o.queue.Enqueue(ctx, body, delay); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to re-enqueue workflow instance")
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().Dur("delay", delay).Msg("workflow instance suspended")

	return &Execution{Suspended: true}, nil
}

// succeed builds the success output.
func (o *Orchestrator) succeed(ctx context.Context, env *Envelope, status registry.Status) (*Execution, error) {
	output := o.buildOutput(env, status, "")

	telemetry.GetMetrics().OperationsCompleted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", env.Operation),
		attribute.String("tier", env.SubscriptionTier),
	))
	telemetry.GetMetrics().OperationDuration.Record(ctx, float64(output.Result.ExecutionTimeMs), metric.WithAttributes(
		attribute.String("operation", env.Operation),
	))

	zerolog.Ctx(ctx).Info().
		Str("status", string(status)).
		Int64("execution_time_ms", output.Result.ExecutionTimeMs).
		Msg("operation completed")

	return &Execution{Output: output}, nil
}

// failTerminal builds the failure output and wraps it in an OperationError
// so callers can inspect the embedded result.
func (o *Orchestrator) failTerminal(ctx context.Context, env *Envelope, cause error) (*Execution, error) {
	output := o.buildOutput(env, failedStatus(Operation(env.Operation)), cause.Error())

	telemetry.GetMetrics().OperationsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("operation", env.Operation),
		attribute.String("tier", env.SubscriptionTier),
	))
	telemetry.GetMetrics().OperationDuration.Record(ctx, float64(output.Result.ExecutionTimeMs), metric.WithAttributes(
		attribute.String("operation", env.Operation),
	))

	zerolog.Ctx(ctx).Error().
		Err(cause).
		Int64("execution_time_ms", output.Result.ExecutionTimeMs).
		Msg("operation failed")

	return &Execution{Output: output}, &OperationError{Result: output.Result, cause: cause}
}

// recordFailure writes the terminal failed status to the registry. Best
// effort: a tenant that never got a record (input rejected before the
// operation began) has nothing to update.
func (o *Orchestrator) recordFailure(ctx context.Context, env *Envelope, status registry.Status, detail string) {
	if status == registry.StatusUnknown {
		return
	}
	err := o.registry.Update(ctx, env.TenantID, registry.Patch{
		Status: registry.StatusPtr(status),
		Detail: registry.String(detail),
	})
	if err != nil && !errors.Is(err, registry.ErrRecordNotFound) {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to record failure status")
	}
}

// buildOutput assembles the workflow output contract.
func (o *Orchestrator) buildOutput(env *Envelope, status registry.Status, errMsg string) *Output {
	var handle *string
	if env.StackHandle != "" {
		handle = &env.StackHandle
	}

	return &Output{
		Input: env.Input,
		Infrastructure: Infrastructure{
			StackHandle: handle,
			StackName:   env.StackName,
			Status:      string(status),
		},
		Result: OperationResult{
			Success:          errMsg == "",
			Operation:        env.Operation,
			TenantID:         env.TenantID,
			TableName:        env.TableName,
			StackHandle:      handle,
			SubscriptionTier: env.SubscriptionTier,
			CompletedAt:      time.Now().UTC().Format(time.RFC3339),
			ExecutionTimeMs:  time.Now().UnixMilli() - env.StartedAtMs,
			Error:            errMsg,
		},
	}
}

func inProgressStatus(op Operation) registry.Status {
	if op == OperationDelete {
		return registry.StatusDeleteInProgress
	}
	return registry.StatusCreateInProgress
}

func completeStatus(op Operation) registry.Status {
	if op == OperationDelete {
		return registry.StatusDeleteComplete
	}
	return registry.StatusCreateComplete
}

func failedStatus(op Operation) registry.Status {
	switch op {
	case OperationDelete:
		return registry.StatusDeleteFailed
	case OperationCreate:
		return registry.StatusCreateFailed
	}
	return registry.StatusUnknown
}

func pollOperation(op Operation) poll.Operation {
	if op == OperationDelete {
		return poll.OperationDelete
	}
	return poll.OperationCreate
}
