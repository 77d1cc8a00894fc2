package flow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/queue"
)

// WorkerConfig holds the worker loop settings.
type WorkerConfig struct {
	MaxMessages int
	WaitSeconds int
	IdlePause   time.Duration
	ErrorPause  time.Duration
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *WorkerConfig) ApplyDefaults() {
	if c.MaxMessages == 0 {
		c.MaxMessages = queue.MaxReceiveMessages
	}
	if c.WaitSeconds == 0 {
		c.WaitSeconds = 20
	}
	if c.IdlePause == 0 {
		c.IdlePause = time.Second
	}
	if c.ErrorPause == 0 {
		c.ErrorPause = 5 * time.Second
	}
}

// Worker consumes operation envelopes from the queue and drives the
// orchestrator. Many workflow instances interleave across one worker; each
// received message is one step invocation.
type Worker struct {
	orchestrator *Orchestrator
	queue        queue.OperationQueue
	cfg          WorkerConfig
}

// NewWorker creates a new worker
func NewWorker(orchestrator *Orchestrator, q queue.OperationQueue, cfg WorkerConfig) *Worker {
	cfg.ApplyDefaults()
	return &Worker{
		orchestrator: orchestrator,
		queue:        q,
		cfg:          cfg,
	}
}

// Run processes envelopes until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	log.Info().Msg("worker starting")

	for {
		if err := ctx.Err(); err != nil {
			log.Info().Msg("worker stopping")
			return nil
		}

		processed, err := w.ProcessOnce(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			log.Error().Err(err).Msg("error processing envelopes")
			w.sleep(ctx, w.cfg.ErrorPause)
			continue
		}

		if processed == 0 {
			w.sleep(ctx, w.cfg.IdlePause)
		}
	}
}

// ProcessOnce receives one batch of envelopes and runs each through the
// orchestrator. Returns the number of messages handled.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	messages, err := w.queue.Receive(ctx, w.cfg.MaxMessages, w.cfg.WaitSeconds)
	if err != nil {
		return 0, err
	}

	for _, msg := range messages {
		w.processMessage(ctx, msg)
	}

	return len(messages), nil
}

// processMessage runs one step invocation. Terminal outcomes and suspended
// instances consume the message; transport failures leave it for
// redelivery.
func (w *Worker) processMessage(ctx context.Context, msg queue.Message) {
	env, err := DecodeEnvelope(msg.Body)
	if err != nil {
		// Poison message, drop it rather than redeliver forever.
		log.Warn().Err(err).Msg("dropping undecodable envelope")
		w.deleteMessage(ctx, msg)
		return
	}

	execution, err := w.orchestrator.Execute(ctx, env)

	var opErr *OperationError
	switch {
	case err == nil && execution.Suspended:
		w.deleteMessage(ctx, msg)

	case err == nil:
		w.deleteMessage(ctx, msg)
		logOutput(execution.Output)

	case errors.As(err, &opErr):
		// Terminal failure: the registry reflects it and the error payload
		// embeds the result, nothing a redelivery would fix.
		w.deleteMessage(ctx, msg)
		if execution != nil {
			logOutput(execution.Output)
		}

	default:
		// Transport failure (e.g. re-enqueue failed); leave the message so
		// the instance is redelivered.
		log.Error().Err(err).Str("tenant_id", env.TenantID).Msg("step invocation failed, leaving message for redelivery")
	}
}

func (w *Worker) deleteMessage(ctx context.Context, msg queue.Message) {
	if err := w.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		log.Error().Err(err).Msg("failed to delete message")
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func logOutput(output *Output) {
	if output == nil {
		return
	}

	data, err := json.Marshal(output)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal workflow output")
		return
	}

	event := log.Info()
	if !output.Result.Success {
		event = log.Error()
	}
	event.
		Str("tenant_id", output.Result.TenantID).
		Str("operation", output.Result.Operation).
		RawJSON("output", data).
		Msg("workflow finished")
}
