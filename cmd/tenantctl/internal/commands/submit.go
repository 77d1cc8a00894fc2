package commands

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/flow"
	"github.com/wolfeidau/tenantctl/internal/logger"
	"github.com/wolfeidau/tenantctl/internal/queue"
)

type SubmitCmd struct {
	Region   string `help:"AWS region" default:"" env:"AWS_REGION"`
	QueueURL string `help:"tenant operations queue URL" env:"TENANTCTL_QUEUE_URL" required:""`

	Operation       string `help:"lifecycle operation (CREATE or DELETE)" enum:"CREATE,DELETE" required:""`
	TenantID        string `help:"tenant identifier" required:""`
	TenantName      string `help:"tenant display name"`
	Tier            string `help:"subscription tier (public or private)" enum:"public,private" required:""`
	TargetAccountID string `help:"target AWS account id" required:""`
	Email           string `help:"tenant contact email"`
	Actor           string `help:"who requested the operation" default:"tenantctl-cli"`
	StackHandle     string `help:"existing stack handle (private-tier DELETE resume)"`
}

func (s *SubmitCmd) Run(ctx context.Context, globals *Globals) error {
	slog := logger.Setup(globals.Debug)
	ctx = slog.WithContext(ctx)

	cfg, err := loadAWSConfig(ctx, s.Region)
	if err != nil {
		return err
	}

	env := &flow.Envelope{
		Input: flow.Input{
			Operation:        s.Operation,
			TenantID:         s.TenantID,
			TenantName:       s.TenantName,
			SubscriptionTier: s.Tier,
			TargetAccountID:  s.TargetAccountID,
			Email:            s.Email,
			Actor:            s.Actor,
			Timestamp:        time.Now().UTC().Format(time.RFC3339),
			StackHandle:      s.StackHandle,
		},
	}
	if err := env.Validate(); err != nil {
		return err
	}

	body, err := env.Encode()
	if err != nil {
		return err
	}

	opQueue := queue.NewSQSQueue(sqs.NewFromConfig(cfg), s.QueueURL)
	if err := opQueue.Enqueue(ctx, body, 0); err != nil {
		return err
	}

	log.Info().
		Str("operation", s.Operation).
		Str("tenant_id", s.TenantID).
		Str("tier", s.Tier).
		Msg("operation submitted")

	return nil
}
