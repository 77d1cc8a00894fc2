package commands

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/bootstrap"
	"github.com/wolfeidau/tenantctl/internal/logger"
)

type BootstrapCmd struct {
	Region string `help:"AWS region" default:"" env:"AWS_REGION"`
	Env    string `help:"environment prefix for control-plane resources" default:"dev" env:"TENANTCTL_ENV"`
	Clean  bool   `help:"delete and recreate existing resources" default:"false"`
}

func (b *BootstrapCmd) Run(ctx context.Context, globals *Globals) error {
	slog := logger.Setup(globals.Debug)
	ctx = slog.WithContext(ctx)

	cfg, err := loadAWSConfig(ctx, b.Region)
	if err != nil {
		return err
	}

	registryTable, sharedTable, err := bootstrap.CreateControlPlaneTables(ctx, dynamodb.NewFromConfig(cfg), b.Env, b.Clean)
	if err != nil {
		return err
	}

	queueURL, err := bootstrap.CreateOperationsQueue(ctx, sqs.NewFromConfig(cfg), b.Env, b.Clean)
	if err != nil {
		return err
	}

	log.Info().
		Str("registry_table", registryTable).
		Str("shared_table", sharedTable).
		Str("queue_url", queueURL).
		Msg("control plane resources ready")

	return nil
}
