package commands

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/tenantctl/internal/deploy"
	"github.com/wolfeidau/tenantctl/internal/flow"
	"github.com/wolfeidau/tenantctl/internal/logger"
	"github.com/wolfeidau/tenantctl/internal/poll"
	"github.com/wolfeidau/tenantctl/internal/queue"
	"github.com/wolfeidau/tenantctl/internal/telemetry"
	"github.com/wolfeidau/tenantctl/internal/trust"
)

type WorkerCmd struct {
	Region   string `help:"AWS region" default:"" env:"AWS_REGION"`
	QueueURL string `help:"tenant operations queue URL" env:"TENANTCTL_QUEUE_URL" required:""`

	SharedTableName string `help:"public-tier shared table name" default:"tenant_shared" env:"TENANTCTL_SHARED_TABLE"`
	Workspace       string `help:"workspace qualifier for derived stack names" default:"prod" env:"TENANTCTL_WORKSPACE"`
	RoleName        string `help:"cross-account provisioning role name" default:"tenantctl-provisioner" env:"TENANTCTL_ROLE_NAME"`

	PollWait      time.Duration `help:"delay between deployment status polls" default:"30s" env:"TENANTCTL_POLL_WAIT"`
	PollMaxPolls  int           `help:"maximum poll iterations before giving up" default:"60" env:"TENANTCTL_POLL_MAX_POLLS"`
	PollMaxClock  time.Duration `help:"maximum wall clock spent polling before giving up" default:"45m" env:"TENANTCTL_POLL_MAX_CLOCK"`
	StepTimeout   time.Duration `help:"timeout for each downstream call" default:"60s" env:"TENANTCTL_STEP_TIMEOUT"`

	Telemetry bool `help:"enable OpenTelemetry export" default:"false" env:"TENANTCTL_TELEMETRY"`

	Registry RegistryFlags `embed:"" prefix:"registry-"`
}

func (w *WorkerCmd) Run(ctx context.Context, globals *Globals) error {
	slog := logger.Setup(globals.Debug)
	ctx = slog.WithContext(ctx)

	if w.Telemetry {
		shutdown, err := telemetry.InitTelemetry(ctx, "tenantctl-worker", globals.Version)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn().Err(err).Msg("telemetry shutdown failed")
			}
		}()
	}

	cfg, err := loadAWSConfig(ctx, w.Region)
	if err != nil {
		return err
	}

	reg, closeRegistry, err := w.Registry.buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRegistry()

	broker := trust.NewBroker(sts.NewFromConfig(cfg), w.RoleName)
	deployer := deploy.NewDeployer(deploy.NewAWSClientFactory(cfg), deploy.Config{
		SharedTableName: w.SharedTableName,
		Workspace:       w.Workspace,
	})
	poller := poll.NewPoller(poll.NewAWSClientFactory(cfg))
	opQueue := queue.NewSQSQueue(sqs.NewFromConfig(cfg), w.QueueURL)

	orchestrator := flow.NewOrchestrator(broker, deployer, poller, reg, opQueue, flow.Config{
		PollWait:    w.PollWait,
		StepTimeout: w.StepTimeout,
		PollBudget: flow.PollBudget{
			MaxIterations: w.PollMaxPolls,
			MaxWallClock:  w.PollMaxClock,
		},
	})

	worker := flow.NewWorker(orchestrator, opQueue, flow.WorkerConfig{})

	log.Info().
		Str("queue_url", w.QueueURL).
		Str("workspace", w.Workspace).
		Str("registry", w.Registry.Type).
		Msg("tenant operations worker starting")

	return worker.Run(ctx)
}
