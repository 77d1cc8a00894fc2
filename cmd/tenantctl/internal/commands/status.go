package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/wolfeidau/tenantctl/internal/logger"
)

type StatusCmd struct {
	Region string `help:"AWS region" default:"" env:"AWS_REGION"`

	TenantID string `help:"tenant identifier" arg:""`

	Registry RegistryFlags `embed:"" prefix:"registry-"`
}

func (s *StatusCmd) Run(ctx context.Context, globals *Globals) error {
	slog := logger.Setup(globals.Debug)
	ctx = slog.WithContext(ctx)

	cfg, err := loadAWSConfig(ctx, s.Region)
	if err != nil {
		return err
	}

	reg, closeRegistry, err := s.Registry.buildRegistry(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRegistry()

	rec, err := reg.Get(ctx, s.TenantID)
	if err != nil {
		return fmt.Errorf("failed to read tenant %s: %w", s.TenantID, err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
